// Package advice converts normalized weather readings into apiary inspection
// guidance: a single prioritized recommendation for the weather widget, and
// an accumulated list of typed alerts for the alerts panel.
package advice

import (
	"strings"

	"github.com/asimthahaazeez/hiveweather/internal/models"
)

// maxBadges is the UI contract for the recommendation badge list.
const maxBadges = 3

// Recommendation temperature bands, degrees C.
const (
	inspectionTempMin = 15
	inspectionTempMax = 27
)

// Wind thresholds for inspection advice, km/h.
const (
	windCalmMax     = 10
	windModerateMax = 20
)

// Humidity annotation bounds, percent.
const (
	humidityHigh = 70
	humidityLow  = 40
)

// rainLookaheadEntries is how many near-term forecast steps are scanned for
// incoming rain.
const rainLookaheadEntries = 2

// Recommend evaluates the fixed rule set against a reading and returns the
// inspection recommendation. Evaluation is deterministic: rules append
// badges in a fixed order, priority only ever rises to the worst severity
// seen, and rain or storm in the current conditions short-circuits every
// other rule with a single danger badge.
func Recommend(current models.CurrentConditions, hourly []models.HourlyEntry) models.Recommendation {
	if isWet(current.Condition) {
		return models.Recommendation{
			Message:  "Do not inspect hives during rain or storms. Bees are defensive and brood can chill.",
			Badges:   []models.Badge{{Text: "Adverse Weather", Type: models.BadgeDanger}},
			Priority: models.PriorityHigh,
		}
	}

	var (
		message  string
		badges   []models.Badge
		priority models.Priority
	)

	switch {
	case current.Temperature > inspectionTempMax:
		message = "Warm conditions. Inspect early morning or late evening to avoid stressing the colony."
		badges = append(badges, models.Badge{Text: "High Temperature", Type: models.BadgeWarning})
		priority = models.PriorityMedium
	case current.Temperature < inspectionTempMin:
		message = "Cool conditions. Bees are less active; keep inspections brief or postpone."
		badges = append(badges, models.Badge{Text: "Cool Temperature", Type: models.BadgeInfo})
		priority = models.PriorityLow
	default:
		message = "Temperature is ideal for hive inspection."
		badges = append(badges, models.Badge{Text: "Optimal Temperature", Type: models.BadgeSuccess})
		priority = models.PriorityMedium
	}

	if strings.Contains(strings.ToLower(current.Condition), "clear") {
		badges = append(badges, models.Badge{Text: "Clear Skies", Type: models.BadgeSuccess})
	}

	switch {
	case current.WindSpeed > windModerateMax:
		message = "High winds make hive inspection unsafe. Frames and covers can be blown; postpone."
		badges = append(badges, models.Badge{Text: "High Wind Speed", Type: models.BadgeDanger})
		priority = priority.Max(models.PriorityHigh)
	case current.WindSpeed > windCalmMax:
		message += " Moderate winds; inspect with care and keep frames sheltered."
		badges = append(badges, models.Badge{Text: "Moderate Wind", Type: models.BadgeWarning})
		priority = priority.Max(models.PriorityMedium)
	default:
		message += " Light winds are ideal."
		badges = append(badges, models.Badge{Text: "Low Wind Speed", Type: models.BadgeSuccess})
	}

	switch {
	case current.Humidity > humidityHigh:
		badges = append(badges, models.Badge{Text: "High Humidity", Type: models.BadgeInfo})
	case current.Humidity < humidityLow:
		badges = append(badges, models.Badge{Text: "Low Humidity", Type: models.BadgeInfo})
	}

	if rainWithin(hourly, rainLookaheadEntries) {
		message += " Rain is expected soon; finish any inspection promptly."
		badges = append(badges, models.Badge{Text: "Rain Later", Type: models.BadgeWarning})
		priority = priority.Max(models.PriorityMedium)
	}

	if len(badges) > maxBadges {
		badges = badges[:maxBadges]
	}

	return models.Recommendation{
		Message:  message,
		Badges:   badges,
		Priority: priority,
	}
}

// isWet reports whether a condition description indicates rain or storm.
func isWet(condition string) bool {
	c := strings.ToLower(condition)
	return strings.Contains(c, "rain") || strings.Contains(c, "storm")
}

// rainWithin reports whether any of the first n hourly entries show rain.
func rainWithin(hourly []models.HourlyEntry, n int) bool {
	if len(hourly) < n {
		n = len(hourly)
	}
	for _, h := range hourly[:n] {
		if strings.Contains(strings.ToLower(h.Condition), "rain") {
			return true
		}
	}
	return false
}

package advice

import "github.com/asimthahaazeez/hiveweather/internal/models"

// Alert thresholds. Temperatures in degrees C, wind in km/h.
const (
	alertTempHigh = 35
	alertTempLow  = 10
	alertWindHigh = 25
)

// Alerts scans a reading and returns every applicable safety alert. Unlike
// Recommend, rules here accumulate independently: zero, one, or many alerts
// may fire, each carrying its own severity.
func Alerts(current models.CurrentConditions, hourly []models.HourlyEntry) []models.Alert {
	var alerts []models.Alert

	if current.Temperature > alertTempHigh {
		alerts = append(alerts, models.Alert{
			Type:     "temperature",
			Severity: models.PriorityHigh,
			Title:    "High Temperature Warning",
			Message:  "Extreme heat stresses colonies. Ensure ventilation and a nearby water source.",
		})
	}

	if rainWithin(hourly, rainLookaheadEntries) {
		alerts = append(alerts, models.Alert{
			Type:     "precipitation",
			Severity: models.PriorityMedium,
			Title:    "Rain Expected",
			Message:  "Rain is forecast within the next few hours. Close up any open hives.",
		})
	}

	if current.WindSpeed > alertWindHigh {
		alerts = append(alerts, models.Alert{
			Type:     "wind",
			Severity: models.PriorityLow,
			Title:    "Windy Conditions",
			Message:  "Strong winds can dislodge covers. Check that hive lids are weighted down.",
		})
	}

	if current.Temperature < alertTempLow {
		alerts = append(alerts, models.Alert{
			Type:     "temperature",
			Severity: models.PriorityMedium,
			Title:    "Low Temperature Alert",
			Message:  "Cold conditions. Colonies will cluster; avoid opening hives.",
		})
	}

	return alerts
}

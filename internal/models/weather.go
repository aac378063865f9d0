package models

import "time"

// Icon is the closed icon vocabulary exposed to the dashboard widget.
// Vendor condition codes are mapped onto these three values by the upstream client.
type Icon string

const (
	IconSun   Icon = "sun"
	IconCloud Icon = "cloud"
	IconRain  Icon = "rain"
)

// Priority orders recommendation and alert severity. Severity comparisons use
// Rank so the worst level triggered by any rule always wins.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Rank returns the numeric ordering of a priority (low=0, medium=1, high=2).
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// Max returns the higher-severity of p and other.
func (p Priority) Max(other Priority) Priority {
	if other.Rank() > p.Rank() {
		return other
	}
	return p
}

// BadgeType categorizes a badge for UI styling.
type BadgeType string

const (
	BadgeSuccess BadgeType = "success"
	BadgeWarning BadgeType = "warning"
	BadgeDanger  BadgeType = "danger"
	BadgeInfo    BadgeType = "info"
)

// Badge is a short categorical tag attached to a recommendation.
type Badge struct {
	Text string    `json:"text"`
	Type BadgeType `json:"type"`
}

// Recommendation is the prioritized inspection advice derived from a snapshot.
// Badges holds at most 3 entries (UI contract).
type Recommendation struct {
	Message  string   `json:"message"`
	Badges   []Badge  `json:"badges"`
	Priority Priority `json:"priority"`
}

// CurrentConditions holds the normalized current reading. Units are metric:
// temperature in whole degrees C, wind in km/h, visibility in km.
type CurrentConditions struct {
	Temperature int    `json:"temperature"`
	Humidity    int    `json:"humidity"`
	WindSpeed   int    `json:"windSpeed"`
	Visibility  int    `json:"visibility"`
	Condition   string `json:"condition"`
	FeelsLike   int    `json:"feelsLike"`
	Icon        Icon   `json:"icon"`
}

// HourlyEntry is one near-term forecast step. Time is a display label:
// "Now" for the first entry, a local hour label for the rest.
type HourlyEntry struct {
	Time        string `json:"time"`
	Temperature int    `json:"temperature"`
	Humidity    int    `json:"humidity"`
	WindSpeed   int    `json:"windSpeed"`
	Condition   string `json:"condition"`
	Icon        Icon   `json:"icon"`
}

// WeatherSnapshot is one complete, internally consistent weather reading plus
// derived recommendation. Hourly holds at most 5 entries, chronologically
// ordered. A snapshot is all-or-nothing: partial snapshots are never produced.
type WeatherSnapshot struct {
	Current        CurrentConditions `json:"current"`
	Hourly         []HourlyEntry     `json:"hourly"`
	Recommendation Recommendation    `json:"recommendation"`
	FetchedAt      time.Time         `json:"fetchedAt"`
}

// Alert is one independent, typed safety alert for the alerts panel.
// Alerts accumulate; they do not cascade or merge.
type Alert struct {
	Type     string   `json:"type"`
	Severity Priority `json:"severity"`
	Title    string   `json:"title"`
	Message  string   `json:"message"`
}

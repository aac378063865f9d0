package advice

import (
	"testing"

	"github.com/asimthahaazeez/hiveweather/internal/models"
)

// TestAlerts_Accumulation verifies the alert rules fire independently: a
// reading qualifying for three rules yields exactly three alerts, each with
// its own severity.
func TestAlerts_Accumulation(t *testing.T) {
	alerts := Alerts(models.CurrentConditions{
		Temperature: 38,
		WindSpeed:   30,
	}, []models.HourlyEntry{
		{Condition: "light rain"},
		{Condition: "clear sky"},
	})

	if len(alerts) != 3 {
		t.Fatalf("alert count = %d, want 3", len(alerts))
	}

	want := map[string]models.Priority{
		"High Temperature Warning": models.PriorityHigh,
		"Rain Expected":            models.PriorityMedium,
		"Windy Conditions":         models.PriorityLow,
	}
	for _, a := range alerts {
		sev, ok := want[a.Title]
		if !ok {
			t.Errorf("unexpected alert %q", a.Title)
			continue
		}
		if a.Severity != sev {
			t.Errorf("alert %q severity = %q, want %q", a.Title, a.Severity, sev)
		}
		delete(want, a.Title)
	}
	for title := range want {
		t.Errorf("missing alert %q", title)
	}
}

func TestAlerts_None(t *testing.T) {
	alerts := Alerts(models.CurrentConditions{
		Temperature: 22,
		WindSpeed:   10,
	}, []models.HourlyEntry{
		{Condition: "clear sky"},
		{Condition: "few clouds"},
	})
	if len(alerts) != 0 {
		t.Errorf("alert count = %d, want 0 (%v)", len(alerts), alerts)
	}
}

func TestAlerts_Thresholds(t *testing.T) {
	tests := []struct {
		name    string
		current models.CurrentConditions
		hourly  []models.HourlyEntry
		want    []string
	}{
		{
			name:    "temp exactly at high bound does not fire",
			current: models.CurrentConditions{Temperature: 35},
			want:    nil,
		},
		{
			name:    "cold fires low temperature alert",
			current: models.CurrentConditions{Temperature: 5},
			want:    []string{"Low Temperature Alert"},
		},
		{
			name:    "wind exactly at bound does not fire",
			current: models.CurrentConditions{Temperature: 20, WindSpeed: 25},
			want:    nil,
		},
		{
			name:    "rain beyond lookahead window does not fire",
			current: models.CurrentConditions{Temperature: 20},
			hourly: []models.HourlyEntry{
				{Condition: "clear sky"},
				{Condition: "clear sky"},
				{Condition: "heavy rain"},
			},
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alerts := Alerts(tt.current, tt.hourly)
			if len(alerts) != len(tt.want) {
				t.Fatalf("alert count = %d, want %d (%v)", len(alerts), len(tt.want), alerts)
			}
			for i, title := range tt.want {
				if alerts[i].Title != title {
					t.Errorf("alert[%d] = %q, want %q", i, alerts[i].Title, title)
				}
			}
		})
	}
}

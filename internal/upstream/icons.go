package upstream

import (
	"strings"

	"github.com/asimthahaazeez/hiveweather/internal/models"
)

// IconMap translates vendor condition groups to the dashboard icon
// vocabulary. It is injected into the Client so additional providers can be
// supported without touching the fetch path.
type IconMap map[string]models.Icon

// DefaultIconMap covers the OpenWeatherMap condition groups.
func DefaultIconMap() IconMap {
	return IconMap{
		"clear":        models.IconSun,
		"clouds":       models.IconCloud,
		"rain":         models.IconRain,
		"drizzle":      models.IconRain,
		"thunderstorm": models.IconRain,
		"snow":         models.IconCloud,
		"mist":         models.IconCloud,
		"fog":          models.IconCloud,
		"haze":         models.IconCloud,
	}
}

// Resolve maps a vendor condition group to an icon. Unknown groups resolve
// to sun as the safe default.
func (m IconMap) Resolve(group string) models.Icon {
	if icon, ok := m[strings.ToLower(strings.TrimSpace(group))]; ok {
		return icon
	}
	return models.IconSun
}

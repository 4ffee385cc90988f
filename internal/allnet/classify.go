package allnet

import "strings"

// Category is the inferred measurement class of a sensor.
type Category string

// Sensor categories.
const (
	CategoryTemperature Category = "temperature"
	CategoryHumidity    Category = "humidity"
	CategoryPressure    Category = "pressure"
	CategoryGeneric     Category = "generic"
)

// Normalised units.
const (
	UnitCelsius     = "°C"
	UnitFahrenheit  = "°F"
	UnitPercent     = "%"
	UnitHectopascal = "hPa"
	UnitPascal      = "Pa"
)

// Classification is the result of Classify.
type Classification struct {
	Category Category `json:"category"`
	Unit     string   `json:"unit"`
}

// Measurement reports whether the category is a physical measurement
// that can be charted over time.
func (c Classification) Measurement() bool {
	return c.Category != CategoryGeneric
}

// Name keywords (German and English) that identify humidity and pressure
// sensors whose unit is missing or unusual.
var (
	humidityKeywords = []string{"feucht", "humid"}
	pressureKeywords = []string{"druck", "pressure"}
)

// Classify infers a sensor's category from its unit and name.
//
// Rules are evaluated in order and the first match wins:
//
//  1. unit contains "°c" or equals "c"             → temperature, °C
//  2. unit contains "°f" or equals "f"             → temperature, °F
//  3. unit contains "%" or "rh", or humidity name  → humidity, %
//  4. unit contains "hpa" or "mbar", or pressure name → pressure, hPa
//  5. unit contains "pa"                           → pressure, Pa
//  6. otherwise                                    → generic, unit unchanged
//
// Matching is case-insensitive. "pa" is tested last so that hectopascal
// readings are never reported as pascal.
func Classify(unit, name string) Classification {
	u := strings.ToLower(strings.TrimSpace(unit))
	n := strings.ToLower(name)

	switch {
	case strings.Contains(u, "°c") || u == "c":
		return Classification{Category: CategoryTemperature, Unit: UnitCelsius}
	case strings.Contains(u, "°f") || u == "f":
		return Classification{Category: CategoryTemperature, Unit: UnitFahrenheit}
	case strings.Contains(u, "%") || strings.Contains(u, "rh") || containsAny(n, humidityKeywords):
		return Classification{Category: CategoryHumidity, Unit: UnitPercent}
	case strings.Contains(u, "hpa") || strings.Contains(u, "mbar") || containsAny(n, pressureKeywords):
		return Classification{Category: CategoryPressure, Unit: UnitHectopascal}
	case strings.Contains(u, "pa"):
		return Classification{Category: CategoryPressure, Unit: UnitPascal}
	default:
		return Classification{Category: CategoryGeneric, Unit: unit}
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

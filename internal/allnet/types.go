package allnet

import (
	"math"
	"strconv"
	"strings"
)

// DeviceInfo is the identity reported by the info endpoint.
// It is produced once by Identify and never mutated.
type DeviceInfo struct {
	Model    string `json:"model"`
	MAC      string `json:"mac"`
	Revision string `json:"revision"`
	Firmware string `json:"firmware"`
	Name     string `json:"name"`
	Uptime   string `json:"uptime"`
}

// RawSensor is a sensor record exactly as decoded from the device.
// Fields are untrimmed; ID is kept as text so that discovery decides
// what to do with unparsable values.
type RawSensor struct {
	ID      string `xml:"id"`
	Name    string `xml:"name"`
	Current string `xml:"current"`
	Unit    string `xml:"unit"`
}

// RawActor is an actor record exactly as decoded from the device.
type RawActor struct {
	ID    string `xml:"id"`
	Name  string `xml:"name"`
	State string `xml:"state"`
}

// SensorReading is a normalised sensor value from one poll cycle.
//
// Value is the raw text reported by the device. Numeric coercion is left
// to the consumer, see Numeric.
type SensorReading struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Value string `json:"value"`
	Unit  string `json:"unit"`
}

// Numeric parses Value as a real number.
// The second result is false when the value is not numeric; consumers
// should then report Value as-is. NaN and infinities are not numeric.
func (r SensorReading) Numeric() (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(r.Value), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Classification returns the inferred category of the reading.
func (r SensorReading) Classification() Classification {
	return Classify(r.Unit, r.Name)
}

// ActorState is a normalised actor state from one poll cycle.
// State is the raw boolean-like token reported by the device.
type ActorState struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"`
}

// IsOn reports whether State is one of the "on" tokens ("1", "true", "on").
func (a ActorState) IsOn() bool {
	switch strings.ToLower(strings.TrimSpace(a.State)) {
	case "1", "true", "on":
		return true
	default:
		return false
	}
}

// infoDocument mirrors the /xml/?mode=info response.
type infoDocument struct {
	Hardware struct {
		Model    string `xml:"model"`
		MAC      string `xml:"mac"`
		Revision string `xml:"revision"`
	} `xml:"hardware"`
	Firmware string `xml:"firmware"`
	Device   struct {
		Name   string `xml:"name"`
		Uptime string `xml:"uptime"`
	} `xml:"device"`
}

// sensorListDocument mirrors the sensor list response.
// The root element name is not checked.
type sensorListDocument struct {
	Sensors []RawSensor `xml:"sensor"`
}

// actorListDocument mirrors the actor list response.
type actorListDocument struct {
	Actors []RawActor `xml:"actor"`
}

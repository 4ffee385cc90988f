package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// Topic scheme constants.
//
// All bridge topics use the flat scheme {prefix}/{category}/allnet/{address}
// where address is "sensor-<id>" or "actor-<id>".
const (
	// DefaultPrefix is used when Topics.Prefix is empty.
	DefaultPrefix = "home"

	// Protocol is the protocol segment of every bridge topic.
	Protocol = "allnet"

	sensorAddressPrefix = "sensor-"
	actorAddressPrefix  = "actor-"
)

// Topics provides builders for the bridge's MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{Prefix: "home"}
//	topics.State(mqtt.SensorAddress(1))
//	// Returns: "home/state/allnet/sensor-1"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultPrefix
	}
	return strings.TrimRight(t.Prefix, "/")
}

// =============================================================================
// Addresses
// =============================================================================

// SensorAddress returns the topic address of a sensor.
func SensorAddress(id int) string {
	return sensorAddressPrefix + strconv.Itoa(id)
}

// ActorAddress returns the topic address of an actor.
func ActorAddress(id int) string {
	return actorAddressPrefix + strconv.Itoa(id)
}

// ParseActorAddress extracts the actor id from an address such as "actor-3".
func ParseActorAddress(address string) (int, bool) {
	rest, ok := strings.CutPrefix(address, actorAddressPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.Atoi(rest)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

// ParseSensorAddress extracts the sensor id from an address such as "sensor-1".
func ParseSensorAddress(address string) (int, bool) {
	rest, ok := strings.CutPrefix(address, sensorAddressPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.Atoi(rest)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

// =============================================================================
// Bridge Topics
// =============================================================================

// State returns the retained state topic of one sensor or actor.
//
// Example: home/state/allnet/sensor-1
func (t Topics) State(address string) string {
	return fmt.Sprintf("%s/state/%s/%s", t.prefix(), Protocol, address)
}

// Command returns the topic consumers publish actor commands to.
//
// Example: home/command/allnet/actor-3
func (t Topics) Command(address string) string {
	return fmt.Sprintf("%s/command/%s/%s", t.prefix(), Protocol, address)
}

// Ack returns the topic for command acknowledgements.
//
// Example: home/ack/allnet/actor-3
func (t Topics) Ack(address string) string {
	return fmt.Sprintf("%s/ack/%s/%s", t.prefix(), Protocol, address)
}

// Request returns the topic for requests to the bridge.
//
// Example: home/request/allnet/req-abc123
func (t Topics) Request(requestID string) string {
	return fmt.Sprintf("%s/request/%s/%s", t.prefix(), Protocol, requestID)
}

// Response returns the topic for request responses.
//
// Example: home/response/allnet/req-abc123
func (t Topics) Response(requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", t.prefix(), Protocol, requestID)
}

// Health returns the retained bridge health topic.
//
// Example: home/health/allnet
func (t Topics) Health() string {
	return fmt.Sprintf("%s/health/%s", t.prefix(), Protocol)
}

// Discovery returns the retained inventory topic.
//
// Example: home/discovery/allnet
func (t Topics) Discovery() string {
	return fmt.Sprintf("%s/discovery/%s", t.prefix(), Protocol)
}

// SystemStatus returns the client online/offline status topic used for LWT.
//
// Example: home/system/allnet/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/%s/status", t.prefix(), Protocol)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllCommands matches every command addressed to the bridge.
//
// Pattern: home/command/allnet/#
func (t Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/%s/#", t.prefix(), Protocol)
}

// AllRequests matches every request addressed to the bridge.
//
// Pattern: home/request/allnet/#
func (t Topics) AllRequests() string {
	return fmt.Sprintf("%s/request/%s/#", t.prefix(), Protocol)
}

// AllStates matches every state topic published by the bridge.
//
// Pattern: home/state/allnet/+
func (t Topics) AllStates() string {
	return fmt.Sprintf("%s/state/%s/+", t.prefix(), Protocol)
}

// Split breaks a bridge topic into its category and trailing address.
// It returns ok=false for topics outside this bridge's prefix and protocol.
//
//	Topics{Prefix: "home"}.Split("home/command/allnet/actor-3")
//	// Returns: "command", "actor-3", true
func (t Topics) Split(topic string) (category, address string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.prefix()+"/")
	if !found {
		return "", "", false
	}
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) != 3 || parts[1] != Protocol || parts[2] == "" {
		return "", "", false
	}
	return parts[0], parts[2], true
}

package bridge

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/allnet-bridge/internal/allnet"
)

// Protocol is the protocol identifier carried in every message.
const Protocol = "allnet"

// Actor commands.
const (
	CommandOn     = "on"
	CommandOff    = "off"
	CommandToggle = "toggle"
)

// Request actions.
const (
	ActionRefresh   = "refresh"
	ActionReadState = "read_state"
	ActionStatus    = "status"
)

// CommandMessage is sent by consumers to switch an actor.
// Topic: {prefix}/command/allnet/actor-{id}
//
// The payload is either a JSON object or a bare command word such as "ON".
type CommandMessage struct {
	// ID correlates the command with its acknowledgement.
	// A UUID is generated when it is empty.
	ID string `json:"id,omitempty"`

	// Command is "on", "off" or "toggle".
	Command string `json:"command"`

	// Source names the issuing system, e.g. "homeassistant".
	Source string `json:"source,omitempty"`
}

// ParseCommand decodes a command payload.
//
// JSON objects are decoded as CommandMessage. Anything else is treated as a
// bare command word, so "ON", "off", "1" and "0" are accepted from simple
// publishers.
func ParseCommand(payload []byte) (CommandMessage, error) {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return CommandMessage{}, fmt.Errorf("%w: empty payload", ErrInvalidMessage)
	}

	var cmd CommandMessage
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal([]byte(trimmed), &cmd); err != nil {
			return CommandMessage{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
		}
	} else {
		cmd.Command = strings.Trim(trimmed, `"`)
	}

	command, ok := normaliseCommand(cmd.Command)
	if !ok {
		return cmd, fmt.Errorf("%w: unknown command %q", ErrInvalidMessage, cmd.Command)
	}
	cmd.Command = command
	return cmd, nil
}

func normaliseCommand(s string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "1", "true":
		return CommandOn, true
	case "off", "0", "false":
		return CommandOff, true
	case "toggle":
		return CommandToggle, true
	default:
		return "", false
	}
}

// AckStatus represents the outcome of a command.
type AckStatus string

const (
	// AckAccepted indicates the device accepted the write.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the command did not finish in time.
	AckTimeout AckStatus = "timeout"
)

// Error codes for failed commands and requests.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeNotReady          = "NOT_READY"
	ErrCodeUnknownActor      = "UNKNOWN_ACTOR"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// AckMessage acknowledges a command.
// Topic: {prefix}/ack/allnet/actor-{id}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	Address   string    `json:"address"`
	Protocol  string    `json:"protocol"`
	Status    AckStatus `json:"status"`

	// On is the state that was requested. Nil when the command could not
	// be resolved to a state (unknown actor on toggle).
	On *bool `json:"on,omitempty"`

	Error *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail describes a failed command or request.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewAck creates a successful acknowledgement.
func NewAck(commandID, address string, on bool) AckMessage {
	return AckMessage{
		CommandID: commandID,
		Timestamp: time.Now().UTC(),
		Address:   address,
		Protocol:  Protocol,
		Status:    AckAccepted,
		On:        &on,
	}
}

// NewAckError creates a failed acknowledgement.
func NewAckError(commandID, address, code, message string) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	return AckMessage{
		CommandID: commandID,
		Timestamp: time.Now().UTC(),
		Address:   address,
		Protocol:  Protocol,
		Status:    status,
		Error:     &ErrorDetail{Code: code, Message: message},
	}
}

// StateMessage carries the current state of one sensor or actor.
// Topic: {prefix}/state/allnet/{address}
// QoS: configured, Retained: Yes
type StateMessage struct {
	Address   string         `json:"address"`
	Kind      string         `json:"kind"` // "sensor" or "actor"
	Timestamp time.Time      `json:"timestamp"`
	State     map[string]any `json:"state"`
	Protocol  string         `json:"protocol"`
}

// SensorState builds the state map of a sensor reading.
//
// "value" is the number when the reading is numeric and the raw text
// otherwise. "raw" always holds the text the device reported.
func SensorState(r allnet.SensorReading) map[string]any {
	c := r.Classification()
	state := map[string]any{
		"name":     r.Name,
		"raw":      r.Value,
		"unit":     c.Unit,
		"category": string(c.Category),
	}
	if v, ok := r.Numeric(); ok {
		state["value"] = v
	} else {
		state["value"] = r.Value
	}
	return state
}

// ActorStateMap builds the state map of an actor.
func ActorStateMap(a allnet.ActorState) map[string]any {
	return map[string]any{
		"name":  a.Name,
		"on":    a.IsOn(),
		"state": a.State,
	}
}

// NewStateMessage creates a state message.
func NewStateMessage(kind, address string, state map[string]any, at time.Time) StateMessage {
	return StateMessage{
		Address:   address,
		Kind:      kind,
		Timestamp: at.UTC(),
		State:     state,
		Protocol:  Protocol,
	}
}

// RequestMessage asks the bridge for something.
// Topic: {prefix}/request/allnet/{request_id}
type RequestMessage struct {
	// RequestID correlates the response. Defaults to the topic suffix.
	RequestID string `json:"request_id"`

	// Action is "refresh", "read_state" or "status".
	Action string `json:"action"`

	// Address selects the sensor or actor for read_state.
	Address string `json:"address,omitempty"`
}

// ResponseMessage answers a request.
// Topic: {prefix}/response/allnet/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *ErrorDetail   `json:"error,omitempty"`
}

func newResponse(requestID string, data map[string]any) ResponseMessage {
	return ResponseMessage{
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data:      data,
	}
}

func newErrorResponse(requestID, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Success:   false,
		Error:     &ErrorDetail{Code: code, Message: message},
	}
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the bridge's operational status.
// Topic: {prefix}/health/allnet
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Device        string       `json:"device,omitempty"`
	Sensors       int          `json:"sensors"`
	Actors        int          `json:"actors"`
	Polls         uint64       `json:"polls"`
	Failures      uint64       `json:"failures"`
	LastPoll      *time.Time   `json:"last_poll,omitempty"`
	Reason        string       `json:"reason,omitempty"`
}

// DiscoveryMessage announces the device and its points.
// Topic: {prefix}/discovery/allnet
// QoS: 1, Retained: Yes
type DiscoveryMessage struct {
	Timestamp time.Time         `json:"timestamp"`
	Bridge    string            `json:"bridge"`
	Device    allnet.DeviceInfo `json:"device"`
	Sensors   []DiscoveredPoint `json:"sensors"`
	Actors    []DiscoveredPoint `json:"actors"`
}

// DiscoveredPoint describes one sensor or actor and where to find it.
type DiscoveredPoint struct {
	ID           int      `json:"id"`
	Address      string   `json:"address"`
	Name         string   `json:"name"`
	Category     string   `json:"category,omitempty"`
	Unit         string   `json:"unit,omitempty"`
	StateTopic   string   `json:"state_topic"`
	CommandTopic string   `json:"command_topic,omitempty"`
	Capabilities []string `json:"capabilities"`
}

package history

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Command sources recorded when the caller did not supply one.
const (
	SourceInternal = "internal"
)

// ErrInvalidEntry is returned when an entry lacks required fields.
var ErrInvalidEntry = errors.New("history: invalid entry")

// PollEntry is one completed poll of the device.
type PollEntry struct {
	ID        int64         `json:"id"`
	Device    string        `json:"device"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Success   bool          `json:"success"`
	Sensors   int           `json:"sensors"`
	Actors    int           `json:"actors"`
	Error     string        `json:"error,omitempty"`
}

// CommandEntry is one actor write sent to the device.
type CommandEntry struct {
	ID        string    `json:"id"`
	Device    string    `json:"device"`
	ActorID   int       `json:"actor_id"`
	On        bool      `json:"on"`
	Source    string    `json:"source"`
	RequestID string    `json:"request_id,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// CommandFilter narrows ListCommands. A zero filter returns the most
// recent commands for every actor.
type CommandFilter struct {
	// ActorID restricts results to one actor when HasActor is set.
	ActorID  int
	HasActor bool

	Limit int
}

// Repository stores and retrieves history entries.
//
// Implementations must be safe for concurrent use and store UTC timestamps.
type Repository interface {
	RecordPoll(ctx context.Context, entry PollEntry) error
	RecordCommand(ctx context.Context, entry CommandEntry) error

	// ListPolls returns the most recent polls, newest first.
	ListPolls(ctx context.Context, limit int) ([]PollEntry, error)

	// ListCommands returns the most recent commands, newest first.
	ListCommands(ctx context.Context, filter CommandFilter) ([]CommandEntry, error)

	// Prune deletes entries older than olderThan and reports how many rows
	// were removed.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

func (e PollEntry) validate() error {
	if e.Device == "" {
		return fmt.Errorf("%w: device is required", ErrInvalidEntry)
	}
	if e.StartedAt.IsZero() {
		return fmt.Errorf("%w: started_at is required", ErrInvalidEntry)
	}
	return nil
}

func (e CommandEntry) validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidEntry)
	}
	if e.Device == "" {
		return fmt.Errorf("%w: device is required", ErrInvalidEntry)
	}
	if e.IssuedAt.IsZero() {
		return fmt.Errorf("%w: issued_at is required", ErrInvalidEntry)
	}
	return nil
}

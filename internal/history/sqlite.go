package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	// timeLayout is fixed-width so stored timestamps sort lexically.
	timeLayout = "2006-01-02T15:04:05.000Z"
)

// SQLiteRepository implements Repository on the poll_history and
// actor_commands tables.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// RecordPoll inserts a poll outcome.
func (r *SQLiteRepository) RecordPoll(ctx context.Context, e PollEntry) error {
	if err := e.validate(); err != nil {
		return err
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO poll_history (device, started_at, duration_ms, success, sensors, actors, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Device,
		formatTime(e.StartedAt),
		e.Duration.Milliseconds(),
		boolToInt(e.Success),
		e.Sensors,
		e.Actors,
		nullString(e.Error),
	)
	if err != nil {
		return fmt.Errorf("inserting poll history: %w", err)
	}
	return nil
}

// RecordCommand inserts an actor command. The entry ID must be unique.
func (r *SQLiteRepository) RecordCommand(ctx context.Context, e CommandEntry) error {
	if err := e.validate(); err != nil {
		return err
	}
	if e.Source == "" {
		e.Source = SourceInternal
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO actor_commands (id, device, actor_id, desired_on, source, request_id, issued_at, success, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.Device,
		e.ActorID,
		boolToInt(e.On),
		e.Source,
		nullString(e.RequestID),
		formatTime(e.IssuedAt),
		boolToInt(e.Success),
		nullString(e.Error),
	)
	if err != nil {
		return fmt.Errorf("inserting actor command: %w", err)
	}
	return nil
}

// ListPolls returns recent polls ordered newest first.
//
// Parameters:
//   - limit: Maximum entries (default 50, max 500)
func (r *SQLiteRepository) ListPolls(ctx context.Context, limit int) ([]PollEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device, started_at, duration_ms, success, sensors, actors, error
		 FROM poll_history
		 ORDER BY started_at DESC, id DESC
		 LIMIT ?`,
		clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying poll history: %w", err)
	}
	defer rows.Close()

	entries := make([]PollEntry, 0)
	for rows.Next() {
		var (
			e          PollEntry
			startedAt  string
			durationMS int64
			success    int
			errText    sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Device, &startedAt, &durationMS, &success, &e.Sensors, &e.Actors, &errText); err != nil {
			return nil, fmt.Errorf("scanning poll history: %w", err)
		}
		if e.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		e.Success = success == 1
		e.Error = errText.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating poll history: %w", err)
	}
	return entries, nil
}

// ListCommands returns recent actor commands ordered newest first.
func (r *SQLiteRepository) ListCommands(ctx context.Context, f CommandFilter) ([]CommandEntry, error) {
	query := `SELECT id, device, actor_id, desired_on, source, request_id, issued_at, success, error
		 FROM actor_commands`
	args := []any{}
	if f.HasActor {
		query += " WHERE actor_id = ?"
		args = append(args, f.ActorID)
	}
	query += " ORDER BY issued_at DESC LIMIT ?"
	args = append(args, clampLimit(f.Limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying actor commands: %w", err)
	}
	defer rows.Close()

	entries := make([]CommandEntry, 0)
	for rows.Next() {
		var (
			e         CommandEntry
			on        int
			success   int
			requestID sql.NullString
			issuedAt  string
			errText   sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Device, &e.ActorID, &on, &e.Source, &requestID, &issuedAt, &success, &errText); err != nil {
			return nil, fmt.Errorf("scanning actor command: %w", err)
		}
		if e.IssuedAt, err = parseTime(issuedAt); err != nil {
			return nil, err
		}
		e.On = on == 1
		e.Success = success == 1
		e.RequestID = requestID.String
		e.Error = errText.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating actor commands: %w", err)
	}
	return entries, nil
}

// Prune deletes polls and commands older than olderThan.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}
	cutoff := formatTime(time.Now().Add(-olderThan))

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting prune: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var total int64
	for _, stmt := range []string{
		"DELETE FROM poll_history WHERE started_at < ?",
		"DELETE FROM actor_commands WHERE issued_at < ?",
	} {
		res, err := tx.ExecContext(ctx, stmt, cutoff)
		if err != nil {
			return 0, fmt.Errorf("pruning history: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("checking rows affected: %w", err)
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing prune: %w", err)
	}
	return total, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	default:
		return limit
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", value, err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

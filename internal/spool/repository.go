package spool

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

const (
	defaultBatchLimit = 100
	maxBatchLimit     = 500
)

// Event is one spooled device-to-cloud message.
type Event struct {
	ID         string
	Payload    []byte
	Properties map[string]string
	CreatedAt  time.Time
}

// Repository stores undelivered events in the event_spool table.
type Repository struct {
	db *sql.DB
}

// New creates an event spool over an open database.
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Enqueue journals an event for later delivery and returns its id.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - payload: Event body as handed to the transport
//   - properties: Application property bag attached to the event
//
// Returns:
//   - string: Generated event id
//   - error: nil on success, otherwise the underlying database error
func (r *Repository) Enqueue(ctx context.Context, payload []byte, properties map[string]string) (string, error) {
	if payload == nil {
		payload = []byte{}
	}
	if properties == nil {
		properties = map[string]string{}
	}

	propsJSON, err := json.Marshal(properties)
	if err != nil {
		return "", fmt.Errorf("marshalling properties: %w", err)
	}

	id := uuid.NewString()
	_, err = r.db.ExecContext(ctx,
		"INSERT INTO event_spool (id, payload, properties, created_at) VALUES (?, ?, ?, ?)",
		id,
		payload,
		string(propsJSON),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return "", fmt.Errorf("inserting event: %w", err)
	}

	return id, nil
}

// Pending returns undelivered events in insert order.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - limit: Maximum events to return (default 100, max 500)
//
// Returns:
//   - []Event: Undelivered events, oldest first
//   - error: nil on success, otherwise the underlying query error
func (r *Repository) Pending(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = defaultBatchLimit
	}
	if limit > maxBatchLimit {
		limit = maxBatchLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, payload, properties, created_at
		 FROM event_spool
		 WHERE sent_at IS NULL
		 ORDER BY created_at, rowid
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying pending events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var event Event
		var propsJSON string
		var createdAt string

		if err := rows.Scan(&event.ID, &event.Payload, &propsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}

		if err := json.Unmarshal([]byte(propsJSON), &event.Properties); err != nil {
			return nil, fmt.Errorf("unmarshalling properties: %w", err)
		}

		timestamp, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		event.CreatedAt = timestamp

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pending events: %w", err)
	}

	return events, nil
}

// MarkSent records that an event has been delivered.
//
// Returns ErrNotFound when the id is unknown or the event was already
// marked sent.
func (r *Repository) MarkSent(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE event_spool SET sent_at = ? WHERE id = ? AND sent_at IS NULL",
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("marking event sent: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// Depth returns the number of undelivered events.
func (r *Repository) Depth(ctx context.Context) (int, error) {
	var depth int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM event_spool WHERE sent_at IS NULL",
	).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("counting pending events: %w", err)
	}

	return depth, nil
}

// Prune deletes delivered events older than the given duration.
// Undelivered events are never pruned.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - olderThan: Duration to retain (sent before now-olderThan is deleted)
//
// Returns:
//   - int64: Number of rows deleted
//   - error: nil on success, otherwise the underlying database error
func (r *Repository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM event_spool WHERE sent_at IS NOT NULL AND sent_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting sent events: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	return rowsAffected, nil
}

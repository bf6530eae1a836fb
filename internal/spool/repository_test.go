package spool

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupSpoolTestDB creates an in-memory SQLite database with the event_spool table.
func setupSpoolTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE event_spool (
			id TEXT PRIMARY KEY,
			payload BLOB NOT NULL,
			properties TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			sent_at TEXT
		) STRICT;
		CREATE INDEX idx_event_spool_pending ON event_spool(created_at) WHERE sent_at IS NULL;
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// insertSpoolRow inserts an event with explicit timestamps.
func insertSpoolRow(t *testing.T, db *sql.DB, id, payload string, createdAt time.Time, sentAt *time.Time) {
	t.Helper()

	var sent any
	if sentAt != nil {
		sent = sentAt.UTC().Format(time.RFC3339)
	}

	_, err := db.Exec(
		"INSERT INTO event_spool (id, payload, properties, created_at, sent_at) VALUES (?, ?, '{}', ?, ?)",
		id,
		[]byte(payload),
		createdAt.UTC().Format(time.RFC3339),
		sent,
	)
	if err != nil {
		t.Fatalf("failed to insert spool row: %v", err)
	}
}

// TestEnqueuePending verifies events come back in insert order with their
// payload and properties intact.
func TestEnqueuePending(t *testing.T) {
	db := setupSpoolTestDB(t)
	sp := New(db)
	ctx := context.Background()

	first, err := sp.Enqueue(ctx, []byte(`{"temp":19.2}`), map[string]string{"above_th": "0"})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	second, err := sp.Enqueue(ctx, []byte(`{"temp":25.8}`), map[string]string{"above_th": "1"})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if first == second {
		t.Fatalf("Enqueue() returned duplicate id %q", first)
	}

	events, err := sp.Pending(ctx, 10)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events length = %d, want 2", len(events))
	}

	if events[0].ID != first || events[1].ID != second {
		t.Errorf("order = [%s, %s], want [%s, %s]", events[0].ID, events[1].ID, first, second)
	}
	if string(events[0].Payload) != `{"temp":19.2}` {
		t.Errorf("Payload = %q, want the enqueued payload", events[0].Payload)
	}
	if events[1].Properties["above_th"] != "1" {
		t.Errorf("Properties = %v, want above_th=1", events[1].Properties)
	}
	if events[0].CreatedAt.IsZero() {
		t.Error("CreatedAt is zero, want non-zero")
	}
}

// TestPendingOrder verifies older events drain first.
func TestPendingOrder(t *testing.T) {
	db := setupSpoolTestDB(t)
	sp := New(db)

	now := time.Now().UTC().Truncate(time.Second)
	insertSpoolRow(t, db, "ev-new", "new", now, nil)
	insertSpoolRow(t, db, "ev-old", "old", now.Add(-time.Hour), nil)

	events, err := sp.Pending(context.Background(), 10)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events length = %d, want 2", len(events))
	}
	if events[0].ID != "ev-old" {
		t.Errorf("first event = %q, want ev-old", events[0].ID)
	}
}

// TestPendingLimit verifies the batch limit is enforced.
func TestPendingLimit(t *testing.T) {
	db := setupSpoolTestDB(t)
	sp := New(db)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := sp.Enqueue(ctx, []byte("x"), nil); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	events, err := sp.Pending(ctx, 3)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(events) != 3 {
		t.Errorf("events length = %d, want 3", len(events))
	}
}

// TestMarkSent verifies delivered events leave the pending set.
func TestMarkSent(t *testing.T) {
	db := setupSpoolTestDB(t)
	sp := New(db)
	ctx := context.Background()

	id, err := sp.Enqueue(ctx, []byte("x"), nil)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if err := sp.MarkSent(ctx, id); err != nil {
		t.Fatalf("MarkSent() error = %v", err)
	}

	events, err := sp.Pending(ctx, 10)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events length = %d, want 0 after MarkSent", len(events))
	}

	// Marking twice, or marking an unknown id, reports not found.
	if err := sp.MarkSent(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second MarkSent() error = %v, want ErrNotFound", err)
	}
	if err := sp.MarkSent(ctx, "no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkSent(unknown) error = %v, want ErrNotFound", err)
	}
}

// TestDepth verifies the pending counter.
func TestDepth(t *testing.T) {
	db := setupSpoolTestDB(t)
	sp := New(db)
	ctx := context.Background()

	depth, err := sp.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth() error = %v", err)
	}
	if depth != 0 {
		t.Errorf("Depth() = %d, want 0", depth)
	}

	id, _ := sp.Enqueue(ctx, []byte("a"), nil)
	sp.Enqueue(ctx, []byte("b"), nil)

	depth, err = sp.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth() error = %v", err)
	}
	if depth != 2 {
		t.Errorf("Depth() = %d, want 2", depth)
	}

	if err := sp.MarkSent(ctx, id); err != nil {
		t.Fatalf("MarkSent() error = %v", err)
	}

	depth, err = sp.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth() error = %v", err)
	}
	if depth != 1 {
		t.Errorf("Depth() = %d, want 1", depth)
	}
}

// TestPrune verifies only old delivered events are removed.
func TestPrune(t *testing.T) {
	db := setupSpoolTestDB(t)
	sp := New(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	oldSent := now.Add(-40 * 24 * time.Hour)
	recentSent := now.Add(-time.Hour)

	insertSpoolRow(t, db, "ev-old-sent", "x", oldSent, &oldSent)
	insertSpoolRow(t, db, "ev-recent-sent", "x", recentSent, &recentSent)
	insertSpoolRow(t, db, "ev-old-pending", "x", oldSent, nil)

	deleted, err := sp.Prune(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	// The old pending event survives: undelivered data is never dropped.
	events, err := sp.Pending(ctx, 10)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(events) != 1 || events[0].ID != "ev-old-pending" {
		t.Errorf("pending = %v, want ev-old-pending only", events)
	}
}

// TestPruneRejectsNonPositive verifies input validation.
func TestPruneRejectsNonPositive(t *testing.T) {
	db := setupSpoolTestDB(t)
	sp := New(db)

	if _, err := sp.Prune(context.Background(), 0); err == nil {
		t.Fatal("Prune(0) expected error, got nil")
	}
}

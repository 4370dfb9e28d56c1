// Package observability records sync lifecycle events to the local database.
// The event log is the diagnostic surface behind the UI status indicator:
// when an item exhausts its retries and is retained as failed, this is where
// the history of its attempts lives.
package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/tripsync/idgen"
)

// Schema creates the sync event table. The event log shares the engine's
// local SQLite database, so this is applied next to the kv schema.
const Schema = `
CREATE TABLE IF NOT EXISTS sync_event_logs (
    event_id    TEXT PRIMARY KEY,
    event_type  TEXT NOT NULL,
    entity_type TEXT NOT NULL DEFAULT '',
    entity_id   TEXT NOT NULL DEFAULT '',
    owner_id    TEXT NOT NULL DEFAULT '',
    detail      TEXT NOT NULL DEFAULT '',
    success     INTEGER NOT NULL,
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sync_events_created ON sync_event_logs (created_at);`

// SyncEvent is one recorded engine event.
type SyncEvent struct {
	EventType  string // "enqueue", "delivery", "upsert_recovery", "insert_recovery", "terminal", "pull_merge"
	EntityType string
	EntityID   string
	OwnerID    string
	Detail     string
	Success    bool
}

// EventLog writes sync events. Non-blocking by contract: a failing event
// store never fails the sync operation that produced the event.
type EventLog struct {
	db    *sql.DB
	newID idgen.Generator
}

// EventLogOption configures an EventLog.
type EventLogOption func(*EventLog)

// WithEventIDGenerator sets a custom ID generator for event IDs.
func WithEventIDGenerator(gen idgen.Generator) EventLogOption {
	return func(l *EventLog) { l.newID = gen }
}

// NewEventLog creates an event log backed by the given database. EnsureSchema
// must have been applied (the engine does this at startup).
func NewEventLog(db *sql.DB, opts ...EventLogOption) *EventLog {
	l := &EventLog{
		db:    db,
		newID: idgen.Prefixed("evt_", idgen.Default),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// EnsureSchema applies the event table schema.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("observability: create schema: %w", err)
	}
	return nil
}

// Record writes one event. Errors are logged via slog and swallowed.
func (l *EventLog) Record(ctx context.Context, ev SyncEvent) {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO sync_event_logs (
			event_id, event_type, entity_type, entity_id, owner_id, detail, success, created_at
		) VALUES (?,?,?,?,?,?,?,?)`,
		l.newID(), ev.EventType, ev.EntityType, ev.EntityID, ev.OwnerID,
		ev.Detail, ev.Success, time.Now().UnixMilli())
	if err != nil {
		slog.Error("observability: event log failed", "error", err, "event_type", ev.EventType)
	}
}

// Count returns the number of recorded events, optionally filtered by type
// (empty string counts everything).
func (l *EventLog) Count(ctx context.Context, eventType string) (int, error) {
	var n int
	var err error
	if eventType == "" {
		err = l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_event_logs`).Scan(&n)
	} else {
		err = l.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sync_event_logs WHERE event_type = ?`, eventType).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("observability: count events: %w", err)
	}
	return n, nil
}

// Cleanup deletes events older than the retention threshold. This covers the
// engine's own event table only — entity record retention is a product
// decision outside this subsystem.
func Cleanup(ctx context.Context, db *sql.DB, retentionDays int, vacuumAfter bool) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()
	if _, err := db.ExecContext(ctx,
		`DELETE FROM sync_event_logs WHERE created_at < ?`, cutoff); err != nil {
		return fmt.Errorf("observability: cleanup: %w", err)
	}
	if vacuumAfter {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			return fmt.Errorf("observability: vacuum: %w", err)
		}
	}
	return nil
}

package observability_test

import (
	"context"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/tripsync/kv"
	"github.com/hazyhaar/tripsync/observability"
)

func newLog(t *testing.T) (*observability.EventLog, *kv.SQLite) {
	t.Helper()
	s := kv.OpenMemory(t)
	if err := observability.EnsureSchema(context.Background(), s.DB); err != nil {
		t.Fatal(err)
	}
	return observability.NewEventLog(s.DB), s
}

func TestRecordAndCount(t *testing.T) {
	log, _ := newLog(t)
	ctx := context.Background()

	log.Record(ctx, observability.SyncEvent{
		EventType: "delivery", EntityType: "trip", EntityID: "t1",
		OwnerID: "u1", Success: true,
	})
	log.Record(ctx, observability.SyncEvent{
		EventType: "terminal", EntityType: "trip", EntityID: "t2",
		OwnerID: "u1", Detail: "timeout", Success: false,
	})

	total, err := log.Count(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 {
		t.Errorf("total = %d, want 2", total)
	}
	n, err := log.Count(ctx, "terminal")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("terminal count = %d, want 1", n)
	}
}

func TestCleanupRemovesOldEvents(t *testing.T) {
	log, s := newLog(t)
	ctx := context.Background()

	log.Record(ctx, observability.SyncEvent{EventType: "enqueue", Success: true})

	// Age the row past the retention window.
	if _, err := s.DB.ExecContext(ctx,
		`UPDATE sync_event_logs SET created_at = created_at - 40 * 86400000`); err != nil {
		t.Fatal(err)
	}
	log.Record(ctx, observability.SyncEvent{EventType: "enqueue", Success: true})

	if err := observability.Cleanup(ctx, s.DB, 30, false); err != nil {
		t.Fatal(err)
	}
	n, err := log.Count(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("count after cleanup = %d, want 1", n)
	}
}

func TestCleanupDisabled(t *testing.T) {
	log, s := newLog(t)
	ctx := context.Background()
	log.Record(ctx, observability.SyncEvent{EventType: "enqueue", Success: true})
	if err := observability.Cleanup(ctx, s.DB, 0, false); err != nil {
		t.Fatal(err)
	}
	n, err := log.Count(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("retention 0 deleted events: count = %d", n)
	}
}

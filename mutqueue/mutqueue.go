// Package mutqueue implements the persisted sync queue: the ordered list of
// pending mutations waiting for delivery to the remote store.
//
// The queue is write-through — Enqueue and Remove return only after the
// backing kv store committed, so a crash mid-operation leaves the queue
// consistent with the last committed state and pending work survives process
// restarts.
//
// Dedup invariant: at most one pending record per (entityType, entityKey).
// A new mutation for an already-queued entity replaces the existing entry,
// carrying the latest payload forward. This bounds queue growth by the number
// of distinct in-flight entities rather than by edit frequency, and removes
// any ordering ambiguity between two updates to the same entity.
package mutqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/tripsync/kv"
	"github.com/hazyhaar/tripsync/model"
)

// DefaultKey is the kv key the serialized queue lives under.
const DefaultKey = "tripsync/queue"

// Options configures queue behaviour.
type Options struct {
	// Key is the kv key for the serialized queue. Default: DefaultKey.
	Key string
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Key == "" {
		o.Key = DefaultKey
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Queue is the sync queue handle. All mutation goes through Enqueue, Remove,
// UpdateRetry, and Clear — callers never touch the backing list directly, so
// the storage backing can be swapped without touching the orchestrator.
type Queue struct {
	kv   kv.Store
	opts Options

	mu     sync.Mutex
	loaded bool
	items  []model.MutationRecord
}

// New creates a queue handle over the given kv backing. The persisted list is
// loaded lazily on first access.
func New(backing kv.Store, opts Options) *Queue {
	opts.defaults()
	return &Queue{kv: backing, opts: opts}
}

// ensureLoaded reads the persisted list once. Must be called with mu held.
func (q *Queue) ensureLoaded(ctx context.Context) error {
	if q.loaded {
		return nil
	}
	raw, err := q.kv.Get(ctx, q.opts.Key)
	if err != nil {
		return fmt.Errorf("mutqueue: load: %w", err)
	}
	if raw != nil {
		if err := json.Unmarshal(raw, &q.items); err != nil {
			return fmt.Errorf("mutqueue: decode: %w", err)
		}
	}
	q.loaded = true
	return nil
}

// persist writes the whole list back. Must be called with mu held.
func (q *Queue) persist(ctx context.Context) error {
	raw, err := json.Marshal(q.items)
	if err != nil {
		return fmt.Errorf("mutqueue: encode: %w", err)
	}
	if err := q.kv.Set(ctx, q.opts.Key, raw); err != nil {
		return fmt.Errorf("mutqueue: persist: %w", err)
	}
	return nil
}

// Enqueue appends m, first removing any pending record for the same
// (entityType, entityKey). The scan is O(n) per enqueue; n stays small
// precisely because of the dedup step.
func (q *Queue) Enqueue(ctx context.Context, m model.MutationRecord) error {
	if !m.EntityType.Valid() {
		return fmt.Errorf("mutqueue: unknown entity type %q", m.EntityType)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.ensureLoaded(ctx); err != nil {
		return err
	}

	for i, existing := range q.items {
		if existing.EntityType == m.EntityType && existing.EntityKey == m.EntityKey {
			q.items = append(q.items[:i], q.items[i+1:]...)
			q.opts.Logger.Debug("mutqueue: superseded pending mutation",
				"entity_type", m.EntityType, "entity_key", m.EntityKey, "old_id", existing.ID)
			break
		}
	}

	q.items = append(q.items, m)
	return q.persist(ctx)
}

// All returns a snapshot of pending records in insertion order (oldest
// first). The orchestrator drains this snapshot, not the live list.
func (q *Queue) All(ctx context.Context) ([]model.MutationRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	out := make([]model.MutationRecord, len(q.items))
	copy(out, q.items)
	return out, nil
}

// Remove deletes the record with the given ID. Removing an absent ID is a
// no-op — the record may have been superseded between snapshot and delivery.
func (q *Queue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.ensureLoaded(ctx); err != nil {
		return err
	}
	for i, m := range q.items {
		if m.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return q.persist(ctx)
		}
	}
	return nil
}

// UpdateRetry records a delivery failure on the record with the given ID.
// RetryCount and LastError are the only fields a queued record ever mutates.
func (q *Queue) UpdateRetry(ctx context.Context, id string, retryCount int, lastError string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.ensureLoaded(ctx); err != nil {
		return err
	}
	for i := range q.items {
		if q.items[i].ID == id {
			q.items[i].RetryCount = retryCount
			q.items[i].LastError = lastError
			return q.persist(ctx)
		}
	}
	return nil
}

// HasPending reports whether a pending record exists for (t, key). The pull
// path uses this to protect in-flight local edits from remote data.
func (q *Queue) HasPending(ctx context.Context, t model.EntityType, key string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.ensureLoaded(ctx); err != nil {
		return false, err
	}
	for _, m := range q.items {
		if m.EntityType == t && m.EntityKey == key {
			return true, nil
		}
	}
	return false, nil
}

// Len returns the number of pending records.
func (q *Queue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.ensureLoaded(ctx); err != nil {
		return 0, err
	}
	return len(q.items), nil
}

// Clear deletes all pending records.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.ensureLoaded(ctx); err != nil {
		return err
	}
	q.items = nil
	return q.persist(ctx)
}

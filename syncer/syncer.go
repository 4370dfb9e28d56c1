// Package syncer implements the sync orchestrator: the background engine that
// drains the mutation queue to the remote store when connectivity allows, and
// pulls remote data into the local store on login.
//
// The orchestrator owns the sync lifecycle but no data: the queue, the local
// store, and the remote store are injected, so every delivery path is testable
// with fakes and no network.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/tripsync/connectivity"
	"github.com/hazyhaar/tripsync/model"
	"github.com/hazyhaar/tripsync/mutqueue"
	"github.com/hazyhaar/tripsync/observability"
	"github.com/hazyhaar/tripsync/remote"
)

// Config tunes the orchestrator. Zero values pick the defaults below.
type Config struct {
	// BatchSize bounds how many queue items one drain pass takes per batch.
	// Default 10.
	BatchSize int
	// MaxRetries is the per-item retry budget. An item whose RetryCount
	// reaches this value is terminal: retained in the queue for inspection,
	// skipped by drain passes, reported via SyncStatus.FailedCount.
	// Default 3.
	MaxRetries int
	// BackoffBase is the unit of the exponential backoff window. An item with
	// retryCount r is eligible once now >= enqueuedAt + base*(2^r - 1).
	// Default 2s.
	BackoffBase time.Duration
	// Logger overrides the default slog logger.
	Logger *slog.Logger
	// Now overrides the clock (for testing).
	Now func() time.Time
}

func (c *Config) defaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// SyncResult summarizes one drain pass.
type SyncResult struct {
	ItemsSynced int `json:"items_synced"`
	ItemsFailed int `json:"items_failed"`
}

// Syncer is the orchestrator handle.
type Syncer struct {
	cfg     Config
	queue   *mutqueue.Queue
	local   localStore
	remote  remote.Store
	signal  connectivity.Signal
	breaker *connectivity.CircuitBreaker
	events  *observability.EventLog

	initOnce sync.Once
	syncing  atomic.Bool

	mu         sync.Mutex
	lastSyncAt int64
	statusSubs []chan model.SyncStatus
}

// localStore is the slice of the local store the pull path needs. Narrowed to
// an internal alias so tests can drive FetchUserData through the real store.
type localStore = interface {
	UpdatedAt(ctx context.Context, t model.EntityType, key string) (int64, bool, error)
	PutRaw(ctx context.Context, t model.EntityType, key string, payload json.RawMessage) error
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithBreaker sets the circuit breaker guarding remote calls. Without one,
// drain passes run unguarded.
func WithBreaker(cb *connectivity.CircuitBreaker) Option {
	return func(s *Syncer) { s.breaker = cb }
}

// WithEventLog sets the sync event log. Without one, no events are recorded.
func WithEventLog(l *observability.EventLog) Option {
	return func(s *Syncer) { s.events = l }
}

// New creates an orchestrator over the given queue, local store, remote store,
// and connectivity signal. Call Initialize to start reacting to connectivity
// events; until then the Syncer only acts when asked.
func New(q *mutqueue.Queue, local localStore, rem remote.Store, sig connectivity.Signal, cfg Config, opts ...Option) *Syncer {
	cfg.defaults()
	s := &Syncer{
		cfg:    cfg,
		queue:  q,
		local:  local,
		remote: rem,
		signal: sig,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Initialize subscribes to the connectivity signal and starts the background
// reaction loop: regained connectivity and app foregrounding both trigger a
// drain pass. Safe to call more than once; only the first call subscribes.
// The loop stops when ctx is cancelled.
func (s *Syncer) Initialize(ctx context.Context) {
	s.initOnce.Do(func() {
		events := s.signal.Subscribe()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-events:
					if !ok {
						return
					}
					s.onEvent(ctx, ev)
				}
			}
		}()
	})
}

func (s *Syncer) onEvent(ctx context.Context, ev connectivity.Event) {
	switch ev {
	case connectivity.Online, connectivity.Foregrounded:
		s.cfg.Logger.Debug("syncer: drain trigger", "event", ev.String())
		if _, err := s.SyncNow(ctx); err != nil {
			s.cfg.Logger.Error("syncer: triggered pass failed", "event", ev.String(), "error", err)
		}
	case connectivity.Offline:
		s.notifyStatus(ctx)
	}
}

// QueueForSync enqueues m and, when online, kicks off a best-effort background
// drain pass. The enqueue itself never depends on connectivity: offline, the
// mutation simply waits in the queue.
func (s *Syncer) QueueForSync(ctx context.Context, m model.MutationRecord) error {
	if err := s.queue.Enqueue(ctx, m); err != nil {
		return err
	}
	s.recordEvent(ctx, observability.SyncEvent{
		EventType:  "enqueue",
		EntityType: string(m.EntityType),
		EntityID:   m.EntityKey,
		OwnerID:    m.OwnerID,
		Detail:     string(m.Operation),
		Success:    true,
	})
	s.notifyStatus(ctx)

	if s.signal.Online() {
		// Detached from the caller's context: the pass must outlive the
		// request that enqueued the mutation.
		bg := context.WithoutCancel(ctx)
		go func() {
			if _, err := s.SyncNow(bg); err != nil {
				s.cfg.Logger.Error("syncer: background pass failed", "error", err)
			}
		}()
	}
	return nil
}

// RequestPromptSync asks for a drain pass soon. Unlike SyncNow it does not
// block on the pass; the coordinator calls it after high-value commits like a
// completed trip.
func (s *Syncer) RequestPromptSync(ctx context.Context) {
	if !s.signal.Online() {
		return
	}
	bg := context.WithoutCancel(ctx)
	go func() {
		if _, err := s.SyncNow(bg); err != nil {
			s.cfg.Logger.Error("syncer: prompt pass failed", "error", err)
		}
	}()
}

// SyncNow runs one drain pass synchronously and reports what it did.
//
// Offline, it returns a zero result without touching the queue: attempting
// delivery with no connectivity would burn retry budget for nothing. If a
// pass is already running, it likewise returns a zero result — passes are
// mutually exclusive, and the running pass is already doing the work.
func (s *Syncer) SyncNow(ctx context.Context) (SyncResult, error) {
	if !s.signal.Online() {
		return SyncResult{}, nil
	}
	if !s.syncing.CompareAndSwap(false, true) {
		return SyncResult{}, nil
	}
	defer s.syncing.Store(false)
	s.notifyStatus(ctx)

	var res SyncResult
	snapshot, err := s.queue.All(ctx)
	if err != nil {
		return res, err
	}

	now := s.cfg.Now().UnixMilli()
	eligible := make([]model.MutationRecord, 0, len(snapshot))
	for _, m := range snapshot {
		if m.RetryCount >= s.cfg.MaxRetries {
			continue // terminal, retained for inspection
		}
		if now < m.EnqueuedAt+backoffWindow(s.cfg.BackoffBase, m.RetryCount) {
			continue // backing off
		}
		eligible = append(eligible, m)
	}

	abandoned := false
	for start := 0; start < len(eligible) && !abandoned; start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(eligible))
		for _, m := range eligible[start:end] {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			if err := s.deliver(ctx, m); err != nil {
				var open *connectivity.ErrCircuitOpen
				if errors.As(err, &open) {
					// Dead remote: abandon the rest of the pass instead of
					// burning everyone's retry budget.
					s.cfg.Logger.Warn("syncer: circuit open, abandoning pass",
						"remote", open.Remote,
						"synced", res.ItemsSynced, "failed", res.ItemsFailed)
					abandoned = true
					break
				}
				res.ItemsFailed++
				s.onDeliveryFailure(ctx, m, err)
				continue
			}
			res.ItemsSynced++
			if s.breaker != nil {
				s.breaker.RecordSuccess()
			}
			if err := s.queue.Remove(ctx, m.ID); err != nil {
				return res, err
			}
			s.recordEvent(ctx, observability.SyncEvent{
				EventType:  "delivery",
				EntityType: string(m.EntityType),
				EntityID:   m.EntityKey,
				OwnerID:    m.OwnerID,
				Detail:     string(m.Operation),
				Success:    true,
			})
		}
	}

	s.mu.Lock()
	s.lastSyncAt = s.cfg.Now().UnixMilli()
	s.mu.Unlock()
	s.notifyStatus(ctx)

	s.cfg.Logger.Info("syncer: pass complete",
		"synced", res.ItemsSynced, "failed", res.ItemsFailed, "abandoned", abandoned)
	return res, nil
}

// backoffWindow returns the wait after enqueuedAt before an item with the
// given retry count becomes eligible: base*(2^retries - 1), so a fresh item
// waits zero and each failure doubles the window. Deriving the window from
// fields the record already carries keeps MutationRecord free of scheduling
// state.
func backoffWindow(base time.Duration, retries int) int64 {
	return base.Milliseconds() * int64(1<<retries-1)
}

// deliver pushes one mutation to the remote store. Returns ErrCircuitOpen
// without attempting delivery while the breaker is open.
//
// Insert and update recover symmetrically from a remote whose row state
// disagrees with the operation. An insert colliding with an existing row
// means the row made it up in an earlier pass whose acknowledgment was lost
// (or another device won the race); the payload is the freshest local state,
// so it is re-issued as an update. An update finding no row means the insert
// it superseded in the queue never reached the remote; the payload is the
// full snapshot, so it is re-issued as an insert. Neither recovery touches
// the retry count.
func (s *Syncer) deliver(ctx context.Context, m model.MutationRecord) error {
	table := m.EntityType.Table()
	if s.breaker != nil && !s.breaker.Allow() {
		return &connectivity.ErrCircuitOpen{Remote: table}
	}
	switch m.Operation {
	case model.OpDelete:
		return s.remote.Delete(ctx, table, m.EntityKey)
	case model.OpInsert, model.OpUpdate:
		rec, err := toRecord(m)
		if err != nil {
			return err
		}
		if m.Operation == model.OpUpdate {
			err = s.remote.Update(ctx, table, m.EntityKey, rec)
			if errors.Is(err, remote.ErrNotFound) {
				s.recordRecovery(ctx, m, "insert_recovery")
				return s.remote.Insert(ctx, table, rec)
			}
			return err
		}
		err = s.remote.Insert(ctx, table, rec)
		if errors.Is(err, remote.ErrUniqueViolation) {
			s.recordRecovery(ctx, m, "upsert_recovery")
			return s.remote.Update(ctx, table, m.EntityKey, rec)
		}
		return err
	}
	return fmt.Errorf("syncer: unknown operation %q", m.Operation)
}

func (s *Syncer) recordRecovery(ctx context.Context, m model.MutationRecord, kind string) {
	s.cfg.Logger.Info("syncer: "+kind,
		"entity_type", m.EntityType, "entity_key", m.EntityKey)
	s.recordEvent(ctx, observability.SyncEvent{
		EventType:  kind,
		EntityType: string(m.EntityType),
		EntityID:   m.EntityKey,
		OwnerID:    m.OwnerID,
		Success:    true,
	})
}

// toRecord builds the remote row from a mutation. The row's updated_at is
// lifted from the payload so the remote ordering matches the local edit time,
// not the delivery time.
func toRecord(m model.MutationRecord) (remote.Record, error) {
	var meta struct {
		UpdatedAt int64 `json:"updated_at"`
	}
	if err := json.Unmarshal(m.Payload, &meta); err != nil {
		return remote.Record{}, fmt.Errorf("syncer: decode payload for %s/%s: %w", m.EntityType, m.EntityKey, err)
	}
	return remote.Record{
		Key:       m.EntityKey,
		OwnerID:   m.OwnerID,
		UpdatedAt: meta.UpdatedAt,
		Payload:   m.Payload,
	}, nil
}

func (s *Syncer) onDeliveryFailure(ctx context.Context, m model.MutationRecord, cause error) {
	if s.breaker != nil {
		s.breaker.RecordFailure()
	}
	retries := m.RetryCount + 1
	if err := s.queue.UpdateRetry(ctx, m.ID, retries, cause.Error()); err != nil {
		s.cfg.Logger.Error("syncer: record retry failed", "id", m.ID, "error", err)
		return
	}
	eventType := "delivery"
	if retries >= s.cfg.MaxRetries {
		eventType = "terminal"
		s.cfg.Logger.Error("syncer: retries exhausted, item retained",
			"entity_type", m.EntityType, "entity_key", m.EntityKey, "error", cause)
	} else {
		s.cfg.Logger.Warn("syncer: delivery failed",
			"entity_type", m.EntityType, "entity_key", m.EntityKey,
			"retry_count", retries, "error", cause)
	}
	s.recordEvent(ctx, observability.SyncEvent{
		EventType:  eventType,
		EntityType: string(m.EntityType),
		EntityID:   m.EntityKey,
		OwnerID:    m.OwnerID,
		Detail:     cause.Error(),
		Success:    false,
	})
}

// FetchUserData pulls the owner's remote records into the local store with a
// local-first merge: a remote record is applied only when no mutation for it
// is pending and the local copy (if any) is strictly older. Ties keep the
// local copy. Returns how many records were applied.
func (s *Syncer) FetchUserData(ctx context.Context, ownerID string) (int, error) {
	applied := 0
	for _, t := range model.EntityTypes {
		recs, err := s.remote.SelectByOwner(ctx, t.Table(), ownerID)
		if err != nil {
			return applied, err
		}
		for _, rec := range recs {
			pending, err := s.queue.HasPending(ctx, t, rec.Key)
			if err != nil {
				return applied, err
			}
			if pending {
				continue
			}
			localAt, exists, err := s.local.UpdatedAt(ctx, t, rec.Key)
			if err != nil {
				return applied, err
			}
			if exists && localAt >= rec.UpdatedAt {
				continue
			}
			if err := s.local.PutRaw(ctx, t, rec.Key, rec.Payload); err != nil {
				s.cfg.Logger.Warn("syncer: pull merge skipped invalid record",
					"entity_type", t, "entity_key", rec.Key, "error", err)
				continue
			}
			applied++
		}
	}
	s.recordEvent(ctx, observability.SyncEvent{
		EventType: "pull_merge",
		OwnerID:   ownerID,
		Detail:    fmt.Sprintf("applied=%d", applied),
		Success:   true,
	})
	s.cfg.Logger.Info("syncer: pull merge complete", "owner_id", ownerID, "applied", applied)
	return applied, nil
}

// Status returns the current status snapshot. PendingCount covers items still
// eligible for retry; FailedCount covers retry-exhausted items retained in
// the queue.
func (s *Syncer) Status(ctx context.Context) (model.SyncStatus, error) {
	items, err := s.queue.All(ctx)
	if err != nil {
		return model.SyncStatus{}, err
	}
	pending, failed := 0, 0
	for _, m := range items {
		if m.RetryCount >= s.cfg.MaxRetries {
			failed++
		} else {
			pending++
		}
	}
	s.mu.Lock()
	last := s.lastSyncAt
	s.mu.Unlock()
	return model.SyncStatus{
		IsOnline:     s.signal.Online(),
		IsSyncing:    s.syncing.Load(),
		LastSyncAt:   last,
		PendingCount: pending,
		FailedCount:  failed,
	}, nil
}

// Subscribe returns a channel of status snapshots, one per status change.
// Delivery is best-effort: a full buffer drops the snapshot, the next change
// supersedes it.
func (s *Syncer) Subscribe() <-chan model.SyncStatus {
	ch := make(chan model.SyncStatus, 8)
	s.mu.Lock()
	s.statusSubs = append(s.statusSubs, ch)
	s.mu.Unlock()
	return ch
}

func (s *Syncer) notifyStatus(ctx context.Context) {
	s.mu.Lock()
	subs := s.statusSubs
	s.mu.Unlock()
	if len(subs) == 0 {
		return
	}
	st, err := s.Status(ctx)
	if err != nil {
		s.cfg.Logger.Error("syncer: status snapshot failed", "error", err)
		return
	}
	for _, ch := range subs {
		select {
		case ch <- st:
		default:
		}
	}
}

func (s *Syncer) recordEvent(ctx context.Context, ev observability.SyncEvent) {
	if s.events == nil {
		return
	}
	s.events.Record(ctx, ev)
}

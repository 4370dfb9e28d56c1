// Package tripsync assembles the offline-first sync engine: durable local
// store, persisted mutation queue, connectivity signal, sync orchestrator,
// and the coordinator façade, all over one local SQLite file and an optional
// remote Postgres store.
package tripsync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/tripsync/connectivity"
	"github.com/hazyhaar/tripsync/coordinator"
	"github.com/hazyhaar/tripsync/kv"
	"github.com/hazyhaar/tripsync/localstore"
	"github.com/hazyhaar/tripsync/model"
	"github.com/hazyhaar/tripsync/mutqueue"
	"github.com/hazyhaar/tripsync/observability"
	"github.com/hazyhaar/tripsync/remote"
	"github.com/hazyhaar/tripsync/syncer"
)

// Engine owns the assembled sync stack. Construct with NewEngine, call Start
// once, Close on shutdown.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	kvs    *kv.SQLite
	local  *localstore.Store
	queue  *mutqueue.Queue
	hub    *connectivity.Hub
	prober *connectivity.Prober
	sync   *syncer.Syncer
	coord  *coordinator.Coordinator
	events *observability.EventLog

	remoteStore remote.Store
	pool        *pgxpool.Pool // owned only when the engine opened it

	cancel context.CancelFunc
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithRemoteStore injects a remote store, bypassing RemoteDSN. Tests use this
// to run the full stack against a fake.
func WithRemoteStore(s remote.Store) EngineOption {
	return func(e *Engine) { e.remoteStore = s }
}

// NewEngine creates an engine from cfg. Nothing is opened until Start.
func NewEngine(cfg Config, opts ...EngineOption) *Engine {
	cfg.defaults()
	e := &Engine{cfg: cfg, logger: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Start opens the local database, connects the remote store, and wires the
// stack together. The background pieces (connectivity reaction loop, prober)
// run until ctx is cancelled or Close is called.
func (e *Engine) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	kvs, err := kv.Open(e.cfg.DBPath, kv.WithMkdirAll())
	if err != nil {
		cancel()
		return err
	}
	e.kvs = kvs

	if err := observability.EnsureSchema(runCtx, kvs.DB); err != nil {
		kvs.Close()
		cancel()
		return err
	}
	e.events = observability.NewEventLog(kvs.DB)

	if e.remoteStore == nil && e.cfg.RemoteDSN != "" {
		pool, err := pgxpool.New(runCtx, e.cfg.RemoteDSN)
		if err != nil {
			kvs.Close()
			cancel()
			return fmt.Errorf("tripsync: connect remote: %w", err)
		}
		e.pool = pool
		e.remoteStore = remote.NewPostgres(pool)
	}

	e.local = localstore.New(kvs)
	e.queue = mutqueue.New(kvs, mutqueue.Options{Logger: e.logger})
	e.hub = connectivity.NewHub(false, connectivity.WithLogger(e.logger))

	if e.remoteStore != nil {
		e.sync = syncer.New(e.queue, e.local, e.remoteStore, e.hub, syncer.Config{
			BatchSize:   e.cfg.SyncBatchSize,
			MaxRetries:  e.cfg.SyncMaxRetries,
			BackoffBase: e.cfg.SyncBackoffBase,
			Logger:      e.logger,
		},
			syncer.WithBreaker(connectivity.NewCircuitBreaker()),
			syncer.WithEventLog(e.events),
		)
		e.sync.Initialize(runCtx)
		e.coord = coordinator.New(e.local, e.sync, coordinator.WithLogger(e.logger))
	}

	if e.cfg.ProbeURL != "" {
		e.prober = connectivity.NewProber(e.hub, connectivity.ProberOptions{
			URL:      e.cfg.ProbeURL,
			Interval: e.cfg.ProbeInterval,
			Logger:   e.logger,
		})
		go e.prober.Run(runCtx)
	}

	if e.cfg.EventRetentionDays > 0 {
		if err := observability.Cleanup(runCtx, kvs.DB, e.cfg.EventRetentionDays, false); err != nil {
			e.logger.Warn("tripsync: event log cleanup failed", "error", err)
		}
	}

	e.logger.Info("tripsync: engine started",
		"db_path", e.cfg.DBPath,
		"remote", e.remoteStore != nil,
		"probe", e.cfg.ProbeURL != "")
	return nil
}

// Close stops background work and releases the databases.
func (e *Engine) Close() error {
	if e.cancel != nil {
		e.cancel()
	}
	if e.pool != nil {
		e.pool.Close()
	}
	if e.kvs != nil {
		return e.kvs.Close()
	}
	return nil
}

// Coordinator returns the write façade. Nil until Start, or when no remote
// store is configured.
func (e *Engine) Coordinator() *coordinator.Coordinator { return e.coord }

// Syncer returns the orchestrator. Nil until Start, or when no remote store
// is configured.
func (e *Engine) Syncer() *syncer.Syncer { return e.sync }

// Local returns the durable local store. Nil until Start.
func (e *Engine) Local() *localstore.Store { return e.local }

// Queue returns the mutation queue. Nil until Start.
func (e *Engine) Queue() *mutqueue.Queue { return e.queue }

// Hub returns the connectivity hub the app shell drives.
func (e *Engine) Hub() *connectivity.Hub { return e.hub }

// Status returns the current sync status snapshot. Without a remote store it
// reports only connectivity and queue depth.
func (e *Engine) Status(ctx context.Context) (model.SyncStatus, error) {
	if e.sync != nil {
		return e.sync.Status(ctx)
	}
	n, err := e.queue.Len(ctx)
	if err != nil {
		return model.SyncStatus{}, err
	}
	return model.SyncStatus{
		IsOnline:     e.hub.Online(),
		PendingCount: n,
	}, nil
}

// Login pulls ownerID's remote data into the local store.
func (e *Engine) Login(ctx context.Context, ownerID string) (int, error) {
	if e.coord == nil {
		return 0, fmt.Errorf("tripsync: no remote store configured")
	}
	return e.coord.Login(ctx, ownerID)
}

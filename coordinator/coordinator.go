// Package coordinator is the write façade the app layer calls. Every mutation
// follows the same durable-local-first discipline: stamp the record, commit it
// to the durable local store, then hand a mutation record to the orchestrator.
// The remote store is never written directly from here.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/tripsync/idgen"
	"github.com/hazyhaar/tripsync/localstore"
	"github.com/hazyhaar/tripsync/model"
	"github.com/hazyhaar/tripsync/syncer"
)

// ErrNotFound is returned when an operation targets an entity absent from
// the local store. Match with errors.Is.
var ErrNotFound = errors.New("coordinator: not found")

// Coordinator wires local commits to queued sync.
type Coordinator struct {
	local  *localstore.Store
	sync   *syncer.Syncer
	newID  idgen.Generator
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithIDGenerator overrides the entity ID generator.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(c *Coordinator) { c.newID = gen }
}

// WithClock overrides the clock (for testing).
func WithClock(fn func() time.Time) Option {
	return func(c *Coordinator) { c.now = fn }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// New creates a Coordinator over the given local store and orchestrator.
func New(local *localstore.Store, s *syncer.Syncer, opts ...Option) *Coordinator {
	c := &Coordinator{
		local:  local,
		sync:   s,
		newID:  idgen.Default,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// enqueue builds and queues the mutation record for an already-committed
// local write.
func (c *Coordinator) enqueue(ctx context.Context, t model.EntityType, op model.Operation, key, ownerID string, entity any) error {
	var payload json.RawMessage
	if op != model.OpDelete {
		raw, err := json.Marshal(entity)
		if err != nil {
			return fmt.Errorf("coordinator: encode %s payload: %w", t, err)
		}
		payload = raw
	}
	return c.sync.QueueForSync(ctx, model.MutationRecord{
		ID:         c.newID(),
		EntityType: t,
		Operation:  op,
		EntityKey:  key,
		OwnerID:    ownerID,
		Payload:    payload,
		EnqueuedAt: c.now().UnixMilli(),
	})
}

// --- Profiles ---

// SaveProfile commits a profile locally and queues it for sync. A profile
// without an ID is a new profile; it gets one and is queued as an insert.
func (c *Coordinator) SaveProfile(ctx context.Context, p model.Profile) (model.Profile, error) {
	op := model.OpUpdate
	if p.ID == "" {
		p.ID = c.newID()
		op = model.OpInsert
	}
	p.UpdatedAt = c.now().UnixMilli()
	if err := c.local.PutProfile(ctx, p); err != nil {
		return model.Profile{}, err
	}
	// Profiles are keyed by their own ID remotely; the profile ID doubles as
	// the owner ID.
	if err := c.enqueue(ctx, model.EntityProfile, op, p.ID, p.ID, p); err != nil {
		return model.Profile{}, err
	}
	return p, nil
}

// DeleteProfile removes a profile locally and queues the remote delete.
func (c *Coordinator) DeleteProfile(ctx context.Context, id string) error {
	if err := c.local.DeleteProfile(ctx, id); err != nil {
		return err
	}
	return c.enqueue(ctx, model.EntityProfile, model.OpDelete, id, id, nil)
}

// --- Trips ---

// StartTrip creates a new active trip for ownerID and commits it.
func (c *Coordinator) StartTrip(ctx context.Context, ownerID string) (model.Trip, error) {
	now := c.now().UnixMilli()
	trip := model.Trip{
		ID:        c.newID(),
		OwnerID:   ownerID,
		Status:    model.TripActive,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := c.local.PutTrip(ctx, trip); err != nil {
		return model.Trip{}, err
	}
	if err := c.enqueue(ctx, model.EntityTrip, model.OpInsert, trip.ID, ownerID, trip); err != nil {
		return model.Trip{}, err
	}
	return trip, nil
}

// UpdateTrip commits an edited trip and queues it for sync.
func (c *Coordinator) UpdateTrip(ctx context.Context, trip model.Trip) (model.Trip, error) {
	if trip.ID == "" {
		return model.Trip{}, fmt.Errorf("coordinator: update trip: missing ID")
	}
	trip.UpdatedAt = c.now().UnixMilli()
	if err := c.local.PutTrip(ctx, trip); err != nil {
		return model.Trip{}, err
	}
	if err := c.enqueue(ctx, model.EntityTrip, model.OpUpdate, trip.ID, trip.OwnerID, trip); err != nil {
		return model.Trip{}, err
	}
	return trip, nil
}

// CompleteTrip marks the trip completed and asks for a prompt sync pass. A
// finished trip is the record the user most wants off the device, so it does
// not wait for the next connectivity event.
//
// TODO: purge synced terminal trips older than a retention window once
// product defines one; completed trips currently stay on the device forever.
func (c *Coordinator) CompleteTrip(ctx context.Context, id string) (model.Trip, error) {
	trip, ok, err := c.local.Trip(ctx, id)
	if err != nil {
		return model.Trip{}, err
	}
	if !ok {
		return model.Trip{}, fmt.Errorf("complete trip %q: %w", id, ErrNotFound)
	}
	if trip.Status.Terminal() {
		return trip, nil
	}
	now := c.now().UnixMilli()
	trip.Status = model.TripCompleted
	trip.EndedAt = now
	trip.UpdatedAt = now
	if err := c.local.PutTrip(ctx, trip); err != nil {
		return model.Trip{}, err
	}
	if err := c.enqueue(ctx, model.EntityTrip, model.OpUpdate, trip.ID, trip.OwnerID, trip); err != nil {
		return model.Trip{}, err
	}
	c.sync.RequestPromptSync(ctx)
	return trip, nil
}

// DeleteTrip removes a trip locally and queues the remote delete.
func (c *Coordinator) DeleteTrip(ctx context.Context, id string) error {
	trip, ok, err := c.local.Trip(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := c.local.DeleteTrip(ctx, id); err != nil {
		return err
	}
	return c.enqueue(ctx, model.EntityTrip, model.OpDelete, id, trip.OwnerID, nil)
}

// --- Rated features ---

// SaveRatedFeature commits a rated feature and queues it for sync. A feature
// without an ID is new and queued as an insert.
func (c *Coordinator) SaveRatedFeature(ctx context.Context, f model.RatedFeature) (model.RatedFeature, error) {
	if f.Rating < 1 || f.Rating > 5 {
		return model.RatedFeature{}, fmt.Errorf("coordinator: rating %d out of range 1-5", f.Rating)
	}
	op := model.OpUpdate
	if f.ID == "" {
		f.ID = c.newID()
		op = model.OpInsert
	}
	f.UpdatedAt = c.now().UnixMilli()
	if err := c.local.PutRatedFeature(ctx, f); err != nil {
		return model.RatedFeature{}, err
	}
	if err := c.enqueue(ctx, model.EntityRatedFeature, op, f.ID, f.OwnerID, f); err != nil {
		return model.RatedFeature{}, err
	}
	return f, nil
}

// DeleteRatedFeature removes a rated feature locally and queues the remote
// delete.
func (c *Coordinator) DeleteRatedFeature(ctx context.Context, id string) error {
	f, ok, err := c.local.RatedFeature(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := c.local.DeleteRatedFeature(ctx, id); err != nil {
		return err
	}
	return c.enqueue(ctx, model.EntityRatedFeature, model.OpDelete, id, f.OwnerID, nil)
}

// --- Login ---

// Login pulls the owner's remote data into the local store. Safe to call
// offline: the pull simply fails and the app keeps the local data it has.
func (c *Coordinator) Login(ctx context.Context, ownerID string) (int, error) {
	applied, err := c.sync.FetchUserData(ctx, ownerID)
	if err != nil {
		return applied, fmt.Errorf("coordinator: login pull for %s: %w", ownerID, err)
	}
	c.logger.Info("coordinator: login pull complete", "owner_id", ownerID, "applied", applied)
	return applied, nil
}

// Package localstore is the durable local store: the authoritative on-device
// copy of Profile, Trip, and RatedFeature records. Every read in the app goes
// here, never to the remote store.
//
// Layout follows the engine's persistence contract: one JSON-serialized
// collection per entity type, namespaced under a key prefix, loaded lazily
// and rewritten wholesale on each mutation. At the scale of a single user's
// trip history (thousands of records at most) this beats per-record keys on
// simplicity and keeps the kv primitive trivial.
package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hazyhaar/tripsync/kv"
	"github.com/hazyhaar/tripsync/model"
)

// DefaultPrefix namespaces tripsync collections in the kv store.
const DefaultPrefix = "tripsync"

// Store is the durable local store handle. Safe for concurrent use: a single
// mutex serialises the read-modify-write cycle each mutation performs on its
// collection blob.
type Store struct {
	kv     kv.Store
	prefix string
	mu     sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix overrides the key namespace. Default: "tripsync".
func WithPrefix(p string) Option { return func(s *Store) { s.prefix = p } }

// New creates a Store over the given kv backing.
func New(backing kv.Store, opts ...Option) *Store {
	s := &Store{kv: backing, prefix: DefaultPrefix}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) collectionKey(t model.EntityType) string {
	return s.prefix + "/" + t.Table()
}

// load reads a collection blob into dst (a *map[string]T). An absent key
// leaves dst as the empty map.
func (s *Store) load(ctx context.Context, t model.EntityType, dst any) error {
	raw, err := s.kv.Get(ctx, s.collectionKey(t))
	if err != nil {
		return err
	}
	if raw == nil {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("localstore: decode %s collection: %w", t, err)
	}
	return nil
}

// save rewrites a collection blob wholesale. The kv Set commits before
// returning, which is what makes writes durable before they are enqueued.
func (s *Store) save(ctx context.Context, t model.EntityType, src any) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("localstore: encode %s collection: %w", t, err)
	}
	return s.kv.Set(ctx, s.collectionKey(t), raw)
}

// --- Profiles ---

// Profile returns the profile with the given ID. The second return is false
// when no such profile exists.
func (s *Store) Profile(ctx context.Context, id string) (model.Profile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	col := map[string]model.Profile{}
	if err := s.load(ctx, model.EntityProfile, &col); err != nil {
		return model.Profile{}, false, err
	}
	p, ok := col[id]
	return p, ok, nil
}

// PutProfile inserts or replaces a profile.
func (s *Store) PutProfile(ctx context.Context, p model.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	col := map[string]model.Profile{}
	if err := s.load(ctx, model.EntityProfile, &col); err != nil {
		return err
	}
	col[p.ID] = p
	return s.save(ctx, model.EntityProfile, col)
}

// DeleteProfile removes a profile. Deleting an absent profile is a no-op.
func (s *Store) DeleteProfile(ctx context.Context, id string) error {
	return s.deleteEntity(ctx, model.EntityProfile, id)
}

// --- Trips ---

// Trip returns the trip with the given ID.
func (s *Store) Trip(ctx context.Context, id string) (model.Trip, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	col := map[string]model.Trip{}
	if err := s.load(ctx, model.EntityTrip, &col); err != nil {
		return model.Trip{}, false, err
	}
	t, ok := col[id]
	return t, ok, nil
}

// Trips returns all trips owned by ownerID, or every trip when ownerID is
// empty. Order is unspecified; callers sort.
func (s *Store) Trips(ctx context.Context, ownerID string) ([]model.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	col := map[string]model.Trip{}
	if err := s.load(ctx, model.EntityTrip, &col); err != nil {
		return nil, err
	}
	trips := make([]model.Trip, 0, len(col))
	for _, t := range col {
		if ownerID == "" || t.OwnerID == ownerID {
			trips = append(trips, t)
		}
	}
	return trips, nil
}

// PutTrip inserts or replaces a trip.
func (s *Store) PutTrip(ctx context.Context, t model.Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	col := map[string]model.Trip{}
	if err := s.load(ctx, model.EntityTrip, &col); err != nil {
		return err
	}
	col[t.ID] = t
	return s.save(ctx, model.EntityTrip, col)
}

// DeleteTrip removes a trip.
func (s *Store) DeleteTrip(ctx context.Context, id string) error {
	return s.deleteEntity(ctx, model.EntityTrip, id)
}

// --- Rated features ---

// RatedFeature returns the rated feature with the given ID.
func (s *Store) RatedFeature(ctx context.Context, id string) (model.RatedFeature, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	col := map[string]model.RatedFeature{}
	if err := s.load(ctx, model.EntityRatedFeature, &col); err != nil {
		return model.RatedFeature{}, false, err
	}
	f, ok := col[id]
	return f, ok, nil
}

// RatedFeatures returns all rated features owned by ownerID, or every one
// when ownerID is empty.
func (s *Store) RatedFeatures(ctx context.Context, ownerID string) ([]model.RatedFeature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	col := map[string]model.RatedFeature{}
	if err := s.load(ctx, model.EntityRatedFeature, &col); err != nil {
		return nil, err
	}
	feats := make([]model.RatedFeature, 0, len(col))
	for _, f := range col {
		if ownerID == "" || f.OwnerID == ownerID {
			feats = append(feats, f)
		}
	}
	return feats, nil
}

// PutRatedFeature inserts or replaces a rated feature.
func (s *Store) PutRatedFeature(ctx context.Context, f model.RatedFeature) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	col := map[string]model.RatedFeature{}
	if err := s.load(ctx, model.EntityRatedFeature, &col); err != nil {
		return err
	}
	col[f.ID] = f
	return s.save(ctx, model.EntityRatedFeature, col)
}

// DeleteRatedFeature removes a rated feature.
func (s *Store) DeleteRatedFeature(ctx context.Context, id string) error {
	return s.deleteEntity(ctx, model.EntityRatedFeature, id)
}

// --- Generic access for the pull-merge path ---

// UpdatedAt returns the local modification timestamp for (t, key) and whether
// a local copy exists. The pull path uses this for the local-first merge
// decision without decoding the whole record.
func (s *Store) UpdatedAt(ctx context.Context, t model.EntityType, key string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	col := map[string]json.RawMessage{}
	if err := s.load(ctx, t, &col); err != nil {
		return 0, false, err
	}
	raw, ok := col[key]
	if !ok {
		return 0, false, nil
	}
	var meta struct {
		UpdatedAt int64 `json:"updated_at"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return 0, false, fmt.Errorf("localstore: decode %s %q: %w", t, key, err)
	}
	return meta.UpdatedAt, true, nil
}

// PutRaw stores a remote record's payload under (t, key) after validating it
// decodes as the right entity variant. Used by the pull-merge path, where
// records arrive as opaque JSON.
func (s *Store) PutRaw(ctx context.Context, t model.EntityType, key string, payload json.RawMessage) error {
	if _, err := model.DecodePayload(t, payload); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	col := map[string]json.RawMessage{}
	if err := s.load(ctx, t, &col); err != nil {
		return err
	}
	col[key] = payload
	return s.save(ctx, t, col)
}

func (s *Store) deleteEntity(ctx context.Context, t model.EntityType, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	col := map[string]json.RawMessage{}
	if err := s.load(ctx, t, &col); err != nil {
		return err
	}
	if _, ok := col[key]; !ok {
		return nil
	}
	delete(col, key)
	return s.save(ctx, t, col)
}

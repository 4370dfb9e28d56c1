package coordinator_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hazyhaar/tripsync/connectivity"
	"github.com/hazyhaar/tripsync/coordinator"
	"github.com/hazyhaar/tripsync/kv"
	"github.com/hazyhaar/tripsync/localstore"
	"github.com/hazyhaar/tripsync/model"
	"github.com/hazyhaar/tripsync/mutqueue"
	"github.com/hazyhaar/tripsync/remote"
	"github.com/hazyhaar/tripsync/syncer"
)

// nullRemote satisfies remote.Store for tests that never go online.
type nullRemote struct{}

func (n *nullRemote) Insert(context.Context, string, remote.Record) error         { return nil }
func (n *nullRemote) Update(context.Context, string, string, remote.Record) error { return nil }
func (n *nullRemote) Delete(context.Context, string, string) error                { return nil }
func (n *nullRemote) SelectByOwner(context.Context, string, string) ([]remote.Record, error) {
	return nil, nil
}

type fixture struct {
	queue *mutqueue.Queue
	local *localstore.Store
	coord *coordinator.Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backing := kv.NewMemory()
	q := mutqueue.New(backing, mutqueue.Options{})
	local := localstore.New(backing)
	hub := connectivity.NewHub(false) // offline: mutations stay observable in the queue
	s := syncer.New(q, local, &nullRemote{}, hub, syncer.Config{})
	return &fixture{
		queue: q,
		local: local,
		coord: coordinator.New(local, s),
	}
}

func pendingFor(t *testing.T, q *mutqueue.Queue, et model.EntityType, key string) model.MutationRecord {
	t.Helper()
	items, err := q.All(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range items {
		if m.EntityType == et && m.EntityKey == key {
			return m
		}
	}
	t.Fatalf("no pending mutation for %s/%s", et, key)
	return model.MutationRecord{}
}

func TestStartTripCommitsLocallyAndEnqueues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	trip, err := f.coord.StartTrip(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if trip.ID == "" {
		t.Fatal("trip has no ID")
	}
	if trip.Status != model.TripActive {
		t.Errorf("status = %q, want %q", trip.Status, model.TripActive)
	}
	if trip.StartedAt == 0 || trip.UpdatedAt == 0 {
		t.Error("timestamps not stamped")
	}

	got, ok, err := f.local.Trip(ctx, trip.ID)
	if err != nil || !ok {
		t.Fatalf("trip not committed locally: ok=%v err=%v", ok, err)
	}
	if got.OwnerID != "u1" {
		t.Errorf("owner = %q, want u1", got.OwnerID)
	}

	m := pendingFor(t, f.queue, model.EntityTrip, trip.ID)
	if m.Operation != model.OpInsert {
		t.Errorf("operation = %q, want insert", m.Operation)
	}
	if m.OwnerID != "u1" {
		t.Errorf("mutation owner = %q, want u1", m.OwnerID)
	}
}

func TestCompleteTripSupersedesPendingInsert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	trip, err := f.coord.StartTrip(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	done, err := f.coord.CompleteTrip(ctx, trip.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != model.TripCompleted {
		t.Errorf("status = %q, want completed", done.Status)
	}
	if done.EndedAt == 0 {
		t.Error("EndedAt not stamped")
	}

	// Dedup: the completion replaced the pending insert, one record remains.
	n, err := f.queue.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("queue length = %d, want 1", n)
	}
	m := pendingFor(t, f.queue, model.EntityTrip, trip.ID)
	var got model.Trip
	if err := json.Unmarshal(m.Payload, &got); err != nil {
		t.Fatal(err)
	}
	if got.Status != model.TripCompleted {
		t.Errorf("queued payload status = %q, want completed", got.Status)
	}
}

func TestCompleteTripTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	trip, err := f.coord.StartTrip(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	first, err := f.coord.CompleteTrip(ctx, trip.ID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.coord.CompleteTrip(ctx, trip.ID)
	if err != nil {
		t.Fatal(err)
	}
	if second.EndedAt != first.EndedAt {
		t.Errorf("second completion restamped EndedAt: %d vs %d", second.EndedAt, first.EndedAt)
	}
}

func TestCompleteAbsentTripReturnsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.CompleteTrip(context.Background(), "nope")
	if !errors.Is(err, coordinator.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteTripQueuesRemoteDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	trip, err := f.coord.StartTrip(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.coord.DeleteTrip(ctx, trip.ID); err != nil {
		t.Fatal(err)
	}

	if _, ok, _ := f.local.Trip(ctx, trip.ID); ok {
		t.Error("trip still present locally after delete")
	}
	m := pendingFor(t, f.queue, model.EntityTrip, trip.ID)
	if m.Operation != model.OpDelete {
		t.Errorf("operation = %q, want delete", m.Operation)
	}
	if m.OwnerID != "u1" {
		t.Errorf("mutation owner = %q, want u1 (read before local delete)", m.OwnerID)
	}
	if len(m.Payload) != 0 {
		t.Errorf("delete mutation carries payload: %s", m.Payload)
	}
}

func TestDeleteAbsentTripIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.coord.DeleteTrip(ctx, "nope"); err != nil {
		t.Fatal(err)
	}
	n, err := f.queue.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("queue length = %d, want 0", n)
	}
}

func TestSaveProfileAssignsIDOnInsert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.coord.SaveProfile(ctx, model.Profile{DisplayName: "Ada"})
	if err != nil {
		t.Fatal(err)
	}
	if p.ID == "" {
		t.Fatal("profile has no ID")
	}
	m := pendingFor(t, f.queue, model.EntityProfile, p.ID)
	if m.Operation != model.OpInsert {
		t.Errorf("operation = %q, want insert", m.Operation)
	}

	p.DisplayName = "Ada L."
	p2, err := f.coord.SaveProfile(ctx, p)
	if err != nil {
		t.Fatal(err)
	}
	if p2.ID != p.ID {
		t.Errorf("ID changed on update: %q vs %q", p2.ID, p.ID)
	}
	m = pendingFor(t, f.queue, model.EntityProfile, p.ID)
	if m.Operation != model.OpUpdate {
		t.Errorf("operation = %q, want update", m.Operation)
	}
}

func TestSaveRatedFeatureRejectsOutOfRangeRating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, rating := range []int{0, 6, -1} {
		if _, err := f.coord.SaveRatedFeature(ctx, model.RatedFeature{
			OwnerID: "u1", FeatureType: "ramp", Rating: rating,
		}); err == nil {
			t.Errorf("rating %d accepted, want error", rating)
		}
	}
	n, err := f.queue.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("rejected ratings reached the queue: len = %d", n)
	}
}

func TestSaveRatedFeature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	feat, err := f.coord.SaveRatedFeature(ctx, model.RatedFeature{
		OwnerID: "u1", TripID: "t1", FeatureType: "curb_cut",
		Rating: 4, Lat: 48.85, Lon: 2.35,
	})
	if err != nil {
		t.Fatal(err)
	}
	if feat.ID == "" {
		t.Fatal("feature has no ID")
	}
	got, ok, err := f.local.RatedFeature(ctx, feat.ID)
	if err != nil || !ok {
		t.Fatalf("feature not committed locally: ok=%v err=%v", ok, err)
	}
	if got.Rating != 4 {
		t.Errorf("rating = %d, want 4", got.Rating)
	}
}

func TestClockInjection(t *testing.T) {
	backing := kv.NewMemory()
	q := mutqueue.New(backing, mutqueue.Options{})
	local := localstore.New(backing)
	hub := connectivity.NewHub(false)
	s := syncer.New(q, local, &nullRemote{}, hub, syncer.Config{})

	fixed := time.UnixMilli(1_700_000_000_000)
	c := coordinator.New(local, s, coordinator.WithClock(func() time.Time { return fixed }))

	trip, err := c.StartTrip(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if trip.StartedAt != fixed.UnixMilli() || trip.UpdatedAt != fixed.UnixMilli() {
		t.Errorf("timestamps = %d/%d, want %d", trip.StartedAt, trip.UpdatedAt, fixed.UnixMilli())
	}
}

package localstore_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hazyhaar/tripsync/kv"
	"github.com/hazyhaar/tripsync/localstore"
	"github.com/hazyhaar/tripsync/model"
)

func TestTripRoundTrip(t *testing.T) {
	s := localstore.New(kv.NewMemory())
	ctx := context.Background()

	trip := model.Trip{
		ID: "t1", OwnerID: "u1", Status: model.TripActive,
		StartedAt: 100, DistanceMeters: 1234.5, UpdatedAt: 100,
	}
	if err := s.PutTrip(ctx, trip); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.Trip(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("trip not found")
	}
	if got != trip {
		t.Errorf("got %+v, want %+v", got, trip)
	}

	_, ok, err = s.Trip(ctx, "absent")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("absent trip reported found")
	}
}

func TestTripsFiltersByOwner(t *testing.T) {
	s := localstore.New(kv.NewMemory())
	ctx := context.Background()

	for _, trip := range []model.Trip{
		{ID: "t1", OwnerID: "u1", UpdatedAt: 1},
		{ID: "t2", OwnerID: "u2", UpdatedAt: 2},
		{ID: "t3", OwnerID: "u1", UpdatedAt: 3},
	} {
		if err := s.PutTrip(ctx, trip); err != nil {
			t.Fatal(err)
		}
	}

	trips, err := s.Trips(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(trips) != 2 {
		t.Errorf("Trips(u1) = %d, want 2", len(trips))
	}
	all, err := s.Trips(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("Trips(\"\") = %d, want 3", len(all))
	}
}

func TestDeleteAbsentIsNoOp(t *testing.T) {
	s := localstore.New(kv.NewMemory())
	ctx := context.Background()
	if err := s.DeleteTrip(ctx, "nope"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteProfile(ctx, "nope"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteRatedFeature(ctx, "nope"); err != nil {
		t.Fatal(err)
	}
}

func TestCollectionsAreIndependent(t *testing.T) {
	s := localstore.New(kv.NewMemory())
	ctx := context.Background()

	if err := s.PutProfile(ctx, model.Profile{ID: "x", UpdatedAt: 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutTrip(ctx, model.Trip{ID: "x", OwnerID: "u1", UpdatedAt: 2}); err != nil {
		t.Fatal(err)
	}

	// Same key in two collections; deleting one leaves the other.
	if err := s.DeleteProfile(ctx, "x"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Trip(ctx, "x"); !ok {
		t.Error("trip deleted alongside profile")
	}
}

func TestUpdatedAt(t *testing.T) {
	s := localstore.New(kv.NewMemory())
	ctx := context.Background()

	if err := s.PutTrip(ctx, model.Trip{ID: "t1", OwnerID: "u1", UpdatedAt: 4242}); err != nil {
		t.Fatal(err)
	}
	at, ok, err := s.UpdatedAt(ctx, model.EntityTrip, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || at != 4242 {
		t.Errorf("UpdatedAt = %d/%v, want 4242/true", at, ok)
	}
	_, ok, err = s.UpdatedAt(ctx, model.EntityTrip, "absent")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("UpdatedAt reported absent key as present")
	}
}

func TestPutRawValidatesPayload(t *testing.T) {
	s := localstore.New(kv.NewMemory())
	ctx := context.Background()

	good, err := json.Marshal(model.Trip{ID: "t1", OwnerID: "u1", Status: model.TripCompleted, UpdatedAt: 7})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.PutRaw(ctx, model.EntityTrip, "t1", good); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.Trip(ctx, "t1")
	if err != nil || !ok {
		t.Fatalf("trip after PutRaw: ok=%v err=%v", ok, err)
	}
	if got.Status != model.TripCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}

	if err := s.PutRaw(ctx, model.EntityTrip, "t2", json.RawMessage(`not json`)); err == nil {
		t.Error("invalid payload accepted")
	}
	if err := s.PutRaw(ctx, "banana", "t2", good); err == nil {
		t.Error("unknown entity type accepted")
	}
}

func TestPrefixIsolation(t *testing.T) {
	backing := kv.NewMemory()
	ctx := context.Background()

	a := localstore.New(backing, localstore.WithPrefix("a"))
	b := localstore.New(backing, localstore.WithPrefix("b"))
	if err := a.PutTrip(ctx, model.Trip{ID: "t1", OwnerID: "u1", UpdatedAt: 1}); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := b.Trip(ctx, "t1"); ok {
		t.Error("prefixes not isolated")
	}
}

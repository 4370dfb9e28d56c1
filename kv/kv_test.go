package kv_test

import (
	"context"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/tripsync/kv"
)

func stores(t *testing.T) map[string]kv.Store {
	t.Helper()
	return map[string]kv.Store{
		"memory": kv.NewMemory(),
		"sqlite": kv.OpenMemory(t),
	}
}

func TestGetAbsentReturnsNilNil(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			v, err := s.Get(context.Background(), "missing")
			if err != nil {
				t.Fatal(err)
			}
			if v != nil {
				t.Errorf("Get(missing) = %q, want nil", v)
			}
		})
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.Set(ctx, "k", []byte("v1")); err != nil {
				t.Fatal(err)
			}
			v, err := s.Get(ctx, "k")
			if err != nil {
				t.Fatal(err)
			}
			if string(v) != "v1" {
				t.Errorf("Get = %q, want v1", v)
			}

			// Set is an upsert.
			if err := s.Set(ctx, "k", []byte("v2")); err != nil {
				t.Fatal(err)
			}
			v, err = s.Get(ctx, "k")
			if err != nil {
				t.Fatal(err)
			}
			if string(v) != "v2" {
				t.Errorf("Get after overwrite = %q, want v2", v)
			}
		})
	}
}

func TestRemove(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.Set(ctx, "k", []byte("v")); err != nil {
				t.Fatal(err)
			}
			if err := s.Remove(ctx, "k"); err != nil {
				t.Fatal(err)
			}
			v, err := s.Get(ctx, "k")
			if err != nil {
				t.Fatal(err)
			}
			if v != nil {
				t.Errorf("Get after remove = %q, want nil", v)
			}
			// Removing an absent key is not an error.
			if err := s.Remove(ctx, "k"); err != nil {
				t.Errorf("Remove absent: %v", err)
			}
		})
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	s := kv.NewMemory()
	ctx := context.Background()

	orig := []byte("value")
	if err := s.Set(ctx, "k", orig); err != nil {
		t.Fatal(err)
	}
	orig[0] = 'X'

	v, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(v) != "value" {
		t.Errorf("stored value aliased caller's slice: %q", v)
	}
	v[0] = 'Y'
	v2, _ := s.Get(ctx, "k")
	if string(v2) != "value" {
		t.Errorf("returned value aliased store: %q", v2)
	}
}

package connectivity_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/tripsync/connectivity"
)

func recv(t *testing.T, ch <-chan connectivity.Event) connectivity.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event")
		return 0
	}
}

func expectNone(t *testing.T, ch <-chan connectivity.Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHubDeduplicatesTransitions(t *testing.T) {
	hub := connectivity.NewHub(false)
	ch := hub.Subscribe()

	hub.SetOnline(false) // already offline, no event
	expectNone(t, ch)

	hub.SetOnline(true)
	if ev := recv(t, ch); ev != connectivity.Online {
		t.Errorf("event = %v, want Online", ev)
	}
	hub.SetOnline(true) // repeated state, no event
	expectNone(t, ch)

	hub.SetOnline(false)
	if ev := recv(t, ch); ev != connectivity.Offline {
		t.Errorf("event = %v, want Offline", ev)
	}
	if hub.Online() {
		t.Error("Online() = true after SetOnline(false)")
	}
}

func TestHubForegroundAlwaysEmits(t *testing.T) {
	hub := connectivity.NewHub(true)
	ch := hub.Subscribe()

	hub.Foreground()
	hub.Foreground()
	for i := 0; i < 2; i++ {
		if ev := recv(t, ch); ev != connectivity.Foregrounded {
			t.Errorf("event = %v, want Foregrounded", ev)
		}
	}
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	hub := connectivity.NewHub(false)
	hub.Subscribe() // never drained

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			hub.SetOnline(i%2 == 0)
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a slow subscriber")
	}
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cb := connectivity.NewCircuitBreaker(connectivity.WithBreakerThreshold(3))

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
	}
	if !cb.Allow() {
		t.Fatal("breaker open before threshold")
	}
	cb.RecordFailure()
	if cb.Allow() {
		t.Fatal("breaker closed after threshold failures")
	}
	if cb.State() != connectivity.BreakerOpen {
		t.Errorf("state = %v, want open", cb.State())
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	clock := time.Now()
	now := func() time.Time { return clock }
	cb := connectivity.NewCircuitBreaker(
		connectivity.WithBreakerThreshold(1),
		connectivity.WithBreakerResetTimeout(30*time.Second),
		connectivity.WithBreakerHalfOpenMax(2),
		connectivity.WithBreakerClock(now),
	)

	cb.RecordFailure()
	if cb.Allow() {
		t.Fatal("breaker not open after failure")
	}

	clock = clock.Add(31 * time.Second)
	if !cb.Allow() {
		t.Fatal("breaker not half-open after reset timeout")
	}
	if cb.State() != connectivity.BreakerHalfOpen {
		t.Fatalf("state = %v, want half-open", cb.State())
	}

	cb.RecordSuccess()
	cb.RecordSuccess()
	if cb.State() != connectivity.BreakerClosed {
		t.Errorf("state = %v, want closed after recovery", cb.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := time.Now()
	cb := connectivity.NewCircuitBreaker(
		connectivity.WithBreakerThreshold(1),
		connectivity.WithBreakerResetTimeout(time.Second),
		connectivity.WithBreakerClock(func() time.Time { return clock }),
	)

	cb.RecordFailure()
	clock = clock.Add(2 * time.Second)
	if cb.State() != connectivity.BreakerHalfOpen {
		t.Fatalf("state = %v, want half-open", cb.State())
	}
	cb.RecordFailure()
	if cb.Allow() {
		t.Error("breaker closed after half-open failure")
	}
}

func TestErrCircuitOpenMatchesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("pass: %w", &connectivity.ErrCircuitOpen{Remote: "trips"})
	var open *connectivity.ErrCircuitOpen
	if !errors.As(err, &open) {
		t.Fatal("errors.As failed on wrapped ErrCircuitOpen")
	}
	if open.Remote != "trips" {
		t.Errorf("Remote = %q, want trips", open.Remote)
	}
	if !strings.Contains(open.Error(), "trips") {
		t.Errorf("Error() = %q, want remote named", open.Error())
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := connectivity.NewCircuitBreaker(connectivity.WithBreakerThreshold(2))
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	if !cb.Allow() {
		t.Error("non-consecutive failures tripped the breaker")
	}
}

// Package connectivity provides the connectivity signal the sync orchestrator
// subscribes to: online/offline transitions and app-foreground events, plus a
// circuit breaker guarding the remote path during drain passes.
//
// The Hub is the in-process event source. The app shell (or the Prober, when
// polling an HTTP endpoint) feeds it state changes; subscribers receive
// deduplicated transition events.
package connectivity

import (
	"log/slog"
	"sync"
)

// Event is a connectivity transition.
type Event int

const (
	Offline Event = iota
	Online
	Foregrounded
)

func (e Event) String() string {
	switch e {
	case Offline:
		return "offline"
	case Online:
		return "online"
	case Foregrounded:
		return "foregrounded"
	}
	return "unknown"
}

// Signal is the event source the orchestrator consumes.
type Signal interface {
	// Subscribe returns a channel of transition events. The channel is
	// buffered; slow consumers drop events rather than block the source.
	Subscribe() <-chan Event
	// Online reports the current reachability state.
	Online() bool
}

// Hub is a manual Signal implementation. SetOnline deduplicates: only actual
// state changes emit an event, so a prober can report the same state every
// poll cycle without flooding subscribers.
type Hub struct {
	mu     sync.Mutex
	online bool
	subs   []chan Event
	logger *slog.Logger
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) HubOption { return func(h *Hub) { h.logger = l } }

// NewHub creates a Hub with the given initial state.
func NewHub(initiallyOnline bool, opts ...HubOption) *Hub {
	h := &Hub{online: initiallyOnline, logger: slog.Default()}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Subscribe implements Signal.
func (h *Hub) Subscribe() <-chan Event {
	ch := make(chan Event, 8)
	h.mu.Lock()
	h.subs = append(h.subs, ch)
	h.mu.Unlock()
	return ch
}

// Online implements Signal.
func (h *Hub) Online() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.online
}

// SetOnline records the reachability state and emits a transition event when
// it changed.
func (h *Hub) SetOnline(online bool) {
	h.mu.Lock()
	if h.online == online {
		h.mu.Unlock()
		return
	}
	h.online = online
	ev := Offline
	if online {
		ev = Online
	}
	subs := h.subs
	h.mu.Unlock()

	h.logger.Info("connectivity: transition", "state", ev.String())
	broadcast(subs, ev)
}

// Foreground emits a foregrounded event. The app shell calls this when the
// application returns to the foreground; the orchestrator treats it as a
// drain trigger even when no reachability transition occurred.
func (h *Hub) Foreground() {
	h.mu.Lock()
	subs := h.subs
	h.mu.Unlock()
	broadcast(subs, Foregrounded)
}

// broadcast delivers ev without blocking: a full subscriber buffer drops the
// event. Transitions are level signals, not a log — a dropped event is
// superseded by the next one.
func broadcast(subs []chan Event, ev Event) {
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

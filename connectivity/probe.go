package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// Prober polls an HTTP endpoint at a fixed interval and feeds reachability
// into a Hub. One HEAD request per cycle; any 2xx–4xx response counts as
// reachable (a 401 from the health endpoint still proves the network path),
// transport errors and 5xx count as unreachable.
//
// Run blocks until ctx is cancelled:
//
//	go prober.Run(ctx)
type Prober struct {
	hub  *Hub
	opts ProberOptions

	// Counters for observability (exported via Stats).
	checks      atomic.Int64
	failures    atomic.Int64
	transitions atomic.Int64
}

// ProberOptions tunes the prober.
type ProberOptions struct {
	// URL is the endpoint to probe. Required.
	URL string
	// Interval is the polling frequency. Default: 15s.
	Interval time.Duration
	// Timeout is the per-request timeout. Default: 5s.
	Timeout time.Duration
	// Client overrides the HTTP client (timeout is applied per request
	// via context either way).
	Client *http.Client
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *ProberOptions) defaults() {
	if o.Interval <= 0 {
		o.Interval = 15 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.Client == nil {
		o.Client = http.DefaultClient
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// ProberStats are point-in-time counters.
type ProberStats struct {
	Checks      int64 `json:"checks"`
	Failures    int64 `json:"failures"`
	Transitions int64 `json:"transitions"`
}

// NewProber creates a Prober feeding the given Hub.
func NewProber(hub *Hub, opts ProberOptions) *Prober {
	opts.defaults()
	return &Prober{hub: hub, opts: opts}
}

// Stats returns the current counters.
func (p *Prober) Stats() ProberStats {
	return ProberStats{
		Checks:      p.checks.Load(),
		Failures:    p.failures.Load(),
		Transitions: p.transitions.Load(),
	}
}

// Run polls until ctx is cancelled. The first check fires immediately so the
// engine does not wait a full interval for its initial reachability state.
func (p *Prober) Run(ctx context.Context) {
	log := p.opts.Logger
	log.Info("connectivity prober started", "url", p.opts.URL, "interval", p.opts.Interval)

	p.check(ctx)

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("connectivity prober stopped")
			return
		case <-ticker.C:
			p.check(ctx)
		}
	}
}

func (p *Prober) check(ctx context.Context) {
	p.checks.Add(1)
	reqCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	reachable := false
	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, p.opts.URL, nil)
	if err == nil {
		resp, err := p.opts.Client.Do(req)
		if err == nil {
			resp.Body.Close()
			reachable = resp.StatusCode < 500
		}
	}
	if !reachable {
		p.failures.Add(1)
	}

	was := p.hub.Online()
	p.hub.SetOnline(reachable)
	if was != reachable {
		p.transitions.Add(1)
	}
}

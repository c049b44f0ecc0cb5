package ai

import (
	"context"
	"sync"
	"time"
)

const probeTimeout = 5 * time.Second

// Prober reports whether the provider behind a Client is reachable.
// It probes with a minimal embedding call at most once per interval,
// so frequent health checks stay cheap.
type Prober struct {
	client   Client
	interval time.Duration

	mu   sync.Mutex
	last time.Time
	up   bool
}

// NewProber creates a prober over client. interval <= 0 defaults to
// one minute.
func NewProber(client Client, interval time.Duration) *Prober {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Prober{client: client, interval: interval, up: true}
}

// Up returns the provider's reachability, refreshing the cached result
// when the previous probe is older than the interval.
func (p *Prober) Up(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.last.IsZero() && time.Since(p.last) < p.interval {
		return p.up
	}

	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	_, err := p.client.Embed(pctx, "ping")
	p.up = err == nil
	p.last = time.Now()
	return p.up
}

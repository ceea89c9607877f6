// Package ratelimit paces outbound requests per host according to the
// sensitivity-derived politeness configuration, under a global rate cap.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/localnewslab/newsminer/internal/botsense"
	"github.com/localnewslab/newsminer/internal/pipeline"
)

// ConfigSource resolves the current politeness configuration for a host. The
// botsense manager implements it.
type ConfigSource interface {
	ConfigFor(ctx context.Context, host string) (botsense.LevelConfig, error)
}

// Config holds limiter settings.
type Config struct {
	// GlobalRPS caps requests per second across all hosts; <= 0 means no cap.
	GlobalRPS float64
	// GlobalBurst is the global token-bucket burst.
	GlobalBurst int
}

type hostGate struct {
	mu     sync.Mutex
	nextAt time.Time
}

// HostLimiter serializes and staggers requests to the same host using the
// jittered inter-request delay for the host's current sensitivity level.
// Concurrent workers touching one host queue on that host's gate; different
// hosts proceed independently under the global cap.
type HostLimiter struct {
	source ConfigSource
	global *rate.Limiter
	clock  pipeline.Clock
	sleep  func(time.Duration)

	mu    sync.Mutex
	gates map[string]*hostGate
}

// New creates a HostLimiter.
func New(source ConfigSource, clock pipeline.Clock, cfg Config) *HostLimiter {
	limit := rate.Limit(cfg.GlobalRPS)
	if cfg.GlobalRPS <= 0 {
		limit = rate.Inf
	}
	burst := cfg.GlobalBurst
	if burst <= 0 {
		burst = 1
	}
	return &HostLimiter{
		source: source,
		global: rate.NewLimiter(limit, burst),
		clock:  clock,
		sleep:  time.Sleep,
		gates:  make(map[string]*hostGate),
	}
}

// Wait blocks until a request to host may proceed. The context is honored
// before the host delay begins; once the delay has started it runs to
// completion, since resuming early would defeat the politeness window.
func (l *HostLimiter) Wait(ctx context.Context, host string) error {
	if err := l.global.Wait(ctx); err != nil {
		return fmt.Errorf("global rate wait: %w", err)
	}
	cfg, err := l.source.ConfigFor(ctx, host)
	if err != nil {
		return fmt.Errorf("resolve politeness config for %q: %w", host, err)
	}

	gate := l.gate(host)
	gate.mu.Lock()
	defer gate.mu.Unlock()

	now := l.clock.Now()
	if wait := gate.nextAt.Sub(now); wait > 0 {
		l.sleep(wait)
		now = now.Add(wait)
	}
	gate.nextAt = now.Add(jitteredDelay(cfg))
	return nil
}

func (l *HostLimiter) gate(host string) *hostGate {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.gates[host]
	if !ok {
		g = &hostGate{}
		l.gates[host] = g
	}
	return g
}

func jitteredDelay(cfg botsense.LevelConfig) time.Duration {
	minDelay := cfg.InterRequestDelayMin
	maxDelay := cfg.InterRequestDelayMax
	if maxDelay <= minDelay {
		return minDelay
	}
	return minDelay + time.Duration(rand.Int63n(int64(maxDelay-minDelay)))
}

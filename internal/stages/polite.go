package stages

import (
	"context"
	"fmt"

	"github.com/localnewslab/newsminer/internal/botsense"
	"github.com/localnewslab/newsminer/internal/pipeline"
	"github.com/localnewslab/newsminer/internal/telemetry"
)

// Limiter gates outbound requests per host. ratelimit.HostLimiter implements
// it.
type Limiter interface {
	Wait(ctx context.Context, host string) error
}

// Politeness resolves the current rate-limit tuple for a host. The botsense
// manager implements it.
type Politeness interface {
	ConfigFor(ctx context.Context, host string) (botsense.LevelConfig, error)
}

// SuccessRecorder feeds successful fetches back into sensitivity decay. The
// botsense manager implements it; detections travel the other way, through
// the telemetry detector sink.
type SuccessRecorder interface {
	RecordSuccess(ctx context.Context, host string) error
}

// fetchGate bundles everything a fetching stage needs to hit a host politely:
// the per-host limiter, the sensitivity-derived timeout, and telemetry on the
// outcome.
type fetchGate struct {
	fetcher    pipeline.Fetcher
	limiter    Limiter
	politeness Politeness
	successes  SuccessRecorder
	emitter    telemetry.Emitter
	clock      pipeline.Clock
}

// fetch performs one rate-limited request. The returned response carries any
// detection signal; callers must not advance an item on a detected response.
func (g *fetchGate) fetch(ctx context.Context, item pipeline.WorkItem) (pipeline.FetchResponse, error) {
	if err := g.limiter.Wait(ctx, item.Host); err != nil {
		return pipeline.FetchResponse{}, fmt.Errorf("rate limit %s: %w", item.Host, err)
	}
	cfg, err := g.politeness.ConfigFor(ctx, item.Host)
	if err != nil {
		return pipeline.FetchResponse{}, fmt.Errorf("politeness config %s: %w", item.Host, err)
	}

	resp, err := g.fetcher.Fetch(ctx, pipeline.FetchRequest{
		URL:     item.URL,
		Host:    item.Host,
		Timeout: cfg.RequestTimeout,
	})
	if err != nil {
		return pipeline.FetchResponse{}, fmt.Errorf("fetch %s: %w", item.URL, err)
	}

	now := g.clock.Now()
	g.emitter.Emit(telemetry.FetchOutcome{
		Host:       item.Host,
		URL:        item.URL,
		StatusCode: resp.StatusCode,
		Bytes:      int64(len(resp.Body)),
		Duration:   resp.Duration,
		At:         now,
	})
	if resp.Detected() {
		g.emitter.Emit(telemetry.Detection{
			Host: item.Host,
			Type: resp.Detection,
			At:   now,
		})
		return resp, nil
	}
	if g.successes != nil && resp.StatusCode < 400 {
		if err := g.successes.RecordSuccess(ctx, item.Host); err != nil {
			// Decay bookkeeping only; the fetch itself succeeded.
			return resp, nil
		}
	}
	return resp, nil
}

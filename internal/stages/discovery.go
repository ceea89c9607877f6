package stages

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/localnewslab/newsminer/internal/pipeline"
	"github.com/localnewslab/newsminer/internal/store"
	"github.com/localnewslab/newsminer/internal/telemetry"
)

// Discovery fetches each due source's front page and records the article
// links it finds as discovered candidates.
type Discovery struct {
	gate       *fetchGate
	sources    store.SourceRepository
	candidates store.CandidateRepository
	dataset    *int64
	clock      pipeline.Clock
	logger     *zap.Logger
}

// NewDiscovery constructs the discovery processor.
func NewDiscovery(
	fetcher pipeline.Fetcher,
	limiter Limiter,
	politeness Politeness,
	successes SuccessRecorder,
	sources store.SourceRepository,
	candidates store.CandidateRepository,
	emitter telemetry.Emitter,
	clock pipeline.Clock,
	dataset *int64,
	logger *zap.Logger,
) *Discovery {
	return &Discovery{
		gate: &fetchGate{
			fetcher:    fetcher,
			limiter:    limiter,
			politeness: politeness,
			successes:  successes,
			emitter:    emitter,
			clock:      clock,
		},
		sources:    sources,
		candidates: candidates,
		dataset:    dataset,
		clock:      clock,
		logger:     logger,
	}
}

// Stage implements Processor.
func (d *Discovery) Stage() pipeline.Stage { return pipeline.StageDiscovery }

// Process crawls each due source once. A failed front-page fetch still
// advances the schedule so the source waits its full interval before the next
// attempt instead of being re-claimed every cycle.
func (d *Discovery) Process(ctx context.Context, items []pipeline.WorkItem) error {
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.processSource(ctx, item)
	}
	return nil
}

func (d *Discovery) processSource(ctx context.Context, item pipeline.WorkItem) {
	now := d.clock.Now()
	defer func() {
		if err := d.sources.MarkDiscovered(ctx, item.SourceID, now); err != nil {
			d.logger.Error("mark discovered", zap.String("host", item.Host), zap.Error(err))
		}
	}()

	resp, err := d.gate.fetch(ctx, item)
	if err != nil || resp.Detected() || resp.StatusCode >= 400 {
		d.emitStageError(item.Host, err)
		return
	}

	links := extractLinks(resp.Body, item.URL, item.Host)
	if len(links) == 0 {
		d.logger.Warn("front page yielded no links", zap.String("host", item.Host))
		return
	}

	candidates := make([]pipeline.CandidateLink, 0, len(links))
	for _, link := range links {
		candidates = append(candidates, pipeline.CandidateLink{
			URL:          link,
			Host:         item.Host,
			Status:       pipeline.LinkStatusDiscovered,
			DatasetID:    d.dataset,
			DiscoveredAt: now,
		})
	}
	inserted, err := d.candidates.InsertDiscovered(ctx, candidates)
	if err != nil {
		d.emitStageError(item.Host, err)
		return
	}
	d.logger.Info("discovery complete",
		zap.String("host", item.Host),
		zap.Int("links", len(links)),
		zap.Int64("new", inserted),
	)
}

func (d *Discovery) emitStageError(host string, err error) {
	note := "fetch failed"
	if err != nil {
		note = err.Error()
	}
	d.gate.emitter.Emit(telemetry.StageError{
		Stage: pipeline.StageDiscovery,
		Host:  host,
		Note:  note,
		At:    d.clock.Now(),
	})
	d.logger.Warn("discovery fetch failed", zap.String("host", host), zap.Error(err))
}

// extractLinks pulls same-host article candidates out of a front page.
func extractLinks(body []byte, pageURL, host string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "javascript:") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		if !sameHost(resolved.Hostname(), host) {
			return
		}
		resolved.Fragment = ""
		link := resolved.String()
		if link == pageURL {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links
}

func sameHost(a, b string) bool {
	return strings.TrimPrefix(strings.ToLower(a), "www.") == strings.TrimPrefix(strings.ToLower(b), "www.")
}

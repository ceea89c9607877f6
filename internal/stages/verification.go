package stages

import (
	"bytes"
	"context"
	"errors"
	"regexp"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/localnewslab/newsminer/internal/pipeline"
	"github.com/localnewslab/newsminer/internal/store"
	"github.com/localnewslab/newsminer/internal/telemetry"
)

// Default URL-shape filters. A link must survive the reject list and match at
// least one article pattern to move past the prefilter.
var (
	defaultRejectPatterns = []*regexp.Regexp{
		regexp.MustCompile(`/(tags?|categor(?:y|ies)|author|about|contact|privacy|terms|search|subscribe|newsletter|events|weather|page)(/|$)`),
		regexp.MustCompile(`\.(?:jpe?g|png|gif|svg|css|js|pdf|xml|rss)$`),
	}
	defaultArticlePatterns = []*regexp.Regexp{
		regexp.MustCompile(`/\d{4}/\d{2}/`),
		regexp.MustCompile(`/(news|story|article|local|politics|sports|business|opinion|obituar)`),
		regexp.MustCompile(`[a-z0-9]+(?:-[a-z0-9]+){3,}`),
		regexp.MustCompile(`-\d+\.html?$`),
	}
)

const defaultMinArticleBytes = 512

// Verification advances discovered links to article or rejected in two
// phases: a URL-shape prefilter, then a fetch-based confirmation.
type Verification struct {
	gate       *fetchGate
	candidates store.CandidateRepository
	failures   *failureTracker
	clock      pipeline.Clock
	logger     *zap.Logger

	rejectPatterns  []*regexp.Regexp
	articlePatterns []*regexp.Regexp
	minBodyBytes    int
}

// NewVerification constructs the verification processor with the default URL
// filters. maxFailures bounds consecutive confirmation-fetch failures before
// a candidate is rejected.
func NewVerification(
	fetcher pipeline.Fetcher,
	limiter Limiter,
	politeness Politeness,
	successes SuccessRecorder,
	candidates store.CandidateRepository,
	emitter telemetry.Emitter,
	clock pipeline.Clock,
	maxFailures int,
	logger *zap.Logger,
) *Verification {
	return &Verification{
		gate: &fetchGate{
			fetcher:    fetcher,
			limiter:    limiter,
			politeness: politeness,
			successes:  successes,
			emitter:    emitter,
			clock:      clock,
		},
		candidates:      candidates,
		failures:        newFailureTracker(maxFailures),
		clock:           clock,
		logger:          logger,
		rejectPatterns:  defaultRejectPatterns,
		articlePatterns: defaultArticlePatterns,
		minBodyBytes:    defaultMinArticleBytes,
	}
}

// Stage implements Processor.
func (v *Verification) Stage() pipeline.Stage { return pipeline.StageVerification }

// Process runs both phases over the claimed batch. Items that fail the
// prefilter never cost a fetch.
func (v *Verification) Process(ctx context.Context, items []pipeline.WorkItem) error {
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		v.processLink(ctx, item)
	}
	return nil
}

func (v *Verification) processLink(ctx context.Context, item pipeline.WorkItem) {
	if !v.looksLikeArticleURL(item.URL) {
		v.reject(ctx, item, "url shape")
		return
	}

	// Prefilter passed. A stale claim here means the link already sits at
	// pending_verification from an earlier cycle; either way it is confirmed
	// by fetch next.
	err := v.candidates.AdvanceStatus(ctx, item.ID,
		pipeline.LinkStatusDiscovered, pipeline.LinkStatusPendingVerification)
	if err != nil && !errors.Is(err, store.ErrStaleClaim) {
		v.logger.Error("advance to pending_verification", zap.String("url", item.URL), zap.Error(err))
		return
	}

	resp, err := v.gate.fetch(ctx, item)
	if err != nil || resp.Detected() {
		v.failConfirmation(ctx, item)
		return
	}
	v.failures.reset(item.ID)
	if resp.StatusCode != 200 || !looksLikeArticlePage(resp.Body, v.minBodyBytes) {
		v.advance(ctx, item, pipeline.LinkStatusPendingVerification, pipeline.LinkStatusRejected)
		return
	}
	v.advance(ctx, item, pipeline.LinkStatusPendingVerification, pipeline.LinkStatusArticle)
}

// failConfirmation leaves the link at pending_verification for retry until
// the consecutive-failure ceiling trips, at which point the candidate is
// rejected so it stops consuming fetch budget on every cycle.
func (v *Verification) failConfirmation(ctx context.Context, item pipeline.WorkItem) {
	v.gate.emitter.Emit(telemetry.StageError{
		Stage: pipeline.StageVerification,
		Host:  item.Host,
		Note:  "confirmation fetch failed",
		At:    v.clock.Now(),
	})
	if !v.failures.fail(item.ID) {
		return
	}
	v.gate.emitter.Emit(telemetry.Detection{
		Host: item.Host,
		Type: pipeline.DetectionRepeatedFailure,
		At:   v.clock.Now(),
	})
	v.advance(ctx, item, pipeline.LinkStatusPendingVerification, pipeline.LinkStatusRejected)
	v.logger.Warn("candidate rejected after repeated confirmation failures",
		zap.String("url", item.URL))
}

func (v *Verification) reject(ctx context.Context, item pipeline.WorkItem, reason string) {
	err := v.candidates.AdvanceStatus(ctx, item.ID,
		pipeline.LinkStatusDiscovered, pipeline.LinkStatusRejected)
	if errors.Is(err, store.ErrStaleClaim) {
		// Already past discovered; reject from pending_verification instead.
		v.advance(ctx, item, pipeline.LinkStatusPendingVerification, pipeline.LinkStatusRejected)
		return
	}
	if err != nil {
		v.logger.Error("reject candidate", zap.String("url", item.URL), zap.Error(err))
		return
	}
	v.logger.Debug("candidate rejected", zap.String("url", item.URL), zap.String("reason", reason))
}

func (v *Verification) advance(ctx context.Context, item pipeline.WorkItem, from, to pipeline.LinkStatus) {
	err := v.candidates.AdvanceStatus(ctx, item.ID, from, to)
	if err != nil && !errors.Is(err, store.ErrStaleClaim) {
		v.logger.Error("advance candidate",
			zap.String("url", item.URL), zap.String("to", string(to)), zap.Error(err))
	}
}

func (v *Verification) looksLikeArticleURL(rawURL string) bool {
	for _, re := range v.rejectPatterns {
		if re.MatchString(rawURL) {
			return false
		}
	}
	for _, re := range v.articlePatterns {
		if re.MatchString(rawURL) {
			return true
		}
	}
	return false
}

// looksLikeArticlePage confirms a fetched page carries article markup: an
// og:type of article, an <article> element, or enough paragraph text.
func looksLikeArticlePage(body []byte, minBytes int) bool {
	if len(body) < minBytes {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	if ogType, ok := doc.Find(`meta[property="og:type"]`).Attr("content"); ok && ogType == "article" {
		return true
	}
	if doc.Find("article").Length() > 0 {
		return true
	}
	text := 0
	doc.Find("p").Each(func(_ int, sel *goquery.Selection) {
		text += len(sel.Text())
	})
	return text >= minBytes
}

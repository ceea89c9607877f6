package stages

import (
	"context"

	"go.uber.org/zap"

	"github.com/localnewslab/newsminer/internal/pipeline"
	"github.com/localnewslab/newsminer/internal/store"
	"github.com/localnewslab/newsminer/internal/telemetry"
)

// Extraction fetches verified candidates and turns them into article rows via
// the external extractor.
type Extraction struct {
	gate       *fetchGate
	extractor  pipeline.Extractor
	articles   store.ArticleRepository
	candidates store.CandidateRepository
	hasher     pipeline.Hasher
	failures   *failureTracker
	clock      pipeline.Clock
	logger     *zap.Logger
}

// NewExtraction constructs the extraction processor. maxFailures bounds
// consecutive per-item failures before a candidate is rejected.
func NewExtraction(
	fetcher pipeline.Fetcher,
	limiter Limiter,
	politeness Politeness,
	successes SuccessRecorder,
	extractor pipeline.Extractor,
	articles store.ArticleRepository,
	candidates store.CandidateRepository,
	hasher pipeline.Hasher,
	emitter telemetry.Emitter,
	clock pipeline.Clock,
	maxFailures int,
	logger *zap.Logger,
) *Extraction {
	return &Extraction{
		gate: &fetchGate{
			fetcher:    fetcher,
			limiter:    limiter,
			politeness: politeness,
			successes:  successes,
			emitter:    emitter,
			clock:      clock,
		},
		extractor:  extractor,
		articles:   articles,
		candidates: candidates,
		hasher:     hasher,
		failures:   newFailureTracker(maxFailures),
		clock:      clock,
		logger:     logger,
	}
}

// Stage implements Processor.
func (e *Extraction) Stage() pipeline.Stage { return pipeline.StageExtraction }

// Process extracts each claimed candidate. A failing item stays at its status
// for retry; once the consecutive-failure ceiling is hit the candidate is
// rejected so it stops consuming fetch budget.
func (e *Extraction) Process(ctx context.Context, items []pipeline.WorkItem) error {
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.processCandidate(ctx, item)
	}
	return nil
}

func (e *Extraction) processCandidate(ctx context.Context, item pipeline.WorkItem) {
	resp, err := e.gate.fetch(ctx, item)
	if err != nil || resp.Detected() || resp.StatusCode != 200 {
		e.fail(ctx, item, "fetch", err)
		return
	}

	ext, err := e.extractor.Extract(ctx, resp.Body)
	if err != nil {
		e.fail(ctx, item, "extract", err)
		return
	}

	hash, err := e.hasher.Hash([]byte(ext.Body))
	if err != nil {
		e.fail(ctx, item, "hash", err)
		return
	}

	_, err = e.articles.CreateArticle(ctx, pipeline.Article{
		CandidateLinkID: item.ID,
		Status:          pipeline.ArticleStatusExtracted,
		Title:           ext.Title,
		Author:          ext.Author,
		Content:         ext.Body,
		ContentHash:     hash,
		PublishedAt:     ext.PublishedAt,
	})
	if err != nil {
		e.fail(ctx, item, "store", err)
		return
	}
	e.failures.reset(item.ID)
	e.logger.Info("article extracted", zap.String("url", item.URL), zap.String("title", ext.Title))
}

func (e *Extraction) fail(ctx context.Context, item pipeline.WorkItem, phase string, err error) {
	e.gate.emitter.Emit(telemetry.StageError{
		Stage: pipeline.StageExtraction,
		Host:  item.Host,
		Note:  phase,
		At:    e.clock.Now(),
	})
	e.logger.Warn("extraction failed",
		zap.String("url", item.URL), zap.String("phase", phase), zap.Error(err))

	if !e.failures.fail(item.ID) {
		return
	}
	e.gate.emitter.Emit(telemetry.Detection{
		Host: item.Host,
		Type: pipeline.DetectionRepeatedFailure,
		At:   e.clock.Now(),
	})
	advErr := e.candidates.AdvanceStatus(ctx, item.ID,
		pipeline.LinkStatusArticle, pipeline.LinkStatusRejected)
	if advErr != nil {
		e.logger.Error("reject exhausted candidate", zap.String("url", item.URL), zap.Error(advErr))
		return
	}
	e.logger.Warn("candidate rejected after repeated failures", zap.String("url", item.URL))
}

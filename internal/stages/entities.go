package stages

import (
	"context"

	"go.uber.org/zap"

	"github.com/localnewslab/newsminer/internal/gazetteer"
	"github.com/localnewslab/newsminer/internal/pipeline"
	"github.com/localnewslab/newsminer/internal/store"
	"github.com/localnewslab/newsminer/internal/telemetry"
)

// EntityExtraction runs the external entity extractor over articles with
// terminal content and no entity rows yet.
type EntityExtraction struct {
	articles  store.ArticleRepository
	extractor pipeline.EntityExtractor
	provider  pipeline.GazetteerProvider
	failures  *failureTracker
	emitter   telemetry.Emitter
	clock     pipeline.Clock
	logger    *zap.Logger
}

// NewEntityExtraction constructs the entity-extraction processor. maxFailures
// bounds consecutive per-article failures before the article is marked error.
func NewEntityExtraction(
	articles store.ArticleRepository,
	extractor pipeline.EntityExtractor,
	provider pipeline.GazetteerProvider,
	emitter telemetry.Emitter,
	clock pipeline.Clock,
	maxFailures int,
	logger *zap.Logger,
) *EntityExtraction {
	return &EntityExtraction{
		articles:  articles,
		extractor: extractor,
		provider:  provider,
		failures:  newFailureTracker(maxFailures),
		emitter:   emitter,
		clock:     clock,
		logger:    logger,
	}
}

// Stage implements Processor.
func (p *EntityExtraction) Stage() pipeline.Stage { return pipeline.StageEntityExtraction }

// Process extracts entities for the batch. A fresh gazetteer cache is built
// per batch so items sharing a (source, dataset) key load the reference set
// once. Every completed article ends with at least one entity row; the
// sentinel covers the zero-entity case so the pending query terminates.
func (p *EntityExtraction) Process(ctx context.Context, items []pipeline.WorkItem) error {
	cache := gazetteer.NewBatchCache(p.provider)
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.processArticle(ctx, cache, item)
	}
	return nil
}

func (p *EntityExtraction) processArticle(ctx context.Context, cache *gazetteer.BatchCache, item pipeline.WorkItem) {
	before := cache.Loads()
	places, err := cache.Load(ctx, item.SourceID, item.DatasetID)
	if err != nil {
		p.fail(ctx, item, "gazetteer", err)
		return
	}
	p.emitter.Emit(telemetry.CacheAccess{
		Cache: "gazetteer",
		Hit:   cache.Loads() == before,
		At:    p.clock.Now(),
	})

	article, err := p.articles.GetArticle(ctx, item.ID)
	if err != nil {
		p.fail(ctx, item, "load", err)
		return
	}

	entities, err := p.extractor.Entities(ctx, article.Content, places)
	if err != nil {
		p.fail(ctx, item, "extract", err)
		return
	}
	if err := p.articles.InsertEntities(ctx, item.ID, entities); err != nil {
		p.fail(ctx, item, "store", err)
		return
	}
	p.failures.reset(item.ID)
	p.logger.Debug("entities extracted",
		zap.Int64("article", item.ID), zap.Int("count", len(entities)))
}

// fail logs and emits the stage error; once the consecutive-failure ceiling
// trips the article is marked error so the pending query stops returning it.
func (p *EntityExtraction) fail(ctx context.Context, item pipeline.WorkItem, phase string, err error) {
	p.emitter.Emit(telemetry.StageError{
		Stage: pipeline.StageEntityExtraction,
		Host:  item.Host,
		Note:  phase,
		At:    p.clock.Now(),
	})
	p.logger.Warn("entity extraction failed",
		zap.Int64("article", item.ID), zap.String("phase", phase), zap.Error(err))

	if !p.failures.fail(item.ID) {
		return
	}
	if markErr := p.articles.MarkError(ctx, item.ID); markErr != nil {
		p.logger.Error("mark article error", zap.Int64("article", item.ID), zap.Error(markErr))
		return
	}
	p.logger.Warn("article errored after repeated entity failures", zap.Int64("article", item.ID))
}

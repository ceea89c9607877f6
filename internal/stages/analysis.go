package stages

import (
	"context"

	"go.uber.org/zap"

	"github.com/localnewslab/newsminer/internal/pipeline"
	"github.com/localnewslab/newsminer/internal/store"
	"github.com/localnewslab/newsminer/internal/telemetry"
)

// Analysis runs the external topic classifier over articles that have
// entities but no labels yet.
type Analysis struct {
	articles   store.ArticleRepository
	classifier pipeline.Classifier
	failures   *failureTracker
	emitter    telemetry.Emitter
	clock      pipeline.Clock
	logger     *zap.Logger
}

// NewAnalysis constructs the analysis processor. maxFailures bounds
// consecutive per-article failures before the article is marked error.
func NewAnalysis(
	articles store.ArticleRepository,
	classifier pipeline.Classifier,
	emitter telemetry.Emitter,
	clock pipeline.Clock,
	maxFailures int,
	logger *zap.Logger,
) *Analysis {
	return &Analysis{
		articles:   articles,
		classifier: classifier,
		failures:   newFailureTracker(maxFailures),
		emitter:    emitter,
		clock:      clock,
		logger:     logger,
	}
}

// Stage implements Processor.
func (a *Analysis) Stage() pipeline.Stage { return pipeline.StageAnalysis }

// Process labels each claimed article. Writing the primary label is what
// removes the article from this stage's queue, so even an empty classifier
// result is persisted.
func (a *Analysis) Process(ctx context.Context, items []pipeline.WorkItem) error {
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		a.processArticle(ctx, item)
	}
	return nil
}

func (a *Analysis) processArticle(ctx context.Context, item pipeline.WorkItem) {
	article, err := a.articles.GetArticle(ctx, item.ID)
	if err != nil {
		a.fail(ctx, item, "load", err)
		return
	}

	result, err := a.classifier.Classify(ctx, article.Content)
	if err != nil {
		a.fail(ctx, item, "classify", err)
		return
	}

	primary := result.PrimaryLabel
	var secondary *string
	if result.SecondaryLabel != "" {
		secondary = &result.SecondaryLabel
	}
	if err := a.articles.SetLabels(ctx, item.ID, &primary, secondary); err != nil {
		a.fail(ctx, item, "store", err)
		return
	}
	a.failures.reset(item.ID)
	a.logger.Debug("article labeled",
		zap.Int64("article", item.ID),
		zap.String("primary", result.PrimaryLabel),
		zap.Float64("confidence", result.PrimaryConfidence),
	)
}

// fail logs and emits the stage error; once the consecutive-failure ceiling
// trips the article is marked error so a dead classifier cannot hold the
// queue open forever.
func (a *Analysis) fail(ctx context.Context, item pipeline.WorkItem, phase string, err error) {
	a.emitter.Emit(telemetry.StageError{
		Stage: pipeline.StageAnalysis,
		Host:  item.Host,
		Note:  phase,
		At:    a.clock.Now(),
	})
	a.logger.Warn("analysis failed",
		zap.Int64("article", item.ID), zap.String("phase", phase), zap.Error(err))

	if !a.failures.fail(item.ID) {
		return
	}
	if markErr := a.articles.MarkError(ctx, item.ID); markErr != nil {
		a.logger.Error("mark article error", zap.Int64("article", item.ID), zap.Error(markErr))
		return
	}
	a.logger.Warn("article errored after repeated analysis failures", zap.Int64("article", item.ID))
}

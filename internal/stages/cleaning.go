package stages

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/localnewslab/newsminer/internal/pipeline"
	"github.com/localnewslab/newsminer/internal/store"
	"github.com/localnewslab/newsminer/internal/telemetry"
	"github.com/localnewslab/newsminer/internal/wire"
)

var (
	opinionPathRE  = regexp.MustCompile(`/(opinion|editorial|column|commentary|letters)(s)?(/|-|$)`)
	obituaryPathRE = regexp.MustCompile(`/obituar(y|ies)(/|-|$)`)
	manyBlankRE    = regexp.MustCompile(`\n{3,}`)
)

// Cleaning normalizes extracted article content and assigns the terminal
// content status: wire, local, opinion, obituary, or cleaned.
type Cleaning struct {
	articles  store.ArticleRepository
	validator *wire.Validator
	hasher    pipeline.Hasher
	failures  *failureTracker
	emitter   telemetry.Emitter
	clock     pipeline.Clock
	logger    *zap.Logger
}

// NewCleaning constructs the cleaning processor. maxFailures bounds
// consecutive per-article failures before the article is marked error.
func NewCleaning(
	articles store.ArticleRepository,
	validator *wire.Validator,
	hasher pipeline.Hasher,
	emitter telemetry.Emitter,
	clock pipeline.Clock,
	maxFailures int,
	logger *zap.Logger,
) *Cleaning {
	return &Cleaning{
		articles:  articles,
		validator: validator,
		hasher:    hasher,
		failures:  newFailureTracker(maxFailures),
		emitter:   emitter,
		clock:     clock,
		logger:    logger,
	}
}

// Stage implements Processor.
func (c *Cleaning) Stage() pipeline.Stage { return pipeline.StageCleaning }

// Process cleans each claimed article and advances it to a terminal content
// status, which is what removes wire syndication from the local-analysis
// queues.
func (c *Cleaning) Process(ctx context.Context, items []pipeline.WorkItem) error {
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.processArticle(ctx, item)
	}
	return nil
}

func (c *Cleaning) processArticle(ctx context.Context, item pipeline.WorkItem) {
	article, err := c.articles.GetArticle(ctx, item.ID)
	if err != nil {
		c.fail(ctx, item, "load", err)
		return
	}

	content := normalizeContent(article.Content)
	if content != article.Content {
		hash, err := c.hasher.Hash([]byte(content))
		if err != nil {
			c.fail(ctx, item, "hash", err)
			return
		}
		if err := c.articles.UpdateContent(ctx, item.ID, content, hash); err != nil {
			c.fail(ctx, item, "update", err)
			return
		}
	}

	target := c.targetStatus(item, article, content)
	err = c.articles.AdvanceStatus(ctx, item.ID, pipeline.ArticleStatusExtracted, target)
	if err != nil && !errors.Is(err, store.ErrStaleClaim) {
		c.fail(ctx, item, "advance", err)
		return
	}
	c.failures.reset(item.ID)
	c.logger.Debug("article cleaned",
		zap.Int64("article", item.ID), zap.String("status", string(target)))
}

func (c *Cleaning) targetStatus(item pipeline.WorkItem, article pipeline.Article, content string) pipeline.ArticleStatus {
	verdict := c.validator.Classify(wire.Input{
		Host:   item.Host,
		URL:    item.URL,
		Byline: article.Author,
		Body:   content,
	})
	switch verdict {
	case wire.VerdictWire:
		return pipeline.ArticleStatusWire
	case wire.VerdictLocal:
		return pipeline.ArticleStatusLocal
	}

	path := strings.ToLower(item.URL)
	switch {
	case obituaryPathRE.MatchString(path):
		return pipeline.ArticleStatusObituary
	case opinionPathRE.MatchString(path):
		return pipeline.ArticleStatusOpinion
	default:
		return pipeline.ArticleStatusCleaned
	}
}

// fail logs and emits the stage error; once the consecutive-failure ceiling
// trips the article is marked error so it stops being re-claimed.
func (c *Cleaning) fail(ctx context.Context, item pipeline.WorkItem, phase string, err error) {
	c.emitter.Emit(telemetry.StageError{
		Stage: pipeline.StageCleaning,
		Host:  item.Host,
		Note:  phase,
		At:    c.clock.Now(),
	})
	c.logger.Warn("cleaning failed",
		zap.Int64("article", item.ID), zap.String("phase", phase), zap.Error(err))

	if !c.failures.fail(item.ID) {
		return
	}
	if markErr := c.articles.MarkError(ctx, item.ID); markErr != nil {
		c.logger.Error("mark article error", zap.Int64("article", item.ID), zap.Error(markErr))
		return
	}
	c.logger.Warn("article errored after repeated cleaning failures", zap.Int64("article", item.ID))
}

// normalizeContent strips carriage returns, trims trailing space per line,
// and collapses runs of blank lines.
func normalizeContent(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	content = strings.Join(lines, "\n")
	content = manyBlankRE.ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content)
}

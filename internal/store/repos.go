package store

import (
	"context"
	"errors"
	"time"

	"github.com/localnewslab/newsminer/internal/pipeline"
	"github.com/localnewslab/newsminer/internal/telemetry"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrStaleClaim signals that a guarded status update matched no row, meaning
// another worker advanced the item first. Callers treat the item as done.
var ErrStaleClaim = errors.New("claimed row already advanced")

// QueueRepository is the stage query layer: per-stage pending-work selection
// with row-claim semantics.
type QueueRepository interface {
	// ClaimPendingBatch selects up to limit pending items for the stage,
	// locking the selected rows with SKIP LOCKED for the duration of the
	// claiming transaction. A nil datasetID matches only rows whose
	// dataset_id is null; a non-nil one matches only that dataset.
	ClaimPendingBatch(ctx context.Context, stage pipeline.Stage, limit int, datasetID *int64) ([]pipeline.WorkItem, error)
	// PendingCounts returns the current queue depth per stage under the same
	// dataset filter, for telemetry.
	PendingCounts(ctx context.Context, datasetID *int64) (map[pipeline.Stage]int64, error)
}

// SourceRepository persists crawlable hosts and their sensitivity state.
type SourceRepository interface {
	// GetSourceByHost loads one source or returns ErrNotFound.
	GetSourceByHost(ctx context.Context, host string) (pipeline.Source, error)
	// ListSources returns every registered source.
	ListSources(ctx context.Context) ([]pipeline.Source, error)
	// UpsertSource registers a host (or updates its canonical name and
	// discovery interval) without touching sensitivity fields.
	UpsertSource(ctx context.Context, src pipeline.Source) error
	// UpdateSensitivity writes a new sensitivity level through to the store.
	// When detection is true the encounter counter and last-detection
	// timestamp advance as well.
	UpdateSensitivity(ctx context.Context, host string, sensitivity int, at time.Time, detection bool) error
	// MarkDiscovered records a completed discovery run for the schedule.
	MarkDiscovered(ctx context.Context, sourceID int64, at time.Time) error
	// RecordBotDetection appends one row to the detection event log.
	RecordBotDetection(ctx context.Context, event pipeline.BotDetectionEvent) error
}

// CandidateRepository persists discovered links.
type CandidateRepository interface {
	// InsertDiscovered inserts links with status discovered, skipping URLs
	// already present for the same dataset. Returns the number inserted.
	InsertDiscovered(ctx context.Context, links []pipeline.CandidateLink) (int64, error)
	// AdvanceStatus moves a link from one status to the next. Returns
	// ErrStaleClaim if the link is no longer at the expected status.
	AdvanceStatus(ctx context.Context, id int64, from, to pipeline.LinkStatus) error
}

// ArticleRepository persists extracted article records.
type ArticleRepository interface {
	// CreateArticle inserts a new article row and returns its ID.
	CreateArticle(ctx context.Context, a pipeline.Article) (int64, error)
	// GetArticle loads one article or returns ErrNotFound.
	GetArticle(ctx context.Context, id int64) (pipeline.Article, error)
	// AdvanceStatus moves an article forward. Returns ErrStaleClaim if the
	// article is no longer at the expected status; articles never move
	// backward.
	AdvanceStatus(ctx context.Context, id int64, from, to pipeline.ArticleStatus) error
	// MarkError moves an article to the error status from any current status.
	// Used once a stage exhausts its retry budget for the article.
	MarkError(ctx context.Context, id int64) error
	// UpdateContent replaces the normalized content and hash during cleaning.
	UpdateContent(ctx context.Context, id int64, content, contentHash string) error
	// SetLabels stores the analysis stage's classification outputs.
	SetLabels(ctx context.Context, id int64, primary, secondary *string) error
	// InsertEntities stores the entity set for an article. An empty set
	// inserts the sentinel row. Idempotent: a second call for the same
	// article is a no-op.
	InsertEntities(ctx context.Context, articleID int64, entities []pipeline.ArticleEntity) error
}

// TelemetryRepository appends flattened telemetry rows.
type TelemetryRepository interface {
	AppendTelemetry(ctx context.Context, rows []telemetry.Record) error
}

package postgres

import (
	"context"
	"fmt"

	"github.com/localnewslab/newsminer/internal/pipeline"
)

// QueueStore implements store.QueueRepository: per-stage pending-work
// selection with FOR UPDATE SKIP LOCKED row claiming.
type QueueStore struct {
	db DB
}

// NewQueueStore constructs a QueueStore over an existing pool.
func NewQueueStore(db DB) (*QueueStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &QueueStore{db: db}, nil
}

// Per-stage claim queries. Every query over a table carrying dataset_id
// repeats the same null-safe filter so that isolation holds in SQL itself,
// never by application-level convention: a nil filter matches only null
// dataset rows, a concrete filter matches only that dataset.
const (
	claimDiscoverySQL = `
SELECT id, host, canonical_name
FROM sources
WHERE last_discovery_at IS NULL
   OR last_discovery_at + (discovery_interval_us * interval '1 microsecond') <= now()
ORDER BY last_discovery_at NULLS FIRST
LIMIT $1
FOR UPDATE SKIP LOCKED`

	claimVerificationSQL = `
SELECT cl.id, cl.url, cl.host, cl.dataset_id, s.id
FROM candidate_links cl
JOIN sources s ON s.host = cl.host
WHERE cl.status IN ('discovered', 'pending_verification')
  AND (($2::bigint IS NULL AND cl.dataset_id IS NULL) OR cl.dataset_id = $2)
ORDER BY cl.discovered_at
LIMIT $1
FOR UPDATE OF cl SKIP LOCKED`

	claimExtractionSQL = `
SELECT cl.id, cl.url, cl.host, cl.dataset_id, s.id
FROM candidate_links cl
JOIN sources s ON s.host = cl.host
WHERE cl.status = 'article'
  AND NOT EXISTS (SELECT 1 FROM articles a WHERE a.candidate_link_id = cl.id)
  AND (($2::bigint IS NULL AND cl.dataset_id IS NULL) OR cl.dataset_id = $2)
ORDER BY cl.discovered_at
LIMIT $1
FOR UPDATE OF cl SKIP LOCKED`

	claimCleaningSQL = `
SELECT a.id, cl.url, cl.host, cl.dataset_id, s.id
FROM articles a
JOIN candidate_links cl ON cl.id = a.candidate_link_id
JOIN sources s ON s.host = cl.host
WHERE a.status = 'extracted'
  AND (($2::bigint IS NULL AND cl.dataset_id IS NULL) OR cl.dataset_id = $2)
ORDER BY a.id
LIMIT $1
FOR UPDATE OF a SKIP LOCKED`

	claimEntityExtractionSQL = `
SELECT a.id, cl.url, cl.host, cl.dataset_id, s.id
FROM articles a
JOIN candidate_links cl ON cl.id = a.candidate_link_id
JOIN sources s ON s.host = cl.host
WHERE a.status IN ('cleaned', 'wire', 'local', 'opinion', 'obituary')
  AND NOT EXISTS (SELECT 1 FROM article_entities e WHERE e.article_id = a.id)
  AND (($2::bigint IS NULL AND cl.dataset_id IS NULL) OR cl.dataset_id = $2)
ORDER BY a.id
LIMIT $1
FOR UPDATE OF a SKIP LOCKED`

	claimAnalysisSQL = `
SELECT a.id, cl.url, cl.host, cl.dataset_id, s.id
FROM articles a
JOIN candidate_links cl ON cl.id = a.candidate_link_id
JOIN sources s ON s.host = cl.host
WHERE a.status IN ('cleaned', 'local', 'opinion', 'obituary')
  AND a.primary_label IS NULL
  AND EXISTS (SELECT 1 FROM article_entities e WHERE e.article_id = a.id)
  AND (($2::bigint IS NULL AND cl.dataset_id IS NULL) OR cl.dataset_id = $2)
ORDER BY a.id
LIMIT $1
FOR UPDATE OF a SKIP LOCKED`
)

// ClaimPendingBatch selects up to limit pending items for the stage inside a
// transaction, locking each selected row with SKIP LOCKED so concurrent
// claimers never receive the same row: a contended row is skipped, not waited
// on. Statuses are advanced by the stage processor afterward, which is what
// keeps a claimed item out of the next cycle's selection.
func (s *QueueStore) ClaimPendingBatch(
	ctx context.Context,
	stage pipeline.Stage,
	limit int,
	datasetID *int64,
) ([]pipeline.WorkItem, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("claim %s: limit must be positive, got %d", stage, limit)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("claim %s: begin: %w", stage, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	var items []pipeline.WorkItem
	switch stage {
	case pipeline.StageDiscovery:
		items, err = s.claimSources(ctx, tx, limit)
	case pipeline.StageVerification:
		items, err = s.claimLinked(ctx, tx, claimVerificationSQL, pipeline.WorkCandidate, limit, datasetID)
	case pipeline.StageExtraction:
		items, err = s.claimLinked(ctx, tx, claimExtractionSQL, pipeline.WorkCandidate, limit, datasetID)
	case pipeline.StageCleaning:
		items, err = s.claimLinked(ctx, tx, claimCleaningSQL, pipeline.WorkArticle, limit, datasetID)
	case pipeline.StageEntityExtraction:
		items, err = s.claimLinked(ctx, tx, claimEntityExtractionSQL, pipeline.WorkArticle, limit, datasetID)
	case pipeline.StageAnalysis:
		items, err = s.claimLinked(ctx, tx, claimAnalysisSQL, pipeline.WorkArticle, limit, datasetID)
	default:
		return nil, fmt.Errorf("claim: unknown stage %q", stage)
	}
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", stage, err)
	}

	for _, item := range items {
		if item.Kind == pipeline.WorkSource {
			continue // sources are not dataset-scoped
		}
		if datasetMismatch(item.DatasetID, datasetID) {
			return nil, fmt.Errorf("%w: claim %s returned dataset %v under filter %v",
				pipeline.ErrInvariant, stage, fmtDataset(item.DatasetID), fmtDataset(datasetID))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("claim %s: commit: %w", stage, err)
	}
	return items, nil
}

func (s *QueueStore) claimSources(ctx context.Context, tx querier, limit int) ([]pipeline.WorkItem, error) {
	rows, err := tx.Query(ctx, claimDiscoverySQL, limit)
	if err != nil {
		return nil, fmt.Errorf("select due sources: %w", err)
	}
	defer rows.Close()

	var items []pipeline.WorkItem
	for rows.Next() {
		var (
			id   int64
			host string
			name string
		)
		if err := rows.Scan(&id, &host, &name); err != nil {
			return nil, fmt.Errorf("scan source row: %w", err)
		}
		items = append(items, pipeline.WorkItem{
			ID:       id,
			Kind:     pipeline.WorkSource,
			URL:      "https://" + host + "/",
			Host:     host,
			SourceID: id,
		})
	}
	return items, rows.Err()
}

func (s *QueueStore) claimLinked(
	ctx context.Context,
	tx querier,
	query string,
	kind pipeline.WorkKind,
	limit int,
	datasetID *int64,
) ([]pipeline.WorkItem, error) {
	rows, err := tx.Query(ctx, query, limit, datasetID)
	if err != nil {
		return nil, fmt.Errorf("select pending rows: %w", err)
	}
	defer rows.Close()

	var items []pipeline.WorkItem
	for rows.Next() {
		item := pipeline.WorkItem{Kind: kind}
		if err := rows.Scan(&item.ID, &item.URL, &item.Host, &item.DatasetID, &item.SourceID); err != nil {
			return nil, fmt.Errorf("scan work row: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

const pendingCountsSQL = `
SELECT
	(SELECT count(*) FROM sources
		WHERE last_discovery_at IS NULL
		   OR last_discovery_at + (discovery_interval_us * interval '1 microsecond') <= now()),
	(SELECT count(*) FROM candidate_links cl
		WHERE cl.status IN ('discovered', 'pending_verification')
		  AND (($1::bigint IS NULL AND cl.dataset_id IS NULL) OR cl.dataset_id = $1)),
	(SELECT count(*) FROM candidate_links cl
		WHERE cl.status = 'article'
		  AND NOT EXISTS (SELECT 1 FROM articles a WHERE a.candidate_link_id = cl.id)
		  AND (($1::bigint IS NULL AND cl.dataset_id IS NULL) OR cl.dataset_id = $1)),
	(SELECT count(*) FROM articles a
		JOIN candidate_links cl ON cl.id = a.candidate_link_id
		WHERE a.status = 'extracted'
		  AND (($1::bigint IS NULL AND cl.dataset_id IS NULL) OR cl.dataset_id = $1)),
	(SELECT count(*) FROM articles a
		JOIN candidate_links cl ON cl.id = a.candidate_link_id
		WHERE a.status IN ('cleaned', 'wire', 'local', 'opinion', 'obituary')
		  AND NOT EXISTS (SELECT 1 FROM article_entities e WHERE e.article_id = a.id)
		  AND (($1::bigint IS NULL AND cl.dataset_id IS NULL) OR cl.dataset_id = $1)),
	(SELECT count(*) FROM articles a
		JOIN candidate_links cl ON cl.id = a.candidate_link_id
		WHERE a.status IN ('cleaned', 'local', 'opinion', 'obituary')
		  AND a.primary_label IS NULL
		  AND EXISTS (SELECT 1 FROM article_entities e WHERE e.article_id = a.id)
		  AND (($1::bigint IS NULL AND cl.dataset_id IS NULL) OR cl.dataset_id = $1))`

// PendingCounts returns the work-queue depth per stage under the dataset
// filter, using the same predicates the claim queries use.
func (s *QueueStore) PendingCounts(ctx context.Context, datasetID *int64) (map[pipeline.Stage]int64, error) {
	counts := make([]int64, len(pipeline.StageOrder))
	err := s.db.QueryRow(ctx, pendingCountsSQL, datasetID).Scan(
		&counts[0], &counts[1], &counts[2], &counts[3], &counts[4], &counts[5],
	)
	if err != nil {
		return nil, fmt.Errorf("pending counts: %w", err)
	}
	out := make(map[pipeline.Stage]int64, len(pipeline.StageOrder))
	for i, stage := range pipeline.StageOrder {
		out[stage] = counts[i]
	}
	return out, nil
}

func datasetMismatch(got, want *int64) bool {
	if want == nil {
		return got != nil
	}
	return got == nil || *got != *want
}

func fmtDataset(id *int64) string {
	if id == nil {
		return "<null>"
	}
	return fmt.Sprintf("%d", *id)
}

package postgres

import (
	"context"
	"fmt"

	"github.com/localnewslab/newsminer/internal/pipeline"
	"github.com/localnewslab/newsminer/internal/store"
)

// CandidateStore implements store.CandidateRepository using Postgres.
type CandidateStore struct {
	db DB
}

// NewCandidateStore constructs a CandidateStore over an existing pool.
func NewCandidateStore(db DB) (*CandidateStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &CandidateStore{db: db}, nil
}

// InsertDiscovered inserts links at status discovered. A URL already present
// for the same dataset is skipped, which makes repeated discovery runs of the
// same front page idempotent. Returns the number actually inserted.
func (s *CandidateStore) InsertDiscovered(ctx context.Context, links []pipeline.CandidateLink) (int64, error) {
	query := `
		INSERT INTO candidate_links (url, host, status, dataset_id, discovered_at)
		VALUES ($1, $2, 'discovered', $3, $4)
		ON CONFLICT (url, dataset_id) DO NOTHING`
	var inserted int64
	for _, link := range links {
		res, err := s.db.Exec(ctx, query, link.URL, link.Host, link.DatasetID, link.DiscoveredAt)
		if err != nil {
			return inserted, fmt.Errorf("insert candidate %q: %w", link.URL, err)
		}
		inserted += res.RowsAffected()
	}
	return inserted, nil
}

// AdvanceStatus moves a link from one status to the next. The guard on the
// current status means a row another worker already advanced is left alone
// and reported as a stale claim.
func (s *CandidateStore) AdvanceStatus(ctx context.Context, id int64, from, to pipeline.LinkStatus) error {
	query := `UPDATE candidate_links SET status = $1 WHERE id = $2 AND status = $3`
	res, err := s.db.Exec(ctx, query, to, id, from)
	if err != nil {
		return fmt.Errorf("advance candidate %d to %s: %w", id, to, err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrStaleClaim
	}
	return nil
}

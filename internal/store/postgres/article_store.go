package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/localnewslab/newsminer/internal/pipeline"
	"github.com/localnewslab/newsminer/internal/store"
)

// ArticleStore implements store.ArticleRepository using Postgres.
type ArticleStore struct {
	db DB
}

// NewArticleStore constructs an ArticleStore over an existing pool.
func NewArticleStore(db DB) (*ArticleStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &ArticleStore{db: db}, nil
}

// CreateArticle inserts a new article at status extracted and returns its ID.
func (s *ArticleStore) CreateArticle(ctx context.Context, a pipeline.Article) (int64, error) {
	query := `
		INSERT INTO articles (candidate_link_id, status, title, author, content, content_hash, published_at)
		VALUES ($1, 'extracted', $2, $3, $4, $5, $6)
		RETURNING id`
	var id int64
	err := s.db.QueryRow(ctx, query,
		a.CandidateLinkID,
		a.Title,
		a.Author,
		a.Content,
		a.ContentHash,
		a.PublishedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create article for candidate %d: %w", a.CandidateLinkID, err)
	}
	return id, nil
}

// GetArticle loads a single article by ID.
func (s *ArticleStore) GetArticle(ctx context.Context, id int64) (pipeline.Article, error) {
	query := `
		SELECT id, candidate_link_id, status, title, author, content, content_hash,
		       published_at, primary_label, secondary_label
		FROM articles
		WHERE id = $1`
	var a pipeline.Article
	err := s.db.QueryRow(ctx, query, id).Scan(
		&a.ID,
		&a.CandidateLinkID,
		&a.Status,
		&a.Title,
		&a.Author,
		&a.Content,
		&a.ContentHash,
		&a.PublishedAt,
		&a.PrimaryLabel,
		&a.SecondaryLabel,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pipeline.Article{}, store.ErrNotFound
		}
		return pipeline.Article{}, fmt.Errorf("get article %d: %w", id, err)
	}
	return a, nil
}

// AdvanceStatus moves an article forward in the pipeline. The guard on the
// expected current status enforces monotonic progression: a row another
// worker already advanced matches nothing and is reported as a stale claim.
func (s *ArticleStore) AdvanceStatus(ctx context.Context, id int64, from, to pipeline.ArticleStatus) error {
	query := `UPDATE articles SET status = $1 WHERE id = $2 AND status = $3`
	res, err := s.db.Exec(ctx, query, to, id, from)
	if err != nil {
		return fmt.Errorf("advance article %d to %s: %w", id, to, err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrStaleClaim
	}
	return nil
}

// MarkError moves an article to the error status unconditionally. Used when a
// stage has exhausted its retry budget; the row stops matching every pending
// query regardless of where it was stuck.
func (s *ArticleStore) MarkError(ctx context.Context, id int64) error {
	query := `UPDATE articles SET status = 'error' WHERE id = $1`
	res, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark article %d error: %w", id, err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// UpdateContent replaces the article body and hash after normalization.
func (s *ArticleStore) UpdateContent(ctx context.Context, id int64, content, contentHash string) error {
	query := `UPDATE articles SET content = $1, content_hash = $2 WHERE id = $3`
	res, err := s.db.Exec(ctx, query, content, contentHash, id)
	if err != nil {
		return fmt.Errorf("update content for article %d: %w", id, err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SetLabels stores the classification outputs from the analysis stage.
func (s *ArticleStore) SetLabels(ctx context.Context, id int64, primary, secondary *string) error {
	query := `UPDATE articles SET primary_label = $1, secondary_label = $2 WHERE id = $3`
	res, err := s.db.Exec(ctx, query, primary, secondary, id)
	if err != nil {
		return fmt.Errorf("set labels for article %d: %w", id, err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// InsertEntities stores the extracted entity set inside one transaction. An
// empty set inserts the sentinel row, so every article that completed entity
// extraction has at least one row and drops out of the pending query. An
// article that already has rows is left untouched, making a repeated run a
// no-op.
func (s *ArticleStore) InsertEntities(ctx context.Context, articleID int64, entities []pipeline.ArticleEntity) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("insert entities for article %d: begin: %w", articleID, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM article_entities WHERE article_id = $1)`, articleID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("insert entities for article %d: check existing: %w", articleID, err)
	}
	if exists {
		return tx.Commit(ctx)
	}

	if len(entities) == 0 {
		entities = []pipeline.ArticleEntity{{
			EntityText:  pipeline.SentinelEntityText,
			EntityLabel: pipeline.SentinelEntityLabel,
		}}
	}
	insert := `INSERT INTO article_entities (article_id, entity_text, entity_label) VALUES ($1, $2, $3)`
	for _, ent := range entities {
		if _, err := tx.Exec(ctx, insert, articleID, ent.EntityText, ent.EntityLabel); err != nil {
			return fmt.Errorf("insert entity for article %d: %w", articleID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("insert entities for article %d: commit: %w", articleID, err)
	}
	return nil
}

package postgres

import (
	"context"
	"fmt"

	"github.com/localnewslab/newsminer/internal/telemetry"
)

// TelemetryStore implements store.TelemetryRepository using Postgres.
type TelemetryStore struct {
	db DB
}

// NewTelemetryStore constructs a TelemetryStore over an existing pool.
func NewTelemetryStore(db DB) (*TelemetryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &TelemetryStore{db: db}, nil
}

// AppendTelemetry writes a flushed batch of flattened event rows.
func (s *TelemetryStore) AppendTelemetry(ctx context.Context, rows []telemetry.Record) error {
	query := `
		INSERT INTO telemetry_events (
			kind, host, stage, url, status_code, bytes, duration_ms,
			pending, cache_name, cache_hit, note, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	for _, rec := range rows {
		_, err := s.db.Exec(ctx, query,
			rec.Kind,
			rec.Host,
			rec.Stage,
			rec.URL,
			rec.StatusCode,
			rec.Bytes,
			rec.DurationMS,
			rec.Pending,
			rec.CacheName,
			rec.CacheHit,
			rec.Note,
			rec.At,
		)
		if err != nil {
			return fmt.Errorf("append telemetry row: %w", err)
		}
	}
	return nil
}

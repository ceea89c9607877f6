package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/localnewslab/newsminer/internal/pipeline"
	"github.com/localnewslab/newsminer/internal/store"
)

// SourceStore implements store.SourceRepository using Postgres. It also
// satisfies the sensitivity manager's write-through store.
type SourceStore struct {
	db DB
}

// NewSourceStore constructs a SourceStore over an existing pool.
func NewSourceStore(db DB) (*SourceStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &SourceStore{db: db}, nil
}

const sourceColumns = `id, host, canonical_name, bot_sensitivity, bot_sensitivity_updated_at,
	bot_encounters, last_bot_detection_at, discovery_interval_us, last_discovery_at`

// GetSourceByHost loads a single source by its host label.
func (s *SourceStore) GetSourceByHost(ctx context.Context, host string) (pipeline.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE host = $1`
	var src pipeline.Source
	err := s.db.QueryRow(ctx, query, host).Scan(
		&src.ID,
		&src.Host,
		&src.CanonicalName,
		&src.BotSensitivity,
		&src.BotSensitivityAt,
		&src.BotEncounters,
		&src.LastBotDetectionAt,
		&src.DiscoveryIntervalUS,
		&src.LastDiscoveryAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pipeline.Source{}, store.ErrNotFound
		}
		return pipeline.Source{}, fmt.Errorf("get source %q: %w", host, err)
	}
	return src, nil
}

// ListSources returns every registered source ordered by host.
func (s *SourceStore) ListSources(ctx context.Context) ([]pipeline.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources ORDER BY host`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var sources []pipeline.Source
	for rows.Next() {
		var src pipeline.Source
		err := rows.Scan(
			&src.ID,
			&src.Host,
			&src.CanonicalName,
			&src.BotSensitivity,
			&src.BotSensitivityAt,
			&src.BotEncounters,
			&src.LastBotDetectionAt,
			&src.DiscoveryIntervalUS,
			&src.LastDiscoveryAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan source row: %w", err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// UpsertSource registers a host or refreshes its registration fields. The
// sensitivity columns are owned by the manager and left untouched on update.
func (s *SourceStore) UpsertSource(ctx context.Context, src pipeline.Source) error {
	query := `
		INSERT INTO sources (host, canonical_name, discovery_interval_us)
		VALUES ($1, $2, $3)
		ON CONFLICT (host) DO UPDATE
		SET canonical_name = EXCLUDED.canonical_name,
		    discovery_interval_us = EXCLUDED.discovery_interval_us`
	if _, err := s.db.Exec(ctx, query, src.Host, src.CanonicalName, src.DiscoveryIntervalUS); err != nil {
		return fmt.Errorf("upsert source %q: %w", src.Host, err)
	}
	return nil
}

// UpdateSensitivity writes a sensitivity change through to the store. A
// detection-driven change also bumps the encounter counter and detection
// timestamp; decay leaves those untouched.
func (s *SourceStore) UpdateSensitivity(
	ctx context.Context,
	host string,
	sensitivity int,
	at time.Time,
	detection bool,
) error {
	var query string
	if detection {
		query = `
			UPDATE sources
			SET bot_sensitivity = $1,
			    bot_sensitivity_updated_at = $2,
			    bot_encounters = bot_encounters + 1,
			    last_bot_detection_at = $2
			WHERE host = $3`
	} else {
		query = `
			UPDATE sources
			SET bot_sensitivity = $1,
			    bot_sensitivity_updated_at = $2
			WHERE host = $3`
	}
	res, err := s.db.Exec(ctx, query, sensitivity, at, host)
	if err != nil {
		return fmt.Errorf("update sensitivity for %q: %w", host, err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// MarkDiscovered records a completed discovery run against the schedule.
func (s *SourceStore) MarkDiscovered(ctx context.Context, sourceID int64, at time.Time) error {
	query := `UPDATE sources SET last_discovery_at = $1 WHERE id = $2`
	res, err := s.db.Exec(ctx, query, at, sourceID)
	if err != nil {
		return fmt.Errorf("mark discovered for source %d: %w", sourceID, err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// RecordBotDetection appends one row to the append-only detection log.
func (s *SourceStore) RecordBotDetection(ctx context.Context, event pipeline.BotDetectionEvent) error {
	query := `
		INSERT INTO bot_detection_events (host, event_type, detected_at, previous_sensitivity, new_sensitivity)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := s.db.Exec(ctx, query,
		event.Host,
		event.EventType,
		event.DetectedAt,
		event.PreviousSensitivity,
		event.NewSensitivity,
	)
	if err != nil {
		return fmt.Errorf("record bot detection for %q: %w", event.Host, err)
	}
	return nil
}

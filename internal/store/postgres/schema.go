package postgres

import (
	"context"
	"fmt"
)

// Schema is the full table layout. Applied by the schema CLI command; every
// statement is idempotent so re-applying is safe.
const Schema = `
CREATE TABLE IF NOT EXISTS sources (
	id BIGSERIAL PRIMARY KEY,
	host TEXT NOT NULL UNIQUE,
	canonical_name TEXT NOT NULL DEFAULT '',
	bot_sensitivity INT NOT NULL DEFAULT 5,
	bot_sensitivity_updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	bot_encounters BIGINT NOT NULL DEFAULT 0,
	last_bot_detection_at TIMESTAMPTZ,
	discovery_interval_us BIGINT NOT NULL DEFAULT 3600000000,
	last_discovery_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS candidate_links (
	id BIGSERIAL PRIMARY KEY,
	url TEXT NOT NULL,
	host TEXT NOT NULL REFERENCES sources(host),
	status TEXT NOT NULL DEFAULT 'discovered',
	dataset_id BIGINT,
	discovered_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE NULLS NOT DISTINCT (url, dataset_id)
);

CREATE INDEX IF NOT EXISTS idx_candidate_links_status ON candidate_links (status);

CREATE TABLE IF NOT EXISTS articles (
	id BIGSERIAL PRIMARY KEY,
	candidate_link_id BIGINT NOT NULL UNIQUE REFERENCES candidate_links(id),
	status TEXT NOT NULL DEFAULT 'extracted',
	title TEXT NOT NULL DEFAULT '',
	author TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL DEFAULT '',
	published_at TIMESTAMPTZ,
	primary_label TEXT,
	secondary_label TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_articles_status ON articles (status);

CREATE TABLE IF NOT EXISTS article_entities (
	id BIGSERIAL PRIMARY KEY,
	article_id BIGINT NOT NULL REFERENCES articles(id),
	entity_text TEXT NOT NULL,
	entity_label TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_article_entities_article ON article_entities (article_id);

CREATE TABLE IF NOT EXISTS bot_detection_events (
	id BIGSERIAL PRIMARY KEY,
	host TEXT NOT NULL,
	event_type TEXT NOT NULL,
	detected_at TIMESTAMPTZ NOT NULL,
	previous_sensitivity INT NOT NULL,
	new_sensitivity INT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bot_detection_events_host ON bot_detection_events (host, detected_at);

CREATE TABLE IF NOT EXISTS telemetry_events (
	id BIGSERIAL PRIMARY KEY,
	kind TEXT NOT NULL,
	host TEXT NOT NULL DEFAULT '',
	stage TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	status_code INT NOT NULL DEFAULT 0,
	bytes BIGINT NOT NULL DEFAULT 0,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	pending BIGINT NOT NULL DEFAULT 0,
	cache_name TEXT NOT NULL DEFAULT '',
	cache_hit BOOLEAN NOT NULL DEFAULT FALSE,
	note TEXT NOT NULL DEFAULT '',
	occurred_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS gazetteer_places (
	id BIGSERIAL PRIMARY KEY,
	source_id BIGINT NOT NULL REFERENCES sources(id),
	dataset_id BIGINT,
	name TEXT NOT NULL,
	kind TEXT NOT NULL DEFAULT '',
	lat DOUBLE PRECISION NOT NULL DEFAULT 0,
	lon DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_gazetteer_places_key ON gazetteer_places (source_id, dataset_id);
`

// InitSchema applies the schema to the connected database.
func InitSchema(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

package postgres

import (
	"context"
	"fmt"

	"github.com/localnewslab/newsminer/internal/pipeline"
)

// GazetteerStore serves place-name reference data from Postgres. It satisfies
// pipeline.GazetteerProvider; callers wrap it in a gazetteer.BatchCache so a
// batch sharing one (source, dataset) key scans the table once, not N times.
type GazetteerStore struct {
	db DB
}

// NewGazetteerStore constructs a GazetteerStore over an existing pool.
func NewGazetteerStore(db DB) (*GazetteerStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &GazetteerStore{db: db}, nil
}

// LoadGazetteer returns every place entry for the source's coverage area
// under the dataset filter.
func (s *GazetteerStore) LoadGazetteer(ctx context.Context, sourceID int64, datasetID *int64) ([]pipeline.PlaceEntry, error) {
	query := `
		SELECT name, kind, lat, lon
		FROM gazetteer_places
		WHERE source_id = $1
		  AND (($2::bigint IS NULL AND dataset_id IS NULL) OR dataset_id = $2)
		ORDER BY name`
	rows, err := s.db.Query(ctx, query, sourceID, datasetID)
	if err != nil {
		return nil, fmt.Errorf("load gazetteer for source %d: %w", sourceID, err)
	}
	defer rows.Close()

	var entries []pipeline.PlaceEntry
	for rows.Next() {
		var entry pipeline.PlaceEntry
		if err := rows.Scan(&entry.Name, &entry.Kind, &entry.Lat, &entry.Lon); err != nil {
			return nil, fmt.Errorf("scan gazetteer row: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/localnewslab/newsminer/internal/telemetry"
)

func TestAppendTelemetryWritesEveryRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	events, err := NewTelemetryStore(mock)
	require.NoError(t, err)

	at := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("INSERT INTO telemetry_events").
		WithArgs(telemetry.KindFetchOutcome, "a.com", "", "https://a.com/x", 200,
			int64(1024), int64(350), int64(0), "", false, "", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO telemetry_events").
		WithArgs(telemetry.KindQueueDepth, "", "cleaning", "", 0,
			int64(0), int64(0), int64(12), "", false, "", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = events.AppendTelemetry(context.Background(), []telemetry.Record{
		{Kind: telemetry.KindFetchOutcome, Host: "a.com", URL: "https://a.com/x",
			StatusCode: 200, Bytes: 1024, DurationMS: 350, At: at},
		{Kind: telemetry.KindQueueDepth, Stage: "cleaning", Pending: 12, At: at},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadGazetteerFiltersByDataset(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	places, err := NewGazetteerStore(mock)
	require.NoError(t, err)

	mock.ExpectQuery(sqlShape(
		"FROM gazetteer_places",
		"(($2::bigint IS NULL AND dataset_id IS NULL) OR dataset_id = $2)",
	)).
		WithArgs(int64(3), ptr(42)).
		WillReturnRows(pgxmock.NewRows([]string{"name", "kind", "lat", "lon"}).
			AddRow("Columbia", "city", 38.95, -92.33).
			AddRow("Boone County", "county", 39.02, -92.31))

	entries, err := places.LoadGazetteer(context.Background(), 3, ptr(42))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "Columbia", entries[0].Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

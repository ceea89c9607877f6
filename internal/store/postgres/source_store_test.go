package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/localnewslab/newsminer/internal/pipeline"
	"github.com/localnewslab/newsminer/internal/store"
)

func TestGetSourceByHost(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sources, err := NewSourceStore(mock)
	require.NoError(t, err)

	updatedAt := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("FROM sources WHERE host").
		WithArgs("a.com").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "host", "canonical_name", "bot_sensitivity", "bot_sensitivity_updated_at",
			"bot_encounters", "last_bot_detection_at", "discovery_interval_us", "last_discovery_at",
		}).AddRow(
			int64(3), "a.com", "The A Times", 5, updatedAt,
			int64(0), (*time.Time)(nil), int64(3600000000), (*time.Time)(nil),
		))

	src, err := sources.GetSourceByHost(context.Background(), "a.com")
	require.NoError(t, err)
	require.Equal(t, "a.com", src.Host)
	require.Equal(t, 5, src.BotSensitivity)
	require.Nil(t, src.LastBotDetectionAt)
	require.Equal(t, time.Hour, src.DiscoveryInterval())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSourceByHostNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sources, err := NewSourceStore(mock)
	require.NoError(t, err)

	mock.ExpectQuery("FROM sources WHERE host").
		WithArgs("missing.com").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "host", "canonical_name", "bot_sensitivity", "bot_sensitivity_updated_at",
			"bot_encounters", "last_bot_detection_at", "discovery_interval_us", "last_discovery_at",
		}))

	_, err = sources.GetSourceByHost(context.Background(), "missing.com")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSensitivityDetectionBumpsEncounters(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sources, err := NewSourceStore(mock)
	require.NoError(t, err)

	at := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec(sqlShape(
		"UPDATE sources",
		"bot_encounters = bot_encounters + 1",
		"last_bot_detection_at = $2",
	)).
		WithArgs(8, at, "a.com").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, sources.UpdateSensitivity(context.Background(), "a.com", 8, at, true))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSensitivityDecayLeavesEncounters(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sources, err := NewSourceStore(mock)
	require.NoError(t, err)

	at := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec(sqlShape(
		"UPDATE sources",
		"bot_sensitivity = $1",
		"bot_sensitivity_updated_at = $2",
	)).
		WithArgs(6, at, "a.com").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, sources.UpdateSensitivity(context.Background(), "a.com", 6, at, false))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSensitivityUnknownHost(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sources, err := NewSourceStore(mock)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE sources").
		WithArgs(8, pgxmock.AnyArg(), "missing.com").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = sources.UpdateSensitivity(context.Background(), "missing.com", 8, time.Now(), true)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordBotDetection(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sources, err := NewSourceStore(mock)
	require.NoError(t, err)

	at := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("INSERT INTO bot_detection_events").
		WithArgs("a.com", pipeline.DetectionCaptcha, at, 5, 8).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = sources.RecordBotDetection(context.Background(), pipeline.BotDetectionEvent{
		Host:                "a.com",
		EventType:           pipeline.DetectionCaptcha,
		DetectedAt:          at,
		PreviousSensitivity: 5,
		NewSensitivity:      8,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkDiscovered(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sources, err := NewSourceStore(mock)
	require.NoError(t, err)

	at := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("UPDATE sources SET last_discovery_at").
		WithArgs(at, int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, sources.MarkDiscovered(context.Background(), 3, at))
	require.NoError(t, mock.ExpectationsWereMet())
}

package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/localnewslab/newsminer/internal/telemetry"
)

// EventRepository persists flattened telemetry rows. The Postgres store
// implements it.
type EventRepository interface {
	AppendTelemetry(ctx context.Context, rows []telemetry.Record) error
}

// StoreSink persists telemetry batches via an EventRepository.
type StoreSink struct {
	repo   EventRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo EventRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume flattens the batch and appends it in one repository call. It
// respects ctx deadlines and returns any repository errors verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []telemetry.Event) error {
	if s == nil || s.repo == nil || len(batch) == 0 {
		return nil
	}
	rows := make([]telemetry.Record, 0, len(batch))
	for _, evt := range batch {
		rows = append(rows, telemetry.Flatten(evt))
	}
	if err := s.repo.AppendTelemetry(ctx, rows); err != nil {
		return fmt.Errorf("append telemetry: %w", err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

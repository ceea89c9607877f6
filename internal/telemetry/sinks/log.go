package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/localnewslab/newsminer/internal/telemetry"
)

// LogSink emits structured logs for debugging telemetry streams. It is useful
// during development or audits where a durable store is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []telemetry.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("kind", string(evt.Kind())),
			zap.Time("at", evt.OccurredAt()),
		}
		switch e := evt.(type) {
		case telemetry.FetchOutcome:
			fields = append(fields,
				zap.String("host", e.Host),
				zap.String("url", e.URL),
				zap.Int("status", e.StatusCode),
				zap.Int64("bytes", e.Bytes),
				zap.Duration("dur", e.Duration),
			)
		case telemetry.Detection:
			fields = append(fields,
				zap.String("host", e.Host),
				zap.String("type", string(e.Type)),
			)
		case telemetry.QueueDepth:
			fields = append(fields,
				zap.String("stage", string(e.Stage)),
				zap.Int64("pending", e.Pending),
			)
		case telemetry.CacheAccess:
			fields = append(fields,
				zap.String("cache", e.Cache),
				zap.Bool("hit", e.Hit),
			)
		case telemetry.StageError:
			fields = append(fields,
				zap.String("stage", string(e.Stage)),
				zap.String("host", e.Host),
				zap.String("note", e.Note),
			)
		case telemetry.RunLifecycle:
			fields = append(fields,
				zap.String("run_id", e.RunID),
				zap.String("phase", string(e.Phase)),
				zap.String("note", e.Note),
			)
		}
		s.logger.Info("telemetry event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

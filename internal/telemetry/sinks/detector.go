package sinks

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/localnewslab/newsminer/internal/pipeline"
	"github.com/localnewslab/newsminer/internal/telemetry"
)

// SensitivityAdjuster is the slice of the botsense manager this sink drives.
type SensitivityAdjuster interface {
	HandleDetection(ctx context.Context, host string, eventType pipeline.DetectionType, at time.Time) (bool, error)
}

// DetectorSink is the adaptive feedback path: it forwards Detection events
// from the telemetry stream into the bot-sensitivity manager. Escalation
// failures are logged, never propagated, so a store hiccup cannot stall the
// telemetry hub.
type DetectorSink struct {
	adjuster SensitivityAdjuster
	logger   *zap.Logger
}

// NewDetectorSink wires the botsense manager to the telemetry stream.
func NewDetectorSink(adjuster SensitivityAdjuster, logger *zap.Logger) *DetectorSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DetectorSink{adjuster: adjuster, logger: logger}
}

// Consume forwards each Detection event to the adjuster.
func (s *DetectorSink) Consume(ctx context.Context, batch []telemetry.Event) error {
	if s == nil || s.adjuster == nil {
		return nil
	}
	for _, evt := range batch {
		det, ok := evt.(telemetry.Detection)
		if !ok {
			continue
		}
		if _, err := s.adjuster.HandleDetection(ctx, det.Host, det.Type, det.At); err != nil {
			s.logger.Warn("sensitivity adjustment failed",
				zap.String("host", det.Host),
				zap.String("type", string(det.Type)),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *DetectorSink) Close(context.Context) error {
	return nil
}

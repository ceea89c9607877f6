package sinks

import (
	"context"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/localnewslab/newsminer/internal/telemetry"
)

// PrometheusSink exports pipeline telemetry via Prometheus. It owns all
// collectors for fetch outcomes, detections, queue depths and cache accesses.
type PrometheusSink struct {
	fetchRequests *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	detections    *prometheus.CounterVec
	queueDepth    *prometheus.GaugeVec
	cacheAccesses *prometheus.CounterVec
	stageErrors   *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		fetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_fetch_requests_total",
			Help: "Fetch completions partitioned by host and status code.",
		}, []string{"host", "status"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_fetch_bytes_total",
			Help: "Bytes downloaded per host.",
		}, []string{"host"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_fetch_duration_seconds",
			Help:    "Fetch duration partitioned by host.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"host"}),
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_bot_detections_total",
			Help: "Bot-detection signals partitioned by host and type.",
		}, []string{"host", "type"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pipeline_stage_pending",
			Help: "Pending work items per stage after the last poll cycle.",
		}, []string{"stage"}),
		cacheAccesses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_cache_accesses_total",
			Help: "Reference-data cache accesses partitioned by cache and result.",
		}, []string{"cache", "result"}),
		stageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_stage_errors_total",
			Help: "Contained stage processing errors partitioned by stage.",
		}, []string{"stage"}),
	}
	for _, collector := range []prometheus.Collector{
		s.fetchRequests,
		s.fetchBytes,
		s.fetchDuration,
		s.detections,
		s.queueDepth,
		s.cacheAccesses,
		s.stageErrors,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register telemetry collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []telemetry.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt telemetry.Event) {
	switch e := evt.(type) {
	case telemetry.FetchOutcome:
		s.fetchRequests.WithLabelValues(e.Host, strconv.Itoa(e.StatusCode)).Inc()
		if e.Bytes > 0 {
			s.fetchBytes.WithLabelValues(e.Host).Add(float64(e.Bytes))
		}
		if e.Duration > 0 {
			s.fetchDuration.WithLabelValues(e.Host).Observe(e.Duration.Seconds())
		}
	case telemetry.Detection:
		s.detections.WithLabelValues(e.Host, string(e.Type)).Inc()
	case telemetry.QueueDepth:
		s.queueDepth.WithLabelValues(string(e.Stage)).Set(float64(e.Pending))
	case telemetry.CacheAccess:
		result := "miss"
		if e.Hit {
			result = "hit"
		}
		s.cacheAccesses.WithLabelValues(e.Cache, result).Inc()
	case telemetry.StageError:
		s.stageErrors.WithLabelValues(string(e.Stage)).Inc()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

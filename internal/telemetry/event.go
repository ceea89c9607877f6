// Package telemetry defines the event structures emitted by pipeline stages
// and the asynchronous hub that fans them out to sinks.
package telemetry

import (
	"errors"
	"fmt"
	"time"

	"github.com/localnewslab/newsminer/internal/pipeline"
)

// Kind discriminates the event variants.
type Kind string

// Supported event kinds.
const (
	KindFetchOutcome Kind = "FETCH_OUTCOME"
	KindDetection    Kind = "DETECTION"
	KindQueueDepth   Kind = "QUEUE_DEPTH"
	KindCacheAccess  Kind = "CACHE_ACCESS"
	KindStageError   Kind = "STAGE_ERROR"
	KindRunLifecycle Kind = "RUN_LIFECYCLE"
)

// Event is one telemetry record. Each kind is its own struct with typed
// fields; there is deliberately no map-payload variant.
type Event interface {
	Kind() Kind
	OccurredAt() time.Time
	Validate() error
}

// FetchOutcome records one completed fetch attempt.
type FetchOutcome struct {
	Host       string
	URL        string
	StatusCode int
	Bytes      int64
	Duration   time.Duration
	At         time.Time
}

// Kind implements Event.
func (e FetchOutcome) Kind() Kind { return KindFetchOutcome }

// OccurredAt implements Event.
func (e FetchOutcome) OccurredAt() time.Time { return e.At }

// Validate implements Event.
func (e FetchOutcome) Validate() error {
	if e.Host == "" {
		return errors.New("fetch outcome requires host")
	}
	if e.At.IsZero() {
		return errors.New("fetch outcome requires timestamp")
	}
	if e.Duration < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Detection records a bot-blocking signal observed against a host. The
// botsense manager consumes these through the detector sink.
type Detection struct {
	Host string
	Type pipeline.DetectionType
	At   time.Time
}

// Kind implements Event.
func (e Detection) Kind() Kind { return KindDetection }

// OccurredAt implements Event.
func (e Detection) OccurredAt() time.Time { return e.At }

// Validate implements Event.
func (e Detection) Validate() error {
	if e.Host == "" {
		return errors.New("detection requires host")
	}
	if e.Type == "" {
		return errors.New("detection requires type")
	}
	if e.At.IsZero() {
		return errors.New("detection requires timestamp")
	}
	return nil
}

// QueueDepth records a stage's pending-work count after a poll cycle.
type QueueDepth struct {
	Stage   pipeline.Stage
	Pending int64
	At      time.Time
}

// Kind implements Event.
func (e QueueDepth) Kind() Kind { return KindQueueDepth }

// OccurredAt implements Event.
func (e QueueDepth) OccurredAt() time.Time { return e.At }

// Validate implements Event.
func (e QueueDepth) Validate() error {
	if e.Stage == "" {
		return errors.New("queue depth requires stage")
	}
	if e.Pending < 0 {
		return errors.New("pending must be >= 0")
	}
	if e.At.IsZero() {
		return errors.New("queue depth requires timestamp")
	}
	return nil
}

// CacheAccess records a reference-data cache hit or miss.
type CacheAccess struct {
	Cache string
	Hit   bool
	At    time.Time
}

// Kind implements Event.
func (e CacheAccess) Kind() Kind { return KindCacheAccess }

// OccurredAt implements Event.
func (e CacheAccess) OccurredAt() time.Time { return e.At }

// Validate implements Event.
func (e CacheAccess) Validate() error {
	if e.Cache == "" {
		return errors.New("cache access requires cache name")
	}
	if e.At.IsZero() {
		return errors.New("cache access requires timestamp")
	}
	return nil
}

// StageError records a contained per-item or per-stage processing failure.
type StageError struct {
	Stage pipeline.Stage
	Host  string
	Note  string
	At    time.Time
}

// Kind implements Event.
func (e StageError) Kind() Kind { return KindStageError }

// OccurredAt implements Event.
func (e StageError) OccurredAt() time.Time { return e.At }

// Validate implements Event.
func (e StageError) Validate() error {
	if e.Stage == "" {
		return errors.New("stage error requires stage")
	}
	if e.At.IsZero() {
		return errors.New("stage error requires timestamp")
	}
	return nil
}

// RunPhase marks orchestrator run lifecycle transitions.
type RunPhase string

// Run lifecycle phases.
const (
	RunStarted  RunPhase = "started"
	RunStopped  RunPhase = "stopped"
	RunDegraded RunPhase = "degraded"
)

// RunLifecycle records orchestrator process lifecycle milestones. RunID is
// whatever the orchestrator's ID generator produced for the run.
type RunLifecycle struct {
	RunID string
	Phase RunPhase
	Note  string
	At    time.Time
}

// Kind implements Event.
func (e RunLifecycle) Kind() Kind { return KindRunLifecycle }

// OccurredAt implements Event.
func (e RunLifecycle) OccurredAt() time.Time { return e.At }

// Validate implements Event.
func (e RunLifecycle) Validate() error {
	if e.RunID == "" {
		return errors.New("run lifecycle requires run id")
	}
	switch e.Phase {
	case RunStarted, RunStopped, RunDegraded:
	default:
		return fmt.Errorf("unknown run phase %q", e.Phase)
	}
	if e.At.IsZero() {
		return errors.New("run lifecycle requires timestamp")
	}
	return nil
}

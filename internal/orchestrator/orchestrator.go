// Package orchestrator runs the continuous polling loop that drives the
// pipeline stages.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/localnewslab/newsminer/internal/config"
	"github.com/localnewslab/newsminer/internal/pipeline"
	"github.com/localnewslab/newsminer/internal/stages"
	"github.com/localnewslab/newsminer/internal/store"
	"github.com/localnewslab/newsminer/internal/telemetry"
)

// Orchestrator polls the stage query layer in a fixed dependency order and
// hands claimed batches to the stage processors. It is a polling loop, not an
// event-driven design: the workload is bounded by site politeness, not CPU.
type Orchestrator struct {
	queue      store.QueueRepository
	processors []stages.Processor
	stagesCfg  config.StagesConfig
	batch      config.BatchConfig
	dataset    *int64
	idle       time.Duration
	backoff    time.Duration
	emitter    telemetry.Emitter
	ids        pipeline.IDGenerator
	clock      pipeline.Clock
	logger     *zap.Logger
	runID      string

	// sleep is context-aware and injectable for tests.
	sleep func(ctx context.Context, d time.Duration)

	// disabled holds stages halted for the process lifetime after an
	// invariant violation. Distinct from the config enable flags, which are
	// immutable operator intent.
	disabled map[pipeline.Stage]bool
}

// New constructs an Orchestrator. Processors must be supplied in pipeline
// dependency order; the loop never reorders them.
func New(
	queue store.QueueRepository,
	processors []stages.Processor,
	orchCfg config.OrchConfig,
	stagesCfg config.StagesConfig,
	batch config.BatchConfig,
	emitter telemetry.Emitter,
	ids pipeline.IDGenerator,
	clock pipeline.Clock,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		queue:      queue,
		processors: processors,
		stagesCfg:  stagesCfg,
		batch:      batch,
		dataset:    orchCfg.Dataset(),
		idle:       orchCfg.IdleInterval(),
		backoff:    orchCfg.ErrorBackoff(),
		emitter:    emitter,
		ids:        ids,
		clock:      clock,
		logger:     logger,
		sleep:      sleepCtx,
		disabled:   make(map[pipeline.Stage]bool),
	}
}

// Run polls until the context is cancelled. Cancellation lets the in-flight
// batch finish or abandon cleanly; item statuses are only advanced by
// processors, so abandoned items are simply retried later.
func (o *Orchestrator) Run(ctx context.Context) error {
	runID, err := o.ids.NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	o.runID = runID

	o.emitter.Emit(telemetry.RunLifecycle{
		RunID: o.runID, Phase: telemetry.RunStarted, At: o.clock.Now(),
	})
	o.logger.Info("orchestrator started", zap.String("run_id", o.runID))
	defer func() {
		o.emitter.Emit(telemetry.RunLifecycle{
			RunID: o.runID, Phase: telemetry.RunStopped, At: o.clock.Now(),
		})
		o.logger.Info("orchestrator stopped", zap.String("run_id", o.runID))
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		busy, err := o.cycle(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			// Store connectivity loss fails the whole cycle; back off and
			// retry rather than crash.
			o.logger.Error("poll cycle failed", zap.Error(err))
			o.sleep(ctx, o.backoff)
			continue
		}
		if !busy {
			o.sleep(ctx, o.idle)
		}
	}
}

// cycle runs one poll over every enabled stage. It reports whether any stage
// had work, which decides whether the loop sleeps before polling again.
func (o *Orchestrator) cycle(ctx context.Context) (bool, error) {
	busy := false
	for _, proc := range o.processors {
		stage := proc.Stage()
		if !o.stagesCfg.Enabled(stage) || o.disabled[stage] {
			continue
		}

		items, err := o.queue.ClaimPendingBatch(ctx, stage, o.batch.Limit(stage), o.dataset)
		if err != nil {
			if errors.Is(err, pipeline.ErrInvariant) {
				o.disableStage(stage, err)
				continue
			}
			return busy, err
		}
		if len(items) == 0 {
			continue
		}

		busy = true
		if err := proc.Process(ctx, items); err != nil {
			if ctx.Err() != nil {
				return busy, nil
			}
			// Partial failure is normal operation; the next stage still runs.
			o.logger.Error("stage processor failed",
				zap.String("stage", string(stage)), zap.Error(err))
			o.emitter.Emit(telemetry.StageError{
				Stage: stage, Note: "batch failed", At: o.clock.Now(),
			})
		}
	}

	o.recordDepths(ctx)
	return busy, nil
}

// disableStage halts a stage for the rest of the process after an invariant
// violation. The operator is alerted through logs and the degraded lifecycle
// event; the remaining stages keep running.
func (o *Orchestrator) disableStage(stage pipeline.Stage, cause error) {
	o.disabled[stage] = true
	o.logger.Error("invariant violation, stage halted",
		zap.String("stage", string(stage)), zap.Error(cause))
	o.emitter.Emit(telemetry.RunLifecycle{
		RunID: o.runID,
		Phase: telemetry.RunDegraded,
		Note:  string(stage),
		At:    o.clock.Now(),
	})
}

func (o *Orchestrator) recordDepths(ctx context.Context) {
	counts, err := o.queue.PendingCounts(ctx, o.dataset)
	if err != nil {
		o.logger.Warn("pending counts unavailable", zap.Error(err))
		return
	}
	now := o.clock.Now()
	for _, stage := range pipeline.StageOrder {
		if !o.stagesCfg.Enabled(stage) || o.disabled[stage] {
			continue
		}
		o.emitter.Emit(telemetry.QueueDepth{Stage: stage, Pending: counts[stage], At: now})
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

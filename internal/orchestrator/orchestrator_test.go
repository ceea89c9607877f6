package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/localnewslab/newsminer/internal/config"
	iduuid "github.com/localnewslab/newsminer/internal/id/uuid"
	"github.com/localnewslab/newsminer/internal/pipeline"
	"github.com/localnewslab/newsminer/internal/stages"
	"github.com/localnewslab/newsminer/internal/telemetry"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type captureEmitter struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (e *captureEmitter) Emit(evt telemetry.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *captureEmitter) ofKind(kind telemetry.Kind) []telemetry.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []telemetry.Event
	for _, evt := range e.events {
		if evt.Kind() == kind {
			out = append(out, evt)
		}
	}
	return out
}

// scriptedQueue returns canned batches per stage, one per cycle.
type scriptedQueue struct {
	mu      sync.Mutex
	batches map[pipeline.Stage][][]pipeline.WorkItem
	claims  []pipeline.Stage
	errs    map[pipeline.Stage]error
	countOK bool
}

func newScriptedQueue() *scriptedQueue {
	return &scriptedQueue{
		batches: make(map[pipeline.Stage][][]pipeline.WorkItem),
		errs:    make(map[pipeline.Stage]error),
		countOK: true,
	}
}

func (q *scriptedQueue) push(stage pipeline.Stage, items []pipeline.WorkItem) {
	q.batches[stage] = append(q.batches[stage], items)
}

func (q *scriptedQueue) ClaimPendingBatch(_ context.Context, stage pipeline.Stage, _ int, _ *int64) ([]pipeline.WorkItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.claims = append(q.claims, stage)
	if err, ok := q.errs[stage]; ok {
		return nil, err
	}
	pending := q.batches[stage]
	if len(pending) == 0 {
		return nil, nil
	}
	batch := pending[0]
	q.batches[stage] = pending[1:]
	return batch, nil
}

func (q *scriptedQueue) PendingCounts(context.Context, *int64) (map[pipeline.Stage]int64, error) {
	if !q.countOK {
		return nil, errors.New("counts unavailable")
	}
	out := make(map[pipeline.Stage]int64)
	q.mu.Lock()
	defer q.mu.Unlock()
	for stage, batches := range q.batches {
		var n int64
		for _, b := range batches {
			n += int64(len(b))
		}
		out[stage] = n
	}
	return out, nil
}

type recordingProcessor struct {
	stage   pipeline.Stage
	mu      sync.Mutex
	batches [][]pipeline.WorkItem
	err     error
}

func (p *recordingProcessor) Stage() pipeline.Stage { return p.stage }

func (p *recordingProcessor) Process(_ context.Context, items []pipeline.WorkItem) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, items)
	return p.err
}

func (p *recordingProcessor) processed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, b := range p.batches {
		n += len(b)
	}
	return n
}

func allStages() config.StagesConfig {
	return config.StagesConfig{
		Discovery:        true,
		Verification:     true,
		Extraction:       true,
		Cleaning:         true,
		EntityExtraction: true,
		Analysis:         true,
	}
}

func batches() config.BatchConfig {
	return config.BatchConfig{
		Discovery: 16, Verification: 64, Extraction: 32,
		Cleaning: 128, EntityExtraction: 50, Analysis: 128,
	}
}

func newTestOrchestrator(queue *scriptedQueue, stagesCfg config.StagesConfig, procs ...stages.Processor) (*Orchestrator, *captureEmitter, *[]time.Duration) {
	emitter := &captureEmitter{}
	o := New(queue, procs,
		config.OrchConfig{IdleIntervalSeconds: 30, ErrorBackoffSeconds: 10},
		stagesCfg, batches(), emitter,
		iduuid.New(),
		fixedClock{now: time.Unix(1700000000, 0)},
		zap.NewNop(),
	)
	var sleeps []time.Duration
	o.sleep = func(_ context.Context, d time.Duration) {
		sleeps = append(sleeps, d)
	}
	return o, emitter, &sleeps
}

// runCycles runs the loop until the queue has been drained for n cycles, then
// cancels.
func runCycles(t *testing.T, o *Orchestrator, cancelAfter int) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cycles := 0
	inner := o.sleep
	o.sleep = func(ctx context.Context, d time.Duration) {
		inner(ctx, d)
		cycles++
		if cycles >= cancelAfter {
			cancel()
		}
	}
	require.NoError(t, o.Run(ctx))
}

func TestIdleCycleSleepsBusyCycleDoesNot(t *testing.T) {
	t.Parallel()

	queue := newScriptedQueue()
	queue.push(pipeline.StageCleaning, []pipeline.WorkItem{
		{ID: 1, Kind: pipeline.WorkArticle, Host: "a.com"},
	})
	cleaning := &recordingProcessor{stage: pipeline.StageCleaning}

	o, _, sleeps := newTestOrchestrator(queue, allStages(), cleaning)
	runCycles(t, o, 1)

	// Cycle 1 had work: no sleep. Cycle 2 found nothing: idle sleep.
	require.Equal(t, 1, cleaning.processed())
	require.Equal(t, []time.Duration{30 * time.Second}, *sleeps)
}

func TestStagesPolledInFixedOrder(t *testing.T) {
	t.Parallel()

	queue := newScriptedQueue()
	procs := make([]stages.Processor, 0, len(pipeline.StageOrder))
	for _, stage := range pipeline.StageOrder {
		procs = append(procs, &recordingProcessor{stage: stage})
	}

	o, _, _ := newTestOrchestrator(queue, allStages(), procs...)
	runCycles(t, o, 1)

	require.Equal(t, pipeline.StageOrder, queue.claims[:len(pipeline.StageOrder)])
}

func TestDisabledStageNeverQueried(t *testing.T) {
	t.Parallel()

	queue := newScriptedQueue()
	queue.push(pipeline.StageCleaning, []pipeline.WorkItem{{ID: 1, Kind: pipeline.WorkArticle}})
	cleaning := &recordingProcessor{stage: pipeline.StageCleaning}

	stagesCfg := allStages()
	stagesCfg.Cleaning = false
	o, _, _ := newTestOrchestrator(queue, stagesCfg, cleaning)
	runCycles(t, o, 1)

	require.NotContains(t, queue.claims, pipeline.StageCleaning)
	require.Zero(t, cleaning.processed())
}

func TestProcessorErrorDoesNotHaltLoop(t *testing.T) {
	t.Parallel()

	queue := newScriptedQueue()
	queue.push(pipeline.StageCleaning, []pipeline.WorkItem{{ID: 1, Kind: pipeline.WorkArticle}})
	queue.push(pipeline.StageAnalysis, []pipeline.WorkItem{{ID: 2, Kind: pipeline.WorkArticle}})

	cleaning := &recordingProcessor{stage: pipeline.StageCleaning, err: errors.New("boom")}
	analysis := &recordingProcessor{stage: pipeline.StageAnalysis}

	o, emitter, _ := newTestOrchestrator(queue, allStages(), cleaning, analysis)
	runCycles(t, o, 1)

	require.Equal(t, 1, analysis.processed())
	require.NotEmpty(t, emitter.ofKind(telemetry.KindStageError))
}

func TestInvariantViolationDisablesStagePermanently(t *testing.T) {
	t.Parallel()

	queue := newScriptedQueue()
	queue.errs[pipeline.StageCleaning] = pipeline.ErrInvariant
	cleaning := &recordingProcessor{stage: pipeline.StageCleaning}
	analysis := &recordingProcessor{stage: pipeline.StageAnalysis}
	queue.push(pipeline.StageAnalysis, []pipeline.WorkItem{{ID: 2, Kind: pipeline.WorkArticle}})

	o, emitter, _ := newTestOrchestrator(queue, allStages(), cleaning, analysis)
	runCycles(t, o, 2)

	// Cleaning was claimed once, tripped the invariant, and never again.
	claimed := 0
	for _, s := range queue.claims {
		if s == pipeline.StageCleaning {
			claimed++
		}
	}
	require.Equal(t, 1, claimed)
	require.Equal(t, 1, analysis.processed())

	degraded := false
	for _, evt := range emitter.ofKind(telemetry.KindRunLifecycle) {
		lc := evt.(telemetry.RunLifecycle)
		if lc.Phase == telemetry.RunDegraded && lc.Note == string(pipeline.StageCleaning) {
			degraded = true
		}
	}
	require.True(t, degraded)
}

func TestStoreFailureBacksOffAndRetries(t *testing.T) {
	t.Parallel()

	queue := newScriptedQueue()
	queue.errs[pipeline.StageCleaning] = errors.New("connection refused")
	cleaning := &recordingProcessor{stage: pipeline.StageCleaning}

	o, _, sleeps := newTestOrchestrator(queue, allStages(), cleaning)
	runCycles(t, o, 2)

	require.NotEmpty(t, *sleeps)
	require.Equal(t, 10*time.Second, (*sleeps)[0])
	// The stage is still polled on the next cycle; connectivity loss is not
	// an invariant violation.
	require.GreaterOrEqual(t, len(queue.claims), 2)
}

func TestQueueDepthRecordedAfterCycle(t *testing.T) {
	t.Parallel()

	queue := newScriptedQueue()
	queue.push(pipeline.StageCleaning, []pipeline.WorkItem{{ID: 1, Kind: pipeline.WorkArticle}})
	queue.push(pipeline.StageCleaning, []pipeline.WorkItem{{ID: 2, Kind: pipeline.WorkArticle}})
	cleaning := &recordingProcessor{stage: pipeline.StageCleaning}

	o, emitter, _ := newTestOrchestrator(queue, allStages(), cleaning)
	runCycles(t, o, 1)

	depths := emitter.ofKind(telemetry.KindQueueDepth)
	require.NotEmpty(t, depths)
	var cleaningDepths []int64
	for _, evt := range depths {
		qd := evt.(telemetry.QueueDepth)
		if qd.Stage == pipeline.StageCleaning {
			cleaningDepths = append(cleaningDepths, qd.Pending)
		}
	}
	// One batch left after the first cycle, none after the drain cycle or
	// the idle cycle that follows it.
	require.Equal(t, []int64{1, 0, 0}, cleaningDepths)
}

func TestRunEmitsLifecycleEvents(t *testing.T) {
	t.Parallel()

	queue := newScriptedQueue()
	o, emitter, _ := newTestOrchestrator(queue, allStages())
	runCycles(t, o, 1)

	lifecycle := emitter.ofKind(telemetry.KindRunLifecycle)
	require.Len(t, lifecycle, 2)
	started := lifecycle[0].(telemetry.RunLifecycle)
	stopped := lifecycle[1].(telemetry.RunLifecycle)
	require.Equal(t, telemetry.RunStarted, started.Phase)
	require.Equal(t, telemetry.RunStopped, stopped.Phase)
	require.NotEmpty(t, started.RunID)
	require.Equal(t, started.RunID, stopped.RunID)
	require.NoError(t, started.Validate())
}

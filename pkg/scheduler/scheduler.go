package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/jobflow/pkg/core"
	"github.com/jdziat/jobflow/pkg/dag"
	"github.com/jdziat/jobflow/pkg/event"
	"github.com/jdziat/jobflow/pkg/queue"
)

// ErrNilGraph is returned by StartTask for a nil graph.
var ErrNilGraph = errors.New("scheduler: nil graph")

// Enqueuer submits task jobs. *queue.Queue implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, payload any, opts ...queue.Option) (string, error)
}

// EventSink receives dag:* events.
type EventSink interface {
	Emit(ctx context.Context, name string, payload any)
}

// Option configures a Scheduler.
type Option interface {
	apply(*Scheduler)
}

type optionFunc func(*Scheduler)

func (f optionFunc) apply(s *Scheduler) { f(s) }

// WithLogger sets the scheduler logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	})
}

// WithEnqueueOptions applies opts to every task job.
func WithEnqueueOptions(opts ...queue.Option) Option {
	return optionFunc(func(s *Scheduler) {
		s.enqueueOpts = append(s.enqueueOpts, opts...)
	})
}

// WithRunIDs overrides run id generation. Ids must not contain ':'.
func WithRunIDs(next func() string) Option {
	return optionFunc(func(s *Scheduler) {
		if next != nil {
			s.newRunID = next
		}
	})
}

// Scheduler tracks runs and enqueues their tasks as dependencies finish.
// It is safe for concurrent use.
type Scheduler struct {
	mu   sync.Mutex
	runs map[string]*run

	enqueuer    Enqueuer
	sink        EventSink
	enqueueOpts []queue.Option
	logger      *slog.Logger
	newRunID    func() string
}

// New creates a Scheduler that enqueues through enq and reports to sink.
func New(enq Enqueuer, sink EventSink, opts ...Option) *Scheduler {
	s := &Scheduler{
		runs:     make(map[string]*run),
		enqueuer: enq,
		sink:     sink,
		logger:   slog.Default(),
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt.apply(s)
	}
	return s
}

// Attach subscribes the scheduler to the job:* events on bus. The returned
// function detaches it.
//
// job:unresolved fails the task's run with the unknown kind error. A
// job:completed for a task that is still queued, with no job:finished and no
// child run before it, fails the run too.
func (s *Scheduler) Attach(bus *event.Bus) (detach func()) {
	offFinished := bus.On(core.EventJobFinished, func(ctx context.Context, e event.Envelope) {
		if f, ok := e.Payload.(core.Finished); ok {
			s.HandleFinished(ctx, f)
		}
	})
	lifecycle := func(name string, handle func(context.Context, core.Lifecycle)) func() {
		return bus.On(name, func(ctx context.Context, e event.Envelope) {
			if l, ok := e.Payload.(core.Lifecycle); ok {
				handle(ctx, l)
			}
		})
	}
	offFailed := lifecycle(core.EventJobFailed, s.HandleFailed)
	offUnresolved := lifecycle(core.EventJobUnresolved, s.HandleUnresolved)
	offCompleted := lifecycle(core.EventJobCompleted, s.HandleCompleted)
	return func() {
		offFinished()
		offFailed()
		offUnresolved()
		offCompleted()
	}
}

// effects collects what to do once the lock is released.
type effects struct {
	enqueue []taskJob
	events  []emission
}

type taskJob struct {
	runID string
	task  dag.Task
}

type emission struct {
	name    string
	payload core.RunEvent
}

// StartTask registers g as a new run and enqueues its root tasks. It returns
// once the roots are enqueued; it does not wait for the run to finish.
//
// When ctx carries a job (core.WithJob) whose task belongs to a known run,
// the new run becomes that task's child.
func (s *Scheduler) StartTask(ctx context.Context, g *dag.DAG) error {
	if g == nil {
		return ErrNilGraph
	}

	runID := s.newRunID()
	var fx effects

	s.mu.Lock()
	parent := s.adoptParent(ctx, runID)
	r := newRun(runID, g, parent)
	s.runs[runID] = r
	fx.events = append(fx.events, emission{core.EventRunStarted, core.RunEvent{
		RunID:        runID,
		ParentTaskID: parent,
		Tasks:        g.Len(),
	}})
	for _, t := range r.ready() {
		fx.enqueue = append(fx.enqueue, taskJob{runID: runID, task: t})
	}
	s.mu.Unlock()

	s.logger.Debug("run started", "run_id", runID, "tasks", g.Len(), "parent_task", parent)
	return s.apply(ctx, fx)
}

// adoptParent links runID to the task of the job in ctx. Callers hold s.mu.
func (s *Scheduler) adoptParent(ctx context.Context, runID string) string {
	job, ok := core.JobFromContext(ctx)
	if !ok {
		return ""
	}
	ref := job.TaskID()
	parentRunID, taskID, ok := ParseTaskRef(ref)
	if !ok {
		return ""
	}
	parent, ok := s.runs[parentRunID]
	if !ok || parent.Status != RunRunning {
		return ""
	}
	if st := parent.Tasks[taskID]; st != TaskQueued && st != TaskPending {
		return ""
	}
	parent.Tasks[taskID] = TaskWaiting
	parent.children[taskID] = runID
	return ref
}

// HandleFinished marks the task named by f.TaskID done and enqueues the
// tasks it unblocks. Events for unknown runs or tasks are ignored.
func (s *Scheduler) HandleFinished(ctx context.Context, f core.Finished) {
	runID, taskID, ok := ParseTaskRef(f.TaskID)
	if !ok {
		return
	}

	var fx effects
	s.mu.Lock()
	s.finishTask(runID, taskID, f.Result, &fx)
	s.mu.Unlock()

	if err := s.apply(ctx, fx); err != nil {
		s.logger.Error("failed to advance run", "run_id", runID, "error", err)
	}
}

// finishTask records a finished task and walks up through completed parents.
// Callers hold s.mu.
func (s *Scheduler) finishTask(runID, taskID string, result any, fx *effects) {
	r, ok := s.runs[runID]
	if !ok || r.Status != RunRunning {
		return
	}
	switch r.Tasks[taskID] {
	case TaskPending, TaskQueued, TaskWaiting:
	default:
		return
	}

	r.Tasks[taskID] = TaskDone
	r.Results[taskID] = result
	for _, t := range r.ready() {
		fx.enqueue = append(fx.enqueue, taskJob{runID: runID, task: t})
	}

	if !r.complete() {
		return
	}
	r.finish(RunCompleted, "")
	fx.events = append(fx.events, emission{core.EventRunCompleted, core.RunEvent{
		RunID:        r.ID,
		ParentTaskID: r.ParentTask,
		Tasks:        r.graph.Len(),
	}})

	if parentRunID, parentTaskID, ok := ParseTaskRef(r.ParentTask); ok {
		s.finishTask(parentRunID, parentTaskID, map[string]any{"runId": r.ID}, fx)
	}
}

// HandleFailed fails the run owning the task of l, and every ancestor run.
func (s *Scheduler) HandleFailed(ctx context.Context, l core.Lifecycle) {
	runID, taskID, ok := ParseTaskRef(l.TaskID)
	if !ok {
		return
	}

	var fx effects
	s.mu.Lock()
	s.failTask(runID, taskID, l.Error, &fx)
	s.mu.Unlock()

	_ = s.apply(ctx, fx)
}

// HandleUnresolved fails the run owning a task whose kind has no handler.
func (s *Scheduler) HandleUnresolved(ctx context.Context, l core.Lifecycle) {
	s.HandleFailed(ctx, l)
}

// HandleCompleted fails the task of l if its job was acknowledged while the
// task is still pending or queued. Tasks that finished, failed or wait on a
// child run are left alone.
func (s *Scheduler) HandleCompleted(ctx context.Context, l core.Lifecycle) {
	runID, taskID, ok := ParseTaskRef(l.TaskID)
	if !ok {
		return
	}

	var fx effects
	s.mu.Lock()
	if r, ok := s.runs[runID]; ok {
		if st := r.Tasks[taskID]; st == TaskQueued || st == TaskPending {
			s.failTask(runID, taskID, fmt.Sprintf("job %s (%s) completed without a result", l.JobID, l.Kind), &fx)
		}
	}
	s.mu.Unlock()

	_ = s.apply(ctx, fx)
}

// failTask callers hold s.mu.
func (s *Scheduler) failTask(runID, taskID, errMsg string, fx *effects) {
	r, ok := s.runs[runID]
	if !ok || r.Status != RunRunning {
		return
	}
	if _, known := r.Tasks[taskID]; !known {
		return
	}

	r.Tasks[taskID] = TaskFailed
	r.finish(RunFailed, fmt.Sprintf("task %s: %s", taskID, errMsg))
	fx.events = append(fx.events, emission{core.EventRunFailed, core.RunEvent{
		RunID:        r.ID,
		ParentTaskID: r.ParentTask,
		Tasks:        r.graph.Len(),
		Error:        r.Error,
	}})

	if parentRunID, parentTaskID, ok := ParseTaskRef(r.ParentTask); ok {
		s.failTask(parentRunID, parentTaskID, r.Error, fx)
	}
}

// apply enqueues task jobs and emits events collected under the lock. The
// first enqueue failure fails the run and is returned.
func (s *Scheduler) apply(ctx context.Context, fx effects) error {
	for _, e := range fx.events {
		s.sink.Emit(ctx, e.name, e.payload)
	}

	var firstErr error
	for _, tj := range fx.enqueue {
		ref := TaskRef(tj.runID, tj.task.ID)
		payload := make(map[string]any, len(tj.task.Payload)+1)
		for k, v := range tj.task.Payload {
			payload[k] = v
		}
		payload["taskId"] = ref

		jobID, err := s.enqueuer.Enqueue(ctx, tj.task.Kind, payload, s.enqueueOpts...)
		if err != nil {
			err = fmt.Errorf("scheduler: enqueue task %s: %w", ref, err)
			if firstErr == nil {
				firstErr = err
			}
			var failed effects
			s.mu.Lock()
			s.failTask(tj.runID, tj.task.ID, err.Error(), &failed)
			s.mu.Unlock()
			for _, e := range failed.events {
				s.sink.Emit(ctx, e.name, e.payload)
			}
			continue
		}

		s.mu.Lock()
		if r, ok := s.runs[tj.runID]; ok {
			r.JobIDs[tj.task.ID] = jobID
		}
		s.mu.Unlock()
	}
	return firstErr
}

// Run returns a snapshot of a run.
func (s *Scheduler) Run(id string) (Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return Run{}, false
	}
	return r.snapshot(), true
}

// Runs returns snapshots of every tracked run, oldest first.
func (s *Scheduler) Runs() []Run {
	s.mu.Lock()
	out := make([]Run, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r.snapshot())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Prune forgets runs that finished more than olderThan ago and returns how
// many were removed. Runs with a running parent are kept.
func (s *Scheduler) Prune(olderThan time.Duration) int {
	cutoff := time.Now().UTC().Add(-olderThan)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, r := range s.runs {
		if r.Status == RunRunning || r.FinishedAt.After(cutoff) {
			continue
		}
		if parentRunID, _, ok := ParseTaskRef(r.ParentTask); ok {
			if p, ok := s.runs[parentRunID]; ok && p.Status == RunRunning {
				continue
			}
		}
		delete(s.runs, id)
		removed++
	}
	return removed
}

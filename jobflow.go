// Package jobflow consumes jobs from a durable queue and continues them as
// task graphs.
//
// Handlers are bound to job kinds in a closed registry. Each one returns
// either a terminal value, published as a job:finished event, or a graph of
// follow-on tasks that the scheduler runs as further jobs.
//
// Basic usage:
//
//	db, _ := storage.Open("sqlite", "jobs.db")
//	store := jobflow.NewGormStorage(db)
//	store.Migrate(ctx)
//
//	reg := jobflow.MustNewRegistry(
//	    jobflow.Bind("send-email", jobflow.Func(func(ctx context.Context, s *jobflow.Scope, e Email) (jobflow.Result, error) {
//	        return jobflow.Terminal(map[string]string{"status": "ok"}), send(e)
//	    })),
//	)
//
//	engine, _ := jobflow.New(store, reg)
//	engine.Enqueue(ctx, "send-email", Email{To: "a@b.com"})
//	engine.NewWorker().Start(ctx)
package jobflow

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/jdziat/jobflow/pkg/consumer"
	"github.com/jdziat/jobflow/pkg/core"
	"github.com/jdziat/jobflow/pkg/dag"
	"github.com/jdziat/jobflow/pkg/event"
	"github.com/jdziat/jobflow/pkg/queue"
	"github.com/jdziat/jobflow/pkg/registry"
	"github.com/jdziat/jobflow/pkg/schedule"
	"github.com/jdziat/jobflow/pkg/scheduler"
	"github.com/jdziat/jobflow/pkg/storage"
	"github.com/jdziat/jobflow/pkg/worker"
)

type (
	// Job is a unit of work delivered by the queue.
	Job = core.Job

	// JobStatus is the storage state of a job.
	JobStatus = core.JobStatus

	// Storage is the persistence layer for jobs.
	Storage = core.Storage

	// GormStorage implements Storage using GORM.
	GormStorage = storage.GormStorage

	// Result is the outcome of a handler: terminal value or continuation.
	Result = core.Result

	// Finished is the payload of job:finished.
	Finished = core.Finished

	// Lifecycle is the payload of job:completed, job:failed and job:unresolved.
	Lifecycle = core.Lifecycle

	// RunEvent is the payload of the dag:* events.
	RunEvent = core.RunEvent

	// DAG is a validated task graph.
	DAG = dag.DAG

	// Task is one node of a DAG.
	Task = dag.Task

	// Registry maps job kinds to handler factories.
	Registry = registry.Registry

	// Scope is the per-job context a handler is built with.
	Scope = registry.Scope

	// Handler runs one job.
	Handler = registry.Handler

	// HandlerFunc adapts a function to Handler.
	HandlerFunc = registry.HandlerFunc

	// Factory builds a Handler per job.
	Factory = registry.Factory

	// Binding pairs a kind with its factory.
	Binding = registry.Binding

	// MissPolicy decides what happens to jobs of unknown kinds.
	MissPolicy = consumer.MissPolicy

	// Queue manages processor registration, enqueueing and hooks.
	Queue = queue.Queue

	// Option modifies enqueue Options.
	Option = queue.Option

	// Worker processes jobs from the queue.
	Worker = worker.Worker

	// WorkerOption configures a Worker.
	WorkerOption = worker.WorkerOption

	// Bus is the in-process event bus.
	Bus = event.Bus

	// Envelope is an emitted event.
	Envelope = event.Envelope

	// Run is a snapshot of a scheduled graph.
	Run = scheduler.Run

	// Schedule defines when a recurring job runs next.
	Schedule = schedule.Schedule
)

// Status constants
const (
	StatusPending   = core.StatusPending
	StatusRunning   = core.StatusRunning
	StatusCompleted = core.StatusCompleted
	StatusFailed    = core.StatusFailed
)

// Miss policies
const (
	MissFail   = consumer.MissFail
	MissReport = consumer.MissReport
	MissIgnore = consumer.MissIgnore
)

// Event names
const (
	EventJobFinished   = core.EventJobFinished
	EventJobCompleted  = core.EventJobCompleted
	EventJobFailed     = core.EventJobFailed
	EventJobUnresolved = core.EventJobUnresolved
	EventRunStarted    = core.EventRunStarted
	EventRunCompleted  = core.EventRunCompleted
	EventRunFailed     = core.EventRunFailed
)

// Error variables
var (
	ErrUnknownKind  = core.ErrUnknownKind
	ErrEmptyResult  = core.ErrEmptyResult
	ErrInvalidGraph = dag.ErrInvalidGraph
	ErrDuplicateJob = core.ErrDuplicateJob
	ErrJobNotOwned  = core.ErrJobNotOwned
)

// NewGormStorage creates a GORM-backed storage.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return storage.NewGormStorage(db)
}

// Terminal returns a Result reporting value as the job's outcome.
func Terminal(value any) Result {
	return core.Terminal(value)
}

// Continue returns a Result handing g to the scheduler.
func Continue(g *DAG) Result {
	return core.Continue(g)
}

// NewDAG builds and validates a task graph.
func NewDAG(tasks ...Task) (*DAG, error) {
	return dag.New(tasks...)
}

// NewRegistry builds a closed handler registry.
func NewRegistry(bindings ...Binding) (*Registry, error) {
	return registry.New(bindings...)
}

// MustNewRegistry is like NewRegistry but panics on error.
func MustNewRegistry(bindings ...Binding) *Registry {
	return registry.MustNew(bindings...)
}

// Bind pairs kind with factory.
func Bind(kind string, factory Factory) Binding {
	return registry.Bind(kind, factory)
}

// Func builds a Factory that decodes the JSON payload into T.
func Func[T any](fn func(ctx context.Context, scope *Scope, args T) (Result, error)) Factory {
	return registry.Func(fn)
}

// NoRetry wraps an error to indicate it should not be retried.
func NoRetry(err error) error {
	return core.NoRetry(err)
}

// RetryAfter wraps an error to indicate it should be retried after a delay.
func RetryAfter(d time.Duration, err error) error {
	return core.RetryAfter(d, err)
}

// JobFromContext returns the job being processed, if any.
func JobFromContext(ctx context.Context) (*Job, bool) {
	return core.JobFromContext(ctx)
}

// QueueOpt sets the queue name.
func QueueOpt(name string) Option {
	return queue.QueueOpt(name)
}

// Priority sets the job priority (higher = runs first).
func Priority(p int) Option {
	return queue.Priority(p)
}

// Retries sets the maximum retry count.
func Retries(n int) Option {
	return queue.Retries(n)
}

// Delay schedules the job to run after a duration.
func Delay(d time.Duration) Option {
	return queue.Delay(d)
}

// Unique ensures only one pending or running job with this key exists.
func Unique(key string) Option {
	return queue.Unique(key)
}

// Concurrency sets the concurrency for the queues configured so far.
func Concurrency(n int) WorkerOption {
	return worker.Concurrency(n)
}

// WorkerQueue adds a queue to process.
func WorkerQueue(name string, opts ...WorkerOption) WorkerOption {
	return worker.WorkerQueue(name, opts...)
}

// Every creates a schedule that runs at fixed intervals.
func Every(d time.Duration) Schedule {
	return schedule.Every(d)
}

// Cron creates a schedule from a cron expression.
func Cron(expr string) Schedule {
	return schedule.Cron(expr)
}

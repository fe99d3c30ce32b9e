package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/jobflow/pkg/core"
	"github.com/jdziat/jobflow/pkg/schedule"
	"github.com/jdziat/jobflow/pkg/security"
)

// Wildcard is the processor pattern that matches every job kind.
const Wildcard = "*"

// ProcessFunc handles one dequeued job. A returned error fails the attempt.
type ProcessFunc func(ctx context.Context, job *core.Job) error

// Queue manages processor registration, enqueueing and lifecycle hooks.
type Queue struct {
	storage       core.Storage
	processors    map[string]ProcessFunc
	scheduledJobs map[string]*ScheduledJob
	mu            sync.RWMutex

	onStart    []func(context.Context, *core.Job)
	onComplete []func(context.Context, *core.Job)
	onFail     []func(context.Context, *core.Job, error)
	onRetry    []func(context.Context, *core.Job, int, error)

	// cancel funcs of jobs running in this process, keyed by job id
	runningJobs   map[string]context.CancelFunc
	runningJobsMu sync.Mutex
}

// ScheduledJob holds configuration for a recurring job.
type ScheduledJob struct {
	Name     string
	Kind     string
	Schedule schedule.Schedule
	Payload  any
	Options  *Options
}

// New creates a new Queue with the given storage backend.
func New(s core.Storage) *Queue {
	return &Queue{
		storage:       s,
		processors:    make(map[string]ProcessFunc),
		scheduledJobs: make(map[string]*ScheduledJob),
		runningJobs:   make(map[string]context.CancelFunc),
	}
}

// Process registers fn for jobs of kind. Kind is either a valid job kind or
// Wildcard; an exact registration takes precedence over the wildcard.
// Registering the same pattern twice returns core.ErrAlreadySubscribed.
func (q *Queue) Process(kind string, fn ProcessFunc) error {
	if kind != Wildcard {
		if err := security.ValidateKind(kind); err != nil {
			return fmt.Errorf("jobflow: processor for %q: %w", kind, err)
		}
	}
	if fn == nil {
		return fmt.Errorf("jobflow: processor for %q is nil", kind)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.processors[kind]; exists {
		return fmt.Errorf("%w: %q", core.ErrAlreadySubscribed, kind)
	}
	q.processors[kind] = fn
	return nil
}

// Processor returns the processor for kind, falling back to the wildcard.
func (q *Queue) Processor(kind string) (ProcessFunc, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if fn, ok := q.processors[kind]; ok {
		return fn, true
	}
	fn, ok := q.processors[Wildcard]
	return fn, ok
}

// HasProcessor reports whether a job of kind would be processed.
func (q *Queue) HasProcessor(kind string) bool {
	_, ok := q.Processor(kind)
	return ok
}

// Enqueue adds a job of kind to the queue and returns its id.
// Payload is marshalled to JSON unless it already is []byte or
// json.RawMessage, in which case it must be valid JSON.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload any, opts ...Option) (string, error) {
	if err := security.ValidateKind(kind); err != nil {
		return "", err
	}

	options := NewOptions(opts...)
	if err := options.Validate(); err != nil {
		return "", err
	}

	data, err := encodePayload(payload)
	if err != nil {
		return "", err
	}
	if err := security.ValidatePayload(data); err != nil {
		return "", err
	}

	job := &core.Job{
		ID:         uuid.New().String(),
		Kind:       kind,
		Payload:    data,
		Queue:      options.Queue,
		Priority:   options.Priority,
		MaxRetries: security.ClampRetries(options.MaxRetries),
		Status:     core.StatusPending,
		RunAt:      options.scheduledAt(time.Now()),
	}

	if options.UniqueKey != "" {
		if err := q.storage.EnqueueUnique(ctx, job, options.UniqueKey); err != nil {
			if errors.Is(err, core.ErrDuplicateJob) {
				return "", err
			}
			return "", fmt.Errorf("jobflow: failed to enqueue: %w", err)
		}
		return job.ID, nil
	}

	if err := q.storage.Enqueue(ctx, job); err != nil {
		return "", fmt.Errorf("jobflow: failed to enqueue: %w", err)
	}
	return job.ID, nil
}

func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return []byte(`{}`), nil
	case json.RawMessage:
		return validJSON(p)
	case []byte:
		return validJSON(p)
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("jobflow: failed to marshal payload: %w", err)
		}
		return data, nil
	}
}

func validJSON(data []byte) ([]byte, error) {
	if !json.Valid(data) {
		return nil, errors.New("jobflow: payload is not valid JSON")
	}
	return data, nil
}

// Schedule registers a recurring job of kind enqueued with payload each
// time sched fires. Scheduling the same name again replaces it.
func (q *Queue) Schedule(name, kind string, sched schedule.Schedule, payload any, opts ...Option) error {
	if err := security.ValidateKind(kind); err != nil {
		return err
	}
	options := NewOptions(opts...)
	if err := options.Validate(); err != nil {
		return err
	}

	q.mu.Lock()
	q.scheduledJobs[name] = &ScheduledJob{
		Name:     name,
		Kind:     kind,
		Schedule: sched,
		Payload:  payload,
		Options:  options,
	}
	q.mu.Unlock()
	return nil
}

// ScheduledJobs returns a snapshot of the recurring jobs.
func (q *Queue) ScheduledJobs() []*ScheduledJob {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]*ScheduledJob, 0, len(q.scheduledJobs))
	for _, sj := range q.scheduledJobs {
		out = append(out, sj)
	}
	return out
}

// Storage returns the underlying storage.
func (q *Queue) Storage() core.Storage {
	return q.storage
}

// OnJobStart registers a callback for when a job starts.
func (q *Queue) OnJobStart(fn func(context.Context, *core.Job)) {
	q.mu.Lock()
	q.onStart = append(q.onStart, fn)
	q.mu.Unlock()
}

// OnJobComplete registers a callback for when a job completes successfully.
func (q *Queue) OnJobComplete(fn func(context.Context, *core.Job)) {
	q.mu.Lock()
	q.onComplete = append(q.onComplete, fn)
	q.mu.Unlock()
}

// OnJobFail registers a callback for when a job fails permanently.
func (q *Queue) OnJobFail(fn func(context.Context, *core.Job, error)) {
	q.mu.Lock()
	q.onFail = append(q.onFail, fn)
	q.mu.Unlock()
}

// OnRetry registers a callback for when a failed attempt is scheduled again.
func (q *Queue) OnRetry(fn func(context.Context, *core.Job, int, error)) {
	q.mu.Lock()
	q.onRetry = append(q.onRetry, fn)
	q.mu.Unlock()
}

// snapshot copies hooks under the read lock so they run unlocked.
func snapshot[F any](q *Queue, hooks *[]F) []F {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([]F(nil), (*hooks)...)
}

// CallStartHooks runs the start hooks in registration order.
func (q *Queue) CallStartHooks(ctx context.Context, job *core.Job) {
	for _, fn := range snapshot(q, &q.onStart) {
		fn(ctx, job)
	}
}

// CallCompleteHooks runs the complete hooks once storage has acknowledged
// the job.
func (q *Queue) CallCompleteHooks(ctx context.Context, job *core.Job) {
	for _, fn := range snapshot(q, &q.onComplete) {
		fn(ctx, job)
	}
}

// CallFailHooks runs the fail hooks for a permanently failed job.
func (q *Queue) CallFailHooks(ctx context.Context, job *core.Job, err error) {
	for _, fn := range snapshot(q, &q.onFail) {
		fn(ctx, job, err)
	}
}

// CallRetryHooks runs the retry hooks for an attempt scheduled again.
func (q *Queue) CallRetryHooks(ctx context.Context, job *core.Job, attempt int, err error) {
	for _, fn := range snapshot(q, &q.onRetry) {
		fn(ctx, job, attempt, err)
	}
}

// RegisterRunningJob records the cancel function of a running job.
func (q *Queue) RegisterRunningJob(jobID string, cancel context.CancelFunc) {
	q.runningJobsMu.Lock()
	q.runningJobs[jobID] = cancel
	q.runningJobsMu.Unlock()
}

// UnregisterRunningJob removes a job from the running registry.
func (q *Queue) UnregisterRunningJob(jobID string) {
	q.runningJobsMu.Lock()
	delete(q.runningJobs, jobID)
	q.runningJobsMu.Unlock()
}

// Cancel cancels the context of a running job. It reports whether the job
// was running on this process.
func (q *Queue) Cancel(jobID string) bool {
	q.runningJobsMu.Lock()
	cancel, ok := q.runningJobs[jobID]
	q.runningJobsMu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

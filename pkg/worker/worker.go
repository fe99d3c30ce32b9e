package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/jobflow/pkg/core"
	"github.com/jdziat/jobflow/pkg/queue"
)

const (
	defaultPollInterval      = 100 * time.Millisecond
	defaultHeartbeatInterval = time.Minute
	finalizeTimeout          = 10 * time.Second
)

// errShuttingDown is recorded on jobs handed back to storage during shutdown.
var errShuttingDown = errors.New("jobflow: worker shutting down")

// Worker processes jobs from the queue.
type Worker struct {
	queue  *queue.Queue
	config WorkerConfig
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewWorker creates a new worker for the given queue.
func NewWorker(q *queue.Queue, opts ...WorkerOption) *Worker {
	config := WorkerConfig{
		Queues:            nil, // set to default if no queue options provided
		PollInterval:      defaultPollInterval,
		HeartbeatInterval: defaultHeartbeatInterval,
		WorkerID:          uuid.New().String(),
	}

	for _, opt := range opts {
		opt.ApplyWorker(&config)
	}

	if config.Queues == nil {
		config.Queues = map[string]int{queue.DefaultQueue: 10}
	}
	if config.StorageRetry == nil {
		cfg := DefaultRetryConfig()
		config.StorageRetry = &cfg
	}
	if config.DequeueRetry == nil {
		cfg := RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    500 * time.Millisecond,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
			JitterFraction:    0.2,
		}
		config.DequeueRetry = &cfg
	}
	if config.JobBackoff == nil {
		cfg := DefaultJobBackoff()
		config.JobBackoff = &cfg
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Worker{
		queue:  q,
		config: config,
		logger: config.Logger.With("worker_id", config.WorkerID),
	}
}

// ID returns the id this worker locks jobs with.
func (w *Worker) ID() string { return w.config.WorkerID }

// Config returns the effective configuration.
func (w *Worker) Config() WorkerConfig { return w.config }

// Start begins processing jobs. It blocks until ctx is cancelled and every
// in-flight job has been finalized.
func (w *Worker) Start(ctx context.Context) error {
	queues := make([]string, 0, len(w.config.Queues))
	totalConcurrency := 0
	for name, c := range w.config.Queues {
		queues = append(queues, name)
		totalConcurrency += c
	}

	jobsChan := make(chan *core.Job, totalConcurrency)

	if w.config.EnableScheduler {
		go w.runScheduler(ctx)
	}
	if w.config.StaleLockAfter > 0 {
		go w.runReaper(ctx)
	}

	for i := 0; i < totalConcurrency; i++ {
		w.wg.Add(1)
		go w.processLoop(ctx, jobsChan)
	}

	w.logger.Info("worker started", "queues", queues, "concurrency", totalConcurrency)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(jobsChan)
			w.wg.Wait()
			w.logger.Info("worker stopped")
			return ctx.Err()
		case <-ticker.C:
			w.drain(ctx, queues, jobsChan)
		}
	}
}

// drain dequeues until storage is empty, blocking while every slot is busy.
func (w *Worker) drain(ctx context.Context, queues []string, jobs chan<- *core.Job) {
	for ctx.Err() == nil {
		job, err := w.dequeueWithRetry(ctx, queues)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				w.logger.Error("failed to dequeue after retries", "error", err)
			}
			return
		}
		if job == nil {
			return
		}
		select {
		case jobs <- job:
		case <-ctx.Done():
			w.requeue(ctx, job)
			return
		}
	}
}

func (w *Worker) dequeueWithRetry(ctx context.Context, queues []string) (*core.Job, error) {
	var job *core.Job
	err := retryWithBackoff(ctx, *w.config.DequeueRetry, func() error {
		var dequeueErr error
		job, dequeueErr = w.queue.Storage().Dequeue(ctx, queues, w.config.WorkerID)
		return dequeueErr
	})
	return job, err
}

func (w *Worker) processLoop(ctx context.Context, jobs <-chan *core.Job) {
	defer w.wg.Done()

	for job := range jobs {
		if ctx.Err() != nil {
			w.requeue(ctx, job)
			continue
		}
		w.processJob(ctx, job)
	}
}

func (w *Worker) processJob(ctx context.Context, job *core.Job) {
	logger := w.logger.With("job_id", job.ID, "kind", job.Kind, "attempt", job.Attempt)

	fn, ok := w.queue.Processor(job.Kind)
	if !ok {
		err := core.NoRetry(fmt.Errorf("%w: %s", core.ErrNoProcessor, job.Kind))
		logger.Error("no processor for job")
		w.handleError(ctx, job, err)
		return
	}

	w.queue.CallStartHooks(ctx, job)

	jobCtx, cancel := w.attemptContext(core.WithJob(ctx, job))
	defer cancel()
	w.queue.RegisterRunningJob(job.ID, cancel)
	defer w.queue.UnregisterRunningJob(job.ID)

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go w.runHeartbeat(heartbeatCtx, job)

	start := time.Now()
	err := execute(jobCtx, fn, job)
	stopHeartbeat()

	if err != nil {
		logger.Debug("job attempt failed", "error", err, "duration", time.Since(start))
		w.handleError(ctx, job, err)
		return
	}

	if err := w.completeWithRetry(ctx, job.ID); err != nil {
		logger.Error("failed to complete job after retries", "error", err)
		return
	}
	logger.Debug("job completed", "duration", time.Since(start))
	w.queue.CallCompleteHooks(ctx, job)
}

func (w *Worker) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.config.JobTimeout > 0 {
		return context.WithTimeout(ctx, w.config.JobTimeout)
	}
	return context.WithCancel(ctx)
}

func execute(ctx context.Context, fn queue.ProcessFunc, job *core.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, job)
}

// handleError records a failed attempt. NoRetry errors and exhausted jobs
// fail permanently; everything else is rescheduled.
func (w *Worker) handleError(ctx context.Context, job *core.Job, err error) {
	var noRetry *core.NoRetryError
	if errors.As(err, &noRetry) || job.Attempt > job.MaxRetries {
		w.failWithRetry(ctx, job.ID, err.Error(), nil)
		w.queue.CallFailHooks(ctx, job, err)
		return
	}

	delay := w.config.JobBackoff.Backoff(job.Attempt)
	var retryAfter *core.RetryAfterError
	if errors.As(err, &retryAfter) {
		delay = retryAfter.Delay
	}

	retryAt := time.Now().Add(delay)
	w.failWithRetry(ctx, job.ID, err.Error(), &retryAt)
	w.queue.CallRetryHooks(ctx, job, job.Attempt, err)
}

// finalizeContext outlives worker shutdown so in-flight results are recorded.
func finalizeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
}

func (w *Worker) completeWithRetry(ctx context.Context, jobID string) error {
	ctx, cancel := finalizeContext(ctx)
	defer cancel()
	return retryWithBackoff(ctx, *w.config.StorageRetry, func() error {
		return w.queue.Storage().Complete(ctx, jobID, w.config.WorkerID)
	})
}

func (w *Worker) failWithRetry(ctx context.Context, jobID string, errMsg string, retryAt *time.Time) {
	ctx, cancel := finalizeContext(ctx)
	defer cancel()
	err := retryWithBackoff(ctx, *w.config.StorageRetry, func() error {
		return w.queue.Storage().Fail(ctx, jobID, w.config.WorkerID, errMsg, retryAt)
	})
	if err != nil {
		w.logger.Error("failed to mark job as failed after retries", "job_id", jobID, "error", err)
	}
}

// requeue hands a claimed but unstarted job back to storage.
func (w *Worker) requeue(ctx context.Context, job *core.Job) {
	now := time.Now()
	w.failWithRetry(ctx, job.ID, errShuttingDown.Error(), &now)
}

func (w *Worker) runHeartbeat(ctx context.Context, job *core.Job) {
	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := retryWithBackoff(ctx, *w.config.StorageRetry, func() error {
				return w.queue.Storage().Heartbeat(ctx, job.ID, w.config.WorkerID)
			})
			if err != nil && ctx.Err() == nil {
				w.logger.Warn("heartbeat failed after retries", "job_id", job.ID, "error", err)
			}
		}
	}
}

func (w *Worker) runReaper(ctx context.Context) {
	ticker := time.NewTicker(w.config.StaleLockAfter)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.queue.Storage().ReleaseStaleLocks(ctx, w.config.StaleLockAfter)
			if err != nil {
				if ctx.Err() == nil {
					w.logger.Warn("failed to release stale locks", "error", err)
				}
				continue
			}
			if n > 0 {
				w.logger.Info("released stale locks", "count", n)
			}
		}
	}
}

// runScheduler enqueues recurring jobs. The first run of each job is the
// schedule's next fire time after the worker starts. Fire times are used as
// unique keys so several workers with schedulers enabled do not double-enqueue.
func (w *Worker) runScheduler(ctx context.Context) {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	started := time.Now()
	lastRun := make(map[string]time.Time)

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, sj := range w.queue.ScheduledJobs() {
				last, ok := lastRun[sj.Name]
				if !ok {
					last = started
				}
				nextRun := sj.Schedule.Next(last)
				if now.Before(nextRun) {
					continue
				}

				_, err := w.queue.Enqueue(ctx, sj.Kind, sj.Payload,
					queue.QueueOpt(sj.Options.Queue),
					queue.Priority(sj.Options.Priority),
					queue.Retries(sj.Options.MaxRetries),
					queue.Unique(fmt.Sprintf("schedule:%s:%d", sj.Name, nextRun.Unix())),
				)
				if err != nil && !errors.Is(err, core.ErrDuplicateJob) {
					w.logger.Error("failed to enqueue scheduled job", "name", sj.Name, "error", err)
					continue
				}
				lastRun[sj.Name] = now
			}
		}
	}
}

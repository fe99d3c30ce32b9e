package worker

import (
	"log/slog"
	"time"

	"github.com/jdziat/jobflow/pkg/security"
)

// WorkerOption configures a Worker.
type WorkerOption interface {
	ApplyWorker(*WorkerConfig)
}

type workerOptionFunc func(*WorkerConfig)

func (f workerOptionFunc) ApplyWorker(c *WorkerConfig) { f(c) }

// WorkerConfig holds worker configuration.
type WorkerConfig struct {
	Queues          map[string]int // queue name -> concurrency
	PollInterval    time.Duration
	WorkerID        string
	EnableScheduler bool

	// StorageRetry governs complete/fail/heartbeat calls.
	StorageRetry *RetryConfig
	// DequeueRetry governs polling; it backs off harder during outages.
	DequeueRetry *RetryConfig
	// JobBackoff is the delay policy between failed attempts of a job.
	JobBackoff *RetryConfig

	// JobTimeout bounds a single attempt. Zero means no limit.
	JobTimeout time.Duration
	// HeartbeatInterval is how often a running job's lock is extended.
	HeartbeatInterval time.Duration
	// StaleLockAfter enables reaping of running jobs whose lock expired
	// this long ago. Zero disables reaping.
	StaleLockAfter time.Duration

	Logger *slog.Logger
}

// Concurrency sets the concurrency of every queue configured so far.
// Values are clamped to [1, MaxConcurrency].
func Concurrency(n int) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		clamped := security.ClampConcurrency(n)
		for k := range c.Queues {
			c.Queues[k] = clamped
		}
	})
}

// WithScheduler enables the recurring job scheduler in the worker.
func WithScheduler(enabled bool) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.EnableScheduler = enabled
	})
}

// WorkerQueue adds a queue to process with a default concurrency of 10.
// Nested options only affect that queue.
func WorkerQueue(name string, opts ...WorkerOption) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if c.Queues == nil {
			c.Queues = make(map[string]int)
		}
		scoped := WorkerConfig{Queues: map[string]int{name: 10}}
		for _, opt := range opts {
			opt.ApplyWorker(&scoped)
		}
		c.Queues[name] = scoped.Queues[name]
	})
}

// WithPollInterval sets how often storage is polled when idle.
func WithPollInterval(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if d > 0 {
			c.PollInterval = d
		}
	})
}

// WithWorkerID overrides the generated worker id used for job locks.
func WithWorkerID(id string) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.WorkerID = id
	})
}

// WithStorageRetry sets the retry policy for storage writes.
func WithStorageRetry(cfg RetryConfig) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.StorageRetry = &cfg
	})
}

// WithDequeueRetry sets the retry policy for polling.
func WithDequeueRetry(cfg RetryConfig) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.DequeueRetry = &cfg
	})
}

// WithRetryAttempts sets the storage retry attempts, keeping default delays.
func WithRetryAttempts(n int) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		cfg := DefaultRetryConfig()
		cfg.MaxAttempts = n
		c.StorageRetry = &cfg
	})
}

// DisableRetry makes storage and polling calls single-shot.
func DisableRetry() WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.StorageRetry = &RetryConfig{MaxAttempts: 1}
		c.DequeueRetry = &RetryConfig{MaxAttempts: 1}
	})
}

// WithJobBackoff sets the delay policy between failed attempts of a job.
func WithJobBackoff(cfg RetryConfig) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.JobBackoff = &cfg
	})
}

// WithJobTimeout bounds each attempt.
func WithJobTimeout(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.JobTimeout = d
	})
}

// WithHeartbeatInterval sets how often running jobs extend their lock.
func WithHeartbeatInterval(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if d > 0 {
			c.HeartbeatInterval = d
		}
	})
}

// WithStaleLockReaper returns abandoned running jobs to pending once their
// lock has been expired for d.
func WithStaleLockReaper(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.StaleLockAfter = d
	})
}

// WithLogger sets the worker logger.
func WithLogger(l *slog.Logger) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if l != nil {
			c.Logger = l
		}
	})
}

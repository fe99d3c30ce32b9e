package queue

import (
	"time"

	"github.com/jdziat/jobflow/pkg/security"
)

const (
	// DefaultQueue receives jobs enqueued without QueueOpt.
	DefaultQueue = "default"
	// DefaultJobRetries is the retry budget of a job enqueued without Retries.
	DefaultJobRetries = 2
)

// Options holds configuration for job enqueueing.
type Options struct {
	Queue      string
	Priority   int
	MaxRetries int
	Delay      time.Duration
	RunAt      *time.Time
	UniqueKey  string
}

// NewOptions returns the defaults with opts applied in order.
func NewOptions(opts ...Option) *Options {
	o := &Options{Queue: DefaultQueue, MaxRetries: DefaultJobRetries}
	for _, opt := range opts {
		opt.Apply(o)
	}
	return o
}

// Validate checks the queue name and unique key.
func (o *Options) Validate() error {
	if err := security.ValidateQueueName(o.Queue); err != nil {
		return err
	}
	if o.UniqueKey != "" {
		return security.ValidateUniqueKey(o.UniqueKey)
	}
	return nil
}

// scheduledAt returns when the job becomes eligible, nil for immediately.
// RunAt wins over Delay.
func (o *Options) scheduledAt(now time.Time) *time.Time {
	if o.RunAt != nil {
		t := *o.RunAt
		return &t
	}
	if o.Delay > 0 {
		t := now.Add(o.Delay)
		return &t
	}
	return nil
}

// Option modifies Options.
type Option interface {
	Apply(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) Apply(o *Options) { f(o) }

// QueueOpt routes the job to a named queue.
func QueueOpt(name string) Option {
	return optionFunc(func(o *Options) { o.Queue = name })
}

// Priority orders jobs within a queue; higher runs first.
func Priority(p int) Option {
	return optionFunc(func(o *Options) { o.Priority = p })
}

// Retries sets the retry budget, clamped to [0, security.MaxRetries].
func Retries(n int) Option {
	return optionFunc(func(o *Options) { o.MaxRetries = security.ClampRetries(n) })
}

// Delay holds the job back for d.
func Delay(d time.Duration) Option {
	return optionFunc(func(o *Options) { o.Delay = d })
}

// At holds the job back until t.
func At(t time.Time) Option {
	return optionFunc(func(o *Options) { o.RunAt = &t })
}

// Unique rejects the enqueue with core.ErrDuplicateJob while a pending or
// running job holds the same key.
func Unique(key string) Option {
	return optionFunc(func(o *Options) { o.UniqueKey = key })
}

package jobflow

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/jdziat/jobflow/pkg/consumer"
	"github.com/jdziat/jobflow/pkg/event"
	"github.com/jdziat/jobflow/pkg/observability"
	"github.com/jdziat/jobflow/pkg/queue"
	"github.com/jdziat/jobflow/pkg/scheduler"
	"github.com/jdziat/jobflow/pkg/worker"
)

// EngineOption configures New.
type EngineOption interface {
	applyEngine(*engineConfig)
}

type engineOptionFunc func(*engineConfig)

func (f engineOptionFunc) applyEngine(c *engineConfig) { f(c) }

type engineConfig struct {
	logger        *slog.Logger
	logEvents     bool
	metrics       *observability.Metrics
	consumerOpts  []consumer.Option
	schedulerOpts []scheduler.Option
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) EngineOption {
	return engineOptionFunc(func(c *engineConfig) {
		if l != nil {
			c.logger = l
		}
	})
}

// WithMissPolicy sets how jobs of unknown kinds are treated.
func WithMissPolicy(p MissPolicy) EngineOption {
	return engineOptionFunc(func(c *engineConfig) {
		c.consumerOpts = append(c.consumerOpts, consumer.WithMissPolicy(p))
	})
}

// WithTracer sets the tracer for per-job spans.
func WithTracer(t trace.Tracer) EngineOption {
	return engineOptionFunc(func(c *engineConfig) {
		c.consumerOpts = append(c.consumerOpts, consumer.WithTracer(t))
	})
}

// WithMetrics records bus events with m.
func WithMetrics(m *observability.Metrics) EngineOption {
	return engineOptionFunc(func(c *engineConfig) {
		c.metrics = m
	})
}

// WithEventLog toggles logging of lifecycle events. It is on by default.
func WithEventLog(enabled bool) EngineOption {
	return engineOptionFunc(func(c *engineConfig) {
		c.logEvents = enabled
	})
}

// WithSchedulerOptions passes options to the task scheduler.
func WithSchedulerOptions(opts ...scheduler.Option) EngineOption {
	return engineOptionFunc(func(c *engineConfig) {
		c.schedulerOpts = append(c.schedulerOpts, opts...)
	})
}

// Engine wires a queue, bus, scheduler and consumer together.
type Engine struct {
	Queue     *queue.Queue
	Bus       *event.Bus
	Scheduler *scheduler.Scheduler
	Consumer  *consumer.Consumer

	logger *slog.Logger
	stops  []func()
}

// New builds an Engine on store with the handlers in reg.
func New(store Storage, reg *Registry, opts ...EngineOption) (*Engine, error) {
	cfg := engineConfig{logger: slog.Default(), logEvents: true}
	for _, opt := range opts {
		opt.applyEngine(&cfg)
	}

	bus := event.New(event.WithLogger(cfg.logger))
	q := queue.New(store)
	sched := scheduler.New(q, bus, append([]scheduler.Option{scheduler.WithLogger(cfg.logger)}, cfg.schedulerOpts...)...)
	cons := consumer.New(reg, sched, bus, append([]consumer.Option{consumer.WithLogger(cfg.logger)}, cfg.consumerOpts...)...)

	e := &Engine{
		Queue:     q,
		Bus:       bus,
		Scheduler: sched,
		Consumer:  cons,
		logger:    cfg.logger,
	}
	if err := cons.Subscribe(q); err != nil {
		return nil, fmt.Errorf("jobflow: %w", err)
	}

	e.stops = append(e.stops, sched.Attach(bus))
	if cfg.logEvents {
		e.stops = append(e.stops, observability.LogEvents(bus, cfg.logger))
	}
	if cfg.metrics != nil {
		e.stops = append(e.stops, cfg.metrics.Attach(bus))
	}
	return e, nil
}

// Enqueue adds a job of kind to the queue.
func (e *Engine) Enqueue(ctx context.Context, kind string, payload any, opts ...Option) (string, error) {
	return e.Queue.Enqueue(ctx, kind, payload, opts...)
}

// NewWorker creates a worker for the engine's queue using the engine logger.
func (e *Engine) NewWorker(opts ...WorkerOption) *Worker {
	return worker.NewWorker(e.Queue, append([]WorkerOption{worker.WithLogger(e.logger)}, opts...)...)
}

// Close detaches the scheduler, event log and metrics from the bus.
func (e *Engine) Close() {
	for _, stop := range e.stops {
		stop()
	}
	e.stops = nil
}

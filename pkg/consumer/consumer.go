package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jdziat/jobflow/pkg/core"
	"github.com/jdziat/jobflow/pkg/dag"
	"github.com/jdziat/jobflow/pkg/queue"
	"github.com/jdziat/jobflow/pkg/registry"
)

const tracerName = "github.com/jdziat/jobflow/consumer"

// Resolver builds the handler for a job kind within a scope.
type Resolver interface {
	Resolve(kind string, scope *registry.Scope) (registry.Handler, bool)
}

// TaskScheduler accepts a continuation graph. StartTask returns once the
// graph is accepted, not when it finishes.
type TaskScheduler interface {
	StartTask(ctx context.Context, g *dag.DAG) error
}

// EventSink publishes application events. Delivery is best effort.
type EventSink interface {
	Emit(ctx context.Context, name string, payload any)
}

// Queue is the part of *queue.Queue a Consumer subscribes to.
type Queue interface {
	Process(kind string, fn queue.ProcessFunc) error
	OnJobComplete(fn func(context.Context, *core.Job))
	OnJobFail(fn func(context.Context, *core.Job, error))
}

// Consumer routes jobs from a queue to handlers, and handler results to the
// scheduler or the event sink. It holds no per-job state and is safe for
// concurrent use as long as its collaborators are.
type Consumer struct {
	registry  Resolver
	scheduler TaskScheduler
	sink      EventSink

	missPolicy MissPolicy
	tracer     trace.Tracer
	logger     *slog.Logger
	newScopeID func() string

	subscribeOnce sync.Once
	subscribeErr  error
}

// New creates a Consumer.
func New(reg Resolver, scheduler TaskScheduler, sink EventSink, opts ...Option) *Consumer {
	c := &Consumer{
		registry:   reg,
		scheduler:  scheduler,
		sink:       sink,
		missPolicy: MissFail,
		tracer:     otel.Tracer(tracerName),
		logger:     slog.Default(),
		newScopeID: uuid.NewString,
	}
	for _, opt := range opts {
		opt.apply(c)
	}
	return c
}

// Subscribe registers the consumer as the wildcard processor of q and hooks
// its lifecycle notifications. Only the first call has any effect; later
// calls return the first call's result.
func (c *Consumer) Subscribe(q Queue) error {
	c.subscribeOnce.Do(func() {
		if err := q.Process(queue.Wildcard, c.Process); err != nil {
			c.subscribeErr = fmt.Errorf("consumer: subscribe: %w", err)
			return
		}
		q.OnJobComplete(c.OnCompleted)
		q.OnJobFail(c.OnFailed)
	})
	return c.subscribeErr
}

// Process runs one job: resolve, execute, then schedule or emit.
func (c *Consumer) Process(ctx context.Context, job *core.Job) (err error) {
	ctx, span := c.tracer.Start(ctx, "jobflow.job.process",
		trace.WithAttributes(
			attribute.String("jobflow.job.id", job.ID),
			attribute.String("jobflow.job.kind", job.Kind),
			attribute.String("jobflow.queue", job.Queue),
			attribute.Int("jobflow.attempt", job.Attempt),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	scope := &registry.Scope{
		ID:     c.newScopeID(),
		Job:    job,
		Logger: c.logger.With("job_id", job.ID, "kind", job.Kind),
	}
	span.SetAttributes(attribute.String("jobflow.scope.id", scope.ID))

	h, ok := c.registry.Resolve(job.Kind, scope)
	if !ok {
		span.SetAttributes(attribute.String("jobflow.result", "unresolved"))
		return c.miss(ctx, job)
	}

	res, err := h.Execute(ctx, job.Payload)
	if err != nil {
		return err
	}
	if !res.Valid() {
		return fmt.Errorf("%w: job %s (%s)", core.ErrEmptyResult, job.ID, job.Kind)
	}
	span.SetAttributes(attribute.String("jobflow.result", res.Kind().String()))

	switch res.Kind() {
	case core.ContinuationResult:
		return c.scheduler.StartTask(core.WithJob(ctx, job), res.Graph())
	default:
		c.sink.Emit(ctx, core.EventJobFinished, core.Finished{
			JobID:  job.ID,
			TaskID: job.TaskID(),
			Result: res.Value(),
		})
		return nil
	}
}

func (c *Consumer) miss(ctx context.Context, job *core.Job) error {
	switch c.missPolicy {
	case MissIgnore:
		return nil
	case MissReport:
		err := &core.UnknownKindError{JobID: job.ID, Kind: job.Kind}
		c.sink.Emit(ctx, core.EventJobUnresolved, core.NewLifecycle(job, err))
		return nil
	default:
		return core.NoRetry(&core.UnknownKindError{JobID: job.ID, Kind: job.Kind})
	}
}

// OnFailed publishes job:failed for a job the queue gave up on.
func (c *Consumer) OnFailed(ctx context.Context, job *core.Job, err error) {
	c.sink.Emit(ctx, core.EventJobFailed, core.NewLifecycle(job, unwrapNoRetry(err)))
}

// OnCompleted publishes job:completed for a job the queue acknowledged.
func (c *Consumer) OnCompleted(ctx context.Context, job *core.Job) {
	c.sink.Emit(ctx, core.EventJobCompleted, core.NewLifecycle(job, nil))
}

// unwrapNoRetry removes the retry classification so the event carries the
// handler's own message.
func unwrapNoRetry(err error) error {
	var noRetry *core.NoRetryError
	if errors.As(err, &noRetry) && noRetry.Err != nil {
		return noRetry.Err
	}
	return err
}

package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jdziat/jobflow/pkg/core"
	"github.com/jdziat/jobflow/pkg/event"
)

const meterName = "github.com/jdziat/jobflow"

// Metrics counts lifecycle events with OpenTelemetry instruments.
//
// Instruments:
//   - jobflow.jobs (Int64Counter): job events, attributes event and kind
//   - jobflow.runs (Int64Counter): run events, attribute event
//   - jobflow.runs.active (Int64UpDownCounter): runs started but not finished
//
// ObserveQueueDepth adds the jobflow.queue.depth gauge.
type Metrics struct {
	meter  metric.Meter
	jobs   metric.Int64Counter
	runs   metric.Int64Counter
	active metric.Int64UpDownCounter
}

// NewMetrics creates the instruments from the global MeterProvider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithMeter(otel.Meter(meterName))
}

// NewMetricsWithMeter creates the instruments from meter.
func NewMetricsWithMeter(meter metric.Meter) (*Metrics, error) {
	jobs, err := meter.Int64Counter("jobflow.jobs",
		metric.WithDescription("Job lifecycle events"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: jobs counter: %w", err)
	}
	runs, err := meter.Int64Counter("jobflow.runs",
		metric.WithDescription("Task graph run events"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: runs counter: %w", err)
	}
	active, err := meter.Int64UpDownCounter("jobflow.runs.active",
		metric.WithDescription("Task graph runs in progress"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: active runs counter: %w", err)
	}
	return &Metrics{meter: meter, jobs: jobs, runs: runs, active: active}, nil
}

// Attach records every event on bus. The returned function detaches.
func (m *Metrics) Attach(bus *event.Bus) (detach func()) {
	return bus.On(event.Wildcard, m.record)
}

func (m *Metrics) record(ctx context.Context, e event.Envelope) {
	switch p := e.Payload.(type) {
	case core.Lifecycle:
		m.jobs.Add(ctx, 1, metric.WithAttributes(
			attribute.String("event", e.Name),
			attribute.String("kind", p.Kind),
		))
	case core.Finished:
		m.jobs.Add(ctx, 1, metric.WithAttributes(attribute.String("event", e.Name)))
	case core.RunEvent:
		m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("event", e.Name)))
		switch e.Name {
		case core.EventRunStarted:
			m.active.Add(ctx, 1)
		case core.EventRunCompleted, core.EventRunFailed:
			m.active.Add(ctx, -1)
		}
	}
}

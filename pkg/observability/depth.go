package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jdziat/jobflow/pkg/storage"
)

// DepthSource reports per-queue job counts. *storage.GormStorage implements it.
type DepthSource interface {
	QueueDepths(ctx context.Context) ([]storage.QueueDepth, error)
}

// ObserveQueueDepth registers the jobflow.queue.depth gauge, read from src at
// every collection. Attributes are queue and status (pending or running).
// The returned function unregisters the callback.
func (m *Metrics) ObserveQueueDepth(src DepthSource) (stop func() error, err error) {
	gauge, err := m.meter.Int64ObservableGauge("jobflow.queue.depth",
		metric.WithDescription("Jobs waiting or running per queue"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: queue depth gauge: %w", err)
	}

	reg, err := m.meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		depths, err := src.QueueDepths(ctx)
		if err != nil {
			return err
		}
		for _, d := range depths {
			queue := attribute.String("queue", d.Queue)
			o.ObserveInt64(gauge, d.Pending, metric.WithAttributes(queue, attribute.String("status", "pending")))
			o.ObserveInt64(gauge, d.Running, metric.WithAttributes(queue, attribute.String("status", "running")))
		}
		return nil
	}, gauge)
	if err != nil {
		return nil, fmt.Errorf("observability: queue depth callback: %w", err)
	}
	return reg.Unregister, nil
}

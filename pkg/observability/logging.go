package observability

import (
	"context"
	"log/slog"

	"github.com/jdziat/jobflow/pkg/core"
	"github.com/jdziat/jobflow/pkg/event"
)

// LogEvents logs job and run lifecycle events from bus. Failures log at
// error level, unresolved kinds at warn, the rest at info. The returned
// function stops logging.
func LogEvents(bus *event.Bus, logger *slog.Logger) (stop func()) {
	if logger == nil {
		logger = slog.Default()
	}
	return bus.On(event.Wildcard, func(ctx context.Context, e event.Envelope) {
		switch p := e.Payload.(type) {
		case core.Lifecycle:
			logLifecycle(ctx, logger, e.Name, p)
		case core.RunEvent:
			logRun(ctx, logger, e.Name, p)
		case core.Finished:
			logger.DebugContext(ctx, "job finished", "job_id", p.JobID, "task_id", p.TaskID)
		}
	})
}

func logLifecycle(ctx context.Context, logger *slog.Logger, name string, l core.Lifecycle) {
	attrs := []any{"kind", l.Kind, "job_id", l.JobID}
	if l.TaskID != "" {
		attrs = append(attrs, "task_id", l.TaskID)
	}

	switch name {
	case core.EventJobFailed:
		logger.ErrorContext(ctx, "job failed", append(attrs, "attempt", l.Attempt, "error", l.Error)...)
	case core.EventJobCompleted:
		logger.InfoContext(ctx, "job completed", attrs...)
	case core.EventJobUnresolved:
		logger.WarnContext(ctx, "job kind not registered", attrs...)
	}
}

func logRun(ctx context.Context, logger *slog.Logger, name string, r core.RunEvent) {
	attrs := []any{"run_id", r.RunID, "tasks", r.Tasks}
	if r.ParentTaskID != "" {
		attrs = append(attrs, "parent_task", r.ParentTaskID)
	}

	switch name {
	case core.EventRunStarted:
		logger.InfoContext(ctx, "run started", attrs...)
	case core.EventRunCompleted:
		logger.InfoContext(ctx, "run completed", attrs...)
	case core.EventRunFailed:
		logger.ErrorContext(ctx, "run failed", append(attrs, "error", r.Error)...)
	}
}

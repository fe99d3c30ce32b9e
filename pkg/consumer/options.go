package consumer

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// MissPolicy decides what Process does with a job whose kind has no handler.
type MissPolicy int

const (
	// MissFail fails the job without retries with a *core.UnknownKindError.
	// The failure reaches OnFailed through the queue like any other. It is
	// the default.
	MissFail MissPolicy = iota
	// MissReport emits job:unresolved and lets the job complete.
	MissReport
	// MissIgnore acknowledges the job silently. Jobflow releases before
	// miss policies existed behaved this way; callers relying on it need
	// WithMissPolicy(MissIgnore).
	MissIgnore
)

func (p MissPolicy) String() string {
	switch p {
	case MissFail:
		return "fail"
	case MissReport:
		return "report"
	case MissIgnore:
		return "ignore"
	default:
		return "unknown"
	}
}

// ParseMissPolicy parses the String form of a MissPolicy.
func ParseMissPolicy(s string) (MissPolicy, bool) {
	switch s {
	case "fail", "":
		return MissFail, true
	case "report":
		return MissReport, true
	case "ignore":
		return MissIgnore, true
	default:
		return MissFail, false
	}
}

// Option configures a Consumer.
type Option interface {
	apply(*Consumer)
}

type optionFunc func(*Consumer)

func (f optionFunc) apply(c *Consumer) { f(c) }

// WithMissPolicy sets how jobs of unknown kinds are treated.
func WithMissPolicy(p MissPolicy) Option {
	return optionFunc(func(c *Consumer) {
		c.missPolicy = p
	})
}

// WithTracer sets the tracer used for the per-job span.
func WithTracer(t trace.Tracer) Option {
	return optionFunc(func(c *Consumer) {
		if t != nil {
			c.tracer = t
		}
	})
}

// WithLogger sets the logger handed to handler scopes.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *Consumer) {
		if l != nil {
			c.logger = l
		}
	})
}

// WithScopeIDs overrides scope id generation.
func WithScopeIDs(next func() string) Option {
	return optionFunc(func(c *Consumer) {
		if next != nil {
			c.newScopeID = next
		}
	})
}

package stream

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "Helix/internal/stream"

// Option configures a consumer.
type Option func(*options)

type options struct {
	idleTimeout time.Duration
	label       string
	logger      *slog.Logger
	tracer      trace.Tracer
	meter       metric.Meter
}

// WithIdleTimeout fails the session with ErrIdleTimeout when no chunk
// arrives for d. Zero disables the ceiling.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) {
		o.idleTimeout = d
	}
}

// WithLabel names the session in logs and spans, e.g. "chat" or "draft".
func WithLabel(label string) Option {
	return func(o *options) {
		o.label = label
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTracer sets the tracer. Defaults to the global provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithMeter sets the meter used for token counts. Defaults to the global provider.
func WithMeter(meter metric.Meter) Option {
	return func(o *options) {
		if meter != nil {
			o.meter = meter
		}
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		label:  "stream",
		logger: slog.Default(),
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

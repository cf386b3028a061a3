package toposched

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/davidroman0O/toposched/logs"
)

// Config holds configuration for a Runtime.
type Config[T comparable] struct {
	logger     logs.Logger
	graph      Graph[T]
	metrics    *Metrics
	tracer     trace.Tracer
	resumeRate float64
	burst      int

	// Task callbacks
	OnTaskSubmitted func(id T)
	OnTaskStarted   func(id T)
	OnTaskResumed   func(id T)
	OnTaskSuspended func(id T)
	OnTaskCompleted func(id T)
	OnTaskFailed    func(id T, err error)

	// Scheduler events
	OnDeadlock func(cycle []T)
}

// Option defines functional options for runtime configuration
type Option[T comparable] func(*Config[T])

// WithLogger sets the logger used for scheduling events.
func WithLogger[T comparable](logger logs.Logger) Option[T] {
	return func(c *Config[T]) {
		c.logger = logger
	}
}

// WithGraph injects the dependency engine the runtime schedules against.
// Defaults to a fresh Toposort.
func WithGraph[T comparable](g Graph[T]) Option[T] {
	return func(c *Config[T]) {
		c.graph = g
	}
}

// WithMetrics attaches a Prometheus metrics collector.
func WithMetrics[T comparable](m *Metrics) Option[T] {
	return func(c *Config[T]) {
		c.metrics = m
	}
}

// WithTracer attaches an OpenTelemetry tracer; each task resume becomes a
// span.
func WithTracer[T comparable](tracer trace.Tracer) Option[T] {
	return func(c *Config[T]) {
		c.tracer = tracer
	}
}

// WithResumeRate throttles the scheduling loop to at most rps task resumes
// per second.
func WithResumeRate[T comparable](rps float64) Option[T] {
	return func(c *Config[T]) {
		c.resumeRate = rps
		if c.burst == 0 {
			c.burst = 1
		}
	}
}

// WithResumeBurst sets the burst size used with WithResumeRate.
func WithResumeBurst[T comparable](burst int) Option[T] {
	return func(c *Config[T]) {
		c.burst = burst
	}
}

// WithOnTaskSubmitted sets a callback invoked when a task is registered.
func WithOnTaskSubmitted[T comparable](cb func(id T)) Option[T] {
	return func(c *Config[T]) {
		c.OnTaskSubmitted = cb
	}
}

// WithOnTaskStarted sets a callback invoked the first time a task runs.
func WithOnTaskStarted[T comparable](cb func(id T)) Option[T] {
	return func(c *Config[T]) {
		c.OnTaskStarted = cb
	}
}

// WithOnTaskResumed sets a callback invoked on every resume after the first.
func WithOnTaskResumed[T comparable](cb func(id T)) Option[T] {
	return func(c *Config[T]) {
		c.OnTaskResumed = cb
	}
}

// WithOnTaskSuspended sets a callback invoked when a task suspends itself.
func WithOnTaskSuspended[T comparable](cb func(id T)) Option[T] {
	return func(c *Config[T]) {
		c.OnTaskSuspended = cb
	}
}

// WithOnTaskCompleted sets a callback invoked when a task body returns nil.
func WithOnTaskCompleted[T comparable](cb func(id T)) Option[T] {
	return func(c *Config[T]) {
		c.OnTaskCompleted = cb
	}
}

// WithOnTaskFailed sets a callback invoked when a task body returns an error
// or panics.
func WithOnTaskFailed[T comparable](cb func(id T, err error)) Option[T] {
	return func(c *Config[T]) {
		c.OnTaskFailed = cb
	}
}

// WithOnDeadlock sets a callback invoked with the diagnosed cycle when the
// scheduler detects a deadlock.
func WithOnDeadlock[T comparable](cb func(cycle []T)) Option[T] {
	return func(c *Config[T]) {
		c.OnDeadlock = cb
	}
}

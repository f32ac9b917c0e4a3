package core

import (
	"context"
	"time"
)

// Logger is the minimal structured logging interface every component in
// the bridge accepts at construction. There is no package-level default:
// callers that want no-op logging pass NoOpLogger explicitly.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	InfoWithContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, fields map[string]interface{})
	DebugWithContext(ctx context.Context, msg string, fields map[string]interface{})
}

// ComponentAwareLogger lets a package tag its log lines with a stable
// component name ("eventstore", "elicitation", "ratelimit", "audit",
// "session", "expert") without needing a global logger registry.
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// Telemetry is the optional span/metric emission surface. Components take
// a Telemetry value (or NoOpTelemetry) at construction; there is no global.
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	RecordMetric(name string, value float64, labels map[string]string)
}

// Span represents a single telemetry span.
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	RecordError(err error)
}

// Memory is a generic TTL-bearing key/value store, implemented in process
// by MemoryStore. The rate limiter, nonce store, and session validator do
// not accept one; they keep their own in-memory maps.
type Memory interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// NoOpLogger discards everything. Useful in tests and for components that
// genuinely have nowhere to log to.
type NoOpLogger struct{}

func (n *NoOpLogger) Info(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Error(msg string, fields map[string]interface{}) {}
func (n *NoOpLogger) Warn(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Debug(msg string, fields map[string]interface{}) {}

func (n *NoOpLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
}
func (n *NoOpLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
}
func (n *NoOpLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
}
func (n *NoOpLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
}

func (n *NoOpLogger) WithComponent(component string) Logger { return n }

// NoOpTelemetry discards spans and metrics.
type NoOpTelemetry struct{}

func (n *NoOpTelemetry) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, &NoOpSpan{}
}

func (n *NoOpTelemetry) RecordMetric(name string, value float64, labels map[string]string) {}

// NoOpSpan discards attributes and errors.
type NoOpSpan struct{}

func (n *NoOpSpan) End()                                       {}
func (n *NoOpSpan) SetAttribute(key string, value interface{}) {}
func (n *NoOpSpan) RecordError(err error)                      {}

package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/lighthouse/bridge/core"
)

// SimpleLogger is a JSON-line core.ComponentAwareLogger writing to stdout.
// One line per call: {"level":"info","msg":"...","component":"...","ts":"...","field":"value",...}
type SimpleLogger struct {
	mu        sync.Mutex
	level     Level
	out       *os.File
	component string
	fields    map[string]interface{}
}

// NewSimpleLogger creates a logger at LOG_LEVEL (env, default info).
func NewSimpleLogger() *SimpleLogger {
	return &SimpleLogger{
		level: parseLevel(os.Getenv("LOG_LEVEL")),
		out:   os.Stdout,
	}
}

func (l *SimpleLogger) Info(msg string, fields map[string]interface{}) {
	l.emit(LevelInfo, "info", msg, fields)
}
func (l *SimpleLogger) Error(msg string, fields map[string]interface{}) {
	l.emit(LevelError, "error", msg, fields)
}
func (l *SimpleLogger) Warn(msg string, fields map[string]interface{}) {
	l.emit(LevelWarn, "warn", msg, fields)
}
func (l *SimpleLogger) Debug(msg string, fields map[string]interface{}) {
	l.emit(LevelDebug, "debug", msg, fields)
}

func (l *SimpleLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Info(msg, withTraceID(ctx, fields))
}
func (l *SimpleLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Error(msg, withTraceID(ctx, fields))
}
func (l *SimpleLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Warn(msg, withTraceID(ctx, fields))
}
func (l *SimpleLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Debug(msg, withTraceID(ctx, fields))
}

// WithComponent returns a child logger whose lines carry a "component" tag.
func (l *SimpleLogger) WithComponent(component string) core.Logger {
	return &SimpleLogger{
		level:     l.level,
		out:       l.out,
		component: component,
		fields:    l.fields,
	}
}

func (l *SimpleLogger) emit(level Level, levelName, msg string, fields map[string]interface{}) {
	if level < l.level {
		return
	}

	line := map[string]interface{}{
		"level": levelName,
		"msg":   msg,
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
	}
	if l.component != "" {
		line["component"] = l.component
	}
	for k, v := range l.fields {
		line[k] = v
	}
	for k, v := range fields {
		line[k] = v
	}

	data, err := json.Marshal(line)
	if err != nil {
		// Marshal failure on a logging path must never crash the caller;
		// fall back to a flat line so the message itself isn't lost.
		data = []byte(fmt.Sprintf(`{"level":%q,"msg":%q}`, levelName, msg))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out, string(data))
}

type traceIDKey struct{}

// WithTraceID attaches a trace/correlation id to ctx for the *WithContext
// logging methods to pick up automatically.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, id)
}

func withTraceID(ctx context.Context, fields map[string]interface{}) map[string]interface{} {
	id, ok := ctx.Value(traceIDKey{}).(string)
	if !ok || id == "" {
		return fields
	}
	merged := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		merged[k] = v
	}
	merged["trace_id"] = id
	return merged
}

// Package audit implements the Audit Logger: it persists security-
// relevant events into the event store and keeps a short in-memory
// window for fast introspection, tagging each with a severity so
// high/critical violations are also written as standalone security
// events for fast scanning (spec §4.4).
package audit

import (
	"sync"
	"time"

	"github.com/lighthouse/bridge/core"
	"github.com/lighthouse/bridge/eventstore"
)

// Severity is the closed set of audit severities.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) standalone() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// Entry is one item in the in-memory introspection window.
type Entry struct {
	Kind          string
	Severity      Severity
	ElicitationID string
	Details       map[string]interface{}
	RecordedAt    time.Time
}

const defaultWindowSize = 1000

// Logger records audit entries into the event store and retains the
// most recent entries (bounded, oldest-drop) for introspection.
type Logger struct {
	store *eventstore.Store
	comp  string

	mu         sync.Mutex
	window     []Entry
	windowSize int

	logger core.Logger
}

// Option configures a Logger.
type Option func(*Logger)

// WithWindowSize overrides the in-memory introspection window capacity.
func WithWindowSize(n int) Option {
	return func(l *Logger) { l.windowSize = n }
}

// WithLogger attaches a structured logger for non-fatal append failures.
func WithLogger(logger core.Logger) Option {
	return func(l *Logger) {
		if cal, ok := logger.(core.ComponentAwareLogger); ok {
			l.logger = cal.WithComponent("audit")
			return
		}
		l.logger = logger
	}
}

// NewLogger constructs a Logger writing into store.
func NewLogger(store *eventstore.Store, opts ...Option) *Logger {
	l := &Logger{
		store:      store,
		comp:       "audit-logger",
		windowSize: defaultWindowSize,
		logger:     &core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RecordViolation implements elicitation.Auditor: it persists kind as a
// validation_failure (or security_violation for standalone-worthy
// severities) event and appends it to the introspection window.
func (l *Logger) RecordViolation(kind, severity, elicitationID string, details map[string]interface{}) {
	sev := Severity(severity)
	l.record(kind, sev, elicitationID, details)
}

// RecordLifecycle persists a lifecycle event (elicitation_created,
// elicitation_response, elicitation_expired) at info severity.
func (l *Logger) RecordLifecycle(eventType eventstore.EventType, elicitationID string, details map[string]interface{}) {
	l.appendEvent(eventType, elicitationID, details)
	l.push(Entry{Kind: string(eventType), Severity: SeverityInfo, ElicitationID: elicitationID, Details: details, RecordedAt: time.Now()})
}

func (l *Logger) record(kind string, severity Severity, elicitationID string, details map[string]interface{}) {
	data := map[string]interface{}{"violation": kind, "severity": string(severity)}
	for k, v := range details {
		data[k] = v
	}

	eventType := eventstore.EventValidationFailure
	if severity.standalone() {
		eventType = eventstore.EventSecurityViolation
	}
	l.appendEvent(eventType, elicitationID, data)
	l.push(Entry{Kind: kind, Severity: severity, ElicitationID: elicitationID, Details: details, RecordedAt: time.Now()})
}

func (l *Logger) appendEvent(eventType eventstore.EventType, elicitationID string, data map[string]interface{}) {
	event := &eventstore.Event{
		EventType:       eventType,
		AggregateID:     elicitationID,
		AggregateType:   "elicitation",
		SourceComponent: l.comp,
		Data:            data,
	}
	if err := l.store.Append(event); err != nil {
		// Per spec §7, background/audit paths swallow and log non-fatal
		// errors rather than propagate into the caller's request path.
		l.logger.Error("audit append failed", map[string]interface{}{"error": err.Error(), "kind": string(eventType)})
	}
}

func (l *Logger) push(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.window) >= l.windowSize {
		l.window = l.window[1:]
	}
	l.window = append(l.window, e)
}

// Recent returns up to n most-recently-recorded entries, newest last.
func (l *Logger) Recent(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.window) {
		n = len(l.window)
	}
	out := make([]Entry, n)
	copy(out, l.window[len(l.window)-n:])
	return out
}

// CountBySeverity returns how many entries in the current window match
// severity.
func (l *Logger) CountBySeverity(severity Severity) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	count := 0
	for _, e := range l.window {
		if e.Severity == severity {
			count++
		}
	}
	return count
}

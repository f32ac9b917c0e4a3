// Package logger provides SimpleLogger, a JSON-line implementation of
// core.ComponentAwareLogger, and a component-tagged child logger for
// packages that want their log lines prefixed by component name
// ("eventstore", "elicitation", "ratelimit", "audit", "session", "expert").
//
// Configuration is via LOG_LEVEL (debug|info|warn|error, default info).
package logger

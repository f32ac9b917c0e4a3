// Package telemetry backs core.Telemetry with OpenTelemetry: traces
// exported via OTLP/HTTP and metric instruments cached per name.
//
// Unlike a package-level registry, Provider carries no global state —
// callers construct one with NewProvider and pass it explicitly to the
// eventstore and elicitation components that accept a
// core.Telemetry, consistent with the bridge's no-global-singletons rule.
// Components that are not given a Provider fall back to core.NoOpTelemetry.
package telemetry

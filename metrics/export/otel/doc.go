// Package otel publishes the engine counters as OpenTelemetry observable
// instruments. The caller owns the MeterProvider and supplies a Meter.
package otel

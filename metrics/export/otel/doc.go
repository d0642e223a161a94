// Package otel publishes engine metrics through an OpenTelemetry Meter.
//
// [NewExporter] registers one observable counter per flow (dirauth.register,
// dirauth.login, dirauth.csrf and so on) whose data points carry an outcome
// attribute. Validation latency is a cumulative gauge keyed by an le
// attribute plus a sample counter. A single callback reads the engine
// snapshot on each collection. The caller owns the MeterProvider.
package otel

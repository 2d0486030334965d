// Package metrics provides core.MetricsRecorder implementations: an
// in-process Registry with a plain text HTTP handler and an OpenTelemetry
// bridge.
package metrics

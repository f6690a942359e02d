// Package observability provides structured logging, Prometheus metrics and
// OpenTelemetry tracing for the eventlive client.
//
// # Logging
//
// NewLogger builds a *slog.Logger whose handler redacts bearer tokens, JWTs
// and other secrets before records reach the output:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:  "debug",
//	    Format: "text",
//	})
//	logger.Info("connecting to hub", "url", hubURL)
//
// # Metrics
//
// Metrics are registered on the Registerer passed to NewMetrics. A nil
// *Metrics is valid and records nothing, so components can take one
// optionally:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.RecordActivityEvent("UserJoined")
//
// # Tracing
//
// NewTracer exports spans over OTLP/gRPC when an endpoint is configured and
// falls back to the global no-op tracer otherwise. A nil *Tracer is also
// valid.
package observability

// Package observability provides logging setup, Prometheus metrics, OpenTelemetry tracing and
// shutdown helpers shared by the hubcap packages and binaries.
//
// # Logging
//
// Components take a logrus.FieldLogger. Binaries build one with NewLogger:
//
//	log := observability.NewLogger("debug", "text", os.Stderr)
//	log.WithField("repository", "directory").Info("Inspection complete")
//
// # Prometheus Metrics
//
// Metrics are registered against a caller-provided registry. A nil *Metrics is valid and
// records nothing, so libraries can call the Observe methods unconditionally:
//
//	reg := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(reg)
//	metrics.ObserveInspection("directory", "success", time.Second)
//
// # Tracing
//
// Spans are created from the global tracer provider under TracerName. InitOTel installs an
// OTLP/gRPC exporter; when it is not called the global no-op provider is used.
//
// # Panic Recovery
//
//	defer observability.RecoverPanic(log, "directory watcher")
package observability

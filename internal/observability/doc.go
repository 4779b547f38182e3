// Package observability configures process-wide logging.
//
// Instrument installs the default slog logger. Records always go to the
// console (text or JSON) and, when an exporter is configured, are also
// bridged to OpenTelemetry logs:
//
//	shutdown, err := observability.Instrument(ctx, slog.LevelInfo, "text",
//		observability.WithExporter(observability.ExporterOTLPGRPC))
//	defer shutdown(context.Background())
//
// OTLP exporters read their endpoint and headers from the standard
// OTEL_EXPORTER_OTLP_* environment variables.
package observability

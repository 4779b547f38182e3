package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// instrumentationName identifies log records bridged to OpenTelemetry.
const instrumentationName = "github.com/florianilch/graphbridge"

// Exporter selects where OpenTelemetry log records are sent.
type Exporter string

const (
	ExporterNone     Exporter = "none"
	ExporterStdout   Exporter = "stdout"
	ExporterOTLPGRPC Exporter = "otlp-grpc"
	ExporterOTLPHTTP Exporter = "otlp-http"
)

type config struct {
	exporter Exporter
	console  io.Writer
}

// Option configures Instrument.
type Option func(*config)

// WithExporter enables OpenTelemetry log export.
func WithExporter(exporter Exporter) Option {
	return func(c *config) {
		c.exporter = exporter
	}
}

// WithConsole sets the console destination. Defaults to stderr.
func WithConsole(w io.Writer) Option {
	return func(c *config) {
		c.console = w
	}
}

// Instrument installs the default logger and returns a function flushing and
// stopping the log pipeline.
func Instrument(ctx context.Context, level slog.Level, format string, opts ...Option) (func(context.Context) error, error) {
	cfg := config{
		exporter: ExporterNone,
		console:  os.Stderr,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	console, err := consoleHandler(cfg.console, level, format)
	if err != nil {
		return nil, err
	}
	console = &traceHandler{Handler: console}

	noop := func(context.Context) error { return nil }

	if cfg.exporter == "" || cfg.exporter == ExporterNone {
		slog.SetDefault(slog.New(console))
		return noop, nil
	}

	exporter, err := newExporter(ctx, cfg.exporter, cfg.console)
	if err != nil {
		return nil, err
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(minsev.NewLogProcessor(sdklog.NewBatchProcessor(exporter), severityFor(level))),
	)
	global.SetLoggerProvider(provider)

	// Export failures are reported on the console only
	consoleLogger := slog.New(console)
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		consoleLogger.Error("opentelemetry error", "error", err)
	}))

	bridge := otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(provider))
	slog.SetDefault(slog.New(newFanoutHandler(console, bridge)))

	return provider.Shutdown, nil
}

func consoleHandler(w io.Writer, level slog.Level, format string) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: level}

	switch format {
	case "", "text":
		return slog.NewTextHandler(w, opts), nil
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}
}

func newExporter(ctx context.Context, exporter Exporter, console io.Writer) (sdklog.Exporter, error) {
	switch exporter {
	case ExporterStdout:
		exp, err := stdoutlog.New(stdoutlog.WithWriter(console))
		if err != nil {
			return nil, fmt.Errorf("creating stdout log exporter: %w", err)
		}
		return exp, nil
	case ExporterOTLPGRPC:
		exp, err := otlploggrpc.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating OTLP gRPC log exporter: %w", err)
		}
		return exp, nil
	case ExporterOTLPHTTP:
		exp, err := otlploghttp.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating OTLP HTTP log exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("unsupported log exporter: %s", exporter)
	}
}

// severityFor maps a slog level to the minimum exported severity.
func severityFor(level slog.Level) minsev.Severity {
	switch {
	case level < slog.LevelInfo:
		return minsev.SeverityDebug
	case level < slog.LevelWarn:
		return minsev.SeverityInfo
	case level < slog.LevelError:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}

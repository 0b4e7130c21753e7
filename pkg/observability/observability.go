// Package observability sets up tracing and the metrics endpoint of the
// supervisor process.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Config holds observability configuration
type Config struct {
	// ServiceName is reported on every span
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// MetricsAddr is the listen address of the metrics endpoint, e.g. ":9090".
	// Empty disables the HTTP server.
	MetricsAddr string

	// EnableTracing enables OpenTelemetry tracing
	EnableTracing bool

	// TraceExporter is "stdout" or "none"
	TraceExporter string

	// TraceOutput receives stdout spans; defaults to os.Stderr
	TraceOutput io.Writer
}

// DefaultConfig creates a default observability configuration
func DefaultConfig(serviceName, serviceVersion string) *Config {
	return &Config{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		TraceExporter:  "stdout",
	}
}

// Manager owns the tracer provider and the metrics server
type Manager struct {
	config    *Config
	gatherers prometheus.Gatherers
	ready     func() bool
	logger    *slog.Logger

	tracerProvider *sdktrace.TracerProvider
	metricsServer  *http.Server
	listener       net.Listener
	shutdownOnce   sync.Once
}

// Option configures a Manager
type Option func(*Manager)

// WithGatherer adds a registry served on /metrics
func WithGatherer(g prometheus.Gatherer) Option {
	return func(m *Manager) {
		m.gatherers = append(m.gatherers, g)
	}
}

// WithReadiness sets the check behind /ready
func WithReadiness(ready func() bool) Option {
	return func(m *Manager) {
		m.ready = ready
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// New creates a manager. Nothing starts until Initialize.
func New(config *Config, opts ...Option) *Manager {
	if config == nil {
		config = DefaultConfig("nodesup", "dev")
	}
	m := &Manager{
		config: config,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "observability")
	return m
}

// Initialize sets up tracing and starts the metrics server
func (m *Manager) Initialize(ctx context.Context) error {
	if m.config.EnableTracing {
		if err := m.initializeTracing(ctx); err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		m.logger.Info("tracing initialized",
			"service_name", m.config.ServiceName,
			"exporter", m.config.TraceExporter)
	}

	if m.config.MetricsAddr != "" {
		if err := m.startMetricsServer(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		m.logger.Info("metrics server started",
			"endpoint", fmt.Sprintf("http://%s/metrics", m.MetricsAddr()))
	}
	return nil
}

func (m *Manager) initializeTracing(ctx context.Context) error {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(m.config.ServiceName),
			semconv.ServiceVersion(m.config.ServiceVersion),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch m.config.TraceExporter {
	case "none":
	case "stdout", "":
		out := m.config.TraceOutput
		if out == nil {
			out = os.Stderr
		}
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("failed to create stdout exporter: %w", err)
		}
	default:
		return fmt.Errorf("unknown trace exporter %q (must be stdout or none)", m.config.TraceExporter)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	m.tracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(m.tracerProvider)
	return nil
}

// Tracer returns a tracer for the given name
func (m *Manager) Tracer(name string) trace.Tracer {
	if m.tracerProvider != nil {
		return m.tracerProvider.Tracer(name)
	}
	return otel.Tracer(name)
}

// Handler returns the HTTP handler serving /metrics, /health and /ready
func (m *Manager) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if m.ready != nil && !m.ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"not ready"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	gatherers := m.gatherers
	if len(gatherers) == 0 {
		gatherers = prometheus.Gatherers{prometheus.DefaultGatherer}
	}
	mux.Handle("/metrics", promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}))
	return mux
}

func (m *Manager) startMetricsServer() error {
	l, err := net.Listen("tcp", m.config.MetricsAddr)
	if err != nil {
		return err
	}
	m.listener = l

	m.metricsServer = &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := m.metricsServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("metrics server error", "error", err)
		}
	}()
	return nil
}

// MetricsAddr returns the address the metrics server listens on, or "" if
// it is not running
func (m *Manager) MetricsAddr() string {
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

// Shutdown stops the metrics server and flushes pending spans
func (m *Manager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	m.shutdownOnce.Do(func() {
		if m.metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := m.metricsServer.Shutdown(shutdownCtx); err != nil {
				shutdownErr = fmt.Errorf("metrics server shutdown: %w", err)
			}
		}

		if m.tracerProvider != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := m.tracerProvider.Shutdown(shutdownCtx); err != nil {
				shutdownErr = errors.Join(shutdownErr, fmt.Errorf("tracer provider shutdown: %w", err))
			}
		}
	})

	return shutdownErr
}

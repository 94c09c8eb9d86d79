// Package server exposes the OTLP/HTTP ingestion routes and the per-signal
// subscription surface.
package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/collector/pdata/plog"
	"go.opentelemetry.io/collector/pdata/pmetric"
	"go.opentelemetry.io/collector/pdata/ptrace"
	"go.opentelemetry.io/otel/trace"

	configpkg "github.com/drblury/otlpflow/internal/runtime/config"
	errspkg "github.com/drblury/otlpflow/internal/runtime/errors"
	"github.com/drblury/otlpflow/internal/runtime/fanout"
	loggingpkg "github.com/drblury/otlpflow/internal/runtime/logging"
	"github.com/drblury/otlpflow/internal/runtime/observe"
	"github.com/drblury/otlpflow/internal/runtime/pipeline"
	"github.com/drblury/otlpflow/internal/runtime/signal"
)

// StatsPath serves the per-signal stats document.
const StatsPath = "/api/signals"

// MetricsPath serves the Prometheus exposition.
const MetricsPath = "/metrics"

// Option customises a Server.
type Option func(*Server)

// WithHTTPServer replaces the default MuxServer transport.
func WithHTTPServer(transport HTTPServer) Option {
	return func(s *Server) { s.transport = transport }
}

// WithHooks adds hooks after the built-in logging, stats and metrics hooks.
func WithHooks(hooks observe.Hooks) Option {
	return func(s *Server) { s.extraHooks = s.extraHooks.Merge(hooks) }
}

// WithRegisterer sets where Prometheus collectors are registered when metrics
// are enabled. The default is a private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Server) { s.registerer = reg }
}

// WithTracer sets the tracer used for pipeline spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Server) { s.tracer = tracer }
}

// Server accepts OTLP/HTTP exports for traces, metrics and logs and publishes
// every accepted batch to in-process subscribers.
type Server struct {
	conf   configpkg.Config
	logger loggingpkg.ServiceLogger

	transport  HTTPServer
	extraHooks observe.Hooks
	registerer prometheus.Registerer
	tracer     trace.Tracer

	stats   *observe.Stats
	metrics *observe.Metrics

	traces  *pipeline.Pipeline[ptrace.Traces]
	metricP *pipeline.Pipeline[pmetric.Metrics]
	logs    *pipeline.Pipeline[plog.Logs]

	mu        sync.Mutex
	started   bool
	stopped   bool
	closeOnce sync.Once
}

// New validates conf, copies it and wires the routes. The server is not
// listening until Start.
func New(conf configpkg.Config, logger loggingpkg.ServiceLogger, opts ...Option) (*Server, error) {
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		conf:   conf,
		logger: logger.With(loggingpkg.LogFields{"component": "otlp_server"}),
		stats:  observe.NewStats(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if conf.MetricsEnabled {
		m, err := observe.NewMetrics(s.registerer)
		if err != nil {
			return nil, err
		}
		s.metrics = m
	}
	if s.transport == nil {
		s.transport = NewMuxServer(conf.Host, conf.Port, conf.MaxRequestSize, s.logger)
	}

	hooks := observe.LoggingHooks(s.logger).Merge(s.stats.Hooks())
	if s.metrics != nil {
		hooks = hooks.Merge(s.metrics.Hooks())
	}
	hooks = hooks.Merge(s.extraHooks)

	pipeOpts := pipeline.Options{
		MaxRequestSize:      conf.MaxRequestSize,
		MaxDecompressedSize: conf.MaxDecompressedSize,
		EnableCompression:   conf.EnableCompression,
		Hooks:               hooks,
		Tracer:              s.tracer,
	}
	fanOpts := fanout.Options{MaxPending: conf.SubscriberMaxPending}

	s.traces = pipeline.NewTraces(newChannel[ptrace.Traces](s, signal.Traces, fanOpts), pipeOpts)
	s.metricP = pipeline.NewMetrics(newChannel[pmetric.Metrics](s, signal.Metrics, fanOpts), pipeOpts)
	s.logs = pipeline.NewLogs(newChannel[plog.Logs](s, signal.Logs, fanOpts), pipeOpts)

	registerPipeline(s, s.traces)
	registerPipeline(s, s.metricP)
	registerPipeline(s, s.logs)
	s.registerObservability()

	return s, nil
}

func (s *Server) dropLogger(kind signal.Kind) func(string) {
	return func(subscriptionID string) {
		s.logger.Debug("Subscriber queue full, dropped oldest batch", loggingpkg.LogFields{
			"signal":          kind.String(),
			"subscription_id": subscriptionID,
		})
	}
}

func newChannel[T any](s *Server, kind signal.Kind, opts fanout.Options) *fanout.Channel[T] {
	opts.OnDrop = s.dropLogger(kind)
	ch := fanout.New[T](opts)
	s.stats.SetBacklogProbe(kind, backlogProbe(ch))
	return ch
}

func backlogProbe[T any](ch *fanout.Channel[T]) observe.BacklogProbe {
	return func() (int, int) { return ch.Subscribers(), ch.Backlog() }
}

func registerPipeline[T any](s *Server, p *pipeline.Pipeline[T]) {
	s.transport.Handle(http.MethodPost, p.Kind().Path(), func(ctx context.Context, req *Request) *Response {
		return FromPipeline(p.Handle(ctx, req.Pipeline()))
	})
}

func (s *Server) registerObservability() {
	if s.conf.StatsEnabled {
		s.transport.Handle(http.MethodGet, StatsPath, s.handleGetStats)
		s.transport.Handle(http.MethodOptions, StatsPath, s.handleGetStats)
	}
	if s.metrics != nil {
		s.transport.Mount(MetricsPath, s.metrics.Handler())
	}
}

// Start binds the listener. It returns ErrServerRunning when called twice and
// ErrServerStopped after Stop.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return errspkg.ErrServerStopped
	}
	if s.started {
		return errspkg.ErrServerRunning
	}
	if err := s.transport.Start(ctx); err != nil {
		return err
	}
	s.started = true
	s.logger.Info("OTLP server started", loggingpkg.LogFields{
		"base_url": s.baseURLLocked(),
		"config":   s.conf.String(),
	})
	return nil
}

// Stop drains in-flight requests and then finishes every subscription. A
// second call is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	var err error
	if started {
		err = s.transport.Stop(ctx)
	}
	s.closeChannels()

	if err != nil {
		s.logger.Error("OTLP server shutdown failed", err, nil)
		return err
	}
	s.logger.Info("OTLP server stopped", nil)
	return nil
}

// Run starts the server, blocks until ctx is done and stops it within the
// configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.conf.ShutdownTimeout)
	defer cancel()
	return s.Stop(stopCtx)
}

func (s *Server) closeChannels() {
	s.closeOnce.Do(func() {
		s.traces.Channel().Close()
		s.metricP.Channel().Close()
		s.logs.Channel().Close()
	})
}

// Traces returns a new subscription to accepted trace batches.
func (s *Server) Traces() *fanout.Subscription[ptrace.Traces] {
	return s.traces.Channel().Subscribe()
}

// Metrics returns a new subscription to accepted metric batches.
func (s *Server) Metrics() *fanout.Subscription[pmetric.Metrics] {
	return s.metricP.Channel().Subscribe()
}

// Logs returns a new subscription to accepted log batches.
func (s *Server) Logs() *fanout.Subscription[plog.Logs] {
	return s.logs.Channel().Subscribe()
}

// Stats returns the live per-signal stats.
func (s *Server) Stats() *observe.Stats { return s.stats }

// RecordForward counts a forwarding attempt when metrics are enabled.
func (s *Server) RecordForward(kind signal.Kind, err error) {
	s.metrics.RecordForward(kind, err)
}

// Config returns the server's copy of its configuration.
func (s *Server) Config() configpkg.Config { return s.conf }

// Port returns the bound port once started.
func (s *Server) Port() int { return s.transport.Port() }

// BaseURL returns http://host:port using the bound port.
func (s *Server) BaseURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseURLLocked()
}

func (s *Server) baseURLLocked() string {
	host := s.conf.Host
	if host == "" {
		host = configpkg.DefaultHost
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(s.transport.Port()))
}

func (s *Server) TracesURL() string  { return s.BaseURL() + signal.Traces.Path() }
func (s *Server) MetricsURL() string { return s.BaseURL() + signal.Metrics.Path() }
func (s *Server) LogsURL() string    { return s.BaseURL() + signal.Logs.Path() }

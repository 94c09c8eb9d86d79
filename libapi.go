package otlpflow

import (
	"context"
	"errors"
	"fmt"

	configpkg "github.com/drblury/otlpflow/internal/runtime/config"
	errspkg "github.com/drblury/otlpflow/internal/runtime/errors"
	"github.com/drblury/otlpflow/internal/runtime/fanout"
	"github.com/drblury/otlpflow/internal/runtime/forward"
	idspkg "github.com/drblury/otlpflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/otlpflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/otlpflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/otlpflow/internal/runtime/metadata"
	"github.com/drblury/otlpflow/internal/runtime/observe"
	"github.com/drblury/otlpflow/internal/runtime/pipeline"
	"github.com/drblury/otlpflow/internal/runtime/processor"
	"github.com/drblury/otlpflow/internal/runtime/server"
	"github.com/drblury/otlpflow/internal/runtime/signal"
	"github.com/drblury/otlpflow/sink"
)

type (
	Config = configpkg.Config
	Server = server.Server
	Option = server.Option

	// Transport abstraction, for plugging in a custom HTTP stack.
	HTTPServer      = server.HTTPServer
	HTTPRequest     = server.Request
	HTTPResponse    = server.Response
	HTTPHandlerFunc = server.HandlerFunc
	MuxServer       = server.MuxServer

	Subscription[T any] = fanout.Subscription[T]

	SignalKind = signal.Kind
	WireFormat = signal.WireFormat

	Summary         = processor.Summary
	ResourceSummary = processor.ResourceSummary
	Scope           = processor.Scope

	Hooks         = observe.Hooks
	RequestInfo   = observe.RequestInfo
	Stats         = observe.Stats
	SignalStats   = observe.SignalStats
	StatsSnapshot = observe.Snapshot

	IngestError = errspkg.IngestError
	ErrorKind   = errspkg.Kind

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	Forwarder        = forward.Forwarder
	ForwarderOptions = forward.Options

	Sink             = sink.Sink
	SinkConfig       = sink.Config
	SinkBuilder      = sink.Builder
	SinkRegistry     = sink.Registry
	SinkCapabilities = sink.Capabilities
)

const (
	Traces  = signal.Traces
	Metrics = signal.Metrics
	Logs    = signal.Logs

	Protobuf = signal.Protobuf
	JSON     = signal.JSON

	ProtobufContentType = signal.ProtobufContentType
	JSONContentType     = signal.JSONContentType

	StatsPath   = server.StatsPath
	MetricsPath = server.MetricsPath
)

// Error kinds reported by rejected exports.
const (
	KindPayloadTooLarge        = errspkg.KindPayloadTooLarge
	KindCompression            = errspkg.KindCompression
	KindEmptyBody              = errspkg.KindEmptyBody
	KindUnsupportedContentType = errspkg.KindUnsupportedContentType
	KindMalformedPayload       = errspkg.KindMalformedPayload
	KindInvalidRequest         = errspkg.KindInvalidRequest
	KindServerLifecycle        = errspkg.KindServerLifecycle
	KindInternal               = errspkg.KindInternal
)

var (
	NewServer = server.New

	WithHTTPServer = server.WithHTTPServer
	WithHooks      = server.WithHooks
	WithRegisterer = server.WithRegisterer
	WithTracer     = server.WithTracer

	NewMuxServer = server.NewMuxServer

	DefaultConfig     = configpkg.Default
	LoadConfigFromEnv = configpkg.LoadFromEnv
	ValidateConfig    = configpkg.ValidateConfig

	MergeHooks    = observe.MergeAll
	LoggingHooks  = observe.LoggingHooks
	AlertingHooks = observe.AlertingHooks

	SummarizeTraces  = processor.SummarizeTraces
	SummarizeMetrics = processor.SummarizeMetrics
	SummarizeLogs    = processor.SummarizeLogs

	HTTPStatus = pipeline.HTTPStatus
	GRPCCode   = pipeline.GRPCCode

	KindOf        = errspkg.KindOf
	IsClientError = errspkg.IsClientError

	ErrPayloadTooLarge        = errspkg.ErrPayloadTooLarge
	ErrCompression            = errspkg.ErrCompression
	ErrEmptyBody              = errspkg.ErrEmptyBody
	ErrUnsupportedContentType = errspkg.ErrUnsupportedContentType
	ErrMalformedPayload       = errspkg.ErrMalformedPayload
	ErrInvalidRequest         = errspkg.ErrInvalidRequest
	ErrServerLifecycle        = errspkg.ErrServerLifecycle
	ErrInternal               = errspkg.ErrInternal

	ErrConfigRequired    = errspkg.ErrConfigRequired
	ErrLoggerRequired    = errspkg.ErrLoggerRequired
	ErrPublisherRequired = errspkg.ErrPublisherRequired
	ErrServerStopped     = errspkg.ErrServerStopped
	ErrServerRunning     = errspkg.ErrServerRunning
	ErrMessageTooLarge   = forward.ErrMessageTooLarge

	NewForwarder = forward.New

	DefaultSinkRegistry = sink.DefaultRegistry
	NewSinkRegistry     = sink.NewRegistry
	RegisterSink        = sink.RegisterWithCapabilities
	BuildSink           = sink.Build
	ErrNoSink           = sink.ErrNoSink

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewJSONServiceLogger = loggingpkg.NewJSONServiceLogger
	NewNopServiceLogger  = loggingpkg.NewNopServiceLogger
	ParseLogLevel        = loggingpkg.ParseLevel

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
)

// Forwarding is a running relay from a Server to a sink.
type Forwarding struct {
	sink Sink
	done <-chan struct{}
}

// Done is closed once every forwarding loop has ended.
func (f *Forwarding) Done() <-chan struct{} { return f.done }

// Close waits for the loops to end, then closes the sink. The loops end when
// the server stops or the context passed to StartForwarding is done.
func (f *Forwarding) Close(ctx context.Context) error {
	select {
	case <-f.done:
	case <-ctx.Done():
		return errors.Join(ctx.Err(), f.sink.Close())
	}
	return f.sink.Close()
}

// StartForwarding builds the sink named by the server's ForwardSystem from
// registry (DefaultSinkRegistry when nil) and relays every accepted batch to
// it. Publish results are counted on the server. It returns sink.ErrNoSink
// when forwarding is disabled.
func StartForwarding(ctx context.Context, srv *Server, registry *SinkRegistry, logger ServiceLogger) (*Forwarding, error) {
	if srv == nil {
		return nil, errors.New("otlpflow: server is required")
	}
	if logger == nil {
		return nil, ErrLoggerRequired
	}
	if registry == nil {
		registry = sink.DefaultRegistry
	}

	conf := srv.Config()
	s, err := registry.Build(ctx, &conf, loggingpkg.NewWatermillAdapter(logger))
	if err != nil {
		return nil, err
	}

	format, err := signal.ParseFormatName(conf.ForwardEncoding)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("forward: %w", err)
	}
	caps := registry.GetCapabilities(conf.ForwardSystem)

	fwd, err := forward.New(s.Publisher, logger, forward.Options{
		TopicPrefix:    conf.ForwardTopicPrefix,
		Encoding:       format,
		MaxMessageSize: caps.MaxMessageSize,
		OnResult:       srv.RecordForward,
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	logger.Info("Forwarding accepted batches", LogFields{
		"sink":         conf.ForwardSystem,
		"topic_prefix": conf.ForwardTopicPrefix,
		"encoding":     format.String(),
	})
	return &Forwarding{sink: s, done: fwd.Attach(ctx, srv)}, nil
}

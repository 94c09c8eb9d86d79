// Package pipeline runs one OTLP/HTTP export request from raw bytes to the
// encoded acknowledgement.
package pipeline

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/collector/pdata/plog"
	"go.opentelemetry.io/collector/pdata/pmetric"
	"go.opentelemetry.io/collector/pdata/ptrace"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/otlpflow/internal/runtime/codec"
	"github.com/drblury/otlpflow/internal/runtime/compression"
	errspkg "github.com/drblury/otlpflow/internal/runtime/errors"
	"github.com/drblury/otlpflow/internal/runtime/fanout"
	idspkg "github.com/drblury/otlpflow/internal/runtime/ids"
	"github.com/drblury/otlpflow/internal/runtime/observe"
	"github.com/drblury/otlpflow/internal/runtime/processor"
	"github.com/drblury/otlpflow/internal/runtime/signal"
)

const tracerName = "github.com/drblury/otlpflow/pipeline"

// Request is the transport-neutral view of an export request.
type Request struct {
	Body            []byte
	ContentType     string
	ContentEncoding string
	Accept          string
	AcceptEncoding  []string
	// Err is set when the transport refused the request before it could be
	// read. Handle answers with it without running any stage.
	Err error
}

// Response is what the transport writes back.
type Response struct {
	Status          int
	Body            []byte
	ContentType     string
	ContentEncoding string
}

// Options configures a Pipeline. It is copied on construction.
type Options struct {
	// MaxRequestSize caps the raw body. Zero or negative disables the check.
	MaxRequestSize int64
	// MaxDecompressedSize caps the inflated body. Zero or negative is unbounded.
	MaxDecompressedSize int64
	// EnableCompression allows gzip acknowledgements.
	EnableCompression bool
	// Hooks observe every request.
	Hooks observe.Hooks
	// Tracer defaults to the global otel tracer provider.
	Tracer trace.Tracer
}

// Pipeline handles export requests of one signal kind. It is safe for
// concurrent use.
type Pipeline[T any] struct {
	codec     codec.Codec[T]
	processor *processor.Processor[T]
	channel   *fanout.Channel[T]
	opts      Options
	tracer    trace.Tracer
}

// New wires a pipeline from its per-kind parts. newProcessor receives the
// OnProcessed hook as its recorder.
func New[T any](c codec.Codec[T], newProcessor func(processor.Recorder) *processor.Processor[T], ch *fanout.Channel[T], opts Options) *Pipeline[T] {
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Pipeline[T]{
		codec:     c,
		processor: newProcessor(opts.Hooks.OnProcessed),
		channel:   ch,
		opts:      opts,
		tracer:    tracer,
	}
}

func NewTraces(ch *fanout.Channel[ptrace.Traces], opts Options) *Pipeline[ptrace.Traces] {
	return New(codec.Traces, processor.NewTraces, ch, opts)
}

func NewMetrics(ch *fanout.Channel[pmetric.Metrics], opts Options) *Pipeline[pmetric.Metrics] {
	return New(codec.Metrics, processor.NewMetrics, ch, opts)
}

func NewLogs(ch *fanout.Channel[plog.Logs], opts Options) *Pipeline[plog.Logs] {
	return New(codec.Logs, processor.NewLogs, ch, opts)
}

// Kind returns the signal kind handled by p.
func (p *Pipeline[T]) Kind() signal.Kind { return p.codec.Kind() }

// Channel returns the fan-out channel accepted batches are published to.
func (p *Pipeline[T]) Channel() *fanout.Channel[T] { return p.channel }

// Handle runs req through every stage and never returns a nil-status
// response. The first failing stage ends the request.
func (p *Pipeline[T]) Handle(ctx context.Context, req Request) Response {
	kind := p.Kind()
	info := observe.RequestInfo{
		Kind:            kind,
		RequestID:       idspkg.CreateULID(),
		ContentType:     req.ContentType,
		ContentEncoding: req.ContentEncoding,
		BodySize:        len(req.Body),
		StartedAt:       time.Now(),
	}

	ctx, span := p.tracer.Start(ctx, "otlp.export."+kind.String(), trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	span.SetAttributes(
		attribute.String("otlp.signal", kind.String()),
		attribute.String("otlp.request_id", info.RequestID),
		attribute.Int("http.request.body.size", len(req.Body)),
	)
	info.Context = ctx

	if p.opts.Hooks.OnRequestStart != nil {
		p.opts.Hooks.OnRequestStart(info)
	}

	summary, resp, err := p.run(ctx, req)
	info.Duration = time.Since(info.StartedAt)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, errspkg.KindOf(err).String())
		if p.opts.Hooks.OnRejected != nil {
			p.opts.Hooks.OnRejected(info, err)
		}
		return ErrorResponse(err, req.ContentType)
	}

	span.SetAttributes(
		attribute.Int("otlp.resource_groups", summary.ResourceGroups),
		attribute.Int("otlp.items", summary.Items),
	)
	if p.opts.Hooks.OnAccepted != nil {
		p.opts.Hooks.OnAccepted(info, summary)
	}
	return resp
}

func (p *Pipeline[T]) run(ctx context.Context, req Request) (processor.Summary, Response, error) {
	if req.Err != nil {
		return processor.Summary{}, Response{}, req.Err
	}
	if limit := p.opts.MaxRequestSize; limit > 0 && int64(len(req.Body)) > limit {
		return processor.Summary{}, Response{}, errspkg.PayloadTooLarge(limit)
	}

	body, err := compression.MaybeDecompress(req.Body, req.ContentEncoding, p.opts.MaxDecompressedSize)
	if err != nil {
		return processor.Summary{}, Response{}, err
	}

	batch, err := p.codec.Decode(body, req.ContentType)
	if err != nil {
		return processor.Summary{}, Response{}, err
	}

	summary, err := p.processor.Process(ctx, batch)
	if err != nil {
		return processor.Summary{}, Response{}, err
	}

	p.channel.Publish(batch)

	ack, contentType, err := p.codec.EncodeAck(req.Accept)
	if err != nil {
		return processor.Summary{}, Response{}, err
	}
	out, encoding := compression.MaybeCompress(ack, req.AcceptEncoding, p.opts.EnableCompression)

	return summary, Response{
		Status:          http.StatusOK,
		Body:            out,
		ContentType:     contentType,
		ContentEncoding: encoding,
	}, nil
}

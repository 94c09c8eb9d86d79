// Package forward relays accepted batches from the in-process subscriptions to
// a Watermill publisher, one message per batch.
package forward

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/collector/pdata/plog"
	"go.opentelemetry.io/collector/pdata/pmetric"
	"go.opentelemetry.io/collector/pdata/ptrace"

	"github.com/drblury/otlpflow/internal/runtime/codec"
	errspkg "github.com/drblury/otlpflow/internal/runtime/errors"
	"github.com/drblury/otlpflow/internal/runtime/fanout"
	idspkg "github.com/drblury/otlpflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/otlpflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/otlpflow/internal/runtime/metadata"
	"github.com/drblury/otlpflow/internal/runtime/processor"
	"github.com/drblury/otlpflow/internal/runtime/signal"
)

// DefaultSource is the ce_source of forwarded messages.
const DefaultSource = "otlpflow"

// ErrMessageTooLarge is reported when an encoded batch exceeds MaxMessageSize.
var ErrMessageTooLarge = errors.New("forward: message exceeds sink limit")

// Options configures a Forwarder.
type Options struct {
	// TopicPrefix is prepended to the signal name, e.g. "otlp." -> "otlp.traces".
	TopicPrefix string
	// Encoding of the forwarded export request.
	Encoding signal.WireFormat
	// Source is written to ce_source. Empty uses DefaultSource.
	Source string
	// MaxMessageSize drops batches whose encoded payload is larger. Zero
	// means no limit.
	MaxMessageSize int
	// OnResult is called after every publish attempt.
	OnResult func(kind signal.Kind, err error)
}

// Source hands out subscriptions, one per signal. *server.Server satisfies it.
type Source interface {
	Traces() *fanout.Subscription[ptrace.Traces]
	Metrics() *fanout.Subscription[pmetric.Metrics]
	Logs() *fanout.Subscription[plog.Logs]
}

// Forwarder publishes batches without retrying; a failed publish is logged and
// reported through OnResult.
type Forwarder struct {
	publisher message.Publisher
	logger    loggingpkg.ServiceLogger
	opts      Options
	now       func() time.Time
}

// New creates a Forwarder for publisher.
func New(publisher message.Publisher, logger loggingpkg.ServiceLogger, opts Options) (*Forwarder, error) {
	if publisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if opts.Source == "" {
		opts.Source = DefaultSource
	}
	return &Forwarder{
		publisher: publisher,
		logger:    logger.With(loggingpkg.LogFields{"component": "forwarder"}),
		opts:      opts,
		now:       time.Now,
	}, nil
}

// Topic returns the destination topic of kind.
func (f *Forwarder) Topic(kind signal.Kind) string {
	return f.opts.TopicPrefix + kind.String()
}

// NewMessage wraps an encoded export request with its CloudEvents and
// summary metadata.
func (f *Forwarder) NewMessage(summary processor.Summary, payload []byte) *message.Message {
	id := idspkg.CreateULID()
	md := metadatapkg.New(
		metadatapkg.KeySignal, summary.Kind.String(),
		metadatapkg.KeyEncoding, f.opts.Encoding.String(),
	).
		WithCount(metadatapkg.KeyResourceCount, summary.ResourceGroups).
		WithCount(metadatapkg.KeyScopeCount, summary.ScopeGroups).
		WithCount(metadatapkg.KeyItemCount, summary.Items).
		WithCloudEvent(metadatapkg.CloudEvent{
			ID:          id,
			Type:        summary.Kind.EventType(),
			Source:      f.opts.Source,
			Time:        f.now(),
			ContentType: f.opts.Encoding.ContentType(),
		})

	msg := message.NewMessage(id, payload)
	msg.Metadata = metadatapkg.ToWatermill(md)
	return msg
}

// Publish encodes batch and publishes it to the kind's topic.
func Publish[T any](ctx context.Context, f *Forwarder, c codec.Codec[T], summarize func(T) processor.Summary, batch T) error {
	kind := c.Kind()
	payload, err := c.EncodeRequest(batch, f.opts.Encoding)
	if err != nil {
		err = errspkg.Internal("encode "+kind.String()+" for forwarding", err)
		f.report(kind, err)
		return err
	}
	if limit := f.opts.MaxMessageSize; limit > 0 && len(payload) > limit {
		err = fmt.Errorf("%w: %d bytes, limit %d", ErrMessageTooLarge, len(payload), limit)
		f.report(kind, err)
		return err
	}

	msg := f.NewMessage(summarize(batch), payload)
	if ctx != nil {
		msg.SetContext(ctx)
	}
	err = f.publisher.Publish(f.Topic(kind), msg)
	f.report(kind, err)
	return err
}

func (f *Forwarder) report(kind signal.Kind, err error) {
	if err != nil {
		f.logger.Error("Failed to forward batch", err, loggingpkg.LogFields{
			"signal": kind.String(),
			"topic":  f.Topic(kind),
		})
	} else {
		f.logger.Trace("Forwarded batch", loggingpkg.LogFields{
			"signal": kind.String(),
			"topic":  f.Topic(kind),
		})
	}
	if f.opts.OnResult != nil {
		f.opts.OnResult(kind, err)
	}
}

// Run forwards every batch of sub until it finishes or ctx is done.
func Run[T any](ctx context.Context, f *Forwarder, c codec.Codec[T], summarize func(T) processor.Summary, sub *fanout.Subscription[T]) {
	for batch := range sub.All(ctx) {
		_ = Publish(ctx, f, c, summarize, batch)
	}
}

// Attach subscribes to every signal of src and forwards in the background. The
// returned channel is closed once all three loops have ended, which happens
// when src closes its subscriptions or ctx is done.
func (f *Forwarder) Attach(ctx context.Context, src Source) <-chan struct{} {
	traces, metrics, logs := src.Traces(), src.Metrics(), src.Logs()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		Run(ctx, f, codec.Traces, processor.SummarizeTraces, traces)
	}()
	go func() {
		defer wg.Done()
		Run(ctx, f, codec.Metrics, processor.SummarizeMetrics, metrics)
	}()
	go func() {
		defer wg.Done()
		Run(ctx, f, codec.Logs, processor.SummarizeLogs, logs)
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

// Package jetstream provides a NATS JetStream sink. Messages are stored in a
// single stream whose subjects are "<stream>.<topic>".
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/drblury/otlpflow/sink"
)

// SinkName is the name used to register this sink.
const SinkName = "nats-jetstream"

const (
	// DefaultStreamName is used when the config names no stream.
	DefaultStreamName = "OTLP"

	// DefaultMaxAge is how long the stream retains forwarded batches.
	DefaultMaxAge = 7 * 24 * time.Hour
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("jetstream: sink is closed")

// JetStream is the subset of nats.JetStreamContext the sink uses.
type JetStream interface {
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	UpdateStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// ConnectFactory allows overriding the connection for testing. The returned
// func closes the connection.
var ConnectFactory = func(url string) (JetStream, func(), error) {
	nc, err := nats.Connect(url, nats.Name("otlpflow"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return js, nc.Close, nil
}

func init() {
	Register()
}

// Register adds the JetStream sink to the default registry.
func Register() {
	sink.RegisterWithCapabilities(SinkName, Build, sink.NATSJetStreamCapabilities)
}

// Build creates a new JetStream sink.
func Build(ctx context.Context, cfg sink.Config, logger watermill.LoggerAdapter) (sink.Sink, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		return sink.Sink{}, errors.New("nats: URL is required")
	}

	p, err := New(url, cfg.GetJetStreamStream(), logger)
	if err != nil {
		return sink.Sink{}, err
	}
	return sink.Sink{Publisher: p}, nil
}

// Capabilities returns the capabilities of this sink.
func Capabilities() sink.Capabilities {
	return sink.NATSJetStreamCapabilities
}

// Publisher implements message.Publisher on a JetStream stream.
type Publisher struct {
	js     JetStream
	close  func()
	stream string
	logger watermill.LoggerAdapter

	mu     sync.RWMutex
	closed bool
}

// New connects to url and makes sure the stream exists.
func New(url, stream string, logger watermill.LoggerAdapter) (*Publisher, error) {
	if stream == "" {
		stream = DefaultStreamName
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	js, closeConn, err := ConnectFactory(url)
	if err != nil {
		return nil, err
	}

	p := &Publisher{js: js, close: closeConn, stream: stream, logger: logger}
	if err := p.ensureStream(); err != nil {
		closeConn()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}
	return p, nil
}

func (p *Publisher) ensureStream() error {
	streamCfg := &nats.StreamConfig{
		Name:      p.stream,
		Subjects:  []string{p.stream + ".>"},
		MaxAge:    DefaultMaxAge,
		Retention: nats.LimitsPolicy,
	}

	if _, err := p.js.AddStream(streamCfg); err != nil {
		if _, err := p.js.UpdateStream(streamCfg); err != nil {
			return err
		}
		p.logger.Info("JetStream stream updated", watermill.LogFields{"stream": p.stream})
	}
	return nil
}

// Subject maps a topic to its stream subject.
func (p *Publisher) Subject(topic string) string {
	return p.stream + "." + topic
}

// Publish stores messages on the topic's subject. The message UUID is the
// JetStream message id, so the server drops duplicates.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	subject := p.Subject(topic)
	for _, msg := range messages {
		headers := nats.Header{}
		for k, v := range msg.Metadata {
			headers.Set(k, v)
		}
		headers.Set(nats.MsgIdHdr, msg.UUID)

		if _, err := p.js.PublishMsg(&nats.Msg{
			Subject: subject,
			Data:    msg.Payload,
			Header:  headers,
		}); err != nil {
			return fmt.Errorf("failed to publish to JetStream: %w", err)
		}
	}
	return nil
}

// Close releases the connection. It is safe to call more than once.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.close != nil {
		p.close()
	}
	return nil
}

// Package file provides a sink that appends forwarded messages to a
// JSON-lines file, one object per message.
package file

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/otlpflow/internal/runtime/jsoncodec"
	"github.com/drblury/otlpflow/sink"
)

// SinkName is the name used to register this sink.
const SinkName = "file"

// DefaultFilePath is used when the config names no file.
const DefaultFilePath = "otlp-forward.jsonl"

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("file: sink is closed")

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return NewPublisher(filePath, logger)
}

func init() {
	Register()
}

// Register adds the file sink to the default registry.
func Register() {
	sink.RegisterWithCapabilities(SinkName, Build, sink.FileCapabilities)
}

// Build creates a new file sink.
func Build(ctx context.Context, cfg sink.Config, logger watermill.LoggerAdapter) (sink.Sink, error) {
	filePath := cfg.GetForwardFile()
	if filePath == "" {
		filePath = DefaultFilePath
	}

	pub, err := PublisherFactory(filePath, logger)
	if err != nil {
		return sink.Sink{}, err
	}
	return sink.Sink{Publisher: pub}, nil
}

// Capabilities returns the capabilities of this sink.
func Capabilities() sink.Capabilities {
	return sink.FileCapabilities
}

// Record is one line of the output file.
type Record struct {
	UUID     string            `json:"uuid"`
	Topic    string            `json:"topic"`
	Metadata map[string]string `json:"metadata"`
	Payload  []byte            `json:"payload"`
}

// Publisher appends messages to a file it keeps open until Close.
type Publisher struct {
	logger watermill.LoggerAdapter

	mu     sync.Mutex
	f      *os.File
	closed bool
}

// NewPublisher opens (creating if needed) filePath for appending.
func NewPublisher(filePath string, logger watermill.LoggerAdapter) (*Publisher, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	logger.Info("Forwarding to file", watermill.LogFields{"path": filePath})
	return &Publisher{logger: logger, f: f}, nil
}

// Publish writes one line per message.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	for _, msg := range messages {
		line, err := jsoncodec.Marshal(Record{
			UUID:     msg.UUID,
			Topic:    topic,
			Metadata: msg.Metadata,
			Payload:  msg.Payload,
		})
		if err != nil {
			return err
		}
		if _, err := p.f.Write(append(line, '\n')); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes and closes the file. It is safe to call more than once.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if err := p.f.Sync(); err != nil {
		p.logger.Error("Failed to sync forward file", err, nil)
	}
	return p.f.Close()
}

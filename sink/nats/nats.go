// Package nats provides a NATS Core sink.
package nats

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/drblury/otlpflow/sink"
)

// SinkName is the name used to register this sink.
const SinkName = "nats"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

func init() {
	Register()
}

// Register adds the NATS sink to the default registry.
func Register() {
	sink.RegisterWithCapabilities(SinkName, Build, sink.NATSCapabilities)
}

// Build creates a new NATS sink. The topic is used as the subject.
func Build(ctx context.Context, cfg sink.Config, logger watermill.LoggerAdapter) (sink.Sink, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		return sink.Sink{}, errors.New("nats: URL is required")
	}

	publisher, err := PublisherFactory(
		nats.PublisherConfig{
			URL:         url,
			Marshaler:   &nats.NATSMarshaler{},
			NatsOptions: []nc.Option{nc.Name("otlpflow")},
			JetStream:   nats.JetStreamConfig{Disabled: true},
		},
		logger,
	)
	if err != nil {
		return sink.Sink{}, err
	}

	return sink.Sink{Publisher: publisher}, nil
}

// Capabilities returns the capabilities of this sink.
func Capabilities() sink.Capabilities {
	return sink.NATSCapabilities
}

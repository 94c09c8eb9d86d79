// Package kafka provides a Kafka sink.
package kafka

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/otlpflow/sink"
)

// SinkName is the name used to register this sink.
const SinkName = "kafka"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

func init() {
	Register()
}

// Register adds the Kafka sink to the default registry.
func Register() {
	sink.RegisterWithCapabilities(SinkName, Build, sink.KafkaCapabilities)
}

// Build creates a new Kafka sink.
func Build(ctx context.Context, cfg sink.Config, logger watermill.LoggerAdapter) (sink.Sink, error) {
	brokers := cfg.GetKafkaBrokers()
	if len(brokers) == 0 {
		return sink.Sink{}, errors.New("kafka: brokers are required")
	}

	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:     brokers,
			Marshaler:   kafka.DefaultMarshaler{},
			OTELEnabled: true,
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
	return sink.KafkaCapabilities
}

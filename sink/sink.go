// Package sink defines the registry of forwarding sinks. Each sink (kafka,
// rabbitmq, aws, etc.) lives in its own sub-package and registers itself with
// the default registry.
package sink

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Sink is the destination of forwarded batches.
type Sink struct {
	Publisher message.Publisher
	// Subscriber is set only by sinks that can be read back in-process.
	Subscriber message.Subscriber
}

// Close closes the publisher. Sinks that expose a Subscriber hand out the
// same pubsub for both, so this releases it as well.
func (s Sink) Close() error {
	if s.Publisher == nil {
		return nil
	}
	return s.Publisher.Close()
}

// Builder creates a sink from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Sink, error)

// Config provides the values sinks read. Each sink only calls the getters it
// needs, so callers can satisfy it without depending on the config package.
type Config interface {
	// GetForwardSystem returns the sink name.
	GetForwardSystem() string

	// Kafka
	GetKafkaBrokers() []string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string
	GetJetStreamStream() string

	// HTTP
	GetHTTPPublisherURL() string

	// File
	GetForwardFile() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by sinks that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

package sink

// Capabilities describes the delivery characteristics of a sink.
type Capabilities struct {
	// SupportsOrdering indicates messages on one topic arrive in publish order.
	SupportsOrdering bool

	// SupportsTracing indicates the sink propagates trace context in headers.
	SupportsTracing bool

	// SupportsBatching indicates the broker groups messages on the wire.
	SupportsBatching bool

	// SupportsPartitioning indicates topics are split into partitions.
	SupportsPartitioning bool

	// Durable indicates published messages survive a broker restart.
	Durable bool

	// MaxMessageSize is the largest payload in bytes the sink accepts
	// (0 = unlimited/unknown).
	MaxMessageSize int

	// Name is the human-readable name of the sink.
	Name string
}

// Fits reports whether a payload of size bytes is within MaxMessageSize.
func (c Capabilities) Fits(size int) bool {
	return c.MaxMessageSize <= 0 || size <= c.MaxMessageSize
}

// Predefined capability sets for the built-in sinks.
var (
	// ChannelCapabilities for the in-memory Go channel sink.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
	}

	// KafkaCapabilities for Apache Kafka.
	KafkaCapabilities = Capabilities{
		Name:                 "kafka",
		SupportsOrdering:     true,
		SupportsTracing:      true,
		SupportsBatching:     true,
		SupportsPartitioning: true,
		Durable:              true,
		MaxMessageSize:       1048576, // broker default message.max.bytes
	}

	// RabbitMQCapabilities for RabbitMQ/AMQP.
	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsOrdering: true,
		SupportsTracing:  true,
		Durable:          true,
	}

	// NATSCapabilities for NATS Core.
	NATSCapabilities = Capabilities{
		Name:            "nats",
		SupportsTracing: true,
		MaxMessageSize:  1048576, // server default max_payload
	}

	// NATSJetStreamCapabilities for NATS JetStream.
	NATSJetStreamCapabilities = Capabilities{
		Name:             "nats-jetstream",
		SupportsOrdering: true,
		SupportsTracing:  true,
		SupportsBatching: true,
		Durable:          true,
		MaxMessageSize:   1048576,
	}

	// AWSCapabilities for AWS SNS.
	AWSCapabilities = Capabilities{
		Name:             "aws",
		SupportsTracing:  true,
		SupportsBatching: true,
		Durable:          true,
		MaxMessageSize:   262144, // 256KB
	}

	// HTTPCapabilities for the HTTP webhook sink.
	HTTPCapabilities = Capabilities{
		Name:            "http",
		SupportsTracing: true,
	}

	// FileCapabilities for the JSON-lines file sink.
	FileCapabilities = Capabilities{
		Name:             "file",
		SupportsOrdering: true,
		Durable:          true,
	}
)

// GetCapabilities returns the capabilities of a sink from the default registry.
func GetCapabilities(name string) Capabilities {
	return DefaultRegistry.GetCapabilities(name)
}

// Package channel provides an in-memory Go channel sink. Forwarded batches can
// be read back through Sink.Subscriber, which makes it the sink of choice for
// embedding and tests.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/otlpflow/sink"
)

// SinkName is the name used to register this sink.
const SinkName = "channel"

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	Register()
}

// Register adds the channel sink to the default registry.
func Register() {
	sink.RegisterWithCapabilities(SinkName, Build, sink.ChannelCapabilities)
}

// Build creates a new Go channel sink. Messages published while nobody is
// subscribed are dropped.
func Build(ctx context.Context, cfg sink.Config, logger watermill.LoggerAdapter) (sink.Sink, error) {
	pub, sub := Factory(gochannel.Config{OutputChannelBuffer: 64}, logger)
	return sink.Sink{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}

// Capabilities returns the capabilities of this sink.
func Capabilities() sink.Capabilities {
	return sink.ChannelCapabilities
}

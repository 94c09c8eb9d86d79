package sink_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/otlpflow/sink"
	"github.com/drblury/otlpflow/sink/sinktest"
)

func TestRegistryBuild(t *testing.T) {
	t.Run("builds registered sink", func(t *testing.T) {
		r := sink.NewRegistry()
		pub := &sinktest.Publisher{}
		r.Register("test", func(ctx context.Context, cfg sink.Config, logger watermill.LoggerAdapter) (sink.Sink, error) {
			return sink.Sink{Publisher: pub}, nil
		})

		s, err := r.Build(context.Background(), &sinktest.Config{System: "test"}, watermill.NopLogger{})
		require.NoError(t, err)
		assert.Same(t, pub, s.Publisher)
	})

	t.Run("matches names case-insensitively", func(t *testing.T) {
		r := sink.NewRegistry()
		r.Register("Kafka", func(ctx context.Context, cfg sink.Config, logger watermill.LoggerAdapter) (sink.Sink, error) {
			return sink.Sink{Publisher: &sinktest.Publisher{}}, nil
		})

		_, err := r.Build(context.Background(), &sinktest.Config{System: " KAFKA "}, nil)
		require.NoError(t, err)
		assert.True(t, r.Has("kafka"))
	})

	t.Run("nil config", func(t *testing.T) {
		_, err := sink.NewRegistry().Build(context.Background(), nil, watermill.NopLogger{})
		assert.Error(t, err)
	})

	t.Run("empty name disables forwarding", func(t *testing.T) {
		_, err := sink.NewRegistry().Build(context.Background(), &sinktest.Config{}, watermill.NopLogger{})
		assert.ErrorIs(t, err, sink.ErrNoSink)
	})

	t.Run("unknown sink lists registered names", func(t *testing.T) {
		r := sink.NewRegistry()
		r.Register("b", nil)
		r.Register("a", nil)

		_, err := r.Build(context.Background(), &sinktest.Config{System: "zzz"}, watermill.NopLogger{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown sink: "zzz"`)
		assert.Contains(t, err.Error(), "[a b]")
	})

	t.Run("wraps builder error", func(t *testing.T) {
		r := sink.NewRegistry()
		boom := errors.New("connection refused")
		r.Register("kafka", func(ctx context.Context, cfg sink.Config, logger watermill.LoggerAdapter) (sink.Sink, error) {
			return sink.Sink{}, boom
		})

		_, err := r.Build(context.Background(), &sinktest.Config{System: "kafka"}, watermill.NopLogger{})
		require.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "build kafka sink")
	})

	t.Run("rejects builder without publisher", func(t *testing.T) {
		r := sink.NewRegistry()
		r.Register("empty", func(ctx context.Context, cfg sink.Config, logger watermill.LoggerAdapter) (sink.Sink, error) {
			return sink.Sink{}, nil
		})

		_, err := r.Build(context.Background(), &sinktest.Config{System: "empty"}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "no publisher")
	})
}

func TestRegistryNamesSorted(t *testing.T) {
	r := sink.NewRegistry()
	for _, name := range []string{"nats", "aws", "kafka"} {
		r.Register(name, nil)
	}
	assert.Equal(t, []string{"aws", "kafka", "nats"}, r.Names())
	assert.False(t, r.Has("rabbitmq"))
}

func TestRegistryCapabilities(t *testing.T) {
	r := sink.NewRegistry()
	r.RegisterWithCapabilities("kafka", nil, sink.KafkaCapabilities)

	assert.Equal(t, sink.KafkaCapabilities, r.GetCapabilities("kafka"))
	assert.Equal(t, sink.Capabilities{Name: "custom"}, r.GetCapabilities("custom"))
}

func TestDefaultRegistryHelpers(t *testing.T) {
	original := sink.DefaultRegistry
	defer func() { sink.DefaultRegistry = original }()
	sink.DefaultRegistry = sink.NewRegistry()

	pub := &sinktest.Publisher{}
	sink.RegisterWithCapabilities("mem", func(ctx context.Context, cfg sink.Config, logger watermill.LoggerAdapter) (sink.Sink, error) {
		return sink.Sink{Publisher: pub}, nil
	}, sink.Capabilities{Name: "mem", MaxMessageSize: 10})
	sink.Register("other", nil)

	s, err := sink.Build(context.Background(), &sinktest.Config{System: "mem"}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.Equal(t, 10, sink.GetCapabilities("mem").MaxMessageSize)
	assert.True(t, sink.DefaultRegistry.Has("other"))

	require.NoError(t, s.Close())
	assert.True(t, pub.Closed())
}

func TestSinkCloseWithoutPublisher(t *testing.T) {
	assert.NoError(t, sink.Sink{}.Close())
}

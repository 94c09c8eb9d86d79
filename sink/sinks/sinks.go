// Package sinks imports every built-in sink for registration with the default
// registry.
package sinks

import (
	// side-effect registration
	_ "github.com/drblury/otlpflow/sink/aws"
	_ "github.com/drblury/otlpflow/sink/channel"
	_ "github.com/drblury/otlpflow/sink/file"
	_ "github.com/drblury/otlpflow/sink/http"
	_ "github.com/drblury/otlpflow/sink/jetstream"
	_ "github.com/drblury/otlpflow/sink/kafka"
	_ "github.com/drblury/otlpflow/sink/nats"
	_ "github.com/drblury/otlpflow/sink/rabbitmq"
)

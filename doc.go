// Package otlpflow is an embeddable OTLP/HTTP receiver. It accepts trace,
// metric and log exports on /v1/traces, /v1/metrics and /v1/logs in protobuf
// or JSON, optionally gzip-compressed, and hands every accepted batch to
// in-process subscribers as pdata values.
//
// A Server owns one pipeline per signal: size check, decompression, decoding,
// validation, fan-out and acknowledgement. Rejected requests get a
// google.rpc.Status body in the request's encoding with the HTTP status the
// OTLP specification prescribes (400, 413, 503 or 500).
//
// A minimal setup fills Config (or calls LoadConfigFromEnv), creates a Server,
// subscribes with Traces, Metrics or Logs and calls Run.
//
// # Subscriptions
//
// Each subscription has its own queue. Publishing never blocks the request
// path; Config.SubscriberMaxPending bounds the queues and drops the oldest
// batch on overflow. Stopping the server finishes every subscription after
// its queued batches are consumed.
//
// # Forwarding
//
// StartForwarding relays accepted batches to a Watermill publisher chosen by
// Config.ForwardSystem. Built-in sinks register themselves when imported:
//   - channel: in-memory Go channels, readable in-process
//   - kafka: Apache Kafka
//   - rabbitmq: durable AMQP fanout exchanges
//   - nats: NATS Core subjects
//   - nats-jetstream: a JetStream stream with de-duplication by message id
//   - http: webhook POSTs
//   - file: JSON lines on disk
//   - aws: AWS SNS topics, LocalStack supported
//
// Import github.com/drblury/otlpflow/sink/sinks to register all of them.
//
// # Observability
//
// Hooks observe every request. LoggingHooks logs per-resource summaries,
// Stats backs the JSON endpoint at /api/signals and, when enabled, Prometheus
// collectors are served on /metrics.
package otlpflow

// Package observe collects what happens to each export request: lifecycle
// hooks, Prometheus metrics and the per-signal stats served by the stats API.
package observe

import (
	"context"
	"time"

	errspkg "github.com/drblury/otlpflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/otlpflow/internal/runtime/logging"
	"github.com/drblury/otlpflow/internal/runtime/processor"
	"github.com/drblury/otlpflow/internal/runtime/signal"
)

// RequestInfo describes one export request to hooks.
type RequestInfo struct {
	// Kind is the signal the request was posted for.
	Kind signal.Kind
	// RequestID is the ULID assigned when the request entered the pipeline.
	RequestID string
	// ContentType and ContentEncoding are the request headers as received.
	ContentType     string
	ContentEncoding string
	// BodySize is the raw, possibly compressed, body length.
	BodySize int
	// Context is the request context, carrying the pipeline span.
	Context context.Context
	// StartedAt is when the pipeline received the request.
	StartedAt time.Time
	// Duration is only set in OnAccepted and OnRejected.
	Duration time.Duration
}

// Hooks defines callbacks for the request lifecycle.
// All hooks are optional - nil hooks are simply not called.
type Hooks struct {
	// OnRequestStart is called before the size check.
	OnRequestStart func(info RequestInfo)

	// OnProcessed receives the summary of every batch that passed validation.
	OnProcessed func(ctx context.Context, summary processor.Summary)

	// OnAccepted is called once the batch was published and the ack encoded.
	OnAccepted func(info RequestInfo, summary processor.Summary)

	// OnRejected is called when any stage fails. The error carries its kind.
	OnRejected func(info RequestInfo, err error)
}

// Merge combines two Hooks, creating a new Hooks that calls both.
// The hooks from 'other' are called after the hooks from 'h'.
func (h Hooks) Merge(other Hooks) Hooks {
	return Hooks{
		OnRequestStart: chain1(h.OnRequestStart, other.OnRequestStart),
		OnProcessed:    chain2(h.OnProcessed, other.OnProcessed),
		OnAccepted:     chain2(h.OnAccepted, other.OnAccepted),
		OnRejected:     chain2(h.OnRejected, other.OnRejected),
	}
}

// MergeAll folds hooks left to right.
func MergeAll(hooks ...Hooks) Hooks {
	var merged Hooks
	for _, h := range hooks {
		merged = merged.Merge(h)
	}
	return merged
}

func chain1[A any](a, b func(A)) func(A) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(x A) {
		a(x)
		b(x)
	}
}

func chain2[A, B any](a, b func(A, B)) func(A, B) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(x A, y B) {
		a(x, y)
		b(x, y)
	}
}

// LoggingHooks returns pre-built hooks that log the request lifecycle. Resource
// and scope details of accepted batches are logged at debug level.
func LoggingHooks(logger loggingpkg.ServiceLogger) Hooks {
	return Hooks{
		OnProcessed: func(_ context.Context, summary processor.Summary) {
			for _, res := range summary.Resources {
				logger.Debug("Processing resource", loggingpkg.LogFields{
					"signal":     summary.Kind.String(),
					"attributes": res.AttributeString(),
				})
				if res.HasScope {
					logger.Debug("Processing "+summary.Kind.ItemNoun(), loggingpkg.LogFields{
						"signal": summary.Kind.String(),
						"scope":  res.FirstScope.String(),
						"items":  res.Items,
					})
				}
			}
		},
		OnAccepted: func(info RequestInfo, summary processor.Summary) {
			logger.Debug("Export accepted", loggingpkg.LogFields{
				"signal":          info.Kind.String(),
				"request_id":      info.RequestID,
				"resource_groups": summary.ResourceGroups,
				"items":           summary.Items,
				"duration_ms":     info.Duration.Milliseconds(),
			})
		},
		OnRejected: func(info RequestInfo, err error) {
			fields := loggingpkg.LogFields{
				"signal":      info.Kind.String(),
				"request_id":  info.RequestID,
				"kind":        errspkg.KindOf(err).String(),
				"duration_ms": info.Duration.Milliseconds(),
			}
			if errspkg.IsClientError(err) {
				fields["error"] = err.Error()
				logger.Info("Export rejected", fields)
				return
			}
			logger.Error("Export failed", err, fields)
		},
	}
}

// AlertingHooks returns pre-built hooks that only fire on server-side failures.
func AlertingHooks(alertFunc func(info RequestInfo, err error)) Hooks {
	return Hooks{
		OnRejected: func(info RequestInfo, err error) {
			if !errspkg.IsClientError(err) {
				alertFunc(info, err)
			}
		},
	}
}

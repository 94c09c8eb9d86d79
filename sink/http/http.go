// Package http provides an HTTP webhook sink. Each message is POSTed to the
// publisher URL with the topic appended.
package http

import (
	"context"
	"errors"
	nethttp "net/http"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/otlpflow/sink"
)

// SinkName is the name used to register this sink.
const SinkName = "http"

// DefaultTimeout bounds a single webhook call.
const DefaultTimeout = 10 * time.Second

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

func init() {
	Register()
}

// Register adds the HTTP sink to the default registry.
func Register() {
	sink.RegisterWithCapabilities(SinkName, Build, sink.HTTPCapabilities)
}

// Build creates a new HTTP sink.
func Build(ctx context.Context, cfg sink.Config, logger watermill.LoggerAdapter) (sink.Sink, error) {
	publisherURL := cfg.GetHTTPPublisherURL()
	if publisherURL == "" {
		return sink.Sink{}, errors.New("http: publisher URL is required")
	}

	publisher, err := PublisherFactory(
		http.PublisherConfig{
			MarshalMessageFunc: MarshalMessageFunc(publisherURL),
			Client:             &nethttp.Client{Timeout: DefaultTimeout},
		},
		logger,
	)
	if err != nil {
		return sink.Sink{}, err
	}

	return sink.Sink{Publisher: publisher}, nil
}

// MarshalMessageFunc builds the webhook request for a topic: the topic is
// joined to baseURL with a single slash and ce_datacontenttype, when present,
// becomes the Content-Type.
func MarshalMessageFunc(baseURL string) http.MarshalMessageFunc {
	base := strings.TrimSuffix(baseURL, "/") + "/"
	return func(topic string, msg *message.Message) (*nethttp.Request, error) {
		req, err := http.DefaultMarshalMessageFunc(base+strings.TrimPrefix(topic, "/"), msg)
		if err != nil {
			return nil, err
		}
		if ct := msg.Metadata.Get("ce_datacontenttype"); ct != "" {
			req.Header.Set("Content-Type", ct)
		}
		return req, nil
	}
}

// Capabilities returns the capabilities of this sink.
func Capabilities() sink.Capabilities {
	return sink.HTTPCapabilities
}

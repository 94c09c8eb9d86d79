// Package signal names the three OTLP signal kinds and the two wire formats an
// export request can be encoded in.
package signal

import (
	"errors"
	"fmt"
	"mime"
	"strings"

	errspkg "github.com/drblury/otlpflow/internal/runtime/errors"
)

// Kind is an OTLP signal kind.
type Kind string

const (
	Traces  Kind = "traces"
	Metrics Kind = "metrics"
	Logs    Kind = "logs"
)

// Kinds returns every signal kind in route registration order.
func Kinds() []Kind {
	return []Kind{Traces, Metrics, Logs}
}

// ParseKind accepts the plural kind name, case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case Traces:
		return Traces, nil
	case Metrics:
		return Metrics, nil
	case Logs:
		return Logs, nil
	default:
		return "", fmt.Errorf("unknown signal kind %q", s)
	}
}

func (k Kind) String() string { return string(k) }

// Path is the OTLP/HTTP route of the kind.
func (k Kind) Path() string { return "/v1/" + string(k) }

// ItemNoun names the leaf items of a batch: spans, metrics or logs.
func (k Kind) ItemNoun() string {
	switch k {
	case Traces:
		return "spans"
	case Metrics:
		return "metrics"
	case Logs:
		return "logs"
	default:
		return "items"
	}
}

// EventType is the CloudEvents type used when a batch of this kind is forwarded.
func (k Kind) EventType() string { return "io.opentelemetry.otlp." + string(k) }

// WireFormat is the encoding of an OTLP message body.
type WireFormat int

const (
	Protobuf WireFormat = iota
	JSON
)

const (
	ProtobufContentType = "application/x-protobuf"
	JSONContentType     = "application/json"
)

func (f WireFormat) String() string {
	if f == JSON {
		return "json"
	}
	return "protobuf"
}

// ContentType returns the media type written on responses of this format.
func (f WireFormat) ContentType() string {
	if f == JSON {
		return JSONContentType
	}
	return ProtobufContentType
}

// ParseFormatName maps "protobuf"/"proto" and "json" to a format.
func ParseFormatName(name string) (WireFormat, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "protobuf", "proto":
		return Protobuf, nil
	case "json":
		return JSON, nil
	default:
		return Protobuf, fmt.Errorf("unknown wire format %q", name)
	}
}

// ParseRequestFormat resolves the declared Content-Type of a request body.
// Matching is case-insensitive and ignores parameters; anything other than
// the two OTLP media types is rejected.
func ParseRequestFormat(contentType string) (WireFormat, error) {
	switch mediaType(contentType) {
	case ProtobufContentType:
		return Protobuf, nil
	case JSONContentType:
		return JSON, nil
	default:
		return Protobuf, errspkg.UnsupportedContentType(contentType)
	}
}

// ParseResponseFormat resolves the Accept header. Only the first media range
// is considered; JSON is chosen when it names application/json, protobuf in
// every other case including an empty header.
func ParseResponseFormat(accept string) WireFormat {
	first, _, _ := strings.Cut(accept, ",")
	if mediaType(first) == JSONContentType {
		return JSON
	}
	return Protobuf
}

// mediaType returns the lowercased media type of header, ignoring malformed
// parameters. An unparsable header yields "".
func mediaType(header string) string {
	mt, _, err := mime.ParseMediaType(header)
	if err != nil && !errors.Is(err, mime.ErrInvalidMediaParameter) {
		return ""
	}
	return mt
}

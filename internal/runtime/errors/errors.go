package errors

import (
	sterrors "errors"
	"fmt"
	"strconv"
)

// Kind classifies every failure the ingestion path can report.
type Kind string

const (
	KindPayloadTooLarge        Kind = "payload_too_large"
	KindCompression            Kind = "compression_error"
	KindEmptyBody              Kind = "empty_body"
	KindUnsupportedContentType Kind = "unsupported_content_type"
	KindMalformedPayload       Kind = "malformed_payload"
	KindInvalidRequest         Kind = "invalid_request"
	KindServerLifecycle        Kind = "server_lifecycle"
	KindInternal               Kind = "internal_error"
)

func (k Kind) String() string { return string(k) }

// Kinds lists every error kind in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindPayloadTooLarge,
		KindCompression,
		KindEmptyBody,
		KindUnsupportedContentType,
		KindMalformedPayload,
		KindInvalidRequest,
		KindServerLifecycle,
		KindInternal,
	}
}

var (
	ErrPayloadTooLarge        = &IngestError{Kind: KindPayloadTooLarge}
	ErrCompression            = &IngestError{Kind: KindCompression}
	ErrEmptyBody              = &IngestError{Kind: KindEmptyBody}
	ErrUnsupportedContentType = &IngestError{Kind: KindUnsupportedContentType}
	ErrMalformedPayload       = &IngestError{Kind: KindMalformedPayload}
	ErrInvalidRequest         = &IngestError{Kind: KindInvalidRequest}
	ErrServerLifecycle        = &IngestError{Kind: KindServerLifecycle}
	ErrInternal               = &IngestError{Kind: KindInternal}

	ErrConfigRequired    = sterrors.New("otlpflow: configuration is required")
	ErrLoggerRequired    = sterrors.New("otlpflow: logger is required")
	ErrPublisherRequired = sterrors.New("otlpflow: publisher is required")
	ErrTopicRequired     = sterrors.New("otlpflow: topic is required")
	ErrServerStopped     = sterrors.New("otlpflow: server is stopped")
	ErrServerRunning     = sterrors.New("otlpflow: server is already running")
)

// IngestError is returned by the decoding and validation stages. Two
// IngestErrors match under errors.Is when their kinds are equal.
type IngestError struct {
	Kind   Kind
	Reason string
	// MaxSize is only set for KindPayloadTooLarge.
	MaxSize int64
	Err     error
}

func (e *IngestError) Error() string {
	msg := "otlpflow: " + string(e.Kind)
	if e.Kind == KindPayloadTooLarge && e.MaxSize > 0 {
		msg += " (max " + strconv.FormatInt(e.MaxSize, 10) + " bytes)"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *IngestError) Unwrap() error { return e.Err }

func (e *IngestError) Is(target error) bool {
	t, ok := target.(*IngestError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind Kind, reason string, err error) *IngestError {
	return &IngestError{Kind: kind, Reason: reason, Err: err}
}

// PayloadTooLarge reports a body that exceeded maxSize bytes.
func PayloadTooLarge(maxSize int64) *IngestError {
	return &IngestError{Kind: KindPayloadTooLarge, MaxSize: maxSize}
}

func Compression(err error) *IngestError {
	return newError(KindCompression, "", err)
}

func EmptyBody() *IngestError {
	return newError(KindEmptyBody, "request body is empty", nil)
}

func UnsupportedContentType(contentType string) *IngestError {
	return newError(KindUnsupportedContentType, fmt.Sprintf("unsupported content type %q", contentType), nil)
}

func MalformedPayload(format string, err error) *IngestError {
	return newError(KindMalformedPayload, "failed to decode "+format+" payload", err)
}

func InvalidRequest(reason string) *IngestError {
	return newError(KindInvalidRequest, reason, nil)
}

func ServerLifecycle(reason string, err error) *IngestError {
	return newError(KindServerLifecycle, reason, err)
}

func Internal(reason string, err error) *IngestError {
	return newError(KindInternal, reason, err)
}

// KindOf returns the kind of the first IngestError in err's chain, or
// KindInternal for anything else.
func KindOf(err error) Kind {
	var ie *IngestError
	if sterrors.As(err, &ie) {
		return ie.Kind
	}
	return KindInternal
}

// MaxSizeOf returns the reported limit of a PayloadTooLarge error.
func MaxSizeOf(err error) (int64, bool) {
	var ie *IngestError
	if sterrors.As(err, &ie) && ie.Kind == KindPayloadTooLarge {
		return ie.MaxSize, true
	}
	return 0, false
}

// IsClientError reports whether err is terminal for the request and caused by
// its content.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindPayloadTooLarge, KindCompression, KindEmptyBody,
		KindUnsupportedContentType, KindMalformedPayload, KindInvalidRequest:
		return true
	default:
		return false
	}
}

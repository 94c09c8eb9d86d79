// Package codec converts OTLP export requests and responses between bytes and
// pdata values, one Codec per signal kind.
package codec

import (
	"fmt"

	spb "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"go.opentelemetry.io/collector/pdata/plog"
	"go.opentelemetry.io/collector/pdata/plog/plogotlp"
	"go.opentelemetry.io/collector/pdata/pmetric"
	"go.opentelemetry.io/collector/pdata/pmetric/pmetricotlp"
	"go.opentelemetry.io/collector/pdata/ptrace"
	"go.opentelemetry.io/collector/pdata/ptrace/ptraceotlp"

	errspkg "github.com/drblury/otlpflow/internal/runtime/errors"
	"github.com/drblury/otlpflow/internal/runtime/signal"
)

type marshaler interface {
	MarshalProto() ([]byte, error)
	MarshalJSON() ([]byte, error)
}

type unmarshaler interface {
	UnmarshalProto(data []byte) error
	UnmarshalJSON(data []byte) error
}

// Codec decodes export requests of one signal kind and encodes the matching
// acknowledgement. It is stateless and safe for concurrent use.
type Codec[T any] struct {
	kind        signal.Kind
	newRequest  func() (unmarshaler, func() T)
	wrapBatch   func(T) marshaler
	newResponse func() marshaler
}

// Traces, Metrics and Logs are the per-kind codecs.
var (
	Traces = Codec[ptrace.Traces]{
		kind: signal.Traces,
		newRequest: func() (unmarshaler, func() ptrace.Traces) {
			req := ptraceotlp.NewExportRequest()
			return req, req.Traces
		},
		wrapBatch: func(td ptrace.Traces) marshaler {
			return ptraceotlp.NewExportRequestFromTraces(td)
		},
		newResponse: func() marshaler { return ptraceotlp.NewExportResponse() },
	}

	Metrics = Codec[pmetric.Metrics]{
		kind: signal.Metrics,
		newRequest: func() (unmarshaler, func() pmetric.Metrics) {
			req := pmetricotlp.NewExportRequest()
			return req, req.Metrics
		},
		wrapBatch: func(md pmetric.Metrics) marshaler {
			return pmetricotlp.NewExportRequestFromMetrics(md)
		},
		newResponse: func() marshaler { return pmetricotlp.NewExportResponse() },
	}

	Logs = Codec[plog.Logs]{
		kind: signal.Logs,
		newRequest: func() (unmarshaler, func() plog.Logs) {
			req := plogotlp.NewExportRequest()
			return req, req.Logs
		},
		wrapBatch: func(ld plog.Logs) marshaler {
			return plogotlp.NewExportRequestFromLogs(ld)
		},
		newResponse: func() marshaler { return plogotlp.NewExportResponse() },
	}
)

// Kind returns the signal kind handled by c.
func (c Codec[T]) Kind() signal.Kind { return c.kind }

// Decode parses body as an export request declared with contentType.
func (c Codec[T]) Decode(body []byte, contentType string) (T, error) {
	var zero T
	if len(body) == 0 {
		return zero, errspkg.EmptyBody()
	}
	format, err := signal.ParseRequestFormat(contentType)
	if err != nil {
		return zero, err
	}
	return c.DecodeFormat(body, format)
}

// DecodeFormat parses body in an already negotiated format.
func (c Codec[T]) DecodeFormat(body []byte, format signal.WireFormat) (T, error) {
	var zero T
	if len(body) == 0 {
		return zero, errspkg.EmptyBody()
	}
	req, batch := c.newRequest()
	var err error
	if format == signal.JSON {
		err = req.UnmarshalJSON(body)
	} else {
		err = req.UnmarshalProto(body)
	}
	if err != nil {
		return zero, errspkg.MalformedPayload(format.String(), err)
	}
	return batch(), nil
}

// EncodeRequest marshals batch as an export request.
func (c Codec[T]) EncodeRequest(batch T, format signal.WireFormat) ([]byte, error) {
	return marshal(c.wrapBatch(batch), format)
}

// EncodeAck marshals the empty export response in the format selected by the
// Accept header and returns it with its content type.
func (c Codec[T]) EncodeAck(accept string) ([]byte, string, error) {
	format := signal.ParseResponseFormat(accept)
	body, err := marshal(c.newResponse(), format)
	if err != nil {
		return nil, "", errspkg.Internal(fmt.Sprintf("encode %s acknowledgement", c.kind), err)
	}
	return body, format.ContentType(), nil
}

func marshal(m marshaler, format signal.WireFormat) ([]byte, error) {
	if format == signal.JSON {
		return m.MarshalJSON()
	}
	return m.MarshalProto()
}

// EncodeStatus marshals a google.rpc.Status error body.
func EncodeStatus(st *spb.Status, format signal.WireFormat) ([]byte, error) {
	if format == signal.JSON {
		return protojson.Marshal(st)
	}
	return proto.Marshal(st)
}

// DecodeStatus is the inverse of EncodeStatus.
func DecodeStatus(body []byte, format signal.WireFormat) (*spb.Status, error) {
	st := &spb.Status{}
	var err error
	if format == signal.JSON {
		err = protojson.Unmarshal(body, st)
	} else {
		err = proto.Unmarshal(body, st)
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

package pipeline

import (
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/drblury/otlpflow/internal/runtime/codec"
	errspkg "github.com/drblury/otlpflow/internal/runtime/errors"
	"github.com/drblury/otlpflow/internal/runtime/signal"
)

const plainTextContentType = "text/plain; charset=utf-8"

// HTTPStatus maps err onto the status code of an OTLP/HTTP response.
func HTTPStatus(err error) int {
	switch errspkg.KindOf(err) {
	case errspkg.KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case errspkg.KindCompression, errspkg.KindEmptyBody, errspkg.KindUnsupportedContentType,
		errspkg.KindMalformedPayload, errspkg.KindInvalidRequest:
		return http.StatusBadRequest
	case errspkg.KindServerLifecycle:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// GRPCCode is the google.rpc.Status code reported alongside HTTPStatus.
func GRPCCode(err error) codes.Code {
	switch HTTPStatus(err) {
	case http.StatusBadRequest:
		return codes.InvalidArgument
	case http.StatusRequestEntityTooLarge:
		return codes.ResourceExhausted
	case http.StatusServiceUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// ErrorResponse renders err as a google.rpc.Status in the format of the
// request. Unknown request content types get protobuf.
func ErrorResponse(err error, requestContentType string) Response {
	format, ferr := signal.ParseRequestFormat(requestContentType)
	if ferr != nil {
		format = signal.Protobuf
	}

	resp := Response{Status: HTTPStatus(err), ContentType: format.ContentType()}
	body, encErr := codec.EncodeStatus(status.New(GRPCCode(err), err.Error()).Proto(), format)
	if encErr != nil {
		resp.Body = []byte(err.Error())
		resp.ContentType = plainTextContentType
		return resp
	}
	resp.Body = body
	return resp
}

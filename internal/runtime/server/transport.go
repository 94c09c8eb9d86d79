package server

import (
	"context"
	"net/http"

	"github.com/drblury/otlpflow/internal/runtime/pipeline"
)

// Request is what a route handler sees of an HTTP request. Header defaults
// are already applied.
type Request struct {
	Method          string
	Path            string
	Body            []byte
	ContentType     string
	ContentEncoding string
	Accept          string
	AcceptEncoding  []string
	// Header holds the raw request headers for handlers that need more.
	Header http.Header
	// Err is set by the transport when the request is refused before the
	// handler could see it: the server is draining or the body could not be
	// read. Handlers answer with it so the rejection is observed like any
	// other.
	Err error
}

// Pipeline returns the pipeline view of r.
func (r *Request) Pipeline() pipeline.Request {
	return pipeline.Request{
		Body:            r.Body,
		ContentType:     r.ContentType,
		ContentEncoding: r.ContentEncoding,
		Accept:          r.Accept,
		AcceptEncoding:  r.AcceptEncoding,
		Err:             r.Err,
	}
}

// Response is written back by the transport. A zero Status means 200.
type Response struct {
	Status          int
	Body            []byte
	ContentType     string
	ContentEncoding string
	// Header carries extra headers such as CORS.
	Header http.Header
}

// FromPipeline wraps a pipeline response.
func FromPipeline(resp pipeline.Response) *Response {
	return &Response{
		Status:          resp.Status,
		Body:            resp.Body,
		ContentType:     resp.ContentType,
		ContentEncoding: resp.ContentEncoding,
	}
}

// HandlerFunc serves one route.
type HandlerFunc func(ctx context.Context, req *Request) *Response

// HTTPServer is the transport the Server registers its routes on. MuxServer
// is the default implementation.
type HTTPServer interface {
	// Handle registers h for method and path. It must be called before Start.
	Handle(method, path string, h HandlerFunc)
	// Mount registers a plain http.Handler for GET requests on path.
	Mount(path string, h http.Handler)
	// Start binds the listener and serves in the background. It returns once
	// the listener is bound.
	Start(ctx context.Context) error
	// Stop refuses new requests and waits for in-flight ones until ctx ends.
	Stop(ctx context.Context) error
	// Port returns the bound port, or the configured one before Start.
	Port() int
}

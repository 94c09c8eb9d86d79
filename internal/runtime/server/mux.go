package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"github.com/drblury/otlpflow/internal/runtime/compression"
	errspkg "github.com/drblury/otlpflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/otlpflow/internal/runtime/logging"
	"github.com/drblury/otlpflow/internal/runtime/pipeline"
	"github.com/drblury/otlpflow/internal/runtime/signal"
)

const (
	defaultRequestContentType = "application/octet-stream"
	readHeaderTimeout         = 10 * time.Second
)

var errDraining = errspkg.ServerLifecycle("server is stopping", nil)

// MuxServer is an HTTPServer backed by net/http and a gorilla/mux router.
type MuxServer struct {
	host    string
	port    int
	maxBody int64
	logger  loggingpkg.ServiceLogger

	router   *mux.Router
	draining atomic.Bool

	mu        sync.Mutex
	srv       *http.Server
	boundPort int
	stopped   bool
}

// NewMuxServer creates a server for host:port. Bodies are read up to maxBody+1
// bytes so oversized requests are still recognised without buffering them
// completely; maxBody <= 0 reads everything.
func NewMuxServer(host string, port int, maxBody int64, logger loggingpkg.ServiceLogger) *MuxServer {
	if logger == nil {
		logger = loggingpkg.NewNopServiceLogger()
	}
	return &MuxServer{
		host:    host,
		port:    port,
		maxBody: maxBody,
		logger:  logger,
		router:  mux.NewRouter(),
	}
}

func (s *MuxServer) Handle(method, path string, h HandlerFunc) {
	s.router.HandleFunc(path, s.adapt(h)).Methods(method)
}

func (s *MuxServer) Mount(path string, h http.Handler) {
	s.router.Handle(path, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.draining.Load() {
			writeDraining(w, r)
			return
		}
		h.ServeHTTP(w, r)
	})).Methods(http.MethodGet)
}

func (s *MuxServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return errspkg.ErrServerStopped
	}
	if s.srv != nil {
		return errspkg.ErrServerRunning
	}

	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return errspkg.ServerLifecycle("bind "+addr, err)
	}
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		s.boundPort = tcp.Port
	}

	s.srv = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	s.logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": ln.Addr().String()})

	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server stopped unexpectedly", err, loggingpkg.LogFields{"address": addr})
		}
	}(s.srv)
	return nil
}

// Stop is idempotent. Requests that arrive while draining get 503. The lock
// is released before waiting on in-flight requests so Port stays usable.
func (s *MuxServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.draining.Store(true)
	srv, port := s.srv, s.boundPort
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return errspkg.ServerLifecycle("shutdown", err)
	}
	s.logger.Info("HTTP server stopped", loggingpkg.LogFields{"port": port})
	return nil
}

func (s *MuxServer) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.boundPort != 0 {
		return s.boundPort
	}
	return s.port
}

// ServeHTTP answers unrouted requests with 503 while draining. Routed ones
// are refused by their handlers so the rejection is counted.
func (s *MuxServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() && !s.router.Match(r, &mux.RouteMatch{}) {
		writeDraining(w, r)
		return
	}
	s.router.ServeHTTP(w, r)
}

func (s *MuxServer) adapt(h HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req *Request
		if s.draining.Load() {
			req = s.requestHeaders(r)
			req.Err = errDraining
		} else {
			req = s.readRequest(r)
		}
		writeResponse(w, h(r.Context(), req))
	}
}

func writeDraining(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, FromPipeline(pipeline.ErrorResponse(errDraining, r.Header.Get("Content-Type"))))
}

func (s *MuxServer) requestHeaders(r *http.Request) *Request {
	return &Request{
		Method:          r.Method,
		Path:            r.URL.Path,
		ContentType:     headerOr(r.Header, "Content-Type", defaultRequestContentType),
		ContentEncoding: r.Header.Get("Content-Encoding"),
		Accept:          headerOr(r.Header, "Accept", signal.ProtobufContentType),
		AcceptEncoding:  compression.ParseAcceptEncoding(strings.Join(r.Header.Values("Accept-Encoding"), ",")),
		Header:          r.Header,
	}
}

// readRequest never fails; a body read error is carried in Request.Err.
func (s *MuxServer) readRequest(r *http.Request) *Request {
	req := s.requestHeaders(r)
	if r.Body == nil {
		return req
	}
	defer r.Body.Close()

	var body io.Reader = r.Body
	if s.maxBody > 0 {
		body = io.LimitReader(r.Body, s.maxBody+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		req.Err = errspkg.InvalidRequest(fmt.Sprintf("read request body: %v", err))
		return req
	}
	req.Body = data
	return req
}

func headerOr(h http.Header, key, fallback string) string {
	if v := h.Get(key); v != "" {
		return v
	}
	return fallback
}

func writeResponse(w http.ResponseWriter, resp *Response) {
	if resp == nil {
		resp = &Response{}
	}
	header := w.Header()
	for k, values := range resp.Header {
		for _, v := range values {
			header.Add(k, v)
		}
	}
	if resp.ContentType != "" {
		header.Set("Content-Type", resp.ContentType)
	}
	if resp.ContentEncoding != "" {
		header.Set("Content-Encoding", resp.ContentEncoding)
		if resp.ContentEncoding == compression.Gzip {
			header.Add("Vary", "Accept-Encoding")
		}
	}
	header.Set("X-Content-Type-Options", "nosniff")

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}

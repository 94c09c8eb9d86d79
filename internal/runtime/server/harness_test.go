package server

import (
	"context"
	"net/http"
	"sync"
)

// fakeTransport records routes and lets tests invoke them without a socket.
type fakeTransport struct {
	mu       sync.Mutex
	routes   map[string]HandlerFunc
	mounts   map[string]http.Handler
	port     int
	startErr error
	stopErr  error
	starts   int
	stops    int
}

func newFakeTransport(port int) *fakeTransport {
	return &fakeTransport{
		routes: make(map[string]HandlerFunc),
		mounts: make(map[string]http.Handler),
		port:   port,
	}
}

func (f *fakeTransport) Handle(method, path string, h HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[method+" "+path] = h
}

func (f *fakeTransport) Mount(path string, h http.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mounts[path] = h
}

func (f *fakeTransport) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.startErr
}

func (f *fakeTransport) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return f.stopErr
}

func (f *fakeTransport) Port() int { return f.port }

func (f *fakeTransport) route(method, path string) (HandlerFunc, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.routes[method+" "+path]
	return h, ok
}

// post invokes a registered POST route with the transport's header defaults.
func (f *fakeTransport) post(path string, body []byte, contentType string) *Response {
	h, ok := f.route(http.MethodPost, path)
	if !ok {
		return &Response{Status: http.StatusNotFound}
	}
	if contentType == "" {
		contentType = defaultRequestContentType
	}
	return h(context.Background(), &Request{
		Method:      http.MethodPost,
		Path:        path,
		Body:        body,
		ContentType: contentType,
		Accept:      "application/x-protobuf",
		Header:      http.Header{},
	})
}

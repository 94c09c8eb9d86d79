package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"testing/iotest"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/collector/pdata/pmetric/pmetricotlp"

	"github.com/drblury/otlpflow/internal/runtime/codec"
	configpkg "github.com/drblury/otlpflow/internal/runtime/config"
	errspkg "github.com/drblury/otlpflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/otlpflow/internal/runtime/logging"
	"github.com/drblury/otlpflow/internal/runtime/otlptest"
	"github.com/drblury/otlpflow/internal/runtime/pipeline"
	"github.com/drblury/otlpflow/internal/runtime/signal"
)

func startLiveServer(t *testing.T, mutate func(*configpkg.Config)) *Server {
	t.Helper()
	conf := configpkg.Default()
	conf.Host = "127.0.0.1"
	conf.Port = 0
	if mutate != nil {
		mutate(&conf)
	}
	srv, err := New(conf, loggingpkg.NewNopServiceLogger())
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	return srv
}

func TestLiveServerBindsEphemeralPort(t *testing.T) {
	srv := startLiveServer(t, nil)
	assert.NotZero(t, srv.Port())
	assert.Equal(t, "http://127.0.0.1:"+strconv.Itoa(srv.Port()), srv.BaseURL())
}

func TestLiveServerTracesRoundTrip(t *testing.T) {
	srv := startLiveServer(t, nil)
	sub := srv.Traces()

	body, err := codec.Traces.EncodeRequest(otlptest.Traces(otlptest.Svc(2)), signal.Protobuf)
	require.NoError(t, err)

	resp, err := http.Post(srv.TracesURL(), "application/x-protobuf", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-protobuf", resp.Header.Get("Content-Type"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, ok := sub.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, 2, got.SpanCount())
}

func TestLiveServerGzipResponse(t *testing.T) {
	srv := startLiveServer(t, func(c *configpkg.Config) { c.EnableCompression = true })

	body, err := codec.Metrics.EncodeRequest(otlptest.Metrics(otlptest.Svc(1)), signal.Protobuf)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, srv.MetricsURL(), bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("Accept-Encoding", "gzip")

	// a custom Accept-Encoding disables the client's transparent decompression
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))
	assert.Equal(t, "Accept-Encoding", resp.Header.Get("Vary"))

	zr, err := gzip.NewReader(resp.Body)
	require.NoError(t, err)
	raw, err := io.ReadAll(zr)
	require.NoError(t, err)
	require.NoError(t, pmetricotlp.NewExportResponse().UnmarshalProto(raw))
}

func TestLiveServerGzipRequest(t *testing.T) {
	srv := startLiveServer(t, nil)
	sub := srv.Logs()

	raw, err := codec.Logs.EncodeRequest(otlptest.Logs(otlptest.Svc(1)), signal.JSON)
	require.NoError(t, err)
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err = zw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	req, err := http.NewRequest(http.MethodPost, srv.LogsURL(), &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, 1, sub.Pending())
}

func TestLiveServerOversizedBody(t *testing.T) {
	srv := startLiveServer(t, func(c *configpkg.Config) { c.MaxRequestSize = 10 })

	resp, err := http.Post(srv.TracesURL(), "application/json", bytes.NewReader(bytes.Repeat([]byte("x"), 100)))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	st, err := codec.DecodeStatus(body, signal.JSON)
	require.NoError(t, err)
	assert.Contains(t, st.GetMessage(), "max 10 bytes")
}

func TestLiveServerWrongMethod(t *testing.T) {
	srv := startLiveServer(t, nil)

	resp, err := http.Get(srv.TracesURL())
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestLiveServerStatsAndMetrics(t *testing.T) {
	srv := startLiveServer(t, func(c *configpkg.Config) {
		c.StatsEnabled = true
		c.MetricsEnabled = true
		c.StatsCORSAllowedOrigins = []string{"*"}
	})

	resp, err := http.Get(srv.BaseURL() + StatsPath)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, err = http.Get(srv.BaseURL() + MetricsPath)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMuxServerDrainingReturns503(t *testing.T) {
	s := NewMuxServer("127.0.0.1", 0, 1024, nil)
	var seen *Request
	s.Handle(http.MethodPost, "/v1/traces", func(_ context.Context, req *Request) *Response {
		seen = req
		if req.Err != nil {
			return FromPipeline(pipeline.ErrorResponse(req.Err, req.ContentType))
		}
		return &Response{Status: http.StatusOK}
	})
	s.Mount("/metrics", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	s.draining.Store(true)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/traces", bytes.NewReader([]byte("x")))
	req.Header.Set("Content-Type", "application/json")
	s.ServeHTTP(rec, req)

	require.NotNil(t, seen)
	assert.Equal(t, errspkg.KindServerLifecycle, errspkg.KindOf(seen.Err))
	assert.Empty(t, seen.Body)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	st, err := codec.DecodeStatus(rec.Body.Bytes(), signal.JSON)
	require.NoError(t, err)
	assert.Contains(t, st.GetMessage(), "server is stopping")

	for _, path := range []string{"/metrics", "/unknown"} {
		rec = httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestMuxServerBodyReadFailure(t *testing.T) {
	s := NewMuxServer("127.0.0.1", 0, 0, nil)
	var seen *Request
	s.Handle(http.MethodPost, "/v1/logs", func(_ context.Context, req *Request) *Response {
		seen = req
		return FromPipeline(pipeline.ErrorResponse(req.Err, req.ContentType))
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/logs", iotest.ErrReader(errors.New("connection reset")))
	req.Header.Set("Content-Type", "application/x-protobuf")
	s.ServeHTTP(rec, req)

	require.NotNil(t, seen)
	assert.Equal(t, errspkg.KindInvalidRequest, errspkg.KindOf(seen.Err))
	assert.ErrorContains(t, seen.Err, "connection reset")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMuxServerPortDuringShutdown(t *testing.T) {
	s := NewMuxServer("127.0.0.1", 0, 0, nil)
	entered := make(chan struct{})
	release := make(chan struct{})
	s.Handle(http.MethodPost, "/slow", func(context.Context, *Request) *Response {
		close(entered)
		<-release
		return &Response{}
	})
	require.NoError(t, s.Start(context.Background()))
	port := s.Port()
	require.NotZero(t, port)

	posted := make(chan error, 1)
	go func() {
		resp, err := http.Post("http://127.0.0.1:"+strconv.Itoa(port)+"/slow", "application/x-protobuf", nil)
		if err == nil {
			err = resp.Body.Close()
		}
		posted <- err
	}()
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("slow handler was not reached")
	}

	stopped := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stopped <- s.Stop(ctx)
	}()
	require.Eventually(t, s.draining.Load, 5*time.Second, time.Millisecond)

	got := make(chan int, 1)
	go func() { got <- s.Port() }()
	select {
	case p := <-got:
		assert.Equal(t, port, p)
	case <-time.After(time.Second):
		t.Fatal("Port blocked while Stop was draining")
	}

	close(release)
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the request finished")
	}
	require.NoError(t, <-posted)
}

func TestMuxServerHeaderDefaults(t *testing.T) {
	s := NewMuxServer("127.0.0.1", 0, 0, nil)
	var seen *Request
	s.Handle(http.MethodPost, "/echo", func(_ context.Context, req *Request) *Response {
		seen = req
		return &Response{}
	})

	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewReader([]byte("body")))
	req.Header.Add("Accept-Encoding", "br, gzip")
	req.Header.Add("Accept-Encoding", "deflate")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.NotNil(t, seen)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/octet-stream", seen.ContentType)
	assert.Equal(t, "application/x-protobuf", seen.Accept)
	assert.Equal(t, []string{"br", "gzip", "deflate"}, seen.AcceptEncoding)
	assert.Equal(t, []byte("body"), seen.Body)
}

func TestMuxServerReadsAtMostOneByteOverLimit(t *testing.T) {
	s := NewMuxServer("127.0.0.1", 0, 4, nil)
	var size int
	s.Handle(http.MethodPost, "/size", func(_ context.Context, req *Request) *Response {
		size = len(req.Body)
		return &Response{}
	})

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/size", bytes.NewReader(make([]byte, 1000))))
	assert.Equal(t, 5, size)
}

func TestMuxServerBindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	s := NewMuxServer("127.0.0.1", port, 0, loggingpkg.NewNopServiceLogger())
	err = s.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, errspkg.KindServerLifecycle, errspkg.KindOf(err))
	assert.Equal(t, port, s.Port())
}

func TestMuxServerLifecycle(t *testing.T) {
	s := NewMuxServer("127.0.0.1", 0, 0, nil)
	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), errspkg.ErrServerRunning)

	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), errspkg.ErrServerStopped)
}

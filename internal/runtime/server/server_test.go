package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/collector/pdata/ptrace/ptraceotlp"
	"google.golang.org/grpc/codes"

	"github.com/drblury/otlpflow/internal/runtime/codec"
	configpkg "github.com/drblury/otlpflow/internal/runtime/config"
	errspkg "github.com/drblury/otlpflow/internal/runtime/errors"
	"github.com/drblury/otlpflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/otlpflow/internal/runtime/logging"
	"github.com/drblury/otlpflow/internal/runtime/observe"
	"github.com/drblury/otlpflow/internal/runtime/otlptest"
	"github.com/drblury/otlpflow/internal/runtime/processor"
	"github.com/drblury/otlpflow/internal/runtime/signal"
)

func newTestServer(t *testing.T, mutate func(*configpkg.Config), opts ...Option) (*Server, *fakeTransport) {
	t.Helper()
	conf := configpkg.Default()
	if mutate != nil {
		mutate(&conf)
	}
	transport := newFakeTransport(conf.Port)
	srv, err := New(conf, loggingpkg.NewNopServiceLogger(), append([]Option{WithHTTPServer(transport)}, opts...)...)
	require.NoError(t, err)
	return srv, transport
}

func statusOf(t *testing.T, resp *Response) (codes.Code, string) {
	t.Helper()
	format := signal.Protobuf
	if resp.ContentType == signal.JSONContentType {
		format = signal.JSON
	}
	st, err := codec.DecodeStatus(resp.Body, format)
	require.NoError(t, err)
	return codes.Code(st.GetCode()), st.GetMessage()
}

func TestNewRequiresLogger(t *testing.T) {
	_, err := New(configpkg.Default(), nil)
	assert.ErrorIs(t, err, errspkg.ErrLoggerRequired)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	conf := configpkg.Default()
	conf.MaxRequestSize = 0
	_, err := New(conf, loggingpkg.NewNopServiceLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max request size")
}

func TestRoutesRegistered(t *testing.T) {
	_, transport := newTestServer(t, nil)

	for _, kind := range signal.Kinds() {
		_, ok := transport.route(http.MethodPost, kind.Path())
		assert.True(t, ok, kind.Path())
	}
	_, ok := transport.route(http.MethodGet, StatsPath)
	assert.False(t, ok, "stats route is off by default")
	assert.Empty(t, transport.mounts)
}

func TestTracesHappyPath(t *testing.T) {
	srv, transport := newTestServer(t, nil)
	sub := srv.Traces()

	body, err := codec.Traces.EncodeRequest(otlptest.Traces(otlptest.Svc(1)), signal.Protobuf)
	require.NoError(t, err)

	resp := transport.post("/v1/traces", body, "application/x-protobuf")
	require.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "application/x-protobuf", resp.ContentType)
	require.NoError(t, ptraceotlp.NewExportResponse().UnmarshalProto(resp.Body))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, ok := sub.Next(ctx)
	require.True(t, ok)
	require.Equal(t, 1, got.ResourceSpans().Len())
	svc, ok := got.ResourceSpans().At(0).Resource().Attributes().Get("service.name")
	require.True(t, ok)
	assert.Equal(t, "svc", svc.Str())
	assert.Zero(t, sub.Pending())

	short, cancelShort := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelShort()
	_, ok = sub.Next(short)
	assert.False(t, ok, "exactly one batch should be published")
}

func TestMetricsEmptyBody(t *testing.T) {
	_, transport := newTestServer(t, nil)

	resp := transport.post("/v1/metrics", nil, "application/x-protobuf")
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	code, _ := statusOf(t, resp)
	assert.Equal(t, codes.InvalidArgument, code)
}

func TestLogsTextPlain(t *testing.T) {
	_, transport := newTestServer(t, nil)

	resp := transport.post("/v1/logs", []byte("hello"), "text/plain")
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	_, msg := statusOf(t, resp)
	assert.Contains(t, msg, "unsupported content type")
}

func TestDefaultContentTypeIsRejected(t *testing.T) {
	_, transport := newTestServer(t, nil)

	resp := transport.post("/v1/logs", []byte("hello"), "")
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	_, msg := statusOf(t, resp)
	assert.Contains(t, msg, "application/octet-stream")
}

func TestPayloadTooLarge(t *testing.T) {
	_, transport := newTestServer(t, func(c *configpkg.Config) { c.MaxRequestSize = 10 })

	resp := transport.post("/v1/traces", bytes.Repeat([]byte("x"), 100), "application/x-protobuf")
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.Status)
	code, msg := statusOf(t, resp)
	assert.Equal(t, codes.ResourceExhausted, code)
	assert.Contains(t, msg, "max 10 bytes")
}

func TestSubscribersEachReceiveBatches(t *testing.T) {
	srv, transport := newTestServer(t, nil)
	first := srv.Logs()
	second := srv.Logs()

	body, err := codec.Logs.EncodeRequest(otlptest.Logs(otlptest.Svc(2)), signal.JSON)
	require.NoError(t, err)
	for range 3 {
		require.Equal(t, http.StatusOK, transport.post("/v1/logs", body, "application/json").Status)
	}

	assert.Equal(t, 3, first.Pending())
	assert.Equal(t, 3, second.Pending())
}

func TestSubscriberMaxPending(t *testing.T) {
	srv, transport := newTestServer(t, func(c *configpkg.Config) { c.SubscriberMaxPending = 1 })
	sub := srv.Metrics()

	body, err := codec.Metrics.EncodeRequest(otlptest.Metrics(otlptest.Svc(1)), signal.Protobuf)
	require.NoError(t, err)
	for range 3 {
		transport.post("/v1/metrics", body, "application/x-protobuf")
	}

	assert.Equal(t, 1, sub.Pending())
	assert.Equal(t, uint64(2), sub.Dropped())
}

func TestStopFinishesSubscriptions(t *testing.T) {
	srv, transport := newTestServer(t, nil)
	require.NoError(t, srv.Start(context.Background()))

	sub := srv.Traces()
	body, err := codec.Traces.EncodeRequest(otlptest.Traces(otlptest.Svc(1)), signal.Protobuf)
	require.NoError(t, err)
	transport.post("/v1/traces", body, "application/x-protobuf")

	require.NoError(t, srv.Stop(context.Background()))
	require.NoError(t, srv.Stop(context.Background()), "second stop is a no-op")
	assert.Equal(t, 1, transport.stops)

	_, ok := sub.Next(context.Background())
	assert.True(t, ok, "buffered batch survives stop")
	_, ok = sub.Next(context.Background())
	assert.False(t, ok)

	_, ok = srv.Logs().Next(context.Background())
	assert.False(t, ok, "subscriptions after stop are finished")
}

func TestStartLifecycleErrors(t *testing.T) {
	srv, transport := newTestServer(t, nil)

	require.NoError(t, srv.Start(context.Background()))
	assert.ErrorIs(t, srv.Start(context.Background()), errspkg.ErrServerRunning)
	require.NoError(t, srv.Stop(context.Background()))
	assert.ErrorIs(t, srv.Start(context.Background()), errspkg.ErrServerStopped)
	assert.Equal(t, 1, transport.starts)
}

func TestStartPropagatesTransportError(t *testing.T) {
	srv, transport := newTestServer(t, nil)
	transport.startErr = errspkg.ServerLifecycle("bind localhost:4318", errors.New("address in use"))

	err := srv.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, errspkg.KindServerLifecycle, errspkg.KindOf(err))

	transport.startErr = nil
	require.NoError(t, srv.Start(context.Background()), "a failed start can be retried")
}

func TestStopPropagatesTransportError(t *testing.T) {
	srv, transport := newTestServer(t, nil)
	require.NoError(t, srv.Start(context.Background()))
	transport.stopErr = errspkg.ServerLifecycle("shutdown", context.DeadlineExceeded)

	err := srv.Stop(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, ok := srv.Traces().Next(context.Background())
	assert.False(t, ok, "channels are closed even when shutdown fails")
}

func TestStopBeforeStart(t *testing.T) {
	srv, transport := newTestServer(t, nil)
	require.NoError(t, srv.Stop(context.Background()))
	assert.Equal(t, 0, transport.stops)
}

func TestRunStopsOnCancel(t *testing.T) {
	srv, transport := newTestServer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	require.Eventually(t, func() bool {
		transport.mu.Lock()
		defer transport.mu.Unlock()
		return transport.starts == 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 1, transport.stops)
}

func TestURLs(t *testing.T) {
	srv, _ := newTestServer(t, func(c *configpkg.Config) {
		c.Host = "127.0.0.1"
		c.Port = 14318
	})

	assert.Equal(t, "http://127.0.0.1:14318", srv.BaseURL())
	assert.Equal(t, "http://127.0.0.1:14318/v1/traces", srv.TracesURL())
	assert.Equal(t, "http://127.0.0.1:14318/v1/metrics", srv.MetricsURL())
	assert.Equal(t, "http://127.0.0.1:14318/v1/logs", srv.LogsURL())
	assert.Equal(t, 14318, srv.Port())
}

func TestConfigIsCopied(t *testing.T) {
	conf := configpkg.Default()
	srv, err := New(conf, loggingpkg.NewNopServiceLogger(), WithHTTPServer(newFakeTransport(0)))
	require.NoError(t, err)

	conf.MaxRequestSize = 1
	assert.Equal(t, int64(configpkg.DefaultMaxRequestSize), srv.Config().MaxRequestSize)
}

func TestExtraHooks(t *testing.T) {
	var accepted []processor.Summary
	_, transport := newTestServer(t, nil, WithHooks(observe.Hooks{
		OnAccepted: func(_ observe.RequestInfo, s processor.Summary) { accepted = append(accepted, s) },
	}))

	body, err := codec.Metrics.EncodeRequest(otlptest.Metrics(otlptest.Svc(4)), signal.Protobuf)
	require.NoError(t, err)
	transport.post("/v1/metrics", body, "application/x-protobuf")

	require.Len(t, accepted, 1)
	assert.Equal(t, 4, accepted[0].Items)
}

func TestStatsEndpoint(t *testing.T) {
	srv, transport := newTestServer(t, func(c *configpkg.Config) { c.StatsEnabled = true })
	srv.Traces()

	body, err := codec.Traces.EncodeRequest(otlptest.Traces(otlptest.Svc(2)), signal.Protobuf)
	require.NoError(t, err)
	transport.post("/v1/traces", body, "application/x-protobuf")
	transport.post("/v1/traces", nil, "application/x-protobuf")

	h, ok := transport.route(http.MethodGet, StatsPath)
	require.True(t, ok)
	resp := h(context.Background(), &Request{Method: http.MethodGet, Header: http.Header{}})
	require.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "application/json", resp.ContentType)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))

	var snap observe.Snapshot
	require.NoError(t, jsoncodec.Unmarshal(resp.Body, &snap))
	require.Len(t, snap.Signals, 3)
	traces := snap.Signals[0]
	assert.Equal(t, "traces", traces.Signal)
	assert.Equal(t, uint64(1), traces.Accepted)
	assert.Equal(t, uint64(1), traces.Rejected)
	assert.Equal(t, uint64(2), traces.Items)
	assert.Equal(t, 1, traces.Backlog.Subscribers)
	assert.Equal(t, 1, traces.Backlog.Pending)
}

func TestTransportRefusalIsCounted(t *testing.T) {
	srv, transport := newTestServer(t, func(c *configpkg.Config) { c.StatsEnabled = true })
	sub := srv.Traces()

	h, ok := transport.route(http.MethodPost, "/v1/traces")
	require.True(t, ok)
	resp := h(context.Background(), &Request{
		Method:      http.MethodPost,
		Path:        "/v1/traces",
		ContentType: "application/json",
		Header:      http.Header{},
		Err:         errspkg.ServerLifecycle("server is stopping", nil),
	})
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
	assert.Equal(t, "application/json", resp.ContentType)

	resp = h(context.Background(), &Request{
		Method:      http.MethodPost,
		Path:        "/v1/traces",
		ContentType: "application/x-protobuf",
		Header:      http.Header{},
		Err:         errspkg.InvalidRequest("read request body: unexpected EOF"),
	})
	assert.Equal(t, http.StatusBadRequest, resp.Status)

	traces := srv.Stats().Signal(signal.Traces)
	assert.Equal(t, uint64(2), traces.Rejected)
	assert.Equal(t, uint64(1), traces.Rejections.ByKind[errspkg.KindServerLifecycle.String()])
	assert.Equal(t, uint64(1), traces.Rejections.ByKind[errspkg.KindInvalidRequest.String()])
	assert.Zero(t, sub.Pending())

	stats, ok := transport.route(http.MethodGet, StatsPath)
	require.True(t, ok)
	resp = stats(context.Background(), &Request{
		Method: http.MethodGet,
		Header: http.Header{},
		Err:    errspkg.ServerLifecycle("server is stopping", nil),
	})
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
}

func TestStatsCORS(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{"wildcard", []string{"*"}, "https://any.example", "*"},
		{"listed origin", []string{"https://ui.example"}, "https://UI.example", "https://UI.example"},
		{"unlisted origin", []string{"https://ui.example"}, "https://evil.example", ""},
		{"no origin", []string{"https://ui.example"}, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, transport := newTestServer(t, func(c *configpkg.Config) {
				c.StatsEnabled = true
				c.StatsCORSAllowedOrigins = tt.allowed
			})
			h, ok := transport.route(http.MethodOptions, StatsPath)
			require.True(t, ok)

			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			resp := h(context.Background(), &Request{Method: http.MethodOptions, Header: header})
			assert.Equal(t, http.StatusNoContent, resp.Status)
			assert.Equal(t, tt.want, resp.Header.Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, transport := newTestServer(t, func(c *configpkg.Config) { c.MetricsEnabled = true }, WithRegisterer(prometheus.NewRegistry()))

	body, err := codec.Logs.EncodeRequest(otlptest.Logs(otlptest.Svc(3)), signal.Protobuf)
	require.NoError(t, err)
	transport.post("/v1/logs", body, "application/x-protobuf")
	srv.RecordForward(signal.Logs, nil)

	handler, ok := transport.mounts[MetricsPath]
	require.True(t, ok)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, MetricsPath, nil))

	out := rec.Body.String()
	assert.Contains(t, out, `otlpflow_items_received_total{signal="logs"} 3`)
	assert.Contains(t, out, `otlpflow_forwarded_total{result="published",signal="logs"} 1`)
}

func TestRecordForwardWithoutMetrics(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	srv.RecordForward(signal.Traces, errors.New("ignored"))
}

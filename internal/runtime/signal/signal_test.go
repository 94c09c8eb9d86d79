package signal

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/otlpflow/internal/runtime/errors"
)

func TestKindRoutesAndNouns(t *testing.T) {
	tests := []struct {
		kind Kind
		path string
		noun string
	}{
		{Traces, "/v1/traces", "spans"},
		{Metrics, "/v1/metrics", "metrics"},
		{Logs, "/v1/logs", "logs"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.path, tt.kind.Path())
		assert.Equal(t, tt.noun, tt.kind.ItemNoun())
	}
	assert.Equal(t, []Kind{Traces, Metrics, Logs}, Kinds())
	assert.Equal(t, "io.opentelemetry.otlp.logs", Logs.EventType())
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Metrics ")
	require.NoError(t, err)
	assert.Equal(t, Metrics, k)

	_, err = ParseKind("profiles")
	assert.Error(t, err)
}

func TestParseRequestFormat(t *testing.T) {
	tests := []struct {
		contentType string
		want        WireFormat
		wantErr     bool
	}{
		{"application/x-protobuf", Protobuf, false},
		{"Application/X-Protobuf", Protobuf, false},
		{"application/json", JSON, false},
		{"application/json; charset=utf-8", JSON, false},
		{"APPLICATION/JSON", JSON, false},
		{"application/json ; charset=utf-8", JSON, false},
		{"application/json;", JSON, false},
		{"application/x-protobuf; charset", Protobuf, false},
		{"application/json/extra", Protobuf, true},
		{"text/plain", Protobuf, true},
		{"application/octet-stream", Protobuf, true},
		{"", Protobuf, true},
	}
	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			got, err := ParseRequestFormat(tt.contentType)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errspkg.ErrUnsupportedContentType))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseResponseFormatIsPermissive(t *testing.T) {
	tests := map[string]WireFormat{
		"application/json":             JSON,
		"Application/JSON; q=0.9":      JSON,
		"application/json, text/plain": JSON,
		"application/x-protobuf":       Protobuf,
		"":                             Protobuf,
		"*/*":                          Protobuf,
		"text/plain":                   Protobuf,
		"text/plain, application/json": Protobuf,
		"application/x-protobuf;q=1.0": Protobuf,
		"application/json ;q=0.5":      JSON,
	}
	for accept, want := range tests {
		assert.Equal(t, want, ParseResponseFormat(accept), "accept %q", accept)
	}
}

func TestWireFormatNames(t *testing.T) {
	assert.Equal(t, "application/json", JSON.ContentType())
	assert.Equal(t, "application/x-protobuf", Protobuf.ContentType())
	assert.Equal(t, "json", JSON.String())
	assert.Equal(t, "protobuf", Protobuf.String())

	f, err := ParseFormatName("JSON")
	require.NoError(t, err)
	assert.Equal(t, JSON, f)
	f, err = ParseFormatName("")
	require.NoError(t, err)
	assert.Equal(t, Protobuf, f)
	_, err = ParseFormatName("avro")
	assert.Error(t, err)
}

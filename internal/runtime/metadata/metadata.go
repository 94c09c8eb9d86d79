package metadata

import (
	"strconv"
	"time"
)

// Keys set on every forwarded batch.
const (
	KeySignal        = "otlp_signal"
	KeyEncoding      = "otlp_encoding"
	KeyResourceCount = "otlp_resource_count"
	KeyScopeCount    = "otlp_scope_count"
	KeyItemCount     = "otlp_item_count"
)

// CloudEvents binary content mode attributes.
const (
	KeyCESpecVersion     = "ce_specversion"
	KeyCEType            = "ce_type"
	KeyCESource          = "ce_source"
	KeyCEID              = "ce_id"
	KeyCETime            = "ce_time"
	KeyCEDataContentType = "ce_datacontenttype"

	CESpecVersion = "1.0"
)

// Metadata represents the headers carried alongside a forwarded batch.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	size := len(m) + extra
	if size <= 0 {
		return Metadata{}
	}

	cloned := make(Metadata, size)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a cloned metadata map containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// WithAll returns a cloned metadata map containing the supplied entries.
func (m Metadata) WithAll(entries Metadata) Metadata {
	cloned := m.cloneWithExtra(len(entries))
	for k, v := range entries {
		cloned[k] = v
	}
	return cloned
}

// WithCount returns a clone with key set to the decimal form of n.
func (m Metadata) WithCount(key string, n int) Metadata {
	return m.With(key, strconv.Itoa(n))
}

// Count parses a value written by WithCount. Missing or invalid values yield -1.
func (m Metadata) Count(key string) int {
	raw, ok := m[key]
	if !ok {
		return -1
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return n
}

// CloudEvent describes the envelope attributes of a forwarded batch.
type CloudEvent struct {
	ID          string
	Type        string
	Source      string
	Time        time.Time
	ContentType string
}

// WithCloudEvent returns a clone carrying the CloudEvents binary-mode headers.
func (m Metadata) WithCloudEvent(ev CloudEvent) Metadata {
	out := m.cloneWithExtra(6)
	out[KeyCESpecVersion] = CESpecVersion
	out[KeyCEID] = ev.ID
	out[KeyCEType] = ev.Type
	out[KeyCESource] = ev.Source
	if !ev.Time.IsZero() {
		out[KeyCETime] = ev.Time.UTC().Format(time.RFC3339Nano)
	}
	if ev.ContentType != "" {
		out[KeyCEDataContentType] = ev.ContentType
	}
	return out
}

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

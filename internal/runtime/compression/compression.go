// Package compression negotiates gzip for request and response bodies.
package compression

import (
	"bytes"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"

	errspkg "github.com/drblury/otlpflow/internal/runtime/errors"
)

// Gzip is the only content coding understood on either direction.
const Gzip = "gzip"

var writerPool = sync.Pool{
	New: func() any { return gzip.NewWriter(io.Discard) },
}

// MaybeDecompress inflates body when encoding names gzip and returns it
// unchanged for any other encoding, including identity and the empty string.
// A positive limit bounds the inflated size.
func MaybeDecompress(body []byte, encoding string, limit int64) ([]byte, error) {
	if !isGzip(encoding) || len(body) == 0 {
		return body, nil
	}

	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, errspkg.Compression(err)
	}
	defer zr.Close()

	var r io.Reader = zr
	if limit > 0 {
		r = io.LimitReader(zr, limit+1)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errspkg.Compression(err)
	}
	if limit > 0 && int64(len(out)) > limit {
		return nil, errspkg.PayloadTooLarge(limit)
	}
	return out, nil
}

// MaybeCompress gzips body iff enabled is set and one of the accepted
// encodings mentions gzip. It returns the content coding applied, or "" when
// body is returned unchanged.
func MaybeCompress(body []byte, accepted []string, enabled bool) ([]byte, string) {
	if !enabled || !AcceptsGzip(accepted) {
		return body, ""
	}
	compressed, err := compress(body)
	if err != nil {
		return body, ""
	}
	return compressed, Gzip
}

// AcceptsGzip reports whether any token contains gzip, case-insensitively.
func AcceptsGzip(accepted []string) bool {
	for _, token := range accepted {
		if strings.Contains(strings.ToLower(token), Gzip) {
			return true
		}
	}
	return false
}

// ParseAcceptEncoding splits a comma-separated Accept-Encoding header into
// trimmed, non-empty tokens.
func ParseAcceptEncoding(header string) []string {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tokens = append(tokens, p)
		}
	}
	return tokens
}

// Compress gzips body unconditionally.
func Compress(body []byte) ([]byte, error) {
	return compress(body)
}

func compress(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := writerPool.Get().(*gzip.Writer)
	defer writerPool.Put(zw)
	zw.Reset(&buf)

	if _, err := zw.Write(body); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isGzip(encoding string) bool {
	return strings.EqualFold(strings.TrimSpace(encoding), Gzip)
}

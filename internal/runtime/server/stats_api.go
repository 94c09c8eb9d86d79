package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/drblury/otlpflow/internal/runtime/jsoncodec"
	"github.com/drblury/otlpflow/internal/runtime/pipeline"
	"github.com/drblury/otlpflow/internal/runtime/signal"
)

func (s *Server) handleGetStats(_ context.Context, req *Request) *Response {
	if req.Err != nil {
		return FromPipeline(pipeline.ErrorResponse(req.Err, req.ContentType))
	}
	resp := &Response{Header: make(http.Header)}

	// Set CORS headers based on configuration
	if len(s.conf.StatsCORSAllowedOrigins) > 0 {
		if allowed := s.allowedCORSOrigin(req.Header.Get("Origin")); allowed != "" {
			resp.Header.Set("Access-Control-Allow-Origin", allowed)
			resp.Header.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			resp.Header.Set("Access-Control-Allow-Headers", "Content-Type")
			if allowed != "*" {
				resp.Header.Add("Vary", "Origin")
			}
		}
	}

	if req.Method == http.MethodOptions {
		resp.Status = http.StatusNoContent
		return resp
	}

	body, err := jsoncodec.Marshal(s.stats.Snapshot())
	if err != nil {
		s.logger.Error("Failed to encode signal stats", err, nil)
		resp.Status = http.StatusInternalServerError
		resp.ContentType = "text/plain; charset=utf-8"
		resp.Body = []byte("Internal Server Error")
		return resp
	}
	resp.Status = http.StatusOK
	resp.ContentType = signal.JSONContentType
	resp.Body = body
	return resp
}

// allowedCORSOrigin returns the Access-Control-Allow-Origin value for origin,
// or "" when it is not on the allow-list.
func (s *Server) allowedCORSOrigin(origin string) string {
	for _, allowed := range s.conf.StatsCORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(allowed, origin) {
			return origin
		}
	}
	return ""
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package obsgin

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// setupTracing installs a recording tracer provider as the global provider
// for the duration of one test.
func setupTracing(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(noop.NewTracerProvider())
		_ = tp.Shutdown(context.Background())
	})
	return recorder
}

// logPayload decodes the embedded JSON payload from the single captured
// slog line.
func logPayload(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1, "expected exactly one access-log line")

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
	msg, ok := record["msg"].(string)
	require.True(t, ok)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(msg), &payload))
	return payload
}

func TestTraceAccessLog_NewSpanPath(t *testing.T) {
	recorder := setupTracing(t)
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	router := gin.New()
	router.Use(TraceAccessLog(logger, AccessLogConfig{ApplicationName: "test-app"}))
	router.GET("/hello", func(c *gin.Context) {
		c.String(http.StatusOK, "world")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/hello", nil)
	req.Header.Set("User-Agent", "test-agent")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	span := ended[0]
	assert.Equal(t, "GET /hello", span.Name())
	assert.Equal(t, trace.SpanKindServer, span.SpanKind())
	assert.Equal(t, codes.Ok, span.Status().Code)

	assert.Equal(t, span.SpanContext().TraceID().String(), w.Header().Get("X-Trace-Id"))

	payload := logPayload(t, &buf)
	assert.Equal(t, "http.request", payload["method_name"])
	assert.Equal(t, "test-app", payload["application_name"])
	assert.Equal(t, "GET", payload["http_method"])
	assert.Equal(t, "/hello", payload["http_path"])
	assert.Equal(t, float64(http.StatusOK), payload["http_status"])
	assert.Equal(t, "test-agent", payload["user_agent"])
	assert.Equal(t, span.SpanContext().TraceID().String(), payload["trace_id"])
	assert.Contains(t, payload, "duration_ms")
}

func TestTraceAccessLog_ReusesUpstreamSpan(t *testing.T) {
	recorder := setupTracing(t)
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	router := gin.New()
	router.Use(func(c *gin.Context) {
		ctx, span := otel.Tracer("upstream").Start(
			c.Request.Context(), "upstream-span", trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})
	router.Use(TraceAccessLog(logger, AccessLogConfig{}))
	router.GET("/hello", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/hello", nil))

	// Only the upstream span exists; the middleware annotated it in place.
	ended := recorder.Ended()
	require.Len(t, ended, 1)
	span := ended[0]
	assert.Equal(t, "upstream-span", span.Name())
	assert.Equal(t, codes.Ok, span.Status().Code)

	found := false
	for _, kv := range span.Attributes() {
		if string(kv.Key) == "http.status_code" {
			found = true
			assert.Equal(t, int64(http.StatusNoContent), kv.Value.AsInt64())
		}
	}
	assert.True(t, found, "http.status_code not stamped on upstream span")
	assert.Equal(t, span.SpanContext().TraceID().String(), w.Header().Get("X-Trace-Id"))
}

func TestTraceAccessLog_ServerErrorStatus(t *testing.T) {
	recorder := setupTracing(t)
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	router := gin.New()
	router.Use(TraceAccessLog(logger, AccessLogConfig{}))
	router.GET("/broken", func(c *gin.Context) {
		c.String(http.StatusServiceUnavailable, "down")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/broken", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)

	payload := logPayload(t, &buf)
	assert.Equal(t, float64(http.StatusServiceUnavailable), payload["http_status"])
}

func TestTraceAccessLog_CustomTraceHeader(t *testing.T) {
	recorder := setupTracing(t)

	router := gin.New()
	router.Use(TraceAccessLog(slog.New(slog.NewJSONHandler(io.Discard, nil)), AccessLogConfig{
		TraceHeaderName: "X-Correlation-Id",
	}))
	router.GET("/hello", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/hello", nil))

	require.Len(t, recorder.Ended(), 1)
	assert.NotEmpty(t, w.Header().Get("X-Correlation-Id"))
	assert.Empty(t, w.Header().Get("X-Trace-Id"))
}

func TestTraceAccessLog_BodyPreviewRedaction(t *testing.T) {
	setupTracing(t)
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	var handlerBody []byte
	router := gin.New()
	router.Use(TraceAccessLog(logger, AccessLogConfig{EnableBodyPreview: true}))
	router.POST("/login", func(c *gin.Context) {
		handlerBody, _ = io.ReadAll(c.Request.Body)
		c.JSON(http.StatusOK, gin.H{"token": "abc123", "ok": true})
	})

	requestBody := `{"user":"bob","password":"hunter2"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(requestBody))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	// The handler still observes the full, untouched body.
	assert.Equal(t, requestBody, string(handlerBody))

	payload := logPayload(t, &buf)
	reqPreview, ok := payload["http_request_body_preview"].(string)
	require.True(t, ok)
	assert.NotContains(t, reqPreview, "hunter2")
	assert.Contains(t, reqPreview, `"***"`)
	assert.Contains(t, reqPreview, "bob")
	assert.Equal(t, float64(len(requestBody)), payload["http_request_body_size"])

	respPreview, ok := payload["http_response_body_preview"].(string)
	require.True(t, ok)
	assert.NotContains(t, respPreview, "abc123")
	assert.Contains(t, respPreview, `"ok":true`)
}

func TestTraceAccessLog_BodyPreviewPathAllowList(t *testing.T) {
	setupTracing(t)
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	router := gin.New()
	router.Use(TraceAccessLog(logger, AccessLogConfig{
		EnableBodyPreview: true,
		BodyPreviewPaths:  []string{"/api/"},
	}))
	router.POST("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/health", strings.NewReader(`{"a":1}`)))

	payload := logPayload(t, &buf)
	assert.NotContains(t, payload, "http_request_body_preview")
	assert.NotContains(t, payload, "http_request_body_size")
}

func TestTraceAccessLog_PanicRecordedAndRethrown(t *testing.T) {
	recorder := setupTracing(t)

	router := gin.New()
	router.Use(TraceAccessLog(slog.New(slog.NewJSONHandler(io.Discard, nil)), AccessLogConfig{}))
	router.GET("/panic", func(c *gin.Context) {
		panic("handler exploded")
	})

	w := httptest.NewRecorder()
	assert.Panics(t, func() {
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	})

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.NotEmpty(t, ended[0].Events(), "panic not recorded as span event")
}

func TestShouldCapturePath(t *testing.T) {
	tests := []struct {
		name string
		cfg  AccessLogConfig
		path string
		want bool
	}{
		{"disabled", AccessLogConfig{}, "/api/x", false},
		{"enabled no allow-list", AccessLogConfig{EnableBodyPreview: true}, "/anything", true},
		{"prefix match", AccessLogConfig{EnableBodyPreview: true, BodyPreviewPaths: []string{"/api/"}}, "/api/users", true},
		{"exact match", AccessLogConfig{EnableBodyPreview: true, BodyPreviewPaths: []string{"/login"}}, "/login", true},
		{"no match", AccessLogConfig{EnableBodyPreview: true, BodyPreviewPaths: []string{"/api/"}}, "/health", false},
		{"blank prefixes ignored", AccessLogConfig{EnableBodyPreview: true, BodyPreviewPaths: []string{"  ", ""}}, "/anything", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.shouldCapturePath(tt.path))
		})
	}
}

func TestMetricsMiddleware_NilMetricsPassthrough(t *testing.T) {
	router := gin.New()
	router.Use(MetricsMiddleware(nil))
	router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

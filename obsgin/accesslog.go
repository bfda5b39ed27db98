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
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/obslog-go/logging"
	"github.com/AleutianAI/obslog-go/telemetry"
)

// tracerName identifies spans opened by this middleware.
const tracerName = "obslog-go/gin"

// DefaultTraceHeaderName is the response header carrying the trace id.
const DefaultTraceHeaderName = "X-Trace-Id"

// DefaultBodyPreviewMaxBytes bounds body previews when unconfigured.
const DefaultBodyPreviewMaxBytes = 2048

// AccessLogConfig controls the access-log middleware.
type AccessLogConfig struct {
	// TraceHeaderName is the response header stamped with the 32-hex trace
	// id. Empty uses DefaultTraceHeaderName.
	TraceHeaderName string

	// ApplicationName overrides the application_name log field. Empty falls
	// back to OTEL_SERVICE_NAME.
	ApplicationName string

	// EnableBodyPreview turns on request/response body capture. Off by
	// default: draining bodies costs memory per request.
	EnableBodyPreview bool

	// BodyPreviewMaxBytes bounds each preview. Values below 1 use the
	// default budget.
	BodyPreviewMaxBytes int

	// BodyPreviewPaths is a path-prefix allow-list for capture. Empty means
	// all paths qualify (when EnableBodyPreview is set).
	BodyPreviewPaths []string

	// BodyPreviewRedactKeys overrides logging.DefaultRedactKeys.
	BodyPreviewRedactKeys []string
}

// previewMaxBytes returns the effective preview budget.
func (cfg AccessLogConfig) previewMaxBytes() int {
	if cfg.BodyPreviewMaxBytes < 1 {
		return DefaultBodyPreviewMaxBytes
	}
	return cfg.BodyPreviewMaxBytes
}

// shouldCapturePath reports whether body previews are captured for a path.
// Disabled entirely unless EnableBodyPreview; with no allow-list all paths
// qualify; otherwise the path must equal or start with a configured prefix.
func (cfg AccessLogConfig) shouldCapturePath(path string) bool {
	if !cfg.EnableBodyPreview {
		return false
	}
	allowed := make([]string, 0, len(cfg.BodyPreviewPaths))
	for _, prefix := range cfg.BodyPreviewPaths {
		prefix = strings.TrimSpace(prefix)
		if prefix != "" {
			allowed = append(allowed, prefix)
		}
	}
	if len(allowed) == 0 {
		return true
	}
	for _, prefix := range allowed {
		if path == prefix || strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// bodyCaptureWriter tees the response body into a buffer so a preview can be
// computed after the handler ran, while the client still receives the exact
// bytes the handler wrote.
type bodyCaptureWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *bodyCaptureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyCaptureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// TraceAccessLog returns middleware that wraps each request in a server span
// and emits one structured access-log line.
//
// Description:
//
//	Two paths per request. Reuse path: when an upstream instrumentation
//	layer (otelgin, auto instrumentation) already owns an active recording
//	span, no new span is opened; the request runs inside the ambient span.
//	New-span path: otherwise the propagation context is extracted from the
//	inbound headers and a SERVER span named "METHOD /path" is opened.
//
//	Either way the middleware stamps the trace-id response header, records
//	method/path/status/duration attributes, sets span status from the
//	response code (>=500 is an error), optionally attaches redacted body
//	previews, and emits exactly one "http.request" log line. A handler
//	panic is recorded on the span with error status and re-panicked
//	unchanged; this layer never swallows handler failures.
//
// Inputs:
//
//	logger - Destination for access-log lines. Nil uses slog.Default().
//	cfg - Middleware configuration. The zero value is usable.
//
// Outputs:
//
//	gin.HandlerFunc - The middleware.
//
// Thread Safety: Safe for concurrent use.
func TraceAccessLog(logger *slog.Logger, cfg AccessLogConfig) gin.HandlerFunc {
	traceHeader := cfg.TraceHeaderName
	if traceHeader == "" {
		traceHeader = DefaultTraceHeaderName
	}

	return func(c *gin.Context) {
		start := time.Now()
		capture := cfg.shouldCapturePath(c.Request.URL.Path)

		var requestBody []byte
		var responseBody *bytes.Buffer
		if capture {
			requestBody = drainRequestBody(c)
			responseBody = &bytes.Buffer{}
			c.Writer = &bodyCaptureWriter{ResponseWriter: c.Writer, body: responseBody}
		}

		ctx := c.Request.Context()
		if telemetry.HasActiveSpan(ctx) {
			// Upstream instrumentation owns the server span; annotate it
			// instead of opening a duplicate.
			span := trace.SpanFromContext(ctx)
			stampTraceHeader(c, traceHeader, span)
			runHandler(c, span)
			finalize(c, span, start, logger, cfg, requestBody, responseBody, capture)
			return
		}

		ctx = telemetry.ExtractContext(ctx, c.Request.Header)
		ctx, span := telemetry.StartSpan(ctx, tracerName,
			c.Request.Method+" "+c.Request.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
		)
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		stampTraceHeader(c, traceHeader, span)
		runHandler(c, span)
		finalize(c, span, start, logger, cfg, requestBody, responseBody, capture)
	}
}

// drainRequestBody reads the request body once and replaces it with a
// replayable copy so downstream handlers observe an untouched stream.
func drainRequestBody(c *gin.Context) []byte {
	if c.Request.Body == nil {
		return nil
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	return body
}

// stampTraceHeader writes the trace-id response header when the span context
// is valid. Headers must be set before the handler starts writing the body.
func stampTraceHeader(c *gin.Context, header string, span trace.Span) {
	if spanCtx := span.SpanContext(); spanCtx.IsValid() {
		c.Header(header, spanCtx.TraceID().String())
	}
}

// runHandler invokes the rest of the chain, recording a panic on the span
// before re-panicking. Handler failures always propagate unchanged.
func runHandler(c *gin.Context, span trace.Span) {
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("panic: %v", r)
			}
			telemetry.NewSpanOps(span).Error(err, "", "")
			panic(r)
		}
	}()
	c.Next()
}

// finalize stamps span attributes and emits the access-log line.
func finalize(
	c *gin.Context,
	span trace.Span,
	start time.Time,
	logger *slog.Logger,
	cfg AccessLogConfig,
	requestBody []byte,
	responseBody *bytes.Buffer,
	capture bool,
) {
	durationMS := math.Round(float64(time.Since(start))/float64(time.Millisecond)*1000) / 1000
	status := c.Writer.Status()

	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, "")
	} else {
		span.SetStatus(codes.Ok, "")
	}

	ops := telemetry.NewSpanOps(span)
	ops.Attrs(map[string]any{
		"http.method":             c.Request.Method,
		"http.target":             c.Request.URL.Path,
		"http.status_code":        status,
		"http.server_duration_ms": durationMS,
	})

	fields := map[string]any{
		"http_method": c.Request.Method,
		"http_path":   c.Request.URL.Path,
		"http_status": status,
		"duration_ms": durationMS,
		"user_agent":  c.Request.UserAgent(),
	}

	if capture {
		attachPreview(ops, fields, "http_request_body", requestBody, cfg)
		if responseBody != nil {
			attachPreview(ops, fields, "http_response_body", responseBody.Bytes(), cfg)
		}
	}

	logging.LogJSON(c.Request.Context(), logger, "http.request", "incoming request handled",
		logging.PayloadOptions{
			ApplicationName: cfg.ApplicationName,
			Fields:          fields,
		})
}

// attachPreview computes a body preview and attaches size/preview/truncated
// to both the span and the log fields, only when non-empty/true.
func attachPreview(ops *telemetry.SpanOps, fields map[string]any, prefix string, body []byte, cfg AccessLogConfig) {
	preview, truncated, size := logging.BuildBodyPreview(body, cfg.previewMaxBytes(), cfg.BodyPreviewRedactKeys)
	attrs := map[string]any{}
	if size > 0 {
		fields[prefix+"_size"] = size
		attrs[prefix+"_size"] = size
	}
	if preview != "" {
		fields[prefix+"_preview"] = preview
		attrs[prefix+"_preview"] = preview
	}
	if truncated {
		fields[prefix+"_preview_truncated"] = true
		attrs[prefix+"_preview_truncated"] = true
	}
	ops.Attrs(attrs)
}

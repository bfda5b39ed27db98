// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package langfuse

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/obslog-go/telemetry"
)

// Default header names for trace and session identity.
const (
	DefaultTraceHeader   = "X-Trace-Id"
	DefaultSessionHeader = "X-Session-Id"
)

// MiddlewareConfig controls the secondary tracing middleware.
type MiddlewareConfig struct {
	// TraceHeader carries the externally supplied trace id. Empty uses
	// DefaultTraceHeader.
	TraceHeader string

	// SessionHeader carries the session id. Empty uses
	// DefaultSessionHeader.
	SessionHeader string

	// Settings overrides the environment-loaded settings when non-nil.
	Settings *Settings
}

func (cfg MiddlewareConfig) traceHeader() string {
	if cfg.TraceHeader == "" {
		return DefaultTraceHeader
	}
	return cfg.TraceHeader
}

func (cfg MiddlewareConfig) sessionHeader() string {
	if cfg.SessionHeader == "" {
		return DefaultSessionHeader
	}
	return cfg.SessionHeader
}

func (cfg MiddlewareConfig) settings() Settings {
	if cfg.Settings != nil {
		return *cfg.Settings
	}
	return DefaultSettings()
}

// isWriteMethod reports whether the request method may carry an identity
// payload in its body.
func isWriteMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// TraceMiddleware returns middleware that opens a secondary-backend span per
// request, keyed by the resolved trace identity.
//
// Description:
//
//	The common path is disabled: with no configured backend the middleware
//	passes the request through at the cost of one registry lookup. When a
//	backend is available it resolves trace identity (header, then the
//	primary tracer's current trace id) and session identity (header, then
//	JSON body fallback re-validated through the same rule), drains and
//	replays the body on POST/PUT/PATCH, and opens a backend span named
//	"METHOD /path" with method/path/session metadata plus any rejected raw
//	identity values. The downstream handler runs with the primary tracer's
//	ambient span restored, so the backend's context handling can never
//	reparent primary spans. Requests without any resolvable trace identity
//	pass through untraced.
//
//	Backend calls (attribute update, error marking, flush) are
//	best-effort: failures are logged at warning level and never fail the
//	request. A handler panic is marked on the backend span and re-panicked
//	unchanged. When FlushAtRequestEnd is set the backend is flushed before
//	returning, on every path that reached the backend.
//
// Inputs:
//
//	reg - Client registry. Must not be nil.
//	cfg - Middleware configuration. The zero value is usable.
//
// Outputs:
//
//	gin.HandlerFunc - The middleware.
//
// Thread Safety: Safe for concurrent use.
func TraceMiddleware(reg *Registry, cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		settings := cfg.settings()
		client, ok := reg.Get(settings)
		if !ok {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		parentSpan := trace.SpanFromContext(ctx)

		if bool(settings.FlushAtRequestEnd) {
			defer func() {
				if err := client.Flush(ctx); err != nil {
					slog.Warn("langfuse flush failed", "error", err)
				}
			}()
		}

		traceID, upstreamRaw := ResolveTraceID(
			c.GetHeader(cfg.traceHeader()),
			telemetry.TraceID(ctx),
		)
		sessionID, upstreamSessionRaw := ResolveSessionID(c.GetHeader(cfg.sessionHeader()))

		var userID string
		if isWriteMethod(c.Request.Method) {
			body := replayableBody(c)
			bodyUserID, bodySessionID := ExtractTraceAttrsFromBody(body, c.GetHeader("Content-Type"))
			userID = bodyUserID
			if sessionID == "" && bodySessionID != "" {
				sessionID, upstreamSessionRaw = ResolveSessionID(bodySessionID)
			}
		}

		if traceID == "" {
			// Nothing to anchor a backend span to.
			c.Next()
			return
		}

		metadata := map[string]any{
			"http.method": c.Request.Method,
			"http.path":   c.Request.URL.Path,
		}
		if upstreamRaw != "" {
			metadata["upstream_trace_id_raw"] = upstreamRaw
		}
		if sessionID != "" {
			metadata["session_id"] = sessionID
		}
		if upstreamSessionRaw != "" {
			metadata["upstream_session_id_raw"] = upstreamSessionRaw
		}

		spanCtx, span := client.StartSpan(ctx, SpanOptions{
			Name:     c.Request.Method + " " + c.Request.URL.Path,
			TraceID:  traceID,
			Metadata: metadata,
		})
		defer span.End()

		attrs := TraceAttributes{UserID: userID, SessionID: sessionID}
		if !attrs.Empty() {
			if err := client.UpdateCurrentTrace(spanCtx, attrs); err != nil {
				slog.Warn("langfuse trace attribute update failed", "error", err)
			}
		}

		c.Request = c.Request.WithContext(PreserveParentSpan(spanCtx, parentSpan))
		runTraced(c, span)
	}
}

// runTraced invokes the rest of the chain, marking a panic on the backend
// span before re-panicking. The original panic always propagates unchanged.
func runTraced(c *gin.Context, span Span) {
	defer func() {
		if r := recover(); r != nil {
			span.Error(fmt.Sprint(r), map[string]any{
				"exception.type": fmt.Sprintf("%T", r),
			})
			panic(r)
		}
	}()
	c.Next()
}

// replayableBody drains the request body once and installs a buffered copy
// so downstream handlers can read it again. Returns nil when there is no
// body or the read fails.
func replayableBody(c *gin.Context) []byte {
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

// AddTracing installs the secondary tracing middleware when the backend is
// configured.
//
// Description:
//
//	One-liner for business apps. Resolves settings (explicit or from the
//	environment); when tracing is not configured the router is left
//	untouched and false is returned, making the disabled case byte-
//	identical to the no-middleware case.
//
// Inputs:
//
//	router - Target Gin engine. Must not be nil.
//	reg - Client registry. Must not be nil.
//	cfg - Middleware configuration.
//
// Outputs:
//
//	bool - True when the middleware was installed.
//
// Thread Safety: Call once during router setup.
func AddTracing(router *gin.Engine, reg *Registry, cfg MiddlewareConfig) bool {
	settings := cfg.settings()
	if !settings.ConfiguredForTracing() {
		return false
	}
	pinned := settings
	cfg.Settings = &pinned
	router.Use(TraceMiddleware(reg, cfg))
	return true
}

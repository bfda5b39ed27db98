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
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/obslog-go/telemetry"
)

// ObservabilityConfig wires the full middleware stack onto a router.
type ObservabilityConfig struct {
	// ServiceName names the otelgin server spans.
	ServiceName string

	// AccessLog configures the access-log middleware.
	AccessLog AccessLogConfig

	// Metrics enables the HTTP metrics middleware when non-nil.
	Metrics *telemetry.Metrics
}

// UseObservability installs the observability middleware stack on a router.
//
// Description:
//
//	One-liner for business services: otelgin opens the server span, the
//	optional metrics middleware records request counters, and
//	TraceAccessLog (running inside the otelgin span, so on its reuse path)
//	annotates the span and emits the access-log line.
//
// Inputs:
//
//	router - Target Gin engine. Must not be nil.
//	logger - Destination for access-log lines. Nil uses slog.Default().
//	cfg - Stack configuration.
//
// Example:
//
//	router := gin.New()
//	obsgin.UseObservability(router, logger, obsgin.ObservabilityConfig{
//	    ServiceName: "mail-api",
//	    AccessLog:   obsgin.AccessLogConfig{EnableBodyPreview: true},
//	})
//
// Thread Safety: Call once during router setup.
func UseObservability(router *gin.Engine, logger *slog.Logger, cfg ObservabilityConfig) {
	router.Use(otelgin.Middleware(cfg.ServiceName))
	if cfg.Metrics != nil {
		router.Use(MetricsMiddleware(cfg.Metrics))
	}
	router.Use(TraceAccessLog(logger, cfg.AccessLog))
}

// MetricsMiddleware returns middleware that records request count, duration,
// and active-request gauge with method/path/status labels.
//
// Inputs:
//
//	m - Pre-configured Metrics instance. Nil disables recording.
//
// Outputs:
//
//	gin.HandlerFunc - The middleware.
//
// Thread Safety: Safe for concurrent use.
func MetricsMiddleware(m *telemetry.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		start := time.Now()

		m.HTTPActiveRequests.Add(ctx, 1)
		defer m.HTTPActiveRequests.Add(ctx, -1)

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		attrs := metric.WithAttributes(
			attribute.String("method", c.Request.Method),
			attribute.String("path", path),
			attribute.Int("status", c.Writer.Status()),
		)
		m.HTTPRequestsTotal.Add(ctx, 1, attrs)
		m.HTTPRequestDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
}

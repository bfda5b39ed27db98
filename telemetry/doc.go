// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry initializes the primary OpenTelemetry tracing backend
// and provides span helpers shared by the HTTP middlewares and the LLM-call
// instrumentation.
//
// # Philosophy
//
// Be opinionated about the API, flexible about the backend. OpenTelemetry IS
// the abstraction layer: spans are created and annotated through OTel APIs
// directly, and users swap backends by changing the OTLP endpoint, not code.
//
// # Trace Backend
//
// Traces export over OTLP/gRPC. The endpoint scheme selects transport
// security: "http://" strips to an insecure connection, "https://" strips to
// a TLS connection, and a bare host:port is treated as insecure.
//
// # Metrics Backend (optional)
//
// When enabled, metrics are exposed for Prometheus scraping via
// MetricsHandler(). Metrics are off by default; this module's primary job is
// tracing and logging.
//
// # Usage
//
//	shutdown, err := telemetry.Init(ctx, telemetry.DefaultConfig())
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer shutdown(context.Background())
//
// # Environment Variables
//
//   - OTEL_SERVICE_NAME: service name stamped on every span
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint, scheme selects TLS
//   - OTEL_METRICS_EXPORTER: "prometheus" or "none" (default: none)
//
// # Thread Safety
//
// Init is idempotent and safe to call from multiple goroutines; the first
// call wins. All other functions are safe for concurrent use.
package telemetry

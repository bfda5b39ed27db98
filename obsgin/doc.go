// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package obsgin binds the tracing and access-log layer to Gin.
//
// # Request Flow
//
//	Request
//	   │
//	   ▼
//	otelgin.Middleware (optional, host-owned)
//	   │
//	   ▼
//	TraceAccessLog ──► reuse ambient server span, or open one
//	   │                 │
//	   ▼                 └─► finalize: status, attrs, previews, one log line
//	Handler
//
// When the host application already runs otelgin (or any auto
// instrumentation that opens a server span), TraceAccessLog detects the
// active recording span and does not open a second one; it only annotates,
// stamps the trace-id response header, and logs. Without an ambient span it
// extracts the propagation context from the inbound headers and opens the
// server span itself.
//
// # Usage
//
//	router := gin.New()
//	obsgin.UseObservability(router, logger, obsgin.ObservabilityConfig{
//	    ServiceName: "mail-api",
//	})
package obsgin

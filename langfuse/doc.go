// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package langfuse bridges HTTP requests and LLM completion calls into a
// Langfuse-style LLM-observability backend, alongside (never instead of)
// the primary OpenTelemetry tracer.
//
// # Capability Handle
//
// The backend is an optional capability. Client is the consumed interface;
// Registry memoizes one client per distinct Settings value and returns
// (client, ok). When the backend is unconfigured or disabled every entry
// point degrades to a transparent passthrough. The request's success never
// depends on the observability backend's availability: backend failures are
// logged at warning level and swallowed, while handler and completion
// failures always propagate unchanged.
//
// # Identity Resolution
//
// Requests are anchored to a trace identity resolved from the inbound trace
// header (validated as 32 lowercase hex digits) with the primary tracer's
// current trace id as fallback, and to an optional session identity from a
// header or the JSON request body. Rejected values are preserved verbatim in
// span metadata as upstream raw diagnostics.
//
// # Usage
//
//	reg := langfuse.NewDefaultRegistry()
//	langfuse.AddTracing(router, reg, langfuse.MiddlewareConfig{})
//
//	resp, err := langfuse.InstrumentedCompletion(ctx, reg, settings,
//	    "chat", req, client.CreateChatCompletion)
package langfuse

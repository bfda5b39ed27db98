// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging builds the JSON access-log payloads emitted by the HTTP
// middlewares and the redacted body previews attached to spans and log lines.
//
// # Log Payloads
//
// Every log line is a single JSON object with a fixed envelope
// (application_name, method_name, detail, time, level) plus trace_id and
// span_id when the context carries a valid span, plus caller fields. The
// line is emitted through slog so sink configuration stays with the host
// application.
//
// # Body Previews
//
// BuildBodyPreview produces a size-bounded, redacted rendering of a request
// or response payload. JSON object and array payloads are walked recursively
// and values under sensitive keys are masked before truncation. Non-JSON
// payloads pass through unredacted; redaction only understands JSON.
//
// # Usage
//
//	logging.LogJSON(ctx, logger, "http.request", "incoming request handled",
//	    logging.PayloadOptions{Fields: map[string]any{"http_status": 200}})
package logging

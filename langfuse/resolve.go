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
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// traceIDPattern matches a 128-bit trace id rendered as lowercase hex.
var traceIDPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// maxSessionIDLength bounds accepted session identifiers.
const maxSessionIDLength = 200

// ResolveTraceID reconciles a header-supplied trace id with the primary
// tracer's ambient trace id.
//
// Description:
//
//	A valid header value (32 hex digits, case-insensitive) wins and is
//	returned lower-cased. An invalid non-empty header value is preserved
//	as upstreamRaw for diagnostics and the ambient id (if any) is used
//	instead. An empty header falls back to the ambient id. The resolved
//	id, when present, is always lowercase hex-32.
//
// Inputs:
//
//	headerValue - Inbound trace header value. May be empty.
//	ambientTraceID - Current primary-tracer trace id. May be empty.
//
// Outputs:
//
//	traceID - Resolved trace id, or empty when none is available.
//	upstreamRaw - Rejected header value, trimmed, or empty.
//
// Thread Safety: Pure function.
func ResolveTraceID(headerValue, ambientTraceID string) (traceID, upstreamRaw string) {
	raw := strings.TrimSpace(headerValue)
	if raw != "" {
		candidate := strings.ToLower(raw)
		if traceIDPattern.MatchString(candidate) {
			return candidate, ""
		}
		return strings.ToLower(strings.TrimSpace(ambientTraceID)), raw
	}
	if ambientTraceID == "" {
		return "", ""
	}
	return strings.ToLower(strings.TrimSpace(ambientTraceID)), ""
}

// ResolveSessionID validates a header-supplied session identifier.
//
// Description:
//
//	Accepted session ids are trimmed, ASCII-only, and at most 200
//	characters. Anything else is rejected and preserved as upstreamRaw,
//	with the resolved session treated as absent.
//
// Thread Safety: Pure function.
func ResolveSessionID(headerValue string) (sessionID, upstreamRaw string) {
	raw := strings.TrimSpace(headerValue)
	if raw == "" {
		return "", ""
	}
	if len(raw) <= maxSessionIDLength && isASCII(raw) {
		return raw, ""
	}
	return "", raw
}

// ExtractTraceAttrsFromBody pulls user and session identity from a JSON
// request body.
//
// Description:
//
//	Requires the content type to contain "application/json". The body must
//	decode to a JSON object; anything else yields empty results. user_id
//	comes from the "user_id" field; the session id from "session_id",
//	falling back to "sessionId". Numeric and boolean values are
//	stringified. Never fails on malformed input.
//
// Thread Safety: Pure function.
func ExtractTraceAttrsFromBody(body []byte, contentType string) (userID, sessionID string) {
	if len(body) == 0 {
		return "", ""
	}
	if !strings.Contains(strings.ToLower(contentType), "application/json") {
		return "", ""
	}

	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	var payload map[string]any
	if err := decoder.Decode(&payload); err != nil {
		return "", ""
	}
	// A body with content after the first JSON value is not JSON.
	if err := decoder.Decode(new(any)); err != io.EOF {
		return "", ""
	}

	userID = stringifyField(payload["user_id"])
	sessionID = stringifyField(payload["session_id"])
	if sessionID == "" {
		sessionID = stringifyField(payload["sessionId"])
	}
	return userID, sessionID
}

// stringifyField renders a decoded JSON value the way the log payloads
// expect: strings pass through, numbers and bools are stringified, anything
// else (including null) is treated as absent unless it has a value.
func stringifyField(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}

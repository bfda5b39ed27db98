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

// DefaultTraceUUID is the fixed sentinel forwarded in X-UUID so downstream
// services can recognize traffic originating from instrumented callers.
const DefaultTraceUUID = "123e4567-e89b-12d3-a456-426614174000"

// BuildTraceHeaders builds the identity headers forwarded to downstream
// services.
//
// Description:
//
//	Produces X-User-ID (with the X-UUID sentinel when requested) and
//	X-Session-ID for whichever identities are present. Empty identities
//	yield no headers.
//
// Inputs:
//
//	userID - User identity. Empty is omitted.
//	sessionID - Session identity. Empty is omitted.
//	includeUUID - Whether to attach the X-UUID sentinel alongside the user id.
//
// Outputs:
//
//	map[string]string - Headers to merge into the outbound request.
//
// Thread Safety: Pure function.
func BuildTraceHeaders(userID, sessionID string, includeUUID bool) map[string]string {
	headers := map[string]string{}
	if userID != "" {
		headers["X-User-ID"] = userID
		if includeUUID {
			headers["X-UUID"] = DefaultTraceUUID
		}
	}
	if sessionID != "" {
		headers["X-Session-ID"] = sessionID
	}
	return headers
}

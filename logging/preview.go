// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
)

// DefaultRedactKeys lists the key fragments whose values are masked in body
// previews. Matching is case-insensitive and includes substring matches, so
// "x-api-key" and "Authorization" are both caught.
var DefaultRedactKeys = []string{
	"authorization",
	"cookie",
	"set-cookie",
	"password",
	"passwd",
	"secret",
	"token",
	"access_token",
	"refresh_token",
	"api_token",
	"api_key",
}

// redactMask replaces redacted values in sanitized payloads.
const redactMask = "***"

// BuildBodyPreview returns a redacted, size-bounded textual preview of a
// payload.
//
// Description:
//
//	JSON payloads are sanitized (sensitive keys masked) and re-serialized
//	before truncation; non-JSON payloads pass through byte-for-byte. The
//	sanitized form is truncated to max(maxBytes, 1) bytes and decoded
//	tolerating invalid UTF-8. The returned size is always the length of the
//	original payload, independent of sanitization and truncation.
//
// Inputs:
//
//	body - Raw payload bytes. May be nil or empty.
//	maxBytes - Preview byte budget. Values below 1 are treated as 1.
//	redactKeys - Key fragments to mask. Nil or empty uses DefaultRedactKeys.
//
// Outputs:
//
//	preview - Sanitized, truncated preview text. Empty for empty input.
//	truncated - True when the sanitized form exceeded the budget.
//	size - Length of the original payload in bytes.
//
// Thread Safety: Safe for concurrent use.
func BuildBodyPreview(body []byte, maxBytes int, redactKeys []string) (preview string, truncated bool, size int) {
	if len(body) == 0 {
		return "", false, 0
	}

	size = len(body)
	sanitized := sanitizeBody(body, redactKeys)

	limit := maxBytes
	if limit < 1 {
		limit = 1
	}
	truncated = len(sanitized) > limit
	if truncated {
		sanitized = sanitized[:limit]
	}
	return strings.ToValidUTF8(string(sanitized), "�"), truncated, size
}

// sanitizeBody masks sensitive keys in a JSON payload. Payloads that do not
// parse as JSON are returned unmodified; redaction only understands JSON.
func sanitizeBody(raw []byte, redactKeys []string) []byte {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return raw
	}
	// A payload with content after the first JSON value is not JSON.
	if err := decoder.Decode(new(any)); err != io.EOF {
		return raw
	}

	sanitizeValue(value, normalizeRedactKeys(redactKeys))

	sanitized, err := json.Marshal(value)
	if err != nil {
		return raw
	}
	return sanitized
}

// sanitizeValue walks a decoded JSON value in place. Object values under
// matching keys are replaced with the mask; array elements are recursed
// into, never masked by position.
func sanitizeValue(value any, redactKeys []string) {
	switch v := value.(type) {
	case map[string]any:
		for key := range v {
			normalized := strings.TrimSpace(strings.ToLower(key))
			if shouldRedact(normalized, redactKeys) {
				v[key] = redactMask
				continue
			}
			sanitizeValue(v[key], redactKeys)
		}
	case []any:
		for _, item := range v {
			sanitizeValue(item, redactKeys)
		}
	}
}

// normalizeRedactKeys lower-cases and trims the configured keys, dropping
// empties. Falls back to DefaultRedactKeys when nothing usable remains.
func normalizeRedactKeys(redactKeys []string) []string {
	if len(redactKeys) == 0 {
		redactKeys = DefaultRedactKeys
	}
	normalized := make([]string, 0, len(redactKeys))
	for _, key := range redactKeys {
		key = strings.TrimSpace(strings.ToLower(key))
		if key != "" {
			normalized = append(normalized, key)
		}
	}
	if len(normalized) == 0 {
		return DefaultRedactKeys
	}
	return normalized
}

func shouldRedact(key string, redactKeys []string) bool {
	if key == "" {
		return false
	}
	for _, candidate := range redactKeys {
		if strings.Contains(key, candidate) {
			return true
		}
	}
	return false
}

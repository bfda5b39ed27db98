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
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// PayloadOptions customizes a structured log payload.
type PayloadOptions struct {
	// Level is the log severity: "debug", "info", "warn"/"warning", or
	// "error". Empty means "info".
	Level string

	// ApplicationName overrides the application_name field. Empty falls
	// back to the OTEL_SERVICE_NAME environment variable.
	ApplicationName string

	// Fields are merged into the payload after the fixed envelope and
	// trace correlation fields.
	Fields map[string]any
}

// BuildPayload assembles the JSON log payload for one event.
//
// Description:
//
//	Produces the fixed envelope (application_name, method_name, detail,
//	time, level) plus trace_id/span_id when the context carries a valid
//	span, then merges the caller's fields on top.
//
// Inputs:
//
//	ctx - Context used for trace correlation. Must not be nil.
//	methodName - Logical event name, e.g. "http.request".
//	detail - Human-readable description of the event.
//	opts - Optional level, application name, and extra fields.
//
// Outputs:
//
//	map[string]any - The payload, ready for serialization.
//
// Thread Safety: Safe for concurrent use.
func BuildPayload(ctx context.Context, methodName, detail string, opts PayloadOptions) map[string]any {
	level := opts.Level
	if level == "" {
		level = "info"
	}
	applicationName := opts.ApplicationName
	if applicationName == "" {
		applicationName = os.Getenv("OTEL_SERVICE_NAME")
	}

	payload := map[string]any{
		"application_name": applicationName,
		"method_name":      methodName,
		"detail":           detail,
		"time":             time.Now().UTC().Format(time.RFC3339Nano),
		"level":            level,
	}
	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
		payload["trace_id"] = spanCtx.TraceID().String()
		payload["span_id"] = spanCtx.SpanID().String()
	}
	for key, value := range opts.Fields {
		payload[key] = value
	}
	return payload
}

// LogJSON emits exactly one serialized log line for an event.
//
// Description:
//
//	Builds the payload via BuildPayload, serializes it as a single JSON
//	line, and emits it through the given logger at the mapped severity.
//	Serialization failures degrade to an unstructured warning; logging
//	never fails the caller.
//
// Inputs:
//
//	ctx - Context used for trace correlation. Must not be nil.
//	logger - Destination logger. Nil uses slog.Default().
//	methodName - Logical event name, e.g. "http.request".
//	detail - Human-readable description of the event.
//	opts - Optional level, application name, and extra fields.
//
// Thread Safety: Safe for concurrent use.
func LogJSON(ctx context.Context, logger *slog.Logger, methodName, detail string, opts PayloadOptions) {
	if logger == nil {
		logger = slog.Default()
	}

	payload := BuildPayload(ctx, methodName, detail, opts)
	encoded, err := json.Marshal(payload)
	if err != nil {
		logger.Warn("log payload serialization failed", "method_name", methodName, "error", err)
		return
	}
	line := string(encoded)

	switch strings.ToLower(opts.Level) {
	case "error":
		logger.Error(line)
	case "warn", "warning":
		logger.Warn(line)
	case "debug":
		logger.Debug(line)
	default:
		logger.Info(line)
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"fmt"
	"math"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys shared across middlewares and instrumentation.
const (
	AttrDurationMS           = "duration_ms"
	AttrErrorCode            = "error_code"
	AttrErrorMessage         = "error_message"
	AttrDependencyType       = "dependency.type"
	AttrDependencyName       = "dependency.name"
	AttrDependencyWebsite    = "dependency.website"
	AttrDependencyDurationMS = "dependency.duration_ms"
)

// SetSpanAttrs bulk-assigns attributes on a span, skipping nil values.
//
// Description:
//
//	Maps plain Go values to OTel attributes: strings, bools, ints, and
//	floats map directly; everything else is stringified. Nil values and a
//	nil span are silently skipped so callers can build attribute maps
//	without nil checks.
//
// Inputs:
//
//	span - Target span. May be nil.
//	attrs - Attribute map. Nil values are skipped.
//
// Thread Safety: Safe for concurrent use.
func SetSpanAttrs(span trace.Span, attrs map[string]any) {
	if span == nil {
		return
	}
	for key, value := range attrs {
		if value == nil {
			continue
		}
		span.SetAttributes(toAttribute(key, value))
	}
}

// toAttribute converts a plain Go value to an OTel attribute.
func toAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case float32:
		return attribute.Float64(key, float64(v))
	case []string:
		return attribute.StringSlice(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}

// SetDependencyHTTPAttrs stamps outbound-dependency attributes on a span.
//
// Inputs:
//
//	span - Target span. May be nil.
//	name - Dependency name, e.g. "openai".
//	website - Dependency endpoint. Empty is omitted.
//	durationMS - Call duration in milliseconds. Negative is omitted.
//
// Thread Safety: Safe for concurrent use.
func SetDependencyHTTPAttrs(span trace.Span, name, website string, durationMS float64) {
	payload := map[string]any{
		AttrDependencyType: "http",
		AttrDependencyName: name,
	}
	if website != "" {
		payload[AttrDependencyWebsite] = website
	}
	if durationMS >= 0 {
		payload[AttrDependencyDurationMS] = roundMS(durationMS)
	}
	SetSpanAttrs(span, payload)
}

// SpanOps is a fluent façade over one span handle. All operations side-effect
// the wrapped span and return the façade for chaining; none allocate a span.
//
// Example:
//
//	telemetry.NewSpanOps(span).
//	    Attrs(map[string]any{"http.status_code": 200}).
//	    DurationMS(elapsedMS).
//	    OK()
type SpanOps struct {
	span trace.Span
}

// NewSpanOps wraps a span handle. The span may be nil; operations on a nil
// span are no-ops.
func NewSpanOps(span trace.Span) *SpanOps {
	return &SpanOps{span: span}
}

// Attrs bulk-assigns attributes, skipping nil values.
func (o *SpanOps) Attrs(attrs map[string]any) *SpanOps {
	SetSpanAttrs(o.span, attrs)
	return o
}

// DurationMS records the duration_ms attribute rounded to 3 decimal places.
func (o *SpanOps) DurationMS(value float64) *SpanOps {
	if o.span != nil {
		o.span.SetAttributes(attribute.Float64(AttrDurationMS, roundMS(value)))
	}
	return o
}

// OK sets the span status to Ok.
func (o *SpanOps) OK() *SpanOps {
	if o.span != nil {
		o.span.SetStatus(codes.Ok, "")
	}
	return o
}

// Error records err on the span, sets error status, and optionally attaches
// error_code/error_message attributes. When errorMessage is empty the
// error's own message is used.
func (o *SpanOps) Error(err error, errorCode, errorMessage string) *SpanOps {
	if o.span == nil {
		return o
	}

	statusMessage := errorMessage
	if err != nil {
		o.span.RecordError(err)
		statusMessage = err.Error()
	}
	o.span.SetStatus(codes.Error, statusMessage)

	payload := map[string]any{}
	if errorCode != "" {
		payload[AttrErrorCode] = errorCode
	}
	resolved := errorMessage
	if resolved == "" {
		resolved = statusMessage
	}
	if resolved != "" {
		payload[AttrErrorMessage] = resolved
	}
	SetSpanAttrs(o.span, payload)
	return o
}

// roundMS rounds a millisecond value to 3 decimal places.
func roundMS(value float64) float64 {
	return math.Round(value*1000) / 1000
}

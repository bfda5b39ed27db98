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
	"context"
	"net/http"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInjectExtract_RoundTrip(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	headers := http.Header{}
	InjectContext(ctx, headers)
	if headers.Get("traceparent") == "" {
		t.Fatal("traceparent header not injected")
	}

	extracted := ExtractContext(context.Background(), headers)
	if got := TraceID(extracted); got != span.SpanContext().TraceID().String() {
		t.Errorf("extracted trace ID = %q, want %q", got, span.SpanContext().TraceID().String())
	}
}

func TestExtractContext_NoHeaders(t *testing.T) {
	extracted := ExtractContext(context.Background(), http.Header{})
	if TraceID(extracted) != "" {
		t.Error("bare headers should yield no trace ID")
	}
}

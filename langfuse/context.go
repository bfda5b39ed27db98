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
	"context"

	"go.opentelemetry.io/otel/trace"
)

// PreserveParentSpan rebinds the primary tracer's ambient span on a context.
//
// Description:
//
//	Backend implementations may attach their own OTel spans to the context
//	they return, which would silently reparent every downstream primary
//	span under the secondary backend. Threading the result of this
//	function into the downstream call keeps the primary tracer's context
//	exactly as it was before the backend span was opened.
//
// Inputs:
//
//	ctx - Context returned by the backend (trace binding intact).
//	span - The primary-tracer span captured before the backend call.
//
// Outputs:
//
//	context.Context - ctx with span restored as the ambient span.
//
// Thread Safety: Safe for concurrent use.
func PreserveParentSpan(ctx context.Context, span trace.Span) context.Context {
	return trace.ContextWithSpan(ctx, span)
}

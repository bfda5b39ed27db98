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

import "errors"

var (
	// ErrNilCompletion indicates a nil completion function was passed to
	// InstrumentedCompletion.
	ErrNilCompletion = errors.New("completion function must not be nil")

	// ErrNoActiveTrace indicates UpdateCurrentTrace was called on a
	// context without a bound trace.
	ErrNoActiveTrace = errors.New("no active langfuse trace in context")

	// ErrIngestionRejected indicates the ingestion API returned a
	// non-success status.
	ErrIngestionRejected = errors.New("langfuse ingestion rejected")
)

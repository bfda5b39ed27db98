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
	"log/slog"
	"sync"
)

// Client is the consumed secondary-backend capability. Implementations must
// be safe for concurrent use and must never panic: every method is invoked
// best-effort on the request path.
type Client interface {
	// StartSpan opens a backend span bound to an explicit trace identity.
	// The returned context carries the trace binding for nested
	// observations and UpdateCurrentTrace.
	StartSpan(ctx context.Context, opts SpanOptions) (context.Context, Span)

	// StartGeneration opens a "generation" observation for an LLM call.
	StartGeneration(ctx context.Context, opts GenerationOptions) (context.Context, Generation)

	// UpdateCurrentTrace sets user/session attributes on the trace bound
	// to the context. Returns an error when no trace is bound; callers
	// log and continue.
	UpdateCurrentTrace(ctx context.Context, attrs TraceAttributes) error

	// Flush synchronously exports buffered events.
	Flush(ctx context.Context) error
}

// Span is an open secondary-backend span. End must be called exactly once;
// Error may be called at most once before End.
type Span interface {
	// Error marks the span as failed with a status message and optional
	// extra metadata.
	Error(statusMessage string, metadata map[string]any)

	// End closes the span.
	End()
}

// Generation is an open "generation" observation.
type Generation interface {
	// Update records the model output and token usage.
	Update(update GenerationUpdate)

	// Error marks the observation as failed.
	Error(statusMessage string)

	// End closes the observation.
	End()
}

// SpanOptions configures a backend span.
type SpanOptions struct {
	// Name is the span name, e.g. "POST /v1/chat".
	Name string

	// TraceID anchors the span to a trace, 32 lowercase hex digits.
	TraceID string

	// Metadata is attached verbatim to the span.
	Metadata map[string]any
}

// GenerationOptions configures a generation observation.
type GenerationOptions struct {
	Name            string
	Model           string
	Input           any
	ModelParameters map[string]any
	Metadata        map[string]any
}

// GenerationUpdate carries the post-call result of a generation.
type GenerationUpdate struct {
	// Output is the extracted model output.
	Output any

	// Usage is the token usage, when the response reported any.
	Usage *Usage
}

// Usage holds token counts; each field is independently optional.
type Usage struct {
	PromptTokens     *int
	CompletionTokens *int
	TotalTokens      *int
}

// TraceAttributes are the user/session attributes stamped on a trace.
type TraceAttributes struct {
	UserID    string
	SessionID string
}

// Empty reports whether there is nothing to stamp.
func (a TraceAttributes) Empty() bool {
	return a.UserID == "" && a.SessionID == ""
}

// Factory constructs a backend client from explicit credentials. Called at
// most once per distinct Settings value.
type Factory func(Settings) (Client, error)

// Registry memoizes backend clients keyed by Settings value, replacing the
// process-wide lazy singleton with an explicit handle owned by application
// start-up.
//
// A nil factory models "SDK unavailable": Get always reports disabled.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	factory Factory
	clients map[Settings]Client
}

// NewRegistry creates a registry around a client factory.
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		factory: factory,
		clients: make(map[Settings]Client),
	}
}

// NewDefaultRegistry creates a registry backed by the bundled ingestion-API
// client.
func NewDefaultRegistry() *Registry {
	return NewRegistry(IngestionFactory)
}

// Get returns the client for a settings value.
//
// Description:
//
//	Lazily constructs the client on first use and memoizes it; distinct
//	settings values get distinct clients. Reports ok=false when the
//	settings are not configured for tracing, the factory is absent, or
//	construction failed (failures are memoized so the request path pays
//	one construction attempt, not one per request).
//
// Thread Safety: Safe for concurrent use; construction is serialized.
func (r *Registry) Get(settings Settings) (Client, bool) {
	if !settings.ConfiguredForTracing() {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if client, seen := r.clients[settings]; seen {
		return client, client != nil
	}
	if r.factory == nil {
		r.clients[settings] = nil
		return nil, false
	}

	client, err := r.factory(settings)
	if err != nil {
		slog.Warn("langfuse client construction failed, tracing disabled for these settings", "error", err)
		r.clients[settings] = nil
		return nil, false
	}
	r.clients[settings] = client
	return client, true
}

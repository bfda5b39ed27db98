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
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// ingestionPath is the Langfuse public batch-ingestion endpoint.
const ingestionPath = "/api/public/ingestion"

// ingestionTimeout bounds one flush round-trip.
const ingestionTimeout = 10 * time.Second

// traceIDContextKey binds the active backend trace id to a context.
type traceIDContextKey struct{}

// ingestionEvent is one entry in an ingestion batch.
type ingestionEvent struct {
	ID        string         `json:"id"`
	Timestamp string         `json:"timestamp"`
	Type      string         `json:"type"`
	Body      map[string]any `json:"body"`
}

// IngestionClient implements Client against the Langfuse public ingestion
// HTTP API. Events are buffered in memory and exported synchronously by
// Flush; nothing is sent on the request path itself.
//
// Thread Safety: Safe for concurrent use.
type IngestionClient struct {
	http *resty.Client

	mu     sync.Mutex
	events []ingestionEvent
}

// NewIngestionClient constructs an ingestion client from explicit
// credentials. The registry only calls this with settings that are
// configured for tracing.
func NewIngestionClient(settings Settings) (*IngestionClient, error) {
	if settings.Host == "" || settings.PublicKey == "" || settings.SecretKey == "" {
		return nil, fmt.Errorf("langfuse ingestion client: incomplete credentials")
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(settings.Host, "/")).
		SetBasicAuth(settings.PublicKey, settings.SecretKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(ingestionTimeout)
	return &IngestionClient{http: httpClient}, nil
}

// IngestionFactory adapts NewIngestionClient to the registry Factory type.
func IngestionFactory(settings Settings) (Client, error) {
	return NewIngestionClient(settings)
}

// StartSpan opens a backend span bound to an explicit trace identity. The
// trace itself is upserted so the backend shows it even before any
// observation completes.
func (c *IngestionClient) StartSpan(ctx context.Context, opts SpanOptions) (context.Context, Span) {
	now := time.Now().UTC()
	c.enqueue("trace-create", map[string]any{
		"id":        opts.TraceID,
		"name":      opts.Name,
		"timestamp": now.Format(time.RFC3339Nano),
		"metadata":  opts.Metadata,
	})

	span := &ingestionSpan{
		client:   c,
		id:       uuid.NewString(),
		traceID:  opts.TraceID,
		name:     opts.Name,
		start:    now,
		metadata: opts.Metadata,
	}
	return context.WithValue(ctx, traceIDContextKey{}, opts.TraceID), span
}

// StartGeneration opens a generation observation. Without a bound trace in
// the context a fresh trace id is minted so the observation is never lost.
func (c *IngestionClient) StartGeneration(ctx context.Context, opts GenerationOptions) (context.Context, Generation) {
	traceID, ok := ctx.Value(traceIDContextKey{}).(string)
	if !ok || traceID == "" {
		traceID = strings.ReplaceAll(uuid.NewString(), "-", "")
		ctx = context.WithValue(ctx, traceIDContextKey{}, traceID)
		c.enqueue("trace-create", map[string]any{
			"id":        traceID,
			"name":      opts.Name,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	}

	generation := &ingestionGeneration{
		client:          c,
		id:              uuid.NewString(),
		traceID:         traceID,
		name:            opts.Name,
		model:           opts.Model,
		input:           opts.Input,
		modelParameters: opts.ModelParameters,
		metadata:        opts.Metadata,
		start:           time.Now().UTC(),
	}
	return ctx, generation
}

// UpdateCurrentTrace stamps user/session attributes on the trace bound to
// the context.
func (c *IngestionClient) UpdateCurrentTrace(ctx context.Context, attrs TraceAttributes) error {
	traceID, ok := ctx.Value(traceIDContextKey{}).(string)
	if !ok || traceID == "" {
		return ErrNoActiveTrace
	}
	if attrs.Empty() {
		return nil
	}

	body := map[string]any{
		"id": traceID,
	}
	if attrs.UserID != "" {
		body["userId"] = attrs.UserID
	}
	if attrs.SessionID != "" {
		body["sessionId"] = attrs.SessionID
	}
	c.enqueue("trace-create", body)
	return nil
}

// Flush synchronously posts all buffered events as one ingestion batch.
// Failed batches are dropped, not retried; telemetry degrades, requests
// never do.
func (c *IngestionClient) Flush(ctx context.Context) error {
	c.mu.Lock()
	batch := c.events
	c.events = nil
	c.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"batch": batch}).
		Post(ingestionPath)
	if err != nil {
		return fmt.Errorf("post ingestion batch: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: status %d", ErrIngestionRejected, resp.StatusCode())
	}
	return nil
}

// enqueue buffers one event with a fresh id and timestamp.
func (c *IngestionClient) enqueue(eventType string, body map[string]any) {
	event := ingestionEvent{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Type:      eventType,
		Body:      body,
	}
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
}

// ingestionSpan is a Span pending export. The span-create event is emitted
// on End so start and end times travel together.
type ingestionSpan struct {
	client   *IngestionClient
	id       string
	traceID  string
	name     string
	start    time.Time
	metadata map[string]any

	mu            sync.Mutex
	level         string
	statusMessage string
	ended         bool
}

func (s *ingestionSpan) Error(statusMessage string, metadata map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level = "ERROR"
	s.statusMessage = statusMessage
	if len(metadata) > 0 {
		merged := make(map[string]any, len(s.metadata)+len(metadata))
		for k, v := range s.metadata {
			merged[k] = v
		}
		for k, v := range metadata {
			merged[k] = v
		}
		s.metadata = merged
	}
}

func (s *ingestionSpan) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	body := map[string]any{
		"id":        s.id,
		"traceId":   s.traceID,
		"name":      s.name,
		"startTime": s.start.Format(time.RFC3339Nano),
		"endTime":   time.Now().UTC().Format(time.RFC3339Nano),
	}
	if len(s.metadata) > 0 {
		body["metadata"] = s.metadata
	}
	if s.level != "" {
		body["level"] = s.level
	}
	if s.statusMessage != "" {
		body["statusMessage"] = s.statusMessage
	}
	s.mu.Unlock()

	s.client.enqueue("span-create", body)
}

// ingestionGeneration is a Generation pending export.
type ingestionGeneration struct {
	client          *IngestionClient
	id              string
	traceID         string
	name            string
	model           string
	input           any
	modelParameters map[string]any
	metadata        map[string]any
	start           time.Time

	mu            sync.Mutex
	output        any
	usage         *Usage
	level         string
	statusMessage string
	ended         bool
}

func (g *ingestionGeneration) Update(update GenerationUpdate) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if update.Output != nil {
		g.output = update.Output
	}
	if update.Usage != nil {
		g.usage = update.Usage
	}
}

func (g *ingestionGeneration) Error(statusMessage string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.level = "ERROR"
	g.statusMessage = statusMessage
}

func (g *ingestionGeneration) End() {
	g.mu.Lock()
	if g.ended {
		g.mu.Unlock()
		return
	}
	g.ended = true
	body := map[string]any{
		"id":        g.id,
		"traceId":   g.traceID,
		"name":      g.name,
		"startTime": g.start.Format(time.RFC3339Nano),
		"endTime":   time.Now().UTC().Format(time.RFC3339Nano),
	}
	if g.model != "" {
		body["model"] = g.model
	}
	if g.input != nil {
		body["input"] = g.input
	}
	if len(g.modelParameters) > 0 {
		body["modelParameters"] = g.modelParameters
	}
	if len(g.metadata) > 0 {
		body["metadata"] = g.metadata
	}
	if g.output != nil {
		body["output"] = g.output
	}
	if g.usage != nil {
		usage := map[string]any{}
		if g.usage.PromptTokens != nil {
			usage["promptTokens"] = *g.usage.PromptTokens
		}
		if g.usage.CompletionTokens != nil {
			usage["completionTokens"] = *g.usage.CompletionTokens
		}
		if g.usage.TotalTokens != nil {
			usage["totalTokens"] = *g.usage.TotalTokens
		}
		body["usage"] = usage
	}
	if g.level != "" {
		body["level"] = g.level
	}
	if g.statusMessage != "" {
		body["statusMessage"] = g.statusMessage
	}
	g.mu.Unlock()

	g.client.enqueue("generation-create", body)
}

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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ingestionCapture records every batch the fake backend receives. All reads
// go through the locked accessors so -race stays quiet.
type ingestionCapture struct {
	status int

	mu       sync.Mutex
	requests int
	batches  [][]map[string]any
	username string
	password string
	path     string
}

func (c *ingestionCapture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests
}

func (c *ingestionCapture) lastBatch(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.batches)
	return c.batches[len(c.batches)-1]
}

func (c *ingestionCapture) credentials() (username, password, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username, c.password, c.path
}

func newIngestionServer(t *testing.T, status int) (*httptest.Server, *ingestionCapture) {
	t.Helper()
	capture := &ingestionCapture{status: status}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Batch []map[string]any `json:"batch"`
		}
		err := json.NewDecoder(r.Body).Decode(&payload)

		capture.mu.Lock()
		capture.requests++
		capture.path = r.URL.Path
		capture.username, capture.password, _ = r.BasicAuth()
		if err == nil {
			capture.batches = append(capture.batches, payload.Batch)
		}
		capture.mu.Unlock()

		require.NoError(t, err)
		w.WriteHeader(capture.status)
	}))
	t.Cleanup(server.Close)
	return server, capture
}

func newTestIngestionClient(t *testing.T, host string) *IngestionClient {
	t.Helper()
	client, err := NewIngestionClient(Settings{
		Host:      host,
		PublicKey: "pk-test",
		SecretKey: "sk-test",
	})
	require.NoError(t, err)
	return client
}

func TestNewIngestionClient_IncompleteCredentials(t *testing.T) {
	for _, settings := range []Settings{
		{},
		{Host: "https://x"},
		{Host: "https://x", PublicKey: "pk"},
		{PublicKey: "pk", SecretKey: "sk"},
	} {
		_, err := NewIngestionClient(settings)
		assert.Error(t, err)
	}
}

func TestIngestionClient_SpanLifecycleFlush(t *testing.T) {
	server, capture := newIngestionServer(t, http.StatusMultiStatus)
	client := newTestIngestionClient(t, server.URL)

	ctx, span := client.StartSpan(context.Background(), SpanOptions{
		Name:     "POST /chat",
		TraceID:  validTraceID,
		Metadata: map[string]any{"http.method": "POST"},
	})
	require.NoError(t, client.UpdateCurrentTrace(ctx, TraceAttributes{UserID: "u1", SessionID: "s1"}))
	span.End()

	require.NoError(t, client.Flush(context.Background()))

	assert.Equal(t, 1, capture.count())
	username, password, path := capture.credentials()
	assert.Equal(t, "/api/public/ingestion", path)
	assert.Equal(t, "pk-test", username)
	assert.Equal(t, "sk-test", password)

	batch := capture.lastBatch(t)
	require.Len(t, batch, 3)

	// Trace upsert, attribute upsert, then the span itself.
	assert.Equal(t, "trace-create", batch[0]["type"])
	traceBody := batch[0]["body"].(map[string]any)
	assert.Equal(t, validTraceID, traceBody["id"])
	assert.Equal(t, "POST /chat", traceBody["name"])

	assert.Equal(t, "trace-create", batch[1]["type"])
	updateBody := batch[1]["body"].(map[string]any)
	assert.Equal(t, validTraceID, updateBody["id"])
	assert.Equal(t, "u1", updateBody["userId"])
	assert.Equal(t, "s1", updateBody["sessionId"])

	assert.Equal(t, "span-create", batch[2]["type"])
	spanBody := batch[2]["body"].(map[string]any)
	assert.Equal(t, validTraceID, spanBody["traceId"])
	assert.Equal(t, "POST /chat", spanBody["name"])
	assert.NotEmpty(t, spanBody["startTime"])
	assert.NotEmpty(t, spanBody["endTime"])
	assert.NotContains(t, spanBody, "level")

	for _, event := range batch {
		assert.NotEmpty(t, event["id"])
		assert.NotEmpty(t, event["timestamp"])
	}
}

func TestIngestionClient_SpanError(t *testing.T) {
	server, capture := newIngestionServer(t, http.StatusMultiStatus)
	client := newTestIngestionClient(t, server.URL)

	_, span := client.StartSpan(context.Background(), SpanOptions{Name: "GET /x", TraceID: validTraceID})
	span.Error("handler exploded", map[string]any{"exception.type": "string"})
	span.End()
	span.End() // double End must not emit a second event

	require.NoError(t, client.Flush(context.Background()))

	batch := capture.lastBatch(t)
	require.Len(t, batch, 2)

	spanBody := batch[1]["body"].(map[string]any)
	assert.Equal(t, "ERROR", spanBody["level"])
	assert.Equal(t, "handler exploded", spanBody["statusMessage"])
	metadata := spanBody["metadata"].(map[string]any)
	assert.Equal(t, "string", metadata["exception.type"])
}

func TestIngestionClient_GenerationWithBoundTrace(t *testing.T) {
	server, capture := newIngestionServer(t, http.StatusMultiStatus)
	client := newTestIngestionClient(t, server.URL)

	ctx, span := client.StartSpan(context.Background(), SpanOptions{Name: "POST /chat", TraceID: validTraceID})
	_, generation := client.StartGeneration(ctx, GenerationOptions{
		Name:            "chat-completion",
		Model:           "gpt-4o-mini",
		Input:           map[string]any{"messages": []string{"hi"}},
		ModelParameters: map[string]any{"temperature": 0.7},
	})
	prompt, completion, total := 12, 5, 17
	generation.Update(GenerationUpdate{
		Output: map[string]any{"content": "hello"},
		Usage:  &Usage{PromptTokens: &prompt, CompletionTokens: &completion, TotalTokens: &total},
	})
	generation.End()
	span.End()

	require.NoError(t, client.Flush(context.Background()))

	batch := capture.lastBatch(t)
	require.Len(t, batch, 3)

	assert.Equal(t, "generation-create", batch[1]["type"])
	genBody := batch[1]["body"].(map[string]any)
	assert.Equal(t, validTraceID, genBody["traceId"], "generation must anchor to the bound trace")
	assert.Equal(t, "gpt-4o-mini", genBody["model"])
	assert.Equal(t, "hello", genBody["output"].(map[string]any)["content"])

	usage := genBody["usage"].(map[string]any)
	assert.Equal(t, float64(12), usage["promptTokens"])
	assert.Equal(t, float64(5), usage["completionTokens"])
	assert.Equal(t, float64(17), usage["totalTokens"])
}

func TestIngestionClient_GenerationMintsTraceWhenUnbound(t *testing.T) {
	server, capture := newIngestionServer(t, http.StatusMultiStatus)
	client := newTestIngestionClient(t, server.URL)

	_, generation := client.StartGeneration(context.Background(), GenerationOptions{Name: "gen"})
	generation.End()

	require.NoError(t, client.Flush(context.Background()))

	batch := capture.lastBatch(t)
	require.Len(t, batch, 2)

	assert.Equal(t, "trace-create", batch[0]["type"])
	mintedID := batch[0]["body"].(map[string]any)["id"].(string)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{32}$`), mintedID)

	genBody := batch[1]["body"].(map[string]any)
	assert.Equal(t, mintedID, genBody["traceId"])
}

func TestIngestionClient_UpdateWithoutTrace(t *testing.T) {
	server, _ := newIngestionServer(t, http.StatusMultiStatus)
	client := newTestIngestionClient(t, server.URL)

	err := client.UpdateCurrentTrace(context.Background(), TraceAttributes{UserID: "u"})
	assert.ErrorIs(t, err, ErrNoActiveTrace)
}

func TestIngestionClient_FlushEmptyBufferSkipsRequest(t *testing.T) {
	server, capture := newIngestionServer(t, http.StatusMultiStatus)
	client := newTestIngestionClient(t, server.URL)

	require.NoError(t, client.Flush(context.Background()))
	assert.Zero(t, capture.count())
}

func TestIngestionClient_RejectedBatchDropped(t *testing.T) {
	server, capture := newIngestionServer(t, http.StatusUnauthorized)
	client := newTestIngestionClient(t, server.URL)

	_, span := client.StartSpan(context.Background(), SpanOptions{Name: "GET /x", TraceID: validTraceID})
	span.End()

	err := client.Flush(context.Background())
	assert.ErrorIs(t, err, ErrIngestionRejected)
	assert.Equal(t, 1, capture.count())

	// The failed batch is dropped, not retried.
	require.NoError(t, client.Flush(context.Background()))
	assert.Equal(t, 1, capture.count())
}

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
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/obslog-go/telemetry"
)

// llmTracerName identifies primary-tracer spans opened by the observed
// completion wrapper.
const llmTracerName = "obslog-go/llm"

// DefaultPreviewMaxBytes bounds request/response previews on LLM spans.
const DefaultPreviewMaxBytes = 4096

// CompletionFunc is the outbound LLM completion call being instrumented.
// (*openai.Client).CreateChatCompletion satisfies it directly.
type CompletionFunc func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)

// InstrumentedCompletion wraps one completion call in a backend "generation"
// observation.
//
// Description:
//
//	With no configured backend the call goes through untouched. Otherwise
//	a generation observation is opened with the model, input messages, and
//	the allow-listed model parameters; the call runs with the primary
//	tracer's ambient span restored; on success the observation is updated
//	with the extracted output text and token usage, on failure it is
//	marked errored best-effort. The call's error always propagates
//	unchanged.
//
// Inputs:
//
//	ctx - Request context.
//	reg - Client registry. Must not be nil.
//	settings - Backend settings keying the registry.
//	name - Generation observation name.
//	req - The completion request.
//	call - The completion function. Must not be nil.
//
// Outputs:
//
//	openai.ChatCompletionResponse - The completion response.
//	error - The call's error, unchanged.
//
// Thread Safety: Safe for concurrent use.
func InstrumentedCompletion(
	ctx context.Context,
	reg *Registry,
	settings Settings,
	name string,
	req openai.ChatCompletionRequest,
	call CompletionFunc,
) (openai.ChatCompletionResponse, error) {
	if call == nil {
		return openai.ChatCompletionResponse{}, ErrNilCompletion
	}

	client, ok := reg.Get(settings)
	if !ok {
		return call(ctx, req)
	}

	parentSpan := trace.SpanFromContext(ctx)

	genCtx, generation := client.StartGeneration(ctx, GenerationOptions{
		Name:  name,
		Model: req.Model,
		Input: map[string]any{
			"messages": req.Messages,
		},
		ModelParameters: extractModelParameters(req),
	})
	defer generation.End()

	resp, err := call(PreserveParentSpan(genCtx, parentSpan), req)
	if err != nil {
		generation.Error(err.Error())
		return resp, err
	}

	generation.Update(GenerationUpdate{
		Output: extractOutput(resp),
		Usage:  extractUsage(resp),
	})
	return resp, nil
}

// ObservedCompletionOptions configures ObservedInstrumentedCompletion.
type ObservedCompletionOptions struct {
	// SpanName names the primary-tracer span. Required.
	SpanName string

	// GenerationName names the backend observation. Empty uses SpanName.
	GenerationName string

	// UserID and SessionID become app.user_id / app.session_id span
	// attributes when present.
	UserID    string
	SessionID string

	// RequestPayload overrides the synthesized request preview payload.
	RequestPayload any

	// ExtraSpanAttrs are stamped on the span; nil values are skipped.
	ExtraSpanAttrs map[string]any

	// PreviewMaxBytes bounds previews. Values below 1 use the default.
	PreviewMaxBytes int

	// Settings keys the backend registry.
	Settings Settings

	// Metrics receives call count, duration, and token usage recordings
	// when non-nil.
	Metrics *telemetry.Metrics
}

// ObservedInstrumentedCompletion wraps a completion call in a primary-tracer
// span on top of the backend generation observation.
//
// Description:
//
//	Keeps business code free from tracing details: opens a primary span,
//	stamps model/user/session/custom attributes and a size-bounded JSON
//	preview of the request payload, delegates to InstrumentedCompletion,
//	then attaches the call duration, a response preview, and the output
//	length. On failure the error is recorded on the primary span with
//	error status and propagated unchanged.
//
// Thread Safety: Safe for concurrent use.
func ObservedInstrumentedCompletion(
	ctx context.Context,
	reg *Registry,
	opts ObservedCompletionOptions,
	req openai.ChatCompletionRequest,
	call CompletionFunc,
) (openai.ChatCompletionResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, llmTracerName, opts.SpanName)
	defer span.End()

	ops := telemetry.NewSpanOps(span)
	ops.Attrs(map[string]any{"llm.model": req.Model})
	if opts.UserID != "" {
		ops.Attrs(map[string]any{"app.user_id": opts.UserID})
	}
	if opts.SessionID != "" {
		ops.Attrs(map[string]any{"app.session_id": opts.SessionID})
	}
	ops.Attrs(opts.ExtraSpanAttrs)

	maxBytes := opts.PreviewMaxBytes
	if maxBytes < 1 {
		maxBytes = DefaultPreviewMaxBytes
	}

	payload := opts.RequestPayload
	if payload == nil {
		// The API key lives on the client, not the request, so the
		// synthesized payload never contains credentials.
		payload = req
	}
	preview, truncated, size := previewJSON(payload, maxBytes)
	ops.Attrs(map[string]any{
		"http_request_body_preview":           preview,
		"http_request_body_preview_truncated": truncated,
		"http_request_body_size":              size,
	})

	generationName := opts.GenerationName
	if generationName == "" {
		generationName = opts.SpanName
	}

	start := time.Now()
	resp, err := InstrumentedCompletion(ctx, reg, opts.Settings, generationName, req, call)
	elapsed := time.Since(start)
	recordCallMetrics(ctx, opts.Metrics, req.Model, elapsed, resp.Usage, err)
	if err != nil {
		ops.Error(err, "", "")
		return resp, err
	}

	durationMS := math.Round(float64(elapsed)/float64(time.Millisecond)*1000) / 1000
	ops.Attrs(map[string]any{"llm.duration_ms": durationMS})

	respPreview, respTruncated, respSize := previewJSON(resp, maxBytes)
	ops.Attrs(map[string]any{
		"http_response_body_preview":           respPreview,
		"http_response_body_preview_truncated": respTruncated,
		"http_response_body_size":              respSize,
	})

	if len(resp.Choices) > 0 {
		ops.Attrs(map[string]any{"llm.output_length": len(resp.Choices[0].Message.Content)})
	}
	return resp, nil
}

// recordCallMetrics records call count, duration, and token usage with
// model/status labels. Token counts are recorded per kind; zero counts mean
// the backend did not report usage and are skipped.
func recordCallMetrics(
	ctx context.Context,
	m *telemetry.Metrics,
	model string,
	elapsed time.Duration,
	usage openai.Usage,
	err error,
) {
	if m == nil {
		return
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("status", status),
	)
	m.LLMCallsTotal.Add(ctx, 1, attrs)
	m.LLMCallDuration.Record(ctx, elapsed.Seconds(), attrs)

	if usage.PromptTokens > 0 {
		m.LLMTokensTotal.Add(ctx, int64(usage.PromptTokens), metric.WithAttributes(
			attribute.String("model", model),
			attribute.String("kind", "prompt"),
		))
	}
	if usage.CompletionTokens > 0 {
		m.LLMTokensTotal.Add(ctx, int64(usage.CompletionTokens), metric.WithAttributes(
			attribute.String("model", model),
			attribute.String("kind", "completion"),
		))
	}
}

// extractModelParameters pulls the allow-listed tuning parameters out of the
// request. Zero values mean "not set" and are omitted, matching how the
// OpenAI client serializes them.
func extractModelParameters(req openai.ChatCompletionRequest) map[string]any {
	params := map[string]any{}
	if req.Temperature != 0 {
		params["temperature"] = float64(req.Temperature)
	}
	if req.TopP != 0 {
		params["top_p"] = float64(req.TopP)
	}
	if req.MaxTokens != 0 {
		params["max_tokens"] = req.MaxTokens
	}
	if req.MaxCompletionTokens != 0 {
		params["max_completion_tokens"] = req.MaxCompletionTokens
	}
	if req.PresencePenalty != 0 {
		params["presence_penalty"] = float64(req.PresencePenalty)
	}
	if req.FrequencyPenalty != 0 {
		params["frequency_penalty"] = float64(req.FrequencyPenalty)
	}
	if req.Seed != nil {
		params["seed"] = *req.Seed
	}
	if req.ResponseFormat != nil {
		params["response_format"] = string(req.ResponseFormat.Type)
	}
	if len(params) == 0 {
		return nil
	}
	return params
}

// extractOutput renders the response content for the observation.
func extractOutput(resp openai.ChatCompletionResponse) map[string]any {
	content := ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}
	return map[string]any{"content": content}
}

// extractUsage converts reported token counts; zero counts are treated as
// unreported.
func extractUsage(resp openai.ChatCompletionResponse) *Usage {
	usage := &Usage{}
	reported := false
	if resp.Usage.PromptTokens > 0 {
		v := resp.Usage.PromptTokens
		usage.PromptTokens = &v
		reported = true
	}
	if resp.Usage.CompletionTokens > 0 {
		v := resp.Usage.CompletionTokens
		usage.CompletionTokens = &v
		reported = true
	}
	if resp.Usage.TotalTokens > 0 {
		v := resp.Usage.TotalTokens
		usage.TotalTokens = &v
		reported = true
	}
	if !reported {
		return nil
	}
	return usage
}

// previewJSON renders a size-bounded JSON preview of a value. Values that
// refuse to marshal degrade to their Go string rendering; previews never
// fail.
func previewJSON(value any, maxBytes int) (preview string, truncated bool, size int) {
	encoded, err := json.Marshal(value)
	if err != nil {
		encoded = []byte(fmt.Sprintf("%v", value))
	}
	size = len(encoded)
	if size <= maxBytes {
		return string(encoded), false, size
	}
	return strings.ToValidUTF8(string(encoded[:maxBytes]), "�"), true, size
}

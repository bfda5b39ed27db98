// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command obslog-demo runs a small chat service with the full observability
// stack wired in: OTel server spans and metrics, structured access logs, and
// the optional Langfuse secondary tracer around an OpenAI completion call.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/obslog-go/langfuse"
	"github.com/AleutianAI/obslog-go/obsgin"
	"github.com/AleutianAI/obslog-go/telemetry"
)

type chatRequest struct {
	Prompt    string `json:"prompt" binding:"required"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Model     string `json:"model"`
}

func main() {
	port := os.Getenv("OBSLOG_DEMO_PORT")
	if port == "" {
		port = "12280"
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	shutdown, err := telemetry.Init(context.Background(), telemetry.DefaultConfig())
	if err != nil {
		log.Fatalf("failed to setup telemetry: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			slog.Error("telemetry shutdown failed", "error", err)
		}
	}()

	var metrics *telemetry.Metrics
	if handler := telemetry.MetricsHandler(); handler != nil {
		m, err := telemetry.NewMetrics(otel.Meter("obslog-demo"))
		if err != nil {
			log.Fatalf("failed to create metrics: %v", err)
		}
		metrics = m
	}

	registry := langfuse.NewDefaultRegistry()
	settings := langfuse.DefaultSettings()

	openaiClient := newOpenAIClient()

	router := gin.New()
	router.Use(gin.Recovery())
	obsgin.UseObservability(router, logger, obsgin.ObservabilityConfig{
		ServiceName: "obslog-demo",
		Metrics:     metrics,
		AccessLog: obsgin.AccessLogConfig{
			ApplicationName:   "obslog-demo",
			EnableBodyPreview: true,
			BodyPreviewPaths:  []string{"/v1/"},
		},
	})
	if langfuse.AddTracing(router, registry, langfuse.MiddlewareConfig{}) {
		slog.Info("langfuse secondary tracing enabled", "host", settings.Host)
	}

	if handler := telemetry.MetricsHandler(); handler != nil {
		router.GET("/metrics", gin.WrapH(handler))
	}
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/v1/chat", func(c *gin.Context) {
		var req chatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		model := req.Model
		if model == "" {
			model = openai.GPT4oMini
		}

		resp, err := langfuse.ObservedInstrumentedCompletion(
			c.Request.Context(),
			registry,
			langfuse.ObservedCompletionOptions{
				SpanName:  "llm.chat",
				UserID:    req.UserID,
				SessionID: req.SessionID,
				Settings:  settings,
				Metrics:   metrics,
			},
			openai.ChatCompletionRequest{
				Model: model,
				Messages: []openai.ChatCompletionMessage{
					{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
				},
			},
			openaiClient.CreateChatCompletion,
		)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}

		content := ""
		if len(resp.Choices) > 0 {
			content = resp.Choices[0].Message.Content
		}
		c.JSON(http.StatusOK, gin.H{
			"content": content,
			"usage":   resp.Usage,
		})
	})

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("obslog-demo listening", "port", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
}

// newOpenAIClient builds the completion client from the environment. An
// OPENAI_BASE_URL override points it at a local or proxy endpoint.
func newOpenAIClient() *openai.Client {
	cfg := openai.DefaultConfig(os.Getenv("OPENAI_API_KEY"))
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

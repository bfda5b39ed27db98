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
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/kelseyhightower/envconfig"
)

// Flag is a tolerant boolean for environment values: "1", "true", "yes",
// and "on" (any case) are true, everything else is false.
type Flag bool

// Decode implements envconfig.Decoder.
func (f *Flag) Decode(value string) error {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		*f = true
	default:
		*f = false
	}
	return nil
}

// Settings is the immutable secondary-backend configuration, loaded once per
// process from the environment. It is a comparable value type so it can key
// the client registry.
type Settings struct {
	// Host is the backend base URL, e.g. "https://cloud.langfuse.com".
	Host string `envconfig:"LANGFUSE_HOST"`

	// PublicKey authenticates the project (basic-auth username).
	PublicKey string `envconfig:"LANGFUSE_PUBLIC_KEY"`

	// SecretKey authenticates the project (basic-auth password).
	SecretKey string `envconfig:"LANGFUSE_SECRET_KEY"`

	// TracingEnabled gates the whole integration. Off by default.
	TracingEnabled Flag `envconfig:"LANGFUSE_TRACING_ENABLED"`

	// FlushAtRequestEnd forces a synchronous flush when each traced request
	// finishes.
	FlushAtRequestEnd Flag `envconfig:"LANGFUSE_FLUSH_AT_REQUEST_END" default:"true"`
}

// SettingsFromEnv loads Settings from the environment.
func SettingsFromEnv() (Settings, error) {
	var s Settings
	if err := envconfig.Process("", &s); err != nil {
		return Settings{}, fmt.Errorf("load langfuse settings: %w", err)
	}
	s.Host = strings.TrimSpace(s.Host)
	s.PublicKey = strings.TrimSpace(s.PublicKey)
	s.SecretKey = strings.TrimSpace(s.SecretKey)
	return s, nil
}

// ConfiguredForTracing reports whether tracing is enabled and all
// credentials are present. Incomplete configuration is the supported
// "disabled" mode, never an error.
func (s Settings) ConfiguredForTracing() bool {
	if !bool(s.TracingEnabled) {
		return false
	}
	return s.Host != "" && s.PublicKey != "" && s.SecretKey != ""
}

var (
	defaultSettingsOnce sync.Once
	defaultSettings     Settings
)

// DefaultSettings returns the process-wide Settings loaded from the
// environment, cached after the first call. A load failure degrades to
// zero settings (tracing disabled) with a warning.
func DefaultSettings() Settings {
	defaultSettingsOnce.Do(func() {
		s, err := SettingsFromEnv()
		if err != nil {
			slog.Warn("langfuse settings load failed, tracing disabled", "error", err)
			return
		}
		defaultSettings = s
	})
	return defaultSettings
}

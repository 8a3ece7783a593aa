package main

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/adroast/internal/config"
	"github.com/MrWong99/adroast/pkg/frame"
)

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	got := reg.VisionNames()
	for _, want := range config.ValidProviderNames {
		found := false
		for _, n := range got {
			if n == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("provider %q not registered", want)
		}
	}

	if _, err := reg.CreateVision(config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini"}); err == nil {
		t.Error("openai without an API key should fail")
	}
	if _, err := reg.CreateVision(config.ProviderEntry{Name: "openai", APIKey: "sk-test", Model: "gpt-4o-mini"}); err != nil {
		t.Errorf("openai with key: %v", err)
	}
}

func TestRegisterBuiltinSources(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinSources(reg)

	src, err := reg.CreateSource(config.CaptureConfig{Source: config.CaptureMailbox})
	if err != nil {
		t.Fatalf("mailbox: %v", err)
	}
	if _, ok := src.(*frame.Mailbox); !ok {
		t.Errorf("mailbox source = %T", src)
	}

	dir := t.TempDir()
	if _, err := reg.CreateSource(config.CaptureConfig{Source: config.CaptureDir, Path: dir}); err == nil {
		t.Error("empty dir should fail")
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.png"), buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.CreateSource(config.CaptureConfig{Source: config.CaptureDir, Path: dir, FPS: 1}); err != nil {
		t.Errorf("dir: %v", err)
	}

	if _, err := reg.CreateSource(config.CaptureConfig{Source: "webcam"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("unknown source err = %v", err)
	}
}

func TestOptionHelpers(t *testing.T) {
	t.Parallel()

	opts := map[string]any{
		"image_detail": "high",
		"max_tokens":   300,
		"temperature":  0.5,
		"json_mode":    false,
	}
	if got := optString(opts, "image_detail"); got != "high" {
		t.Errorf("optString = %q", got)
	}
	if got := optString(opts, "max_tokens"); got != "" {
		t.Errorf("optString on int = %q", got)
	}
	if got := optInt(opts, "max_tokens"); got != 300 {
		t.Errorf("optInt = %d", got)
	}
	if got := optInt(nil, "max_tokens"); got != 0 {
		t.Errorf("optInt(nil) = %d", got)
	}
	if v, ok := optBool(opts, "json_mode"); !ok || v {
		t.Errorf("optBool = %v, %v", v, ok)
	}
	if _, ok := optBool(opts, "missing"); ok {
		t.Error("optBool on missing key reported ok")
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := slogLevel(tt.in); got != tt.want {
			t.Errorf("slogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		enable slog.Level
	}{
		{"debug level", "debug", slog.LevelDebug},
		{"warn level", "warn", slog.LevelWarn},
		{"warning alias", "WARNING", slog.LevelWarn},
		{"default info", "", slog.LevelInfo},
	}

	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(tt.level)
			if !logger.Enabled(ctx, tt.enable) {
				t.Fatalf("expected level %s to be enabled", tt.enable)
			}
		})
	}
}

func TestDefaultLogger(t *testing.T) {
	logger := Default()
	logger.Info("test message", "key", "value")

	ctx := context.Background()
	if !logger.Enabled(ctx, slog.LevelInfo) {
		t.Error("Default() should enable info level")
	}
	if logger.Enabled(ctx, slog.LevelDebug) {
		t.Error("Default() should not enable debug level")
	}
	if logger == Default() {
		t.Error("Default() returned the same instance twice")
	}
}

func TestNamedAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "json").Named("availability")
	logger.Info("resolved", "slots", 14)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log record: %v", err)
	}
	if rec["component"] != "availability" {
		t.Fatalf("expected component attr, got %v", rec["component"])
	}
	if rec["slots"] != float64(14) {
		t.Fatalf("expected slots attr, got %v", rec["slots"])
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "debug", "text")
	logger.Debug("hello", "org_id", "org-1")

	out := buf.String()
	if !strings.Contains(out, "msg=hello") || !strings.Contains(out, "org_id=org-1") {
		t.Fatalf("unexpected text output: %q", out)
	}
}

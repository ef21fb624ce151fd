package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/ppiankov/proofpack/internal/model"
)

func TestFromModel(t *testing.T) {
	cfg, err := FromModel(model.LogConfig{Level: "debug", Format: "JSON"})
	if err != nil {
		t.Fatalf("FromModel failed: %v", err)
	}
	if cfg.Level != slog.LevelDebug || cfg.Format != "json" {
		t.Errorf("unexpected config %+v", cfg)
	}

	cfg, err = FromModel(model.LogConfig{})
	if err != nil || cfg.Level != slog.LevelInfo || cfg.Format != "text" {
		t.Errorf("unexpected defaults %+v %v", cfg, err)
	}

	if _, err := FromModel(model.LogConfig{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := FromModel(model.LogConfig{Format: "xml"}); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestNew_JSON(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelWarn, Format: "json", Output: &buf})

	logger.Info("hidden")
	logger.Warn("visible", "entity_id", "999")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line above the level, got %q", buf.String())
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("expected JSON output: %v", err)
	}
	if rec["msg"] != "visible" || rec["entity_id"] != "999" {
		t.Errorf("unexpected record %v", rec)
	}
	if slog.Default() != logger {
		t.Error("New should install the default logger")
	}
}

func TestFromContext(t *testing.T) {
	fallback := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	if FromContext(context.Background(), fallback) != fallback {
		t.Error("expected fallback without a carried logger")
	}

	carried := fallback.With("run_id", "r1")
	ctx := WithContext(context.Background(), carried)
	if FromContext(ctx, fallback) != carried {
		t.Error("expected the carried logger")
	}
	if FromContext(context.Background(), nil) == nil {
		t.Error("expected the default logger")
	}
}

package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestInit_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	l := initTo(&buf, "test-service", "info", "json")
	l.Info().Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON line, got %q: %v", buf.String(), err)
	}
	if entry["service"] != "test-service" {
		t.Errorf("service = %v, want test-service", entry["service"])
	}
	if entry["message"] != "hello" {
		t.Errorf("message = %v, want hello", entry["message"])
	}
}

func TestInit_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := initTo(&buf, "svc", "warn", "json")
	l.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Errorf("info line should be filtered at warn level, got %q", buf.String())
	}
	l.Warn().Msg("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("warn line missing: %q", buf.String())
	}
}

func TestInit_BadLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := initTo(&buf, "svc", "loud", "json")
	l.Debug().Msg("debug")
	l.Info().Msg("info")
	if strings.Contains(buf.String(), "debug") {
		t.Errorf("debug should be filtered: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "info") {
		t.Errorf("info line missing: %q", buf.String())
	}
}

func TestTickID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	if tid := TickID(ctx); tid != "" {
		t.Errorf("expected empty tick id, got %q", tid)
	}

	ctx = WithTickID(ctx, "tick-123")
	if tid := TickID(ctx); tid != "tick-123" {
		t.Errorf("expected 'tick-123', got %q", tid)
	}
}

func TestGenerateTickID(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 123456789, time.UTC)
	tid := GenerateTickID("EURUSD", ts)

	if !strings.HasPrefix(tid, "EURUSD-") {
		t.Errorf("expected tick id to start with 'EURUSD-', got %s", tid)
	}
	if !strings.Contains(tid, "123456789") {
		t.Errorf("expected tick id to contain nanoseconds, got %s", tid)
	}
}

func TestWithTick(t *testing.T) {
	var buf bytes.Buffer
	base := initTo(&buf, "svc", "info", "json")

	ctx := WithTickID(context.Background(), "abc-123")
	l := WithTick(ctx, base)
	l.Info().Msg("tick")

	if !strings.Contains(buf.String(), `"tick_id":"abc-123"`) {
		t.Errorf("expected tick_id field, got %q", buf.String())
	}
}

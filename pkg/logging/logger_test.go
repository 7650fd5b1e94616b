package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestLogger(buf *bytes.Buffer, level Level) Logger {
	return NewLogger(&Config{
		Level:       level,
		ServiceName: "prepd-test",
		Environment: "test",
		JSONFormat:  true,
		Output:      buf,
	})
}

func TestJSONOutputIncludesServiceFields(t *testing.T) {
	var buf bytes.Buffer
	log := newTestLogger(&buf, LevelInfo)

	log.Info("sync pass completed", F("meetings_synced", 3))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry["service_name"] != "prepd-test" {
		t.Errorf("service_name = %v, want prepd-test", entry["service_name"])
	}
	if entry["environment"] != "test" {
		t.Errorf("environment = %v, want test", entry["environment"])
	}
	if entry["meetings_synced"] != float64(3) {
		t.Errorf("meetings_synced = %v, want 3", entry["meetings_synced"])
	}
	if entry["message"] != "sync pass completed" {
		t.Errorf("message = %v", entry["message"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := newTestLogger(&buf, LevelWarn)

	log.Debug("should be dropped")
	log.Info("should be dropped too")
	log.Warn("kept")

	if strings.Contains(buf.String(), "dropped") {
		t.Errorf("debug/info output leaked past warn level: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("warn output missing: %s", buf.String())
	}
}

func TestWithAttachesFields(t *testing.T) {
	var buf bytes.Buffer
	log := newTestLogger(&buf, LevelInfo).With(F("component", "dispatcher"))

	log.Info("attempting channel")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry["component"] != "dispatcher" {
		t.Errorf("component = %v, want dispatcher", entry["component"])
	}
}

func TestErrField(t *testing.T) {
	var buf bytes.Buffer
	log := newTestLogger(&buf, LevelInfo)

	log.Error("dispatch failed", Err(errors.New("boom")))

	if !strings.Contains(buf.String(), "boom") {
		t.Errorf("error value missing from output: %s", buf.String())
	}
}

func TestFieldTypes(t *testing.T) {
	var buf bytes.Buffer
	log := newTestLogger(&buf, LevelInfo)

	now := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)
	log.Info("typed fields",
		F("count", 7),
		F("ratio", 0.5),
		F("enabled", true),
		F("at", now),
		F("took", 250*time.Millisecond),
	)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry["count"] != float64(7) || entry["enabled"] != true {
		t.Errorf("typed fields not serialized: %v", entry)
	}
}

func TestWithContextTraceID(t *testing.T) {
	var buf bytes.Buffer
	log := newTestLogger(&buf, LevelInfo)

	ctx := context.WithValue(context.Background(), TraceIDKey, "trace-42")
	log.WithContext(ctx).Info("traced")

	if !strings.Contains(buf.String(), "trace-42") {
		t.Errorf("trace_id missing from output: %s", buf.String())
	}
}

func TestNopLoggerIsSilent(t *testing.T) {
	// Must not panic and must not write anywhere.
	log := NewNop()
	log.Info("ignored", F("k", "v"))
	log.Error("ignored", Err(errors.New("x")))
}

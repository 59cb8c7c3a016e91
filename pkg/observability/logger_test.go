package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func logLines(buf *bytes.Buffer) []map[string]interface{} {
	var lines []map[string]interface{}
	for _, raw := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if raw == "" {
			continue
		}
		var line map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WarnLevel, &buf)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	lines := logLines(&buf)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines at warn level, got %d", len(lines))
	}
	if lines[0]["msg"] != "warn message" {
		t.Errorf("expected warn message first, got %v", lines[0]["msg"])
	}
	if lines[1]["level"] != "ERROR" {
		t.Errorf("expected ERROR level, got %v", lines[1]["level"])
	}
}

func TestLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithField("saga", "create_tenant").
		WithFields(map[string]interface{}{"step": "persist_tenant_locally"}).
		Info("step complete")

	lines := logLines(&buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if lines[0]["saga"] != "create_tenant" {
		t.Errorf("expected saga field, got %v", lines[0]["saga"])
	}
	if lines[0]["step"] != "persist_tenant_locally" {
		t.Errorf("expected step field, got %v", lines[0]["step"])
	}
}

func TestLogger_WithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithError(errors.New("boom")).Error("saga step failed")

	lines := logLines(&buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if lines[0]["error"] != "boom" {
		t.Errorf("expected error field, got %v", lines[0]["error"])
	}
}

func TestLogger_WithErrorNil(t *testing.T) {
	logger := NewDiscardLogger()
	if logger.WithError(nil) != logger {
		t.Error("expected WithError(nil) to return the same logger")
	}
}

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("LogLevel(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestWorkflowContext(t *testing.T) {
	ctx := WithWorkflowID(context.Background(), "wf-123")
	if got := GetWorkflowID(ctx); got != "wf-123" {
		t.Errorf("expected wf-123, got %q", got)
	}
	if got := GetWorkflowID(context.Background()); got != "" {
		t.Errorf("expected empty workflow ID, got %q", got)
	}
}

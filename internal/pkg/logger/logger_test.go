package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

func newBufferLogger(level string) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(Config{
		Level:       level,
		Format:      "json",
		Output:      &buf,
		ServiceName: "montage-test",
	}), &buf
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output as JSON: %v (%s)", err, buf.String())
	}
	return entry
}

func TestLoggerOutput(t *testing.T) {
	log, buf := newBufferLogger("debug")
	log.Info("clip staged", "clip", "a.mp4")

	entry := decodeEntry(t, buf)
	if entry["msg"] != "clip staged" {
		t.Errorf("expected msg='clip staged', got %v", entry["msg"])
	}
	if entry["clip"] != "a.mp4" {
		t.Errorf("expected clip='a.mp4', got %v", entry["clip"])
	}
	if entry["service"] != "montage-test" {
		t.Errorf("expected service='montage-test', got %v", entry["service"])
	}
}

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		logFn     func(*Logger)
		shouldLog bool
	}{
		{"info logs info", "info", func(l *Logger) { l.Info("x") }, true},
		{"info drops debug", "info", func(l *Logger) { l.Debug("x") }, false},
		{"debug logs debug", "debug", func(l *Logger) { l.Debug("x") }, true},
		{"warning alias", "warning", func(l *Logger) { l.Info("x") }, false},
		{"error drops info", "error", func(l *Logger) { l.Info("x") }, false},
		{"unknown defaults to info", "loud", func(l *Logger) { l.Info("x") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, buf := newBufferLogger(tt.level)
			tt.logFn(log)
			if got := buf.Len() > 0; got != tt.shouldLog {
				t.Errorf("expected shouldLog=%v, got %v", tt.shouldLog, got)
			}
		})
	}
}

func TestAttributeHelpers(t *testing.T) {
	log, buf := newBufferLogger("info")
	log.WithComponent("processor").WithJobID("job-1").WithStage("rendering").
		WithError(context.Canceled).Info("stage entered")

	entry := decodeEntry(t, buf)
	want := map[string]string{
		"component": "processor",
		"job_id":    "job-1",
		"stage":     "rendering",
		"error":     "context canceled",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("expected %s=%q, got %v", k, v, entry[k])
		}
	}

	if log.WithError(nil) != log {
		t.Error("WithError(nil) should return same logger")
	}
}

func TestFromContext(t *testing.T) {
	log, buf := newBufferLogger("info")

	ctx := ContextWithRequestID(context.Background(), "req-abc")
	ctx = ContextWithJobID(ctx, "job-xyz")
	log.FromContext(ctx).Info("hello")

	entry := decodeEntry(t, buf)
	if entry["request_id"] != "req-abc" {
		t.Errorf("expected request_id, got %v", entry["request_id"])
	}
	if entry["job_id"] != "job-xyz" {
		t.Errorf("expected job_id, got %v", entry["job_id"])
	}
	if JobIDFromContext(ctx) != "job-xyz" {
		t.Errorf("JobIDFromContext = %q", JobIDFromContext(ctx))
	}
	if JobIDFromContext(context.Background()) != "" {
		t.Error("expected empty job id on bare context")
	}
}

func TestLogErrorSkipsNil(t *testing.T) {
	log, buf := newBufferLogger("debug")
	log.LogError(context.Background(), "nothing", nil)
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %s", buf.String())
	}

	log.LogError(context.Background(), "sweep failed", context.DeadlineExceeded)
	entry := decodeEntry(t, buf)
	if entry["error"] != "context deadline exceeded" {
		t.Errorf("expected error attribute, got %v", entry["error"])
	}
	if _, ok := entry["source"]; !ok {
		t.Error("expected source group")
	}
}

func TestNop(t *testing.T) {
	Nop().Error("discarded")
}

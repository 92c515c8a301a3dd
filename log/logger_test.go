package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

func TestNewWritesServiceAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "warn", Output: &buf, Service: "test-svc"})

	l.Info().Msg("dropped")
	l.Warn().Str(FieldCallSID, "CA123").Msg("kept")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("Expected 1 log line, got %d: %s", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal(lines[0], &entry); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if entry[FieldService] != "test-svc" {
		t.Errorf("Expected service test-svc, got %v", entry[FieldService])
	}
	if entry[FieldCallSID] != "CA123" {
		t.Errorf("Expected call_sid CA123, got %v", entry[FieldCallSID])
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-1")
	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Errorf("Expected req-1, got %q", got)
	}
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Errorf("Expected empty id, got %q", got)
	}

	var buf bytes.Buffer
	l := WithContext(ctx, New(Config{Output: &buf}))
	l.Info().Msg("hello")
	if !bytes.Contains(buf.Bytes(), []byte(`"request_id":"req-1"`)) {
		t.Errorf("Expected request_id in %s", buf.String())
	}
}

func TestFromContextFallsBackToBase(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("Expected a logger")
	}
	if FromContext(nil) == nil { //nolint:staticcheck
		t.Fatal("Expected a logger for nil context")
	}
}

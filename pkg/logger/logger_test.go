package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func newBufferedLogger(t *testing.T, format string) (*Logger, *bytes.Buffer) {
	t.Helper()
	l, err := NewLogger(&Config{Level: DebugLevel, Format: format, Service: "ledger"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	var buf bytes.Buffer
	l.SetOutput(&buf)
	return l, &buf
}

func TestJSONOutputCarriesFields(t *testing.T) {
	l, buf := newBufferedLogger(t, "json")

	ctx := ContextWithRequestID(context.Background(), "req-1")
	l.WithContext(ctx).WithConversionID("conv-1").WithError(errors.New("boom")).Info("hello")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	want := map[string]string{
		"message":       "hello",
		"level":         "info",
		"service":       "ledger",
		"request_id":    "req-1",
		"conversion_id": "conv-1",
		"error":         "boom",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %q", k, entry[k], v)
		}
	}
}

func TestWithFieldDoesNotMutateParent(t *testing.T) {
	l, buf := newBufferedLogger(t, "text")

	_ = l.WithField("vendor_id", "v1")
	l.Info("plain")

	if strings.Contains(buf.String(), "vendor_id") {
		t.Fatalf("parent logger picked up child field: %q", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	l, buf := newBufferedLogger(t, "text")
	l.SetLevel(WarnLevel)

	l.Info("hidden")
	l.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestAuditLoggerTagsEntries(t *testing.T) {
	l, buf := newBufferedLogger(t, "json")

	NewAuditLogger(l).LogAction("outbox.retry", "outbox_task:t1", "ops@example.com", map[string]interface{}{"request_id": "req-9"})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	for k, v := range map[string]string{"type": "audit", "action": "outbox.retry", "actor": "ops@example.com", "request_id": "req-9"} {
		if entry[k] != v {
			t.Errorf("%s = %v, want %q", k, entry[k], v)
		}
	}
}

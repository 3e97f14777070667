// SPDX-License-Identifier: MIT

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

func TestConfigureOnce(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "presenced-test", Version: "test"})
	// Second call must not rebind the writer.
	Configure(Config{Service: "other"})

	storeLogger := WithComponent("store")
	storeLogger.Info().Str(FieldEvent, "test.configured").Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["service"] != "presenced-test" {
		t.Errorf("service = %v, want presenced-test", entry["service"])
	}
	if entry[FieldComponent] != "store" {
		t.Errorf("component = %v, want store", entry[FieldComponent])
	}
	if entry[FieldEvent] != "test.configured" {
		t.Errorf("event = %v, want test.configured", entry[FieldEvent])
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-123")
	if got := RequestIDFromContext(ctx); got != "req-123" {
		t.Errorf("RequestIDFromContext = %q, want req-123", got)
	}
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Errorf("RequestIDFromContext on empty ctx = %q, want empty", got)
	}
}

func TestSessionIDRoundTrip(t *testing.T) {
	ctx := ContextWithSessionID(context.Background(), "sess-9")
	if got := SessionIDFromContext(ctx); got != "sess-9" {
		t.Errorf("SessionIDFromContext = %q, want sess-9", got)
	}
}

func TestWithContextNoFields(t *testing.T) {
	l := Base()
	enriched := WithContext(context.Background(), l)
	// No correlation fields present: the logger is returned unchanged.
	if enriched.GetLevel() != l.GetLevel() {
		t.Errorf("unexpected logger mutation without context fields")
	}
}

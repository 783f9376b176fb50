package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
)

func TestLogger_WritesStructuredEntry(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("order-service", &buf, slog.LevelDebug)

	log.Error("db_query_failed", "Failed to query order", "req-1", errors.New("boom"), map[string]interface{}{
		"order_number": "ORD261018-0001",
	})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	if entry["service"] != "order-service" || entry["action"] != "db_query_failed" || entry["request_id"] != "req-1" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	details, ok := entry["details"].(map[string]interface{})
	if !ok || details["order_number"] != "ORD261018-0001" {
		t.Fatalf("missing details: %v", entry)
	}
	errGroup, ok := entry["error"].(map[string]interface{})
	if !ok || errGroup["msg"] != "boom" {
		t.Fatalf("missing error group: %v", entry)
	}
}

func TestLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("broadcast-hub", &buf, slog.LevelInfo)
	log.Debug("message_published", "dropped", "", nil)
	if buf.Len() != 0 {
		t.Fatalf("debug entry written at info level: %s", buf.String())
	}
}

func TestGenerateRequestID_Unique(t *testing.T) {
	if GenerateRequestID() == GenerateRequestID() {
		t.Fatalf("request ids collide")
	}
}

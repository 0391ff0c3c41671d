package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestWithFieldsCarriedThroughContext(t *testing.T) {
	var buf bytes.Buffer
	logg := New(Options{ServiceName: "test", Level: zerolog.InfoLevel, Output: &buf})

	ctx := logg.WithFields(context.Background(), map[string]any{
		"profile_id":  "I-ABC123",
		"customer_id": "42",
	})
	logg.Info(ctx, "profile refreshed")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line not json: %v", err)
	}
	if line["profile_id"] != "I-ABC123" {
		t.Fatalf("missing profile_id field: %v", line)
	}
	if line["service"] != "test" {
		t.Fatalf("missing service field: %v", line)
	}
	if line["message"] != "profile refreshed" {
		t.Fatalf("unexpected message: %v", line)
	}
}

func TestParseLevelFallsBackToInfo(t *testing.T) {
	if ParseLevel("nonsense") != zerolog.InfoLevel {
		t.Fatalf("expected info fallback")
	}
	if ParseLevel("debug") != zerolog.DebugLevel {
		t.Fatalf("expected debug")
	}
}

package eventing

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestBuildEnvelopeDefaults(t *testing.T) {
	env, err := BuildEnvelope("incident.opened", map[string]int{"id": 7}, Meta{StreamKey: "s-1"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if env.EventID == "" || env.CorrelationID != env.EventID {
		t.Fatalf("expected generated id reused as correlation, got %+v", env)
	}
	if env.SchemaVersion != SchemaVersion || env.StreamKey != "s-1" {
		t.Fatalf("unexpected metadata: %+v", env)
	}
	var payload map[string]int
	if err := json.Unmarshal(env.Payload, &payload); err != nil || payload["id"] != 7 {
		t.Fatalf("unexpected payload: %s", env.Payload)
	}
}

func TestBuildEnvelopeUsesContextMeta(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "req-42")
	meta := MetaFromContext(ctx)
	meta.OccurredAt = time.Date(2024, 12, 3, 14, 2, 5, 0, time.FixedZone("KST", 9*3600))

	env, err := BuildEnvelope("incident.closed", struct{}{}, meta)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if env.CorrelationID != "req-42" {
		t.Fatalf("expected correlation from context, got %q", env.CorrelationID)
	}
	if env.OccurredAt.Location() != time.UTC || env.OccurredAt.Hour() != 5 {
		t.Fatalf("expected utc occurred_at, got %v", env.OccurredAt)
	}
}

func TestBuildEnvelopeRejectsEmpty(t *testing.T) {
	if _, err := BuildEnvelope("", struct{}{}, Meta{}); err == nil {
		t.Fatalf("expected error for empty type")
	}
	if _, err := BuildEnvelope("x", nil, Meta{}); err == nil {
		t.Fatalf("expected error for nil event")
	}
}

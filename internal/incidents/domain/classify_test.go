package incidents

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestClassifyTable(t *testing.T) {
	cases := map[Type]Level{
		TypeNonSafetyHelmet:      LevelLow,
		TypeNonSafetyVest:        LevelLow,
		TypeUsePhoneWhileWorking: LevelLow,
		TypeFall:                 LevelMedium,
		TypeSOSRequest:           LevelHigh,
	}
	for typ, want := range cases {
		got, ok := Classify(typ)
		if !ok {
			t.Fatalf("classify %s: not found", typ)
		}
		if got.Level != want {
			t.Fatalf("classify %s: expected %s, got %s", typ, want, got.Level)
		}
		if got.ContentKey != string(typ) {
			t.Fatalf("classify %s: content key %q", typ, got.ContentKey)
		}
		if got.Reason == "" {
			t.Fatalf("classify %s: empty reason", typ)
		}
	}
	if fall, _ := Classify(TypeFall); fall.Reason != "fall detected" {
		t.Fatalf("unexpected fall reason %q", fall.Reason)
	}
}

func TestClassifyIsDeterministicAndTotal(t *testing.T) {
	for _, typ := range Types() {
		first, ok := Classify(typ)
		if !ok {
			t.Fatalf("type %s missing from table", typ)
		}
		second, _ := Classify(typ)
		if first != second {
			t.Fatalf("classify %s not deterministic", typ)
		}
	}
	if _, ok := Classify(Type("SMOKING")); ok {
		t.Fatalf("unknown type must not classify")
	}
}

func TestParseType(t *testing.T) {
	typ, err := ParseType("FALL")
	if err != nil || typ != TypeFall {
		t.Fatalf("parse FALL: %v %v", typ, err)
	}
	_, err = ParseType("fall")
	if !errors.Is(err, ErrInvalidType) || !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid type, got %v", err)
	}
}

func TestLevelJSON(t *testing.T) {
	payload, err := json.Marshal(Incident{Level: LevelHigh, StartAt: time.Unix(0, 0).UTC()})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded struct {
		Level Level      `json:"level"`
		EndAt *time.Time `json:"end_at"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Level != LevelHigh || decoded.EndAt != nil {
		t.Fatalf("unexpected decoded %+v", decoded)
	}
}

func TestStatus(t *testing.T) {
	incident := Incident{}
	if incident.Status() != StatusOpen {
		t.Fatalf("expected OPEN")
	}
	end := time.Now()
	incident.EndAt = &end
	if incident.Status() != StatusClosed {
		t.Fatalf("expected CLOSED")
	}
}

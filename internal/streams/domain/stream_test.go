package streams

import (
	"errors"
	"testing"
)

func TestParseKeyCanonicalizes(t *testing.T) {
	key, err := ParseKey(" 6F9619FF-8B86-D011-B42D-00C04FC964FF ")
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	if key != "6f9619ff-8b86-d011-b42d-00c04fc964ff" {
		t.Fatalf("unexpected canonical key %q", key)
	}
}

func TestParseKeyRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "stream-1", "6f9619ff-8b86-d011-b42d"} {
		if _, err := ParseKey(raw); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("expected ErrInvalidKey for %q, got %v", raw, err)
		}
	}
}

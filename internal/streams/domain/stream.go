package streams

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the broadcast state of a stream.
type Status string

const (
	StatusIdle Status = "IDLE"
	StatusLive Status = "LIVE"
)

var (
	// ErrNotFound indicates a missing stream record.
	ErrNotFound = errors.New("stream: not found")
	// ErrInvalidKey indicates a stream key that is not a UUID.
	ErrInvalidKey = errors.New("stream: invalid stream key")
)

// Stream is a monitored video stream that incidents reference.
type Stream struct {
	Key          string    `json:"stream_key"`
	Title        string    `json:"title"`
	SubTitle     string    `json:"sub_title"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ParseKey validates a stream key and returns its canonical form.
func ParseKey(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", ErrInvalidKey
	}
	parsed, err := uuid.Parse(value)
	if err != nil {
		return "", ErrInvalidKey
	}
	return parsed.String(), nil
}

// ValidStatus reports whether status is a known value.
func ValidStatus(status Status) bool {
	return status == StatusIdle || status == StatusLive
}

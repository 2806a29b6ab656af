package incidents

import (
	"fmt"
	"time"
)

// Type is the closed set of detections the streaming worker reports.
type Type string

const (
	TypeNonSafetyHelmet      Type = "NON_SAFETY_HELMET"
	TypeNonSafetyVest        Type = "NON_SAFETY_VEST"
	TypeUsePhoneWhileWorking Type = "USE_PHONE_WHILE_WORKING"
	TypeFall                 Type = "FALL"
	TypeSOSRequest           Type = "SOS_REQUEST"
)

// Level is the severity derived from an incident type. Persisted as 1..3.
type Level int

const (
	LevelLow    Level = 1
	LevelMedium Level = 2
	LevelHigh   Level = 3
)

// String returns the level label.
func (l Level) String() string {
	switch l {
	case LevelLow:
		return "LOW"
	case LevelMedium:
		return "MEDIUM"
	case LevelHigh:
		return "HIGH"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// MarshalText renders the level label in JSON.
func (l Level) MarshalText() ([]byte, error) {
	switch l {
	case LevelLow, LevelMedium, LevelHigh:
		return []byte(l.String()), nil
	default:
		return nil, fmt.Errorf("incident: invalid level %d", int(l))
	}
}

// UnmarshalText parses a level label.
func (l *Level) UnmarshalText(text []byte) error {
	switch string(text) {
	case "LOW":
		*l = LevelLow
	case "MEDIUM":
		*l = LevelMedium
	case "HIGH":
		*l = LevelHigh
	default:
		return fmt.Errorf("incident: invalid level %q", string(text))
	}
	return nil
}

// Status is the lifecycle state of a persisted incident.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// Incident is a detected safety event on a stream.
type Incident struct {
	ID        int64      `json:"id"`
	StreamKey string     `json:"stream_key"`
	Type      Type       `json:"type"`
	Level     Level      `json:"level"`
	Reason    string     `json:"reason"`
	StartAt   time.Time  `json:"start_at"`
	EndAt     *time.Time `json:"end_at"`
	VideoURL  string     `json:"video_url,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Status reports OPEN until an end instant is recorded.
func (i Incident) Status() Status {
	if i.EndAt == nil {
		return StatusOpen
	}
	return StatusClosed
}

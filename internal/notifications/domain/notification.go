package notifications

import "time"

// Recipient is an operator registered to receive incident pushes.
type Recipient struct {
	ID          int64  `json:"id"`
	PIN         string `json:"-"`
	Name        string `json:"name"`
	DeviceToken string `json:"-"`
}

// Addressable reports whether the recipient has a push address.
func (r Recipient) Addressable() bool {
	return r.DeviceToken != ""
}

// Content is the title and body template pushed for an incident type.
type Content struct {
	Key   string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// DeliveryRecord is the per-recipient outcome of one incident fan-out.
type DeliveryRecord struct {
	ID          int64      `json:"id"`
	RecipientID int64      `json:"user_id"`
	IncidentID  int64      `json:"accident_id"`
	ContentKey  string     `json:"notification_content_id"`
	Sent        bool       `json:"is_sent"`
	ReadAt      *time.Time `json:"readed_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Notification is a delivery record joined with its content.
type Notification struct {
	DeliveryRecord
	Content Content `json:"notification_content"`
}

// Outcome status values.
const (
	OutcomeRecorded = "recorded"
	OutcomePartial  = "partial"
	OutcomeEmpty    = "empty"
)

// Outcome summarizes a committed fan-out.
type Outcome struct {
	IncidentID int64            `json:"accident_id"`
	Recipients int              `json:"recipients"`
	Sent       int              `json:"sent"`
	Failed     int              `json:"failed"`
	Skipped    int              `json:"skipped"`
	CreatedAt  time.Time        `json:"created_at"`
	Records    []DeliveryRecord `json:"-"`
}

// Status classifies the outcome.
func (o Outcome) Status() string {
	if o.Recipients == 0 {
		return OutcomeEmpty
	}
	if o.Failed > 0 || o.Skipped > 0 {
		return OutcomePartial
	}
	return OutcomeRecorded
}

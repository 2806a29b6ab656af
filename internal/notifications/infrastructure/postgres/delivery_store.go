package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	notifapp "safety-cloud/internal/notifications/application"
	notifications "safety-cloud/internal/notifications/domain"
)

// DeliveryStore persists delivery records and read receipts.
type DeliveryStore struct {
	db *sql.DB
}

// NewDeliveryStore constructs a store.
func NewDeliveryStore(db *sql.DB) *DeliveryStore {
	return &DeliveryStore{db: db}
}

// WithinTx runs fn in one transaction, committing only when fn succeeds.
func (s *DeliveryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx notifapp.DispatchTx) error) error {
	if s == nil || s.db == nil {
		return errors.New("delivery store: nil db")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(ctx, &dispatchTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delivery store: commit: %w", err)
	}
	return nil
}

type dispatchTx struct {
	tx *sql.Tx
}

func (t *dispatchTx) GetContent(ctx context.Context, key string) (*notifications.Content, error) {
	row := t.tx.QueryRowContext(ctx, `
SELECT id, title, body
FROM notification_content
WHERE id = $1`, key)
	return scanContent(row)
}

func (t *dispatchTx) ListRecipients(ctx context.Context) ([]notifications.Recipient, error) {
	return listRecipients(ctx, t.tx)
}

func (t *dispatchTx) HasDeliveries(ctx context.Context, incidentID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `
SELECT EXISTS (
	SELECT 1 FROM notification WHERE accident_id = $1
)`, incidentID).Scan(&exists)
	return exists, err
}

func (t *dispatchTx) InsertDeliveries(ctx context.Context, records []notifications.DeliveryRecord) error {
	if len(records) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString(`INSERT INTO notification (user_id, accident_id, notification_content_id, is_sent, created_at) VALUES `)
	args := make([]any, 0, len(records)*5)
	for i, record := range records {
		if i > 0 {
			b.WriteString(", ")
		}
		n := i * 5
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5)
		args = append(args, record.RecipientID, record.IncidentID, record.ContentKey, record.Sent, record.CreatedAt)
	}
	_, err := t.tx.ExecContext(ctx, b.String(), args...)
	return err
}

// MarkAllRead sets readed_at on every unread row of the recipient.
func (s *DeliveryStore) MarkAllRead(ctx context.Context, recipientID int64, at time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("delivery store: nil db")
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE notification
SET readed_at = $2
WHERE user_id = $1 AND readed_at IS NULL`, recipientID, at.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListByRecipient returns a recipient's notifications newest first, joined with content.
func (s *DeliveryStore) ListByRecipient(ctx context.Context, recipientID int64, offset, limit int) ([]notifications.Notification, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("delivery store: nil db")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT n.id, n.user_id, n.accident_id, n.notification_content_id, n.is_sent, n.readed_at, n.created_at,
	c.title, c.body
FROM notification n
JOIN notification_content c ON c.id = n.notification_content_id
WHERE n.user_id = $1
ORDER BY n.created_at DESC, n.id DESC
LIMIT $2 OFFSET $3`, recipientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []notifications.Notification
	for rows.Next() {
		var item notifications.Notification
		var readAt sql.NullTime
		if err := rows.Scan(
			&item.ID,
			&item.RecipientID,
			&item.IncidentID,
			&item.ContentKey,
			&item.Sent,
			&readAt,
			&item.CreatedAt,
			&item.Content.Title,
			&item.Content.Body,
		); err != nil {
			return nil, err
		}
		item.Content.Key = item.ContentKey
		item.CreatedAt = item.CreatedAt.UTC()
		if readAt.Valid {
			at := readAt.Time.UTC()
			item.ReadAt = &at
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CountByRecipient counts a recipient's notifications.
func (s *DeliveryStore) CountByRecipient(ctx context.Context, recipientID int64) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("delivery store: nil db")
	}
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notification WHERE user_id = $1`, recipientID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// ListByIncident returns every delivery record of an incident.
func (s *DeliveryStore) ListByIncident(ctx context.Context, incidentID int64) ([]notifications.DeliveryRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("delivery store: nil db")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, accident_id, notification_content_id, is_sent, readed_at, created_at
FROM notification
WHERE accident_id = $1
ORDER BY id`, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []notifications.DeliveryRecord
	for rows.Next() {
		var record notifications.DeliveryRecord
		var readAt sql.NullTime
		if err := rows.Scan(
			&record.ID,
			&record.RecipientID,
			&record.IncidentID,
			&record.ContentKey,
			&record.Sent,
			&readAt,
			&record.CreatedAt,
		); err != nil {
			return nil, err
		}
		record.CreatedAt = record.CreatedAt.UTC()
		if readAt.Valid {
			at := readAt.Time.UTC()
			record.ReadAt = &at
		}
		result = append(result, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

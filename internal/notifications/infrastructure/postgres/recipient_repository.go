package postgres

import (
	"context"
	"database/sql"
	"errors"

	notifications "safety-cloud/internal/notifications/domain"
)

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// RecipientRepository is a Postgres repository for notification recipients.
type RecipientRepository struct {
	db *sql.DB
}

// NewRecipientRepository constructs a repository.
func NewRecipientRepository(db *sql.DB) *RecipientRepository {
	return &RecipientRepository{db: db}
}

// UpdateDeviceToken stores a push address and reports whether the user exists.
func (r *RecipientRepository) UpdateDeviceToken(ctx context.Context, recipientID int64, token string) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("recipient repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE users
SET device_token = $1
WHERE id = $2`, token, recipientID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func listRecipients(ctx context.Context, q queryer) ([]notifications.Recipient, error) {
	rows, err := q.QueryContext(ctx, `
SELECT id, pin, name, device_token
FROM users
ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []notifications.Recipient
	for rows.Next() {
		var recipient notifications.Recipient
		var token sql.NullString
		if err := rows.Scan(&recipient.ID, &recipient.PIN, &recipient.Name, &token); err != nil {
			return nil, err
		}
		if token.Valid {
			recipient.DeviceToken = token.String
		}
		result = append(result, recipient)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

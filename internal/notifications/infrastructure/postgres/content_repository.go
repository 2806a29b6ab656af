package postgres

import (
	"context"
	"database/sql"
	"errors"

	notifications "safety-cloud/internal/notifications/domain"
)

// ContentRepository is a Postgres repository for notification contents.
type ContentRepository struct {
	db *sql.DB
}

// NewContentRepository constructs a repository.
func NewContentRepository(db *sql.DB) *ContentRepository {
	return &ContentRepository{db: db}
}

// Seed upserts the given contents in one transaction.
func (r *ContentRepository) Seed(ctx context.Context, contents []notifications.Content) error {
	if r == nil || r.db == nil {
		return errors.New("content repo: nil db")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, content := range contents {
		if content.Key == "" {
			_ = tx.Rollback()
			return errors.New("content repo: missing key")
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO notification_content (id, title, body)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, body = EXCLUDED.body`,
			content.Key, content.Title, content.Body)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

type contentScanner interface {
	Scan(dest ...any) error
}

func scanContent(row contentScanner) (*notifications.Content, error) {
	var content notifications.Content
	if err := row.Scan(&content.Key, &content.Title, &content.Body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &content, nil
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	streams "safety-cloud/internal/streams/domain"
)

// StreamRepository is a Postgres repository for streams.
type StreamRepository struct {
	db *sql.DB
}

// NewStreamRepository constructs a repository.
func NewStreamRepository(db *sql.DB) *StreamRepository {
	return &StreamRepository{db: db}
}

// Get fetches a stream by key. A missing stream returns nil without error.
func (r *StreamRepository) Get(ctx context.Context, key string) (*streams.Stream, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("stream repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT stream_key, title, sub_title, thumbnail_url, status, created_at, updated_at
FROM stream
WHERE stream_key = $1`, key)
	return scanStream(row)
}

// List returns all streams ordered by title.
func (r *StreamRepository) List(ctx context.Context) ([]streams.Stream, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("stream repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT stream_key, title, sub_title, thumbnail_url, status, created_at, updated_at
FROM stream
ORDER BY title, stream_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []streams.Stream
	for rows.Next() {
		stream, err := scanStream(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *stream)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// SetStatus updates the stream status and reports whether a row matched.
func (r *StreamRepository) SetStatus(ctx context.Context, key string, status streams.Status, at time.Time) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("stream repo: nil db")
	}
	if !streams.ValidStatus(status) {
		return false, errors.New("stream repo: invalid status")
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE stream
SET status = $1, updated_at = $2
WHERE stream_key = $3`, string(status), at.UTC(), key)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Save upserts a stream record.
func (r *StreamRepository) Save(ctx context.Context, stream *streams.Stream) error {
	if r == nil || r.db == nil {
		return errors.New("stream repo: nil db")
	}
	if stream == nil || stream.Key == "" {
		return errors.New("stream repo: missing stream key")
	}
	if stream.Status == "" {
		stream.Status = streams.StatusIdle
	}
	now := time.Now().UTC()
	if stream.CreatedAt.IsZero() {
		stream.CreatedAt = now
	}
	stream.UpdatedAt = now
	_, err := r.db.ExecContext(ctx, `
INSERT INTO stream (stream_key, title, sub_title, thumbnail_url, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (stream_key) DO UPDATE SET
	title = EXCLUDED.title,
	sub_title = EXCLUDED.sub_title,
	thumbnail_url = EXCLUDED.thumbnail_url,
	status = EXCLUDED.status,
	updated_at = EXCLUDED.updated_at`,
		stream.Key,
		stream.Title,
		stream.SubTitle,
		nullableString(stream.ThumbnailURL),
		string(stream.Status),
		stream.CreatedAt,
		stream.UpdatedAt,
	)
	return err
}

type streamScanner interface {
	Scan(dest ...any) error
}

func scanStream(row streamScanner) (*streams.Stream, error) {
	var stream streams.Stream
	var thumbnail sql.NullString
	var status string
	if err := row.Scan(
		&stream.Key,
		&stream.Title,
		&stream.SubTitle,
		&thumbnail,
		&status,
		&stream.CreatedAt,
		&stream.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	stream.Status = streams.Status(status)
	stream.CreatedAt = stream.CreatedAt.UTC()
	stream.UpdatedAt = stream.UpdatedAt.UTC()
	if thumbnail.Valid {
		stream.ThumbnailURL = thumbnail.String
	}
	return &stream, nil
}

func nullableString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	incidents "safety-cloud/internal/incidents/domain"
)

const incidentColumns = `id, stream_key, type, level, reason, start_at, end_at, video_url, created_at, updated_at`

// IncidentRepository is a Postgres repository for incidents.
type IncidentRepository struct {
	db *sql.DB
}

// NewIncidentRepository constructs a repository.
func NewIncidentRepository(db *sql.DB) *IncidentRepository {
	return &IncidentRepository{db: db}
}

// Create inserts an open incident and assigns its id.
func (r *IncidentRepository) Create(ctx context.Context, incident *incidents.Incident) error {
	if r == nil || r.db == nil {
		return errors.New("incident repo: nil db")
	}
	if incident == nil {
		return errors.New("incident repo: nil incident")
	}
	return r.db.QueryRowContext(ctx, `
INSERT INTO accident (stream_key, type, level, reason, start_at, end_at, video_url, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NULL, $6, $7, $8)
RETURNING id`,
		incident.StreamKey,
		string(incident.Type),
		int(incident.Level),
		incident.Reason,
		incident.StartAt.UTC(),
		nullableString(incident.VideoURL),
		incident.CreatedAt.UTC(),
		incident.UpdatedAt.UTC(),
	).Scan(&incident.ID)
}

// GetByID fetches an incident. A missing incident returns nil without error.
func (r *IncidentRepository) GetByID(ctx context.Context, id int64) (*incidents.Incident, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("incident repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM accident WHERE id = $1`, id)
	return scanIncident(row)
}

// UpdateEnd sets end_at and the evidence reference, reporting whether a row matched.
func (r *IncidentRepository) UpdateEnd(ctx context.Context, id int64, endAt time.Time, videoURL string, updatedAt time.Time) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("incident repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE accident
SET end_at = $1, video_url = $2, updated_at = $3
WHERE id = $4`, endAt.UTC(), nullableString(videoURL), updatedAt.UTC(), id)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// List returns a page of incidents ordered by start_at descending.
func (r *IncidentRepository) List(ctx context.Context, offset, limit int) ([]incidents.Incident, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("incident repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+incidentColumns+`
FROM accident
ORDER BY start_at DESC, id DESC
LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectIncidents(rows)
}

// Count returns the number of incidents.
func (r *IncidentRepository) Count(ctx context.Context) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("incident repo: nil db")
	}
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accident`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// ListBetween returns incidents with start_at in [from, to], oldest first.
func (r *IncidentRepository) ListBetween(ctx context.Context, from, to time.Time) ([]incidents.Incident, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("incident repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+incidentColumns+`
FROM accident
WHERE start_at >= $1 AND start_at <= $2
ORDER BY start_at ASC, id ASC`, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	return collectIncidents(rows)
}

// ListByStream returns the incidents of one stream ordered by start_at descending.
func (r *IncidentRepository) ListByStream(ctx context.Context, streamKey string) ([]incidents.Incident, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("incident repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+incidentColumns+`
FROM accident
WHERE stream_key = $1
ORDER BY start_at DESC, id DESC`, streamKey)
	if err != nil {
		return nil, err
	}
	return collectIncidents(rows)
}

func collectIncidents(rows *sql.Rows) ([]incidents.Incident, error) {
	defer rows.Close()
	var result []incidents.Incident
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *incident)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type incidentScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row incidentScanner) (*incidents.Incident, error) {
	var incident incidents.Incident
	var incidentType string
	var level int
	var endAt sql.NullTime
	var videoURL sql.NullString
	if err := row.Scan(
		&incident.ID,
		&incident.StreamKey,
		&incidentType,
		&level,
		&incident.Reason,
		&incident.StartAt,
		&endAt,
		&videoURL,
		&incident.CreatedAt,
		&incident.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	incident.Type = incidents.Type(incidentType)
	incident.Level = incidents.Level(level)
	incident.StartAt = incident.StartAt.UTC()
	incident.CreatedAt = incident.CreatedAt.UTC()
	incident.UpdatedAt = incident.UpdatedAt.UTC()
	if endAt.Valid {
		end := endAt.Time.UTC()
		incident.EndAt = &end
	}
	if videoURL.Valid {
		incident.VideoURL = videoURL.String
	}
	return &incident, nil
}

func nullableString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"quotepulse-backend/internal/models"
)

type ActivityRepo struct {
	pool *pgxpool.Pool
}

func NewActivityRepo(pool *pgxpool.Pool) *ActivityRepo {
	return &ActivityRepo{pool: pool}
}

// Create inserts a record. A nil ID is replaced with a fresh one.
func (r *ActivityRepo) Create(ctx context.Context, a *models.ActivityRecord) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	data := a.EventData
	if len(data) == 0 {
		data = []byte("{}")
	}

	query := `INSERT INTO quote_activities (id, quote_id, session_id, event_type, event_data, device_type,
			browser_name, os_name, page_load_time_ms, client_seq, ip_address, country, city, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14) RETURNING created_at`

	return r.pool.QueryRow(ctx, query,
		a.ID, a.QuoteID, a.SessionID, a.EventType, data, a.DeviceType,
		a.BrowserName, a.OSName, a.PageLoadTime, a.ClientSeq, a.IPAddress, a.Country, a.City, a.UserAgent,
	).Scan(&a.CreatedAt)
}

// ListRecent returns the newest records for a quote, most recent first.
func (r *ActivityRepo) ListRecent(ctx context.Context, quoteID string, limit int) ([]models.ActivityRecord, error) {
	query := `SELECT id, quote_id, session_id, event_type, event_data, device_type, browser_name, os_name,
			page_load_time_ms, client_seq, ip_address, country, city, user_agent, created_at
		FROM quote_activities WHERE quote_id = $1
		ORDER BY created_at DESC, id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, quoteID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	activities := []models.ActivityRecord{}
	for rows.Next() {
		var a models.ActivityRecord
		if err := rows.Scan(
			&a.ID, &a.QuoteID, &a.SessionID, &a.EventType, &a.EventData, &a.DeviceType, &a.BrowserName, &a.OSName,
			&a.PageLoadTime, &a.ClientSeq, &a.IPAddress, &a.Country, &a.City, &a.UserAgent, &a.CreatedAt,
		); err != nil {
			return nil, err
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

// ActiveSessions summarises sessions whose latest event is newer than since
// and is not page_close.
func (r *ActivityRepo) ActiveSessions(ctx context.Context, quoteID string, since time.Time) ([]models.ActiveSession, error) {
	query := `SELECT session_id, device_type, browser_name, event_type, first_seen, last_seen, event_count, country
		FROM (
			SELECT DISTINCT ON (session_id)
				session_id, device_type, browser_name, event_type, country,
				created_at AS last_seen,
				MIN(created_at) OVER (PARTITION BY session_id) AS first_seen,
				COUNT(*) OVER (PARTITION BY session_id) AS event_count
			FROM quote_activities
			WHERE quote_id = $1
			ORDER BY session_id, created_at DESC
		) latest
		WHERE last_seen >= $2 AND event_type <> 'page_close'
		ORDER BY last_seen DESC`

	rows, err := r.pool.Query(ctx, query, quoteID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []models.ActiveSession{}
	for rows.Next() {
		var s models.ActiveSession
		if err := rows.Scan(
			&s.SessionID, &s.DeviceType, &s.BrowserName, &s.LastEventType,
			&s.FirstSeenAt, &s.LastSeenAt, &s.EventCount, &s.Country,
		); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// DeleteOlderThan removes records created before cutoff.
func (r *ActivityRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, "DELETE FROM quote_activities WHERE created_at < $1", cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

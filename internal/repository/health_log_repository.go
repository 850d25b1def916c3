package repository

import (
	"context"
	"database/sql"
	"time"

	"arbitrage-core/internal/domain"
)

// HealthLogRepository is the append-only store backing
// health.HealthLogWriter: one row per status transition, never updated or
// deleted.
type HealthLogRepository struct {
	db *sql.DB
}

// NewHealthLogRepository wires a repository over an open database handle.
func NewHealthLogRepository(db *sql.DB) *HealthLogRepository {
	return &HealthLogRepository{db: db}
}

// InsertHealthTransition appends one row. Satisfies health.HealthLogWriter.
func (r *HealthLogRepository) InsertHealthTransition(venue domain.Venue, status domain.HealthStatus, reason string, at time.Time) error {
	query := `INSERT INTO health_log (venue, status, reason, at) VALUES ($1, $2, $3, $4)`
	_, err := r.db.ExecContext(context.Background(), query, venue, status, reason, at)
	return err
}

// ListRecent returns the most recent transitions for a venue, newest
// first, for operator dashboards.
func (r *HealthLogRepository) ListRecent(ctx context.Context, venue domain.Venue, limit int) ([]HealthTransition, error) {
	query := `SELECT venue, status, reason, at FROM health_log WHERE venue = $1 ORDER BY at DESC LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, venue, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transitions []HealthTransition
	for rows.Next() {
		var t HealthTransition
		if err := rows.Scan(&t.Venue, &t.Status, &t.Reason, &t.At); err != nil {
			return nil, err
		}
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}

// HealthTransition is one row of the append-only health log.
type HealthTransition struct {
	Venue  domain.Venue
	Status domain.HealthStatus
	Reason string
	At     time.Time
}

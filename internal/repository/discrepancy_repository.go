package repository

import (
	"context"
	"database/sql"

	"arbitrage-core/internal/domain"
)

// DiscrepancyRepository is the append-only store for
// domain.ReconciliationDiscrepancy records, backing
// reconciliation.DiscrepancyRecorder.
type DiscrepancyRepository struct {
	db *sql.DB
}

// NewDiscrepancyRepository wires a repository over an open database handle.
func NewDiscrepancyRepository(db *sql.DB) *DiscrepancyRepository {
	return &DiscrepancyRepository{db: db}
}

// InsertDiscrepancy appends one discrepancy row.
func (r *DiscrepancyRepository) InsertDiscrepancy(ctx context.Context, d domain.ReconciliationDiscrepancy) error {
	query := `
		INSERT INTO reconciliation_discrepancies (position_id, pair_id, kind, local_state, venue_state, recommended_action, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query, d.PositionID, d.PairID, d.Kind, d.LocalState, d.VenueState, d.RecommendedAction, d.DetectedAt)
	return err
}

// ListOpen returns discrepancies whose owning position is still
// RECONCILIATION_REQUIRED, for the GET /reconciliation/status surface.
func (r *DiscrepancyRepository) ListOpen(ctx context.Context) ([]domain.ReconciliationDiscrepancy, error) {
	query := `
		SELECT d.position_id, d.pair_id, d.kind, d.local_state, d.venue_state, d.recommended_action, d.detected_at
		FROM reconciliation_discrepancies d
		JOIN positions p ON p.position_id = d.position_id
		WHERE p.status = $1
		ORDER BY d.detected_at DESC`

	rows, err := r.db.QueryContext(ctx, query, domain.PositionReconciliationNeeded)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var discrepancies []domain.ReconciliationDiscrepancy
	for rows.Next() {
		var d domain.ReconciliationDiscrepancy
		if err := rows.Scan(&d.PositionID, &d.PairID, &d.Kind, &d.LocalState, &d.VenueState, &d.RecommendedAction, &d.DetectedAt); err != nil {
			return nil, err
		}
		discrepancies = append(discrepancies, d)
	}
	return discrepancies, rows.Err()
}

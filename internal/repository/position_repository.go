package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	jsoniter "github.com/json-iterator/go"

	"arbitrage-core/internal/domain"
)

// ErrPositionNotFound is returned when a lookup finds no matching row.
var ErrPositionNotFound = errors.New("position not found")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PositionRepository is the Postgres-backed store for domain.Position.
// The three per-venue maps (side, entry price, size) are stored as JSONB
// columns, encoded with json-iterator for the same reason the rest of the
// engine prefers it over encoding/json on the hot paths: it is a drop-in
// substitute with lower allocation overhead on repeated small payloads.
type PositionRepository struct {
	db *sql.DB
}

// NewPositionRepository wires a repository over an open database handle.
func NewPositionRepository(db *sql.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// InsertPosition persists a newly created position. Satisfies
// execution.PositionRepository.
func (r *PositionRepository) InsertPosition(ctx context.Context, p domain.Position) error {
	sidePerVenue, err := json.Marshal(p.SidePerVenue)
	if err != nil {
		return err
	}
	entryPerVenue, err := json.Marshal(p.EntryPricePerVenue)
	if err != nil {
		return err
	}
	sizePerVenue, err := json.Marshal(p.SizePerVenue)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO positions (position_id, pair_id, primary_order_ref, secondary_order_ref,
			exit_primary_order_ref, exit_secondary_order_ref, side_per_venue, entry_price_per_venue,
			size_per_venue, expected_edge, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = r.db.ExecContext(ctx, query,
		p.PositionID, p.PairID, p.PrimaryOrderRef, p.SecondaryOrderRef,
		p.ExitPrimaryOrderRef, p.ExitSecondaryOrderRef, sidePerVenue, entryPerVenue,
		sizePerVenue, p.ExpectedEdge, p.Status, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

// UpdatePosition persists a position mutation. Satisfies
// execution.PositionStore, exit.PositionRepository and
// reconciliation.PositionUpdater — each owns a different subset of
// transitions but all three write through this one call, per the
// single-persistence-call-per-mutation rule every position transition
// observes.
func (r *PositionRepository) UpdatePosition(ctx context.Context, p domain.Position) error {
	sidePerVenue, err := json.Marshal(p.SidePerVenue)
	if err != nil {
		return err
	}
	entryPerVenue, err := json.Marshal(p.EntryPricePerVenue)
	if err != nil {
		return err
	}
	sizePerVenue, err := json.Marshal(p.SizePerVenue)
	if err != nil {
		return err
	}

	query := `
		UPDATE positions
		SET primary_order_ref = $1, secondary_order_ref = $2, exit_primary_order_ref = $3,
			exit_secondary_order_ref = $4, side_per_venue = $5, entry_price_per_venue = $6,
			size_per_venue = $7, expected_edge = $8, status = $9, updated_at = $10
		WHERE position_id = $11`

	result, err := r.db.ExecContext(ctx, query,
		p.PrimaryOrderRef, p.SecondaryOrderRef, p.ExitPrimaryOrderRef, p.ExitSecondaryOrderRef,
		sidePerVenue, entryPerVenue, sizePerVenue, p.ExpectedEdge, p.Status, p.UpdatedAt, p.PositionID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrPositionNotFound
	}
	return nil
}

// GetPosition returns a position by id. Satisfies execution.PositionStore
// and reconciliation.PositionGetter.
func (r *PositionRepository) GetPosition(ctx context.Context, positionID string) (domain.Position, error) {
	query := `
		SELECT position_id, pair_id, primary_order_ref, secondary_order_ref, exit_primary_order_ref,
			exit_secondary_order_ref, side_per_venue, entry_price_per_venue, size_per_venue,
			expected_edge, status, created_at, updated_at
		FROM positions
		WHERE position_id = $1`

	var p domain.Position
	var sidePerVenue, entryPerVenue, sizePerVenue []byte
	err := r.db.QueryRowContext(ctx, query, positionID).Scan(
		&p.PositionID, &p.PairID, &p.PrimaryOrderRef, &p.SecondaryOrderRef, &p.ExitPrimaryOrderRef,
		&p.ExitSecondaryOrderRef, &sidePerVenue, &entryPerVenue, &sizePerVenue,
		&p.ExpectedEdge, &p.Status, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Position{}, ErrPositionNotFound
		}
		return domain.Position{}, err
	}
	if err := unmarshalVenueMaps(&p, sidePerVenue, entryPerVenue, sizePerVenue); err != nil {
		return domain.Position{}, err
	}
	return p, nil
}

// ListOpenPositions returns every position in OPEN status. Satisfies
// exit.OpenPositionLister.
func (r *PositionRepository) ListOpenPositions(ctx context.Context) ([]domain.Position, error) {
	return r.findByStatus(ctx, domain.PositionOpen)
}

// ListExposedPositions returns every SINGLE_LEG_EXPOSED and EXIT_PARTIAL
// position. Satisfies execution.ExposedPositionLister.
func (r *PositionRepository) ListExposedPositions(ctx context.Context) ([]domain.Position, error) {
	query := `
		SELECT position_id, pair_id, primary_order_ref, secondary_order_ref, exit_primary_order_ref,
			exit_secondary_order_ref, side_per_venue, entry_price_per_venue, size_per_venue,
			expected_edge, status, created_at, updated_at
		FROM positions
		WHERE status IN ($1, $2)
		ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, domain.PositionSingleLegExposed, domain.PositionExitPartial)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

// ListActivePositions returns every position in a non-terminal state.
// Satisfies reconciliation.PositionLister.
func (r *PositionRepository) ListActivePositions(ctx context.Context) ([]domain.Position, error) {
	query := `
		SELECT position_id, pair_id, primary_order_ref, secondary_order_ref, exit_primary_order_ref,
			exit_secondary_order_ref, side_per_venue, entry_price_per_venue, size_per_venue,
			expected_edge, status, created_at, updated_at
		FROM positions
		WHERE status IN ($1, $2, $3, $4)
		ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query,
		domain.PositionOpen, domain.PositionSingleLegExposed, domain.PositionExitPartial, domain.PositionReconciliationNeeded)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

func (r *PositionRepository) findByStatus(ctx context.Context, status domain.PositionStatus) ([]domain.Position, error) {
	query := `
		SELECT position_id, pair_id, primary_order_ref, secondary_order_ref, exit_primary_order_ref,
			exit_secondary_order_ref, side_per_venue, entry_price_per_venue, size_per_venue,
			expected_edge, status, created_at, updated_at
		FROM positions
		WHERE status = $1
		ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

func scanPositions(rows *sql.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		var sidePerVenue, entryPerVenue, sizePerVenue []byte
		if err := rows.Scan(
			&p.PositionID, &p.PairID, &p.PrimaryOrderRef, &p.SecondaryOrderRef, &p.ExitPrimaryOrderRef,
			&p.ExitSecondaryOrderRef, &sidePerVenue, &entryPerVenue, &sizePerVenue,
			&p.ExpectedEdge, &p.Status, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if err := unmarshalVenueMaps(&p, sidePerVenue, entryPerVenue, sizePerVenue); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func unmarshalVenueMaps(p *domain.Position, sidePerVenue, entryPerVenue, sizePerVenue []byte) error {
	if err := json.Unmarshal(sidePerVenue, &p.SidePerVenue); err != nil {
		return err
	}
	if err := json.Unmarshal(entryPerVenue, &p.EntryPricePerVenue); err != nil {
		return err
	}
	return json.Unmarshal(sizePerVenue, &p.SizePerVenue)
}

// ListHistoricalExposureTimestamps returns the detection time of every
// position that ever reached SINGLE_LEG_EXPOSED, for ExposureTracker's
// startup rebuild. Satisfies exposure.HistoricalPositionSource.
func (r *PositionRepository) ListHistoricalExposureTimestamps(ctx context.Context) ([]time.Time, error) {
	query := `
		SELECT created_at FROM positions
		WHERE status = $1 OR exit_primary_order_ref IS NOT NULL OR exit_secondary_order_ref IS NOT NULL
		ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, domain.PositionSingleLegExposed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var timestamps []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		timestamps = append(timestamps, t)
	}
	return timestamps, rows.Err()
}

package repository

import (
	"context"
	"database/sql"
	"errors"

	"arbitrage-core/internal/domain"
)

// ErrPairNotFound is returned when a lookup finds no matching row.
var ErrPairNotFound = errors.New("pair not found")

// PairRepository is the Postgres-backed store for the static linkage
// between two venue contracts that resolve to the same underlying event.
type PairRepository struct {
	db *sql.DB
}

// NewPairRepository wires a repository over an open database handle.
func NewPairRepository(db *sql.DB) *PairRepository {
	return &PairRepository{db: db}
}

// GetPair returns a pair by id. Satisfies exit.PairLookup.
func (r *PairRepository) GetPair(ctx context.Context, pairID int) (domain.Pair, error) {
	query := `
		SELECT pair_id, symbol, contract_a, contract_b, primary_leg, resolution_at
		FROM pairs
		WHERE pair_id = $1`

	var p domain.Pair
	err := r.db.QueryRowContext(ctx, query, pairID).Scan(
		&p.PairID, &p.Symbol, &p.ContractA, &p.ContractB, &p.PrimaryLeg, &p.ResolutionAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Pair{}, ErrPairNotFound
		}
		return domain.Pair{}, err
	}
	return p, nil
}

// ListAll returns every configured pair.
func (r *PairRepository) ListAll(ctx context.Context) ([]domain.Pair, error) {
	query := `SELECT pair_id, symbol, contract_a, contract_b, primary_leg, resolution_at FROM pairs ORDER BY pair_id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []domain.Pair
	for rows.Next() {
		var p domain.Pair
		if err := rows.Scan(&p.PairID, &p.Symbol, &p.ContractA, &p.ContractB, &p.PrimaryLeg, &p.ResolutionAt); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// Create inserts a new pair linkage, returning the assigned PairID.
func (r *PairRepository) Create(ctx context.Context, p domain.Pair) (int, error) {
	query := `
		INSERT INTO pairs (symbol, contract_a, contract_b, primary_leg, resolution_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING pair_id`

	var id int
	err := r.db.QueryRowContext(ctx, query, p.Symbol, p.ContractA, p.ContractB, p.PrimaryLeg, p.ResolutionAt).Scan(&id)
	return id, err
}

// Delete removes a pair linkage.
func (r *PairRepository) Delete(ctx context.Context, pairID int) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM pairs WHERE pair_id = $1`, pairID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrPairNotFound
	}
	return nil
}

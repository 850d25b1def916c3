package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"arbitrage-core/internal/domain"
)

// ErrOrderNotFound is returned when a lookup finds no matching row.
var ErrOrderNotFound = errors.New("order not found")

// OrderRepository is the Postgres-backed store for domain.PersistedOrder.
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository wires a repository over an open database handle.
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// InsertOrder persists a newly submitted order. Satisfies
// execution.OrderRepository and exit.OrderRepository.
func (r *OrderRepository) InsertOrder(ctx context.Context, o domain.PersistedOrder) error {
	query := `
		INSERT INTO orders (order_id, venue, contract_id, pair_id, side, price, size, status, fill_price, fill_size, is_paper, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.ExecContext(ctx, query,
		o.OrderID, o.Venue, o.ContractID, o.PairID, o.Side, o.Price, o.Size, o.Status,
		o.FillPrice, o.FillSize, o.IsPaper, o.CreatedAt, o.UpdatedAt,
	)
	return err
}

// GetOrder returns an order by its venue-facing id. Satisfies
// reconciliation.OrderLookup.
func (r *OrderRepository) GetOrder(ctx context.Context, orderID string) (domain.PersistedOrder, error) {
	query := `
		SELECT order_id, venue, contract_id, pair_id, side, price, size, status, fill_price, fill_size, is_paper, created_at, updated_at
		FROM orders
		WHERE order_id = $1`

	var o domain.PersistedOrder
	err := r.db.QueryRowContext(ctx, query, orderID).Scan(
		&o.OrderID, &o.Venue, &o.ContractID, &o.PairID, &o.Side, &o.Price, &o.Size, &o.Status,
		&o.FillPrice, &o.FillSize, &o.IsPaper, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PersistedOrder{}, ErrOrderNotFound
		}
		return domain.PersistedOrder{}, err
	}
	return o, nil
}

// FindByPairID returns every order recorded against a pair, most recent
// first.
func (r *OrderRepository) FindByPairID(ctx context.Context, pairID int) ([]domain.PersistedOrder, error) {
	query := `
		SELECT order_id, venue, contract_id, pair_id, side, price, size, status, fill_price, fill_size, is_paper, created_at, updated_at
		FROM orders
		WHERE pair_id = $1
		ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, pairID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

// UpdateStatus transitions an order's status and updated_at. fillPrice is
// accepted but not written; the stored fill columns are left unchanged.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, status domain.PersistedOrderStatus, fillPrice *float64, at time.Time) error {
	query := `
		UPDATE orders
		SET status = $1, updated_at = $2
		WHERE order_id = $3`

	result, err := r.db.ExecContext(ctx, query, status, at, orderID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// FindPendingOrders returns every order still PENDING, filtered by
// paper/live mode.
func (r *OrderRepository) FindPendingOrders(ctx context.Context, isPaper bool) ([]domain.PersistedOrder, error) {
	query := `
		SELECT order_id, venue, contract_id, pair_id, side, price, size, status, fill_price, fill_size, is_paper, created_at, updated_at
		FROM orders
		WHERE status = $1 AND is_paper = $2
		ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, domain.PersistedPending, isPaper)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func scanOrders(rows *sql.Rows) ([]domain.PersistedOrder, error) {
	var orders []domain.PersistedOrder
	for rows.Next() {
		var o domain.PersistedOrder
		if err := rows.Scan(
			&o.OrderID, &o.Venue, &o.ContractID, &o.PairID, &o.Side, &o.Price, &o.Size, &o.Status,
			&o.FillPrice, &o.FillSize, &o.IsPaper, &o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

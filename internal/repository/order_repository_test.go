package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	"arbitrage-core/internal/domain"
)

func TestNewOrderRepository(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewOrderRepository(db)
	if repo == nil {
		t.Fatal("expected non-nil repository")
	}
}

func TestOrderRepositoryInsertOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	order := domain.PersistedOrder{
		OrderID: "A-1", Venue: domain.VenueA, ContractID: "contract-a", PairID: 1,
		Side: domain.SideBuy, Price: decimal.RequireFromString("0.45"), Size: 100,
		Status: domain.PersistedFilled, IsPaper: true, CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectExec(`INSERT INTO orders`).
		WithArgs(order.OrderID, order.Venue, order.ContractID, order.PairID, order.Side, order.Price, order.Size,
			order.Status, order.FillPrice, order.FillSize, order.IsPaper, order.CreatedAt, order.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	repo := NewOrderRepository(db)
	if err := repo.InsertOrder(context.Background(), order); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOrderRepositoryInsertOrderPropagatesError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	order := domain.PersistedOrder{OrderID: "A-2", CreatedAt: now, UpdatedAt: now}

	mock.ExpectExec(`INSERT INTO orders`).WillReturnError(errors.New("connection reset"))

	repo := NewOrderRepository(db)
	if err := repo.InsertOrder(context.Background(), order); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestOrderRepositoryGetOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"order_id", "venue", "contract_id", "pair_id", "side", "price", "size", "status",
		"fill_price", "fill_size", "is_paper", "created_at", "updated_at",
	}).AddRow("A-1", domain.VenueA, "contract-a", 1, domain.SideBuy, "0.45", 100,
		domain.PersistedFilled, nil, nil, true, now, now)

	mock.ExpectQuery(`SELECT order_id, venue, contract_id, pair_id, side, price, size, status, fill_price, fill_size, is_paper, created_at, updated_at\s+FROM orders\s+WHERE order_id = \$1`).
		WithArgs("A-1").
		WillReturnRows(rows)

	repo := NewOrderRepository(db)
	got, err := repo.GetOrder(context.Background(), "A-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.OrderID != "A-1" || got.PairID != 1 {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestOrderRepositoryGetOrderNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT order_id, venue, contract_id, pair_id, side, price, size, status, fill_price, fill_size, is_paper, created_at, updated_at\s+FROM orders\s+WHERE order_id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	repo := NewOrderRepository(db)
	_, err = repo.GetOrder(context.Background(), "missing")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepositoryUpdateStatusNoRowsReturnsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`UPDATE orders`).
		WithArgs(domain.PersistedFilled, sqlmock.AnyArg(), "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewOrderRepository(db)
	err = repo.UpdateStatus(context.Background(), "missing", domain.PersistedFilled, nil, time.Now())
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepositoryFindPendingOrders(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"order_id", "venue", "contract_id", "pair_id", "side", "price", "size", "status",
		"fill_price", "fill_size", "is_paper", "created_at", "updated_at",
	}).AddRow("A-1", domain.VenueA, "contract-a", 1, domain.SideBuy, "0.45", 100,
		domain.PersistedPending, nil, nil, true, now, now)

	mock.ExpectQuery(`SELECT order_id, venue, contract_id, pair_id, side, price, size, status, fill_price, fill_size, is_paper, created_at, updated_at\s+FROM orders\s+WHERE status = \$1 AND is_paper = \$2`).
		WithArgs(domain.PersistedPending, true).
		WillReturnRows(rows)

	repo := NewOrderRepository(db)
	got, err := repo.FindPendingOrders(context.Background(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Status != domain.PersistedPending {
		t.Fatalf("unexpected result: %+v", got)
	}
}

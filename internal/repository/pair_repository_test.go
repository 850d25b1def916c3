package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"arbitrage-core/internal/domain"
)

func TestPairRepositoryGetPair(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	resolutionAt := time.Now().Add(24 * time.Hour)
	rows := sqlmock.NewRows([]string{"pair_id", "symbol", "contract_a", "contract_b", "primary_leg", "resolution_at"}).
		AddRow(1, "WILL-X-WIN", "contract-a", "contract-b", domain.VenueA, resolutionAt)

	mock.ExpectQuery(`SELECT pair_id, symbol, contract_a, contract_b, primary_leg, resolution_at\s+FROM pairs\s+WHERE pair_id = \$1`).
		WithArgs(1).
		WillReturnRows(rows)

	repo := NewPairRepository(db)
	got, err := repo.GetPair(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Symbol != "WILL-X-WIN" || got.PrimaryLeg != domain.VenueA {
		t.Fatalf("unexpected pair: %+v", got)
	}
}

func TestPairRepositoryGetPairNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT pair_id, symbol, contract_a, contract_b, primary_leg, resolution_at\s+FROM pairs\s+WHERE pair_id = \$1`).
		WithArgs(99).
		WillReturnError(sql.ErrNoRows)

	repo := NewPairRepository(db)
	_, err = repo.GetPair(context.Background(), 99)
	if !errors.Is(err, ErrPairNotFound) {
		t.Fatalf("expected ErrPairNotFound, got %v", err)
	}
}

func TestPairRepositoryCreate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	p := domain.Pair{Symbol: "WILL-X-WIN", ContractA: "contract-a", ContractB: "contract-b", PrimaryLeg: domain.VenueA}

	mock.ExpectQuery(`INSERT INTO pairs`).
		WithArgs(p.Symbol, p.ContractA, p.ContractB, p.PrimaryLeg, p.ResolutionAt).
		WillReturnRows(sqlmock.NewRows([]string{"pair_id"}).AddRow(7))

	repo := NewPairRepository(db)
	id, err := repo.Create(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 7 {
		t.Fatalf("expected id 7, got %d", id)
	}
}

func TestPairRepositoryDeleteNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`DELETE FROM pairs WHERE pair_id = \$1`).
		WithArgs(5).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewPairRepository(db)
	err = repo.Delete(context.Background(), 5)
	if !errors.Is(err, ErrPairNotFound) {
		t.Fatalf("expected ErrPairNotFound, got %v", err)
	}
}

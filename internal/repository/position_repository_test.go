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

func samplePosition() domain.Position {
	now := time.Now()
	return domain.Position{
		PositionID: "pos-1",
		PairID:     1,
		SidePerVenue: map[domain.Venue]domain.Side{
			domain.VenueA: domain.SideBuy,
		},
		EntryPricePerVenue: map[domain.Venue]decimal.Decimal{
			domain.VenueA: decimal.RequireFromString("0.45"),
		},
		SizePerVenue: map[domain.Venue]int64{
			domain.VenueA: 100,
		},
		ExpectedEdge: decimal.RequireFromString("0.02"),
		Status:       domain.PositionOpen,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestPositionRepositoryInsertPosition(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	p := samplePosition()

	mock.ExpectExec(`INSERT INTO positions`).
		WithArgs(p.PositionID, p.PairID, p.PrimaryOrderRef, p.SecondaryOrderRef, p.ExitPrimaryOrderRef,
			p.ExitSecondaryOrderRef, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			p.ExpectedEdge, p.Status, p.CreatedAt, p.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	repo := NewPositionRepository(db)
	if err := repo.InsertPosition(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPositionRepositoryGetPositionRoundTripsVenueMaps(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	p := samplePosition()
	sidePerVenue, _ := json.Marshal(p.SidePerVenue)
	entryPerVenue, _ := json.Marshal(p.EntryPricePerVenue)
	sizePerVenue, _ := json.Marshal(p.SizePerVenue)

	rows := sqlmock.NewRows([]string{
		"position_id", "pair_id", "primary_order_ref", "secondary_order_ref", "exit_primary_order_ref",
		"exit_secondary_order_ref", "side_per_venue", "entry_price_per_venue", "size_per_venue",
		"expected_edge", "status", "created_at", "updated_at",
	}).AddRow(p.PositionID, p.PairID, p.PrimaryOrderRef, p.SecondaryOrderRef, p.ExitPrimaryOrderRef,
		p.ExitSecondaryOrderRef, sidePerVenue, entryPerVenue, sizePerVenue,
		"0.02", p.Status, p.CreatedAt, p.UpdatedAt)

	mock.ExpectQuery(`SELECT position_id, pair_id, primary_order_ref, secondary_order_ref, exit_primary_order_ref,\s+exit_secondary_order_ref, side_per_venue, entry_price_per_venue, size_per_venue,\s+expected_edge, status, created_at, updated_at\s+FROM positions\s+WHERE position_id = \$1`).
		WithArgs(p.PositionID).
		WillReturnRows(rows)

	repo := NewPositionRepository(db)
	got, err := repo.GetPosition(context.Background(), p.PositionID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.SidePerVenue[domain.VenueA] != domain.SideBuy {
		t.Fatalf("expected side map to round trip, got %+v", got.SidePerVenue)
	}
	if got.SizePerVenue[domain.VenueA] != 100 {
		t.Fatalf("expected size map to round trip, got %+v", got.SizePerVenue)
	}
}

func TestPositionRepositoryGetPositionNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT position_id, pair_id, primary_order_ref, secondary_order_ref, exit_primary_order_ref,\s+exit_secondary_order_ref, side_per_venue, entry_price_per_venue, size_per_venue,\s+expected_edge, status, created_at, updated_at\s+FROM positions\s+WHERE position_id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	repo := NewPositionRepository(db)
	_, err = repo.GetPosition(context.Background(), "missing")
	if !errors.Is(err, ErrPositionNotFound) {
		t.Fatalf("expected ErrPositionNotFound, got %v", err)
	}
}

func TestPositionRepositoryUpdatePositionNoRowsReturnsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	p := samplePosition()
	mock.ExpectExec(`UPDATE positions`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewPositionRepository(db)
	err = repo.UpdatePosition(context.Background(), p)
	if !errors.Is(err, ErrPositionNotFound) {
		t.Fatalf("expected ErrPositionNotFound, got %v", err)
	}
}

func TestPositionRepositoryListExposedPositions(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	p := samplePosition()
	p.Status = domain.PositionSingleLegExposed
	sidePerVenue, _ := json.Marshal(p.SidePerVenue)
	entryPerVenue, _ := json.Marshal(p.EntryPricePerVenue)
	sizePerVenue, _ := json.Marshal(p.SizePerVenue)

	rows := sqlmock.NewRows([]string{
		"position_id", "pair_id", "primary_order_ref", "secondary_order_ref", "exit_primary_order_ref",
		"exit_secondary_order_ref", "side_per_venue", "entry_price_per_venue", "size_per_venue",
		"expected_edge", "status", "created_at", "updated_at",
	}).AddRow(p.PositionID, p.PairID, p.PrimaryOrderRef, p.SecondaryOrderRef, p.ExitPrimaryOrderRef,
		p.ExitSecondaryOrderRef, sidePerVenue, entryPerVenue, sizePerVenue,
		"0.02", p.Status, p.CreatedAt, p.UpdatedAt)

	mock.ExpectQuery(`FROM positions\s+WHERE status IN \(\$1, \$2\)`).
		WithArgs(domain.PositionSingleLegExposed, domain.PositionExitPartial).
		WillReturnRows(rows)

	repo := NewPositionRepository(db)
	got, err := repo.ListExposedPositions(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Status != domain.PositionSingleLegExposed {
		t.Fatalf("unexpected result: %+v", got)
	}
}

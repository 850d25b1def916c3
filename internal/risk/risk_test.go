package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestReserveBudgetRejectsOverAvailable(t *testing.T) {
	m := NewInMemoryManager(decimal.NewFromInt(100))
	_, err := m.ReserveBudget("opp-1", decimal.NewFromInt(150), time.Now())
	if err == nil {
		t.Fatal("expected error reserving beyond available budget")
	}
}

func TestReserveCommitReducesAvailablePermanently(t *testing.T) {
	m := NewInMemoryManager(decimal.NewFromInt(100))
	res, err := m.ReserveBudget("opp-1", decimal.NewFromInt(40), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.AvailableBudget().Equal(decimal.NewFromInt(60)) {
		t.Fatalf("expected 60 available after reserve, got %s", m.AvailableBudget())
	}
	if err := m.CommitReservation(res.ReservationID); err != nil {
		t.Fatalf("unexpected commit error: %v", err)
	}
	if !m.AvailableBudget().Equal(decimal.NewFromInt(60)) {
		t.Fatalf("expected 60 available after commit, got %s", m.AvailableBudget())
	}
}

func TestReleaseReservationReturnsCapital(t *testing.T) {
	m := NewInMemoryManager(decimal.NewFromInt(100))
	res, _ := m.ReserveBudget("opp-1", decimal.NewFromInt(40), time.Now())
	if err := m.ReleaseReservation(res.ReservationID); err != nil {
		t.Fatalf("unexpected release error: %v", err)
	}
	if !m.AvailableBudget().Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected full 100 available after release, got %s", m.AvailableBudget())
	}
}

func TestClosePositionFoldsRealizedPnlIntoBudget(t *testing.T) {
	m := NewInMemoryManager(decimal.NewFromInt(100))
	res, _ := m.ReserveBudget("opp-1", decimal.NewFromInt(40), time.Now())
	_ = m.CommitReservation(res.ReservationID)

	m.ClosePosition(decimal.NewFromInt(40), decimal.NewFromInt(5))

	if !m.AvailableBudget().Equal(decimal.NewFromInt(105)) {
		t.Fatalf("expected 105 available after profitable close, got %s", m.AvailableBudget())
	}
}

func TestDoubleCommitFails(t *testing.T) {
	m := NewInMemoryManager(decimal.NewFromInt(100))
	res, _ := m.ReserveBudget("opp-1", decimal.NewFromInt(40), time.Now())
	if err := m.CommitReservation(res.ReservationID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.CommitReservation(res.ReservationID); err == nil {
		t.Fatal("expected error committing an already-committed reservation")
	}
}

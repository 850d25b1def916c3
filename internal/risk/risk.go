// Package risk хранит бюджет капитала, доступный для арбитражных
// возможностей, и выдаёт резервирования ровно под одну возможность за раз.
// Интерфейс и стиль документации унаследованы от RiskManager торгового
// ядра-предшественника (internal/bot/risk.go), адаптированы от маржи
// фьючерсной позиции к капитальному бюджету cross-venue арбитража.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"arbitrage-core/internal/domain"
)

// Manager is the capital-budget reservation authority every opportunity
// must clear before the execution core submits its first leg.
type Manager interface {
	ReserveBudget(opportunityID string, amountUsd decimal.Decimal, now time.Time) (domain.BudgetReservation, error)
	CommitReservation(reservationID string) error
	ReleaseReservation(reservationID string) error
	AvailableBudget() decimal.Decimal
	// ClosePosition returns a closed position's deployed capital to the
	// available pool and records the realized P&L.
	ClosePosition(returnedCapitalUsd, realizedPnlUsd decimal.Decimal)
}

// InMemoryManager is the reference Manager: a single mutex-guarded ledger.
// Good enough for paper trading and tests; a durable implementation would
// back the same interface with a database-backed ledger table.
type InMemoryManager struct {
	mu             sync.Mutex
	totalBudgetUsd decimal.Decimal
	reservedUsd    decimal.Decimal
	reservations   map[string]*domain.BudgetReservation
	seq            int64
}

// NewInMemoryManager creates a Manager with totalBudgetUsd available for
// reservation.
func NewInMemoryManager(totalBudgetUsd decimal.Decimal) *InMemoryManager {
	return &InMemoryManager{
		totalBudgetUsd: totalBudgetUsd,
		reservations:   make(map[string]*domain.BudgetReservation),
	}
}

// ReserveBudget holds amountUsd against the budget for opportunityID. Fails
// if the remaining budget cannot cover the request.
func (m *InMemoryManager) ReserveBudget(opportunityID string, amountUsd decimal.Decimal, now time.Time) (domain.BudgetReservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	available := m.totalBudgetUsd.Sub(m.reservedUsd)
	if amountUsd.GreaterThan(available) {
		return domain.BudgetReservation{}, fmt.Errorf("risk: insufficient budget, have %s, need %s", available, amountUsd)
	}

	m.seq++
	reservation := &domain.BudgetReservation{
		ReservationID:      fmt.Sprintf("res-%d", m.seq),
		OpportunityID:      opportunityID,
		ReservedCapitalUsd: amountUsd,
		CreatedAt:          now,
		Status:             domain.ReservationOpen,
	}
	m.reservations[reservation.ReservationID] = reservation
	m.reservedUsd = m.reservedUsd.Add(amountUsd)
	return *reservation, nil
}

// CommitReservation marks a reservation spent; the held capital is not
// released back to the available pool (it is now deployed in a position).
func (m *InMemoryManager) CommitReservation(reservationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[reservationID]
	if !ok {
		return fmt.Errorf("risk: unknown reservation %q", reservationID)
	}
	if r.Status != domain.ReservationOpen {
		return fmt.Errorf("risk: reservation %q not open (status %s)", reservationID, r.Status)
	}
	r.Status = domain.ReservationCommitted
	return nil
}

// ReleaseReservation returns the held capital to the available pool,
// e.g. when a primary leg fails before any capital was actually deployed.
func (m *InMemoryManager) ReleaseReservation(reservationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[reservationID]
	if !ok {
		return fmt.Errorf("risk: unknown reservation %q", reservationID)
	}
	if r.Status != domain.ReservationOpen {
		return fmt.Errorf("risk: reservation %q not open (status %s)", reservationID, r.Status)
	}
	r.Status = domain.ReservationReleased
	m.reservedUsd = m.reservedUsd.Sub(r.ReservedCapitalUsd)
	return nil
}

// ClosePosition returns previously-committed capital to the pool and
// folds the realized P&L into the total budget, so a winning close grows
// future capacity and a loss shrinks it.
func (m *InMemoryManager) ClosePosition(returnedCapitalUsd, realizedPnlUsd decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reservedUsd = m.reservedUsd.Sub(returnedCapitalUsd)
	if m.reservedUsd.IsNegative() {
		m.reservedUsd = decimal.Zero
	}
	m.totalBudgetUsd = m.totalBudgetUsd.Add(realizedPnlUsd)
}

// AvailableBudget reports the current uncommitted, unreserved capital.
func (m *InMemoryManager) AvailableBudget() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalBudgetUsd.Sub(m.reservedUsd)
}

var _ Manager = (*InMemoryManager)(nil)

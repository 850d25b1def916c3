// Package reconciliation реализует ReconciliationEngine: при старте и по
// запросу оператора (не чаще раза в 30 секунд) сверяет локальное состояние
// открытых позиций с состоянием ордеров на площадках, классифицирует
// расхождения и переводит затронутые позиции в RECONCILIATION_REQUIRED.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"arbitrage-core/internal/connector"
	"arbitrage-core/internal/domain"
	"arbitrage-core/internal/eventbus"
)

// runDebounce is the minimum interval between two reconciliation passes.
const runDebounce = 30 * time.Second

// orderStatusTimeout bounds each venue order-status lookup within a pass.
const orderStatusTimeout = 2 * time.Second

// ErrDebounced is returned by Run when called less than runDebounce after
// the previous run started.
var ErrDebounced = errors.New("reconciliation: last run started less than 30s ago")

// PositionLister reads every position in an active (non-terminal) state.
type PositionLister interface {
	ListActivePositions(ctx context.Context) ([]domain.Position, error)
}

// PositionGetter fetches a single position by id, for the operator
// resolution path.
type PositionGetter interface {
	GetPosition(ctx context.Context, positionID string) (domain.Position, error)
}

// PositionUpdater persists a position mutation.
type PositionUpdater interface {
	UpdatePosition(ctx context.Context, p domain.Position) error
}

// DiscrepancyRecorder appends a discrepancy record for audit/operator
// review.
type DiscrepancyRecorder interface {
	InsertDiscrepancy(ctx context.Context, d domain.ReconciliationDiscrepancy) error
}

// OrderLookup resolves a locally persisted order by id, to recover which
// venue and what local status it was last recorded at.
type OrderLookup interface {
	GetOrder(ctx context.Context, orderID string) (domain.PersistedOrder, error)
}

// Summary is the result of one reconciliation pass, published as
// reconciliation.complete.
type Summary struct {
	PositionsChecked      int
	OrdersVerified        int
	PendingOrdersResolved int
	DiscrepanciesFound    int
	DurationMs            int64
	Narrative             string
}

// CompleteEvent is published on reconciliation.complete.
type CompleteEvent struct {
	eventbus.EventHeader
	Summary
}

// DiscrepancyEvent is published on reconciliation.discrepancy, once per
// discrepancy found during a pass.
type DiscrepancyEvent struct {
	eventbus.EventHeader
	domain.ReconciliationDiscrepancy
}

// ResolutionAction is the operator-chosen disposition for a position
// sitting in RECONCILIATION_REQUIRED.
type ResolutionAction string

const (
	ActionMarkOpen             ResolutionAction = "mark_open"
	ActionMarkSingleLegExposed ResolutionAction = "mark_single_leg_exposed"
	ActionMarkExitPartial      ResolutionAction = "mark_exit_partial"
	ActionMarkClosed           ResolutionAction = "mark_closed"
)

var actionStatus = map[ResolutionAction]domain.PositionStatus{
	ActionMarkOpen:             domain.PositionOpen,
	ActionMarkSingleLegExposed: domain.PositionSingleLegExposed,
	ActionMarkExitPartial:      domain.PositionExitPartial,
	ActionMarkClosed:           domain.PositionClosed,
}

// Engine is the ReconciliationEngine.
type Engine struct {
	connectors    map[domain.Venue]connector.PlatformConnector
	positions     PositionLister
	positionByID  PositionGetter
	updater       PositionUpdater
	discrepancies DiscrepancyRecorder
	orders        OrderLookup
	bus           *eventbus.Bus
	log           *zap.Logger

	mu        sync.Mutex
	lastRunAt time.Time
}

// NewEngine wires a ReconciliationEngine over the two venue connectors and
// the narrow repositories it needs.
func NewEngine(connectors map[domain.Venue]connector.PlatformConnector, positions PositionLister, positionByID PositionGetter, updater PositionUpdater, discrepancies DiscrepancyRecorder, orders OrderLookup, bus *eventbus.Bus, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		connectors: connectors, positions: positions, positionByID: positionByID,
		updater: updater, discrepancies: discrepancies, orders: orders, bus: bus, log: log,
	}
}

// Run executes one reconciliation pass, debounced to at most once per
// runDebounce relative to now. Each position's failures are isolated: one
// bad position never aborts the pass.
func (e *Engine) Run(ctx context.Context, now time.Time) (Summary, error) {
	e.mu.Lock()
	if !e.lastRunAt.IsZero() && now.Sub(e.lastRunAt) < runDebounce {
		e.mu.Unlock()
		return Summary{}, ErrDebounced
	}
	e.lastRunAt = now
	e.mu.Unlock()

	positions, err := e.positions.ListActivePositions(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("reconciliation: list active positions: %w", err)
	}

	var ordersVerified, pendingResolved, discrepanciesFound int
	for _, p := range positions {
		n, resolved, found := e.reconcilePosition(ctx, p, now)
		ordersVerified += n
		pendingResolved += resolved
		discrepanciesFound += found
	}

	summary := Summary{
		PositionsChecked:      len(positions),
		OrdersVerified:        ordersVerified,
		PendingOrdersResolved: pendingResolved,
		DiscrepanciesFound:    discrepanciesFound,
		DurationMs:            time.Since(now).Milliseconds(),
	}
	summary.Narrative = fmt.Sprintf("%d position(s) checked, %d order(s) verified, %d discrepancy(ies) found",
		summary.PositionsChecked, summary.OrdersVerified, summary.DiscrepanciesFound)

	if e.bus != nil {
		e.bus.Publish(eventbus.ReconciliationComplete, CompleteEvent{
			EventHeader: eventbus.EventHeader{Timestamp: now.UnixNano()},
			Summary:     summary,
		})
	}
	return summary, nil
}

// orderRefs returns every non-nil order reference a position carries, in
// the order they were created.
func orderRefs(p domain.Position) []string {
	var refs []string
	for _, ref := range []*string{p.PrimaryOrderRef, p.SecondaryOrderRef, p.ExitPrimaryOrderRef, p.ExitSecondaryOrderRef} {
		if ref != nil {
			refs = append(refs, *ref)
		}
	}
	return refs
}

func (e *Engine) reconcilePosition(ctx context.Context, p domain.Position, now time.Time) (verified, pendingResolved, discrepancies int) {
	refs := orderRefs(p)
	if len(refs) == 0 {
		return 0, 0, 0
	}

	needsFlag := false
	for _, orderID := range refs {
		local, err := e.orders.GetOrder(ctx, orderID)
		if err != nil {
			e.log.Warn("reconciliation: local order lookup failed", zap.String("order_id", orderID), zap.Error(err))
			continue
		}

		conn, ok := e.connectors[local.Venue]
		if !ok {
			e.recordDiscrepancy(ctx, p, domain.DiscrepancyPlatformUnavailable, string(local.Status), "", "connector not configured for venue", now)
			needsFlag = true
			discrepancies++
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, orderStatusTimeout)
		venueResult, err := conn.GetOrderStatus(callCtx, orderID)
		cancel()

		switch {
		case errors.Is(err, connector.ErrOrderNotFound):
			e.recordDiscrepancy(ctx, p, domain.DiscrepancyOrderNotFound, string(local.Status), "", "investigate at venue; order may need resubmission", now)
			needsFlag = true
			discrepancies++
		case err != nil:
			e.recordDiscrepancy(ctx, p, domain.DiscrepancyPlatformUnavailable, string(local.Status), "", "retry reconciliation once venue connectivity is restored", now)
			needsFlag = true
			discrepancies++
		default:
			verified++
			venueStatus := mapOrderStatus(venueResult.Status)
			switch {
			case local.Status == domain.PersistedPending && (venueStatus == domain.PersistedFilled || venueStatus == domain.PersistedPartial):
				e.recordDiscrepancy(ctx, p, domain.DiscrepancyPendingFilled, string(local.Status), string(venueStatus), "confirm fill and close out the pending order record", now)
				needsFlag = true
				discrepancies++
				pendingResolved++
			case venueStatus != local.Status:
				e.recordDiscrepancy(ctx, p, domain.DiscrepancyOrderStatusMismatch, string(local.Status), string(venueStatus), "verify venue order state and call resolveDiscrepancy", now)
				needsFlag = true
				discrepancies++
			}
		}
	}

	if needsFlag && p.Status != domain.PositionReconciliationNeeded {
		p.Status = domain.PositionReconciliationNeeded
		p.UpdatedAt = now
		if err := e.updater.UpdatePosition(ctx, p); err != nil {
			e.log.Error("reconciliation: failed to flag position", zap.String("position_id", p.PositionID), zap.Error(err))
		}
	}

	return verified, pendingResolved, discrepancies
}

func mapOrderStatus(s domain.OrderStatus) domain.PersistedOrderStatus {
	switch s {
	case domain.OrderStatusFilled:
		return domain.PersistedFilled
	case domain.OrderStatusPartial:
		return domain.PersistedPartial
	case domain.OrderStatusRejected:
		return domain.PersistedRejected
	default:
		return domain.PersistedPending
	}
}

func (e *Engine) recordDiscrepancy(ctx context.Context, p domain.Position, kind domain.DiscrepancyKind, localState, venueState, action string, now time.Time) {
	d := domain.ReconciliationDiscrepancy{
		PositionID:        p.PositionID,
		PairID:            p.PairID,
		Kind:              kind,
		LocalState:        localState,
		VenueState:        venueState,
		RecommendedAction: action,
		DetectedAt:        now,
	}
	if err := e.discrepancies.InsertDiscrepancy(ctx, d); err != nil {
		e.log.Error("reconciliation: failed to persist discrepancy", zap.String("position_id", p.PositionID), zap.Error(err))
	}
	if e.bus != nil {
		e.bus.Publish(eventbus.ReconciliationDiscrepancy, DiscrepancyEvent{
			EventHeader:               eventbus.EventHeader{Timestamp: now.UnixNano()},
			ReconciliationDiscrepancy: d,
		})
	}
}

// ResolveDiscrepancy is the operator path: validates the position is in
// RECONCILIATION_REQUIRED, applies action, and clears the flag.
func (e *Engine) ResolveDiscrepancy(ctx context.Context, positionID string, action ResolutionAction, rationale string, now time.Time) (domain.Position, error) {
	p, err := e.positionByID.GetPosition(ctx, positionID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("reconciliation: load position: %w", err)
	}
	if p.Status != domain.PositionReconciliationNeeded {
		return domain.Position{}, domain.ErrInvalidPositionState(p.Status)
	}

	target, ok := actionStatus[action]
	if !ok {
		return domain.Position{}, fmt.Errorf("reconciliation: unknown resolution action %q", action)
	}

	p.Status = target
	p.UpdatedAt = now
	if err := e.updater.UpdatePosition(ctx, p); err != nil {
		return domain.Position{}, fmt.Errorf("reconciliation: persist resolution: %w", err)
	}

	e.log.Info("reconciliation discrepancy resolved",
		zap.String("position_id", positionID), zap.String("action", string(action)), zap.String("rationale", rationale))
	return p, nil
}

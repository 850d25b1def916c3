package exit

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"arbitrage-core/internal/connector"
	"arbitrage-core/internal/domain"
	"arbitrage-core/internal/eventbus"
)

// tickEvaluateTimeout bounds each position's current-price lookups within a
// tick; a slow venue must not stall the rest of the tick's positions.
const tickEvaluateTimeout = 2 * time.Second

// exitFeeDecimal is the taker fee assumed for exit-leg cost: the same flat
// 2% the pnl scenarios are computed with, and the execution core's
// fallback when a venue's fee schedule cannot be read.
var exitFeeDecimal = decimal.NewFromFloat(0.02)

// maxEmptyTicks is the number of consecutive ticks that evaluate zero
// positions before the monitor trips its circuit breaker and skips one
// full tick.
const maxEmptyTicks = 3

// OpenPositionLister reads OPEN positions, with both leg orders resolvable.
type OpenPositionLister interface {
	ListOpenPositions(ctx context.Context) ([]domain.Position, error)
}

// PairLookup resolves a pair's static venue/contract linkage.
type PairLookup interface {
	GetPair(ctx context.Context, pairID int) (domain.Pair, error)
}

// OrderRepository persists exit orders.
type OrderRepository interface {
	InsertOrder(ctx context.Context, o domain.PersistedOrder) error
}

// PositionRepository persists the position transitions the monitor drives.
type PositionRepository interface {
	UpdatePosition(ctx context.Context, p domain.Position) error
}

// RiskManager is the subset of risk.Manager the monitor needs on a closed
// exit; kept narrow here so this package does not import internal/risk.
type RiskManager interface {
	ClosePosition(returnedCapitalUsd, realizedPnlUsd decimal.Decimal)
}

// ExitTriggeredEvent is published on execution.exit.triggered once both
// exit legs fill.
type ExitTriggeredEvent struct {
	eventbus.EventHeader
	PositionID          string
	ExitType            TriggerType
	InitialEdge         decimal.Decimal
	FinalEdge           decimal.Decimal
	RealizedPnl         decimal.Decimal
	PrimaryExitOrderID  string
	SecondaryExitOrderID string
}

// PartialExitEvent is published on execution.single_leg.exposure when the
// exit's secondary leg fails after the primary leg already filled.
type PartialExitEvent struct {
	eventbus.EventHeader
	PositionID       string
	FailedVenue      domain.Venue
	AttemptedPrice   decimal.Decimal
	AttemptedSize    int64
}

// Monitor is the ExitMonitor: a 30-second sweep over OPEN positions that
// triggers an opposing two-leg exit once ThresholdEvaluator fires.
type Monitor struct {
	connectors map[domain.Venue]connector.PlatformConnector
	positions  OpenPositionLister
	pairs      PairLookup
	orders     OrderRepository
	store      PositionRepository
	riskMgr    RiskManager
	bus        *eventbus.Bus
	log        *zap.Logger

	mu                   sync.Mutex
	consecutiveEmptyTicks int
	skipNextTick         bool
}

// NewMonitor wires a Monitor.
func NewMonitor(connectors map[domain.Venue]connector.PlatformConnector, positions OpenPositionLister, pairs PairLookup, orders OrderRepository, store PositionRepository, riskMgr RiskManager, bus *eventbus.Bus, log *zap.Logger) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{connectors: connectors, positions: positions, pairs: pairs, orders: orders, store: store, riskMgr: riskMgr, bus: bus, log: log}
}

// Tick runs one monitor cycle. Positions are processed sequentially, never
// concurrently, so exit submissions for distinct positions never race on a
// shared venue connector.
func (m *Monitor) Tick(ctx context.Context, now time.Time) {
	m.mu.Lock()
	if m.skipNextTick {
		m.skipNextTick = false
		m.mu.Unlock()
		m.log.Warn("exit monitor circuit breaker tripped, skipping this tick")
		return
	}
	m.mu.Unlock()

	positions, err := m.positions.ListOpenPositions(ctx)
	if err != nil {
		m.log.Error("failed to list open positions", zap.Error(err))
		return
	}

	evaluated := 0
	for _, p := range positions {
		if m.processPosition(ctx, p, now) {
			evaluated++
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if evaluated == 0 {
		m.consecutiveEmptyTicks++
		if m.consecutiveEmptyTicks >= maxEmptyTicks {
			m.skipNextTick = true
			m.consecutiveEmptyTicks = 0
		}
	} else {
		m.consecutiveEmptyTicks = 0
	}
}

// processPosition evaluates one position and, if its exit condition
// triggers, executes it. It returns whether the position was successfully
// evaluated (regardless of whether it triggered), for the circuit breaker.
func (m *Monitor) processPosition(ctx context.Context, p domain.Position, now time.Time) bool {
	pair, err := m.pairs.GetPair(ctx, p.PairID)
	if err != nil {
		return false
	}

	primaryVenue := pair.PrimaryLeg
	secondaryVenue := otherVenue(primaryVenue)

	sidePrimary, ok := p.SidePerVenue[primaryVenue]
	if !ok {
		return false
	}
	sideSecondary, ok := p.SidePerVenue[secondaryVenue]
	if !ok {
		return false
	}
	entryPrimary, ok := p.EntryPricePerVenue[primaryVenue]
	if !ok {
		return false
	}
	entrySecondary, ok := p.EntryPricePerVenue[secondaryVenue]
	if !ok {
		return false
	}
	sizePrimary, ok := p.SizePerVenue[primaryVenue]
	if !ok {
		return false
	}
	sizeSecondary, ok := p.SizePerVenue[secondaryVenue]
	if !ok {
		return false
	}

	connPrimary, ok := m.connectors[primaryVenue]
	if !ok || !connPrimary.IsConnected(primaryVenue) {
		return false
	}
	connSecondary, ok := m.connectors[secondaryVenue]
	if !ok || !connSecondary.IsConnected(secondaryVenue) {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, tickEvaluateTimeout)
	defer cancel()

	contractPrimary := contractForVenue(pair, primaryVenue)
	contractSecondary := contractForVenue(pair, secondaryVenue)

	currentPrimary, ok := closePrice(ctx, connPrimary, contractPrimary, sidePrimary)
	if !ok {
		return false
	}
	currentSecondary, ok := closePrice(ctx, connSecondary, contractSecondary, sideSecondary)
	if !ok {
		return false
	}

	var hoursRemaining *float64
	if pair.ResolutionAt != nil {
		hrs := pair.ResolutionAt.Sub(now).Hours()
		hoursRemaining = &hrs
	}

	legs := [2]LegInput{
		{Venue: primaryVenue, Side: sidePrimary, EntryPrice: entryPrimary, CurrentPrice: currentPrimary, Size: sizePrimary, FeeDecimal: exitFeeDecimal},
		{Venue: secondaryVenue, Side: sideSecondary, EntryPrice: entrySecondary, CurrentPrice: currentSecondary, Size: sizeSecondary, FeeDecimal: exitFeeDecimal},
	}
	eval := Evaluate(legs, p.ExpectedEdge, hoursRemaining)
	if !eval.Triggered {
		return true
	}

	m.executeExit(ctx, p, primaryVenue, secondaryVenue, contractPrimary, contractSecondary, sidePrimary, sideSecondary, currentPrimary, currentSecondary, sizePrimary, sizeSecondary, entryPrimary, entrySecondary, eval, now)
	return true
}

// executeExit submits the primary exit leg first (per the pair's recorded
// leg order), then the secondary. A primary-leg failure leaves the
// position untouched for retry on the next tick; a secondary-leg failure
// after the primary filled moves the position to EXIT_PARTIAL.
func (m *Monitor) executeExit(ctx context.Context, p domain.Position, primaryVenue, secondaryVenue domain.Venue, contractPrimary, contractSecondary string, sidePrimary, sideSecondary domain.Side, currentPrimary, currentSecondary decimal.Decimal, sizePrimary, sizeSecondary int64, entryPrimary, entrySecondary decimal.Decimal, eval Evaluation, now time.Time) {
	connPrimary := m.connectors[primaryVenue]
	connSecondary := m.connectors[secondaryVenue]

	primaryExitSide := oppositeExitSide(sidePrimary)
	primaryResult, err := connPrimary.SubmitOrder(ctx, domain.OrderParams{
		ContractID: contractPrimary, Side: primaryExitSide, Quantity: sizePrimary, Price: currentPrimary, Type: domain.OrderTypeLimit,
	})
	if err != nil || (primaryResult.Status != domain.OrderStatusFilled && primaryResult.Status != domain.OrderStatusPartial) {
		m.log.Warn("exit monitor primary leg failed, retrying next cycle", zap.String("position", p.PositionID))
		return
	}
	m.persistExitOrder(ctx, primaryVenue, primaryExitSide, primaryResult)

	secondaryExitSide := oppositeExitSide(sideSecondary)
	secondaryResult, err := connSecondary.SubmitOrder(ctx, domain.OrderParams{
		ContractID: contractSecondary, Side: secondaryExitSide, Quantity: sizeSecondary, Price: currentSecondary, Type: domain.OrderTypeLimit,
	})
	if err != nil || (secondaryResult.Status != domain.OrderStatusFilled && secondaryResult.Status != domain.OrderStatusPartial) {
		p.Status = domain.PositionExitPartial
		p.ExitPrimaryOrderRef = &primaryResult.OrderID
		p.UpdatedAt = now
		if uerr := m.store.UpdatePosition(ctx, p); uerr != nil {
			m.log.Error("failed to persist exit-partial position", zap.Error(uerr))
		}
		if m.bus != nil {
			m.bus.Publish(eventbus.ExecutionSingleLegExposure, PartialExitEvent{
				EventHeader:    eventbus.EventHeader{Timestamp: now.UnixNano()},
				PositionID:     p.PositionID,
				FailedVenue:    secondaryVenue,
				AttemptedPrice: currentSecondary,
				AttemptedSize:  sizeSecondary,
			})
		}
		return
	}
	m.persistExitOrder(ctx, secondaryVenue, secondaryExitSide, secondaryResult)

	pnlPrimary := legClosePnl(sidePrimary, entryPrimary, primaryResult.FilledPrice, primaryResult.FilledQuantity, exitFeeDecimal)
	pnlSecondary := legClosePnl(sideSecondary, entrySecondary, secondaryResult.FilledPrice, secondaryResult.FilledQuantity, exitFeeDecimal)
	realizedPnl := pnlPrimary.Add(pnlSecondary)

	p.Status = domain.PositionClosed
	p.ExitPrimaryOrderRef = &primaryResult.OrderID
	p.ExitSecondaryOrderRef = &secondaryResult.OrderID
	p.UpdatedAt = now
	if uerr := m.store.UpdatePosition(ctx, p); uerr != nil {
		m.log.Error("failed to persist closed position", zap.Error(uerr))
	}

	if m.riskMgr != nil {
		entryCapital := entryPrimary.Mul(decimal.NewFromInt(sizePrimary)).Add(entrySecondary.Mul(decimal.NewFromInt(sizeSecondary)))
		m.riskMgr.ClosePosition(entryCapital.Add(realizedPnl), realizedPnl)
	}

	if m.bus != nil {
		m.bus.Publish(eventbus.ExecutionExitTriggered, ExitTriggeredEvent{
			EventHeader:          eventbus.EventHeader{Timestamp: now.UnixNano()},
			PositionID:           p.PositionID,
			ExitType:             eval.Type,
			InitialEdge:          p.ExpectedEdge,
			FinalEdge:            eval.CurrentEdge,
			RealizedPnl:          realizedPnl,
			PrimaryExitOrderID:   primaryResult.OrderID,
			SecondaryExitOrderID: secondaryResult.OrderID,
		})
	}
}

func (m *Monitor) persistExitOrder(ctx context.Context, venue domain.Venue, side domain.Side, result domain.OrderResult) {
	status := domain.PersistedPending
	switch result.Status {
	case domain.OrderStatusFilled:
		status = domain.PersistedFilled
	case domain.OrderStatusPartial:
		status = domain.PersistedPartial
	}
	now := time.Now()
	order := domain.PersistedOrder{
		OrderID: result.OrderID, Venue: venue, Side: side,
		Price: result.FilledPrice, Size: result.FilledQuantity, Status: status,
		FillPrice: &result.FilledPrice, FillSize: &result.FilledQuantity,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := m.orders.InsertOrder(ctx, order); err != nil {
		m.log.Error("failed to persist exit order", zap.Error(err))
	}
}

func closePrice(ctx context.Context, conn connector.PlatformConnector, contractID string, entrySide domain.Side) (decimal.Decimal, bool) {
	book, err := conn.GetOrderBook(ctx, contractID)
	if err != nil {
		return decimal.Decimal{}, false
	}
	if entrySide == domain.SideBuy {
		bid, ok := book.BestBid()
		if !ok {
			return decimal.Decimal{}, false
		}
		return bid.Price, true
	}
	ask, ok := book.BestAsk()
	if !ok {
		return decimal.Decimal{}, false
	}
	return ask.Price, true
}

func legClosePnl(entrySide domain.Side, entryPrice, closePrice decimal.Decimal, size int64, feeDecimal decimal.Decimal) decimal.Decimal {
	qty := decimal.NewFromInt(size)
	fee := closePrice.Mul(qty).Mul(feeDecimal)
	var gross decimal.Decimal
	if entrySide == domain.SideBuy {
		gross = closePrice.Sub(entryPrice).Mul(qty)
	} else {
		gross = entryPrice.Sub(closePrice).Mul(qty)
	}
	return gross.Sub(fee)
}

func oppositeExitSide(entrySide domain.Side) domain.Side {
	if entrySide == domain.SideBuy {
		return domain.SideSell
	}
	return domain.SideBuy
}

func contractForVenue(pair domain.Pair, venue domain.Venue) string {
	if venue == domain.VenueA {
		return pair.ContractA
	}
	return pair.ContractB
}

func otherVenue(v domain.Venue) domain.Venue {
	if v == domain.VenueA {
		return domain.VenueB
	}
	return domain.VenueA
}

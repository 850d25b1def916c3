package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"arbitrage-core/internal/connector"
	"arbitrage-core/internal/domain"
	"arbitrage-core/internal/eventbus"
	"arbitrage-core/internal/metrics"
	"arbitrage-core/internal/pnl"
)

// bestEffortTimeout bounds the opposing-venue price lookup performed only
// to enrich a single-leg exposure event; its failure must never abort the
// exposure path.
const bestEffortTimeout = 2 * time.Second

// OrderRepository persists submitted orders.
type OrderRepository interface {
	InsertOrder(ctx context.Context, o domain.PersistedOrder) error
}

// PositionRepository persists and updates positions.
type PositionRepository interface {
	InsertPosition(ctx context.Context, p domain.Position) error
}

// IDGenerator issues position and order identifiers. Separated so tests can
// supply deterministic IDs.
type IDGenerator interface {
	NewPositionID() string
}

// Result is ExecutionCore's public contract.
type Result struct {
	Success        bool
	PartialFill    bool
	PositionID     string
	PrimaryOrder   *domain.OrderResult
	SecondaryOrder *domain.OrderResult
	Error          *domain.ExecutionError
}

// Core is the ExecutionCore: the two-leg executor with pre-leg depth
// verification and single-leg exposure handling.
type Core struct {
	connectors map[domain.Venue]connector.PlatformConnector
	orders     OrderRepository
	positions  PositionRepository
	ids        IDGenerator
	bus        *eventbus.Bus
	log        *zap.Logger
}

// NewCore wires a Core over the two venue connectors and repositories.
func NewCore(connectors map[domain.Venue]connector.PlatformConnector, orders OrderRepository, positions PositionRepository, ids IDGenerator, bus *eventbus.Bus, log *zap.Logger) *Core {
	if log == nil {
		log = zap.NewNop()
	}
	return &Core{connectors: connectors, orders: orders, positions: positions, ids: ids, bus: bus, log: log}
}

// OrderFilledEvent is published on order.filled.
type OrderFilledEvent struct {
	eventbus.EventHeader
	PositionID string
	Order      domain.OrderResult
}

// ExecutionFailedEvent is published on execution.failed.
type ExecutionFailedEvent struct {
	eventbus.EventHeader
	OpportunityID string
	Error         *domain.ExecutionError
}

// SingleLegExposureEvent is published on execution.single_leg.exposure.
type SingleLegExposureEvent struct {
	eventbus.EventHeader
	PositionID string
	PairID     int
	FilledLeg  domain.OrderResult
	Scenarios  pnl.Scenarios
	Error      *domain.ExecutionError
}

// Execute runs the full two-leg algorithm described in §4.6.
func (c *Core) Execute(ctx context.Context, opp domain.RankedOpportunity) Result {
	primaryConn, ok := c.connectors[opp.PrimaryVenue]
	if !ok {
		return c.fail(opp, domain.ErrGeneric(fmt.Errorf("execution: no connector for primary venue %s", opp.PrimaryVenue)))
	}
	secondaryConn, ok := c.connectors[opp.SecondaryVenue]
	if !ok {
		return c.fail(opp, domain.ErrGeneric(fmt.Errorf("execution: no connector for secondary venue %s", opp.SecondaryVenue)))
	}

	primarySide := sideFor(opp, opp.PrimaryVenue)
	secondarySide := sideFor(opp, opp.SecondaryVenue)

	primaryTargetSize := targetSize(opp.RequestedCapital, opp.TargetBuyPrice)
	if primarySide == domain.SideSell {
		primaryTargetSize = targetSize(opp.RequestedCapital, opp.TargetSellPrice)
	}
	if primaryTargetSize <= 0 {
		return c.fail(opp, domain.ErrInsufficientLiquidity(map[string]interface{}{"reason": "zero target size"}))
	}

	primaryPrice := priceFor(opp, opp.PrimaryVenue)
	if !c.verifyDepth(ctx, primaryConn, contractFor(opp, opp.PrimaryVenue), primarySide, primaryPrice, primaryTargetSize) {
		metrics.EventsProcessed.WithLabelValues(string(eventbus.ExecutionFailed)).Inc()
		return c.fail(opp, domain.ErrInsufficientLiquidity(map[string]interface{}{"leg": "primary"}))
	}

	primaryResult, err := primaryConn.SubmitOrder(ctx, domain.OrderParams{
		ContractID: contractFor(opp, opp.PrimaryVenue),
		Side:       primarySide,
		Quantity:   primaryTargetSize,
		Price:      primaryPrice,
		Type:       domain.OrderTypeLimit,
	})
	if err != nil {
		return c.fail(opp, domain.ErrOrderRejected(err))
	}
	if primaryResult.Status != domain.OrderStatusFilled && primaryResult.Status != domain.OrderStatusPartial {
		if primaryResult.Status == domain.OrderStatusPending {
			return c.fail(opp, domain.ErrOrderTimeout())
		}
		return c.fail(opp, domain.ErrOrderRejected(fmt.Errorf("primary order status %s", primaryResult.Status)))
	}
	c.persistOrder(ctx, opp, opp.PrimaryVenue, primarySide, primaryResult)

	secondaryTargetSize := primaryResult.FilledQuantity
	secondaryPrice := priceFor(opp, opp.SecondaryVenue)
	if !c.verifyDepth(ctx, secondaryConn, contractFor(opp, opp.SecondaryVenue), secondarySide, secondaryPrice, secondaryTargetSize) {
		return c.singleLegExposure(ctx, opp, opp.PrimaryVenue, primarySide, primaryResult)
	}

	secondaryResult, err := secondaryConn.SubmitOrder(ctx, domain.OrderParams{
		ContractID: contractFor(opp, opp.SecondaryVenue),
		Side:       secondarySide,
		Quantity:   secondaryTargetSize,
		Price:      secondaryPrice,
		Type:       domain.OrderTypeLimit,
	})
	if err != nil {
		return c.singleLegExposure(ctx, opp, opp.PrimaryVenue, primarySide, primaryResult)
	}
	if secondaryResult.Status == domain.OrderStatusRejected {
		return c.singleLegExposure(ctx, opp, opp.PrimaryVenue, primarySide, primaryResult)
	}
	if secondaryResult.Status == domain.OrderStatusPending {
		c.persistOrder(ctx, opp, opp.SecondaryVenue, secondarySide, secondaryResult)
		return c.singleLegExposure(ctx, opp, opp.PrimaryVenue, primarySide, primaryResult)
	}

	c.persistOrder(ctx, opp, opp.SecondaryVenue, secondarySide, secondaryResult)

	positionID := c.ids.NewPositionID()
	now := time.Now()
	position := domain.Position{
		PositionID:         positionID,
		PairID:             opp.PairID,
		PrimaryOrderRef:    &primaryResult.OrderID,
		SecondaryOrderRef:  &secondaryResult.OrderID,
		SidePerVenue:       map[domain.Venue]domain.Side{opp.PrimaryVenue: primarySide, opp.SecondaryVenue: secondarySide},
		EntryPricePerVenue: map[domain.Venue]decimal.Decimal{opp.PrimaryVenue: primaryResult.FilledPrice, opp.SecondaryVenue: secondaryResult.FilledPrice},
		SizePerVenue:       map[domain.Venue]int64{opp.PrimaryVenue: primaryResult.FilledQuantity, opp.SecondaryVenue: secondaryResult.FilledQuantity},
		ExpectedEdge:       opp.NetEdge,
		Status:             domain.PositionOpen,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := c.positions.InsertPosition(ctx, position); err != nil {
		c.log.Error("failed to persist position", zap.Error(err))
	}

	c.publishOrderFilled(positionID, primaryResult)
	c.publishOrderFilled(positionID, secondaryResult)

	return Result{Success: true, PositionID: positionID, PrimaryOrder: &primaryResult, SecondaryOrder: &secondaryResult}
}

func (c *Core) fail(opp domain.RankedOpportunity, execErr *domain.ExecutionError) Result {
	if c.bus != nil {
		c.bus.Publish(eventbus.ExecutionFailed, ExecutionFailedEvent{
			EventHeader:   eventbus.EventHeader{Timestamp: time.Now().UnixNano()},
			OpportunityID: opp.OpportunityID,
			Error:         execErr,
		})
	}
	return Result{Success: false, Error: execErr}
}

func (c *Core) singleLegExposure(ctx context.Context, opp domain.RankedOpportunity, filledVenue domain.Venue, filledSide domain.Side, filledResult domain.OrderResult) Result {
	positionID := c.ids.NewPositionID()
	now := time.Now()
	position := domain.Position{
		PositionID:         positionID,
		PairID:             opp.PairID,
		PrimaryOrderRef:    &filledResult.OrderID,
		SidePerVenue:       map[domain.Venue]domain.Side{filledVenue: filledSide},
		EntryPricePerVenue: map[domain.Venue]decimal.Decimal{filledVenue: filledResult.FilledPrice},
		SizePerVenue:       map[domain.Venue]int64{filledVenue: filledResult.FilledQuantity},
		ExpectedEdge:       opp.NetEdge,
		Status:             domain.PositionSingleLegExposed,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := c.positions.InsertPosition(ctx, position); err != nil {
		c.log.Error("failed to persist single-leg exposed position", zap.Error(err))
	}

	c.publishOrderFilled(positionID, filledResult)

	snap := c.bestEffortSnapshot(ctx, opp, filledVenue)
	secondaryVenue := opp.SecondaryVenue
	if filledVenue == opp.SecondaryVenue {
		secondaryVenue = opp.PrimaryVenue
	}
	filledFee := c.bestEffortTakerFee(ctx, opp, filledVenue)
	secondaryFee := c.bestEffortTakerFee(ctx, opp, secondaryVenue)

	fill := pnl.Fill{Venue: filledVenue, Side: filledSide, Price: filledResult.FilledPrice, Size: filledResult.FilledQuantity}
	scenarios := pnl.Compute(fill, filledFee, filledFee, secondaryFee, snap, positionID)

	execErr := domain.ErrSingleLegExposure(map[string]interface{}{
		"positionId":         positionID,
		"pairId":             opp.PairID,
		"pnlScenarios":       scenarios,
		"recommendedActions": scenarios.RecommendedActions,
	})

	if c.bus != nil {
		c.bus.Publish(eventbus.ExecutionSingleLegExposure, SingleLegExposureEvent{
			EventHeader: eventbus.EventHeader{Timestamp: now.UnixNano()},
			PositionID:  positionID,
			PairID:      opp.PairID,
			FilledLeg:   filledResult,
			Scenarios:   scenarios,
			Error:       execErr,
		})
	}
	metrics.SingleLegExposures.WithLabelValues("held").Inc()

	return Result{Success: false, PartialFill: true, PositionID: positionID, PrimaryOrder: &filledResult, Error: execErr}
}

// bestEffortSnapshot fetches current prices for pnl scenarios. Any
// connector error is swallowed: the exposure path must never abort here.
func (c *Core) bestEffortSnapshot(ctx context.Context, opp domain.RankedOpportunity, filledVenue domain.Venue) pnl.MarketSnapshot {
	ctx, cancel := context.WithTimeout(ctx, bestEffortTimeout)
	defer cancel()

	snap := pnl.MarketSnapshot{}
	if conn, ok := c.connectors[filledVenue]; ok {
		if book, err := conn.GetOrderBook(ctx, contractFor(opp, filledVenue)); err == nil {
			if bid, ok := book.BestBid(); ok {
				snap.FilledVenueBestBid = &bid.Price
			}
			if ask, ok := book.BestAsk(); ok {
				snap.FilledVenueBestAsk = &ask.Price
			}
		}
	}
	secondaryVenue := opp.SecondaryVenue
	if filledVenue == opp.SecondaryVenue {
		secondaryVenue = opp.PrimaryVenue
	}
	if conn, ok := c.connectors[secondaryVenue]; ok {
		if book, err := conn.GetOrderBook(ctx, contractFor(opp, secondaryVenue)); err == nil {
			if bid, ok := book.BestBid(); ok {
				snap.SecondaryBestBid = &bid.Price
			}
			if ask, ok := book.BestAsk(); ok {
				snap.SecondaryBestAsk = &ask.Price
			}
		}
	}
	return snap
}

// fallbackTakerFee is used only when a venue's fee schedule cannot be
// fetched within bestEffortTimeout; the exposure path must never abort for
// want of a fee quote.
var fallbackTakerFee = decimal.NewFromFloat(0.02)

// bestEffortTakerFee fetches venue's current taker fee for use in
// single-leg P&L scenarios. Falls back to fallbackTakerFee and logs a
// warning on any connector error, never failing the exposure path.
func (c *Core) bestEffortTakerFee(ctx context.Context, opp domain.RankedOpportunity, venue domain.Venue) decimal.Decimal {
	conn, ok := c.connectors[venue]
	if !ok {
		return fallbackTakerFee
	}
	ctx, cancel := context.WithTimeout(ctx, bestEffortTimeout)
	defer cancel()
	schedule, err := conn.GetFeeSchedule(ctx, contractFor(opp, venue))
	if err != nil {
		c.log.Warn("fee schedule lookup failed, using fallback", zap.String("venue", string(venue)), zap.Error(err))
		return fallbackTakerFee
	}
	return decimal.NewFromFloat(schedule.TakerPercent)
}

func (c *Core) verifyDepth(ctx context.Context, conn connector.PlatformConnector, contractID string, side domain.Side, target decimal.Decimal, targetSize int64) bool {
	book, err := conn.GetOrderBook(ctx, contractID)
	if err != nil {
		return false
	}
	var levels []domain.PriceLevel
	if side == domain.SideBuy {
		levels = book.Asks
	} else {
		levels = book.Bids
	}
	sum := decimal.Zero
	for _, lvl := range levels {
		if side == domain.SideBuy && lvl.Price.GreaterThan(target) {
			continue
		}
		if side == domain.SideSell && lvl.Price.LessThan(target) {
			continue
		}
		sum = sum.Add(lvl.Quantity)
	}
	return sum.GreaterThanOrEqual(decimal.NewFromInt(targetSize))
}

func (c *Core) persistOrder(ctx context.Context, opp domain.RankedOpportunity, venue domain.Venue, side domain.Side, result domain.OrderResult) {
	status := domain.PersistedPending
	switch result.Status {
	case domain.OrderStatusFilled:
		status = domain.PersistedFilled
	case domain.OrderStatusPartial:
		status = domain.PersistedPartial
	case domain.OrderStatusRejected:
		status = domain.PersistedRejected
	}
	now := time.Now()
	order := domain.PersistedOrder{
		OrderID:    result.OrderID,
		Venue:      venue,
		ContractID: contractFor(opp, venue),
		PairID:     opp.PairID,
		Side:       side,
		Price:      result.FilledPrice,
		Size:       result.FilledQuantity,
		Status:     status,
		FillPrice:  &result.FilledPrice,
		FillSize:   &result.FilledQuantity,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := c.orders.InsertOrder(ctx, order); err != nil {
		c.log.Error("failed to persist order", zap.Error(err))
	}
}

func (c *Core) publishOrderFilled(positionID string, result domain.OrderResult) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(eventbus.OrderFilled, OrderFilledEvent{
		EventHeader: eventbus.EventHeader{Timestamp: time.Now().UnixNano()},
		PositionID:  positionID,
		Order:       result,
	})
	metrics.OrdersSubmitted.WithLabelValues(string(result.Venue), string(result.Status)).Inc()
}

func sideFor(opp domain.RankedOpportunity, venue domain.Venue) domain.Side {
	if venue == opp.BuySide {
		return domain.SideBuy
	}
	return domain.SideSell
}

func priceFor(opp domain.RankedOpportunity, venue domain.Venue) decimal.Decimal {
	if venue == opp.BuySide {
		return opp.TargetBuyPrice
	}
	return opp.TargetSellPrice
}

func contractFor(opp domain.RankedOpportunity, venue domain.Venue) string {
	if venue == opp.BuySide {
		return opp.ContractIDBuy
	}
	return opp.ContractIDSell
}

func targetSize(capitalUsd, price decimal.Decimal) int64 {
	if price.IsZero() {
		return 0
	}
	return capitalUsd.Div(price).IntPart()
}

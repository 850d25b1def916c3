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
	"arbitrage-core/internal/pnl"
	"arbitrage-core/internal/risk"
)

// PositionStore is the subset of position persistence SingleLegResolution
// needs: fetch by id, and a single mutator call per transition.
type PositionStore interface {
	GetPosition(ctx context.Context, positionID string) (domain.Position, error)
	UpdatePosition(ctx context.Context, p domain.Position) error
}

// ResolvedEvent is published on execution.single_leg.resolved.
type ResolvedEvent struct {
	eventbus.EventHeader
	PositionID   string
	Type         string // "retried" or "closed"
	OriginalEdge decimal.Decimal
	NewEdge      *decimal.Decimal
	RetryPrice   *decimal.Decimal
	RealizedPnl  *decimal.Decimal
}

// Resolution is the operator-invoked SingleLegResolution component.
type Resolution struct {
	connectors map[domain.Venue]connector.PlatformConnector
	positions  PositionStore
	orders     OrderRepository
	riskMgr    risk.Manager
	bus        *eventbus.Bus
	log        *zap.Logger
}

// NewResolution wires a Resolution component.
func NewResolution(connectors map[domain.Venue]connector.PlatformConnector, positions PositionStore, orders OrderRepository, riskMgr risk.Manager, bus *eventbus.Bus, log *zap.Logger) *Resolution {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolution{connectors: connectors, positions: positions, orders: orders, riskMgr: riskMgr, bus: bus, log: log}
}

func requireResolvable(p domain.Position) error {
	if p.Status != domain.PositionSingleLegExposed && p.Status != domain.PositionExitPartial {
		return domain.ErrInvalidPositionState(p.Status)
	}
	return nil
}

// failedLeg identifies the venue/side whose order ref is still nil.
func failedLeg(p domain.Position, primaryVenue, secondaryVenue domain.Venue) (domain.Venue, bool) {
	if p.SecondaryOrderRef == nil {
		return secondaryVenue, true
	}
	if p.PrimaryOrderRef == nil {
		return primaryVenue, true
	}
	return "", false
}

// RetryLeg resubmits the missing leg at retryPrice for the originally
// recorded size.
func (r *Resolution) RetryLeg(ctx context.Context, positionID string, retryPrice decimal.Decimal, primaryVenue, secondaryVenue domain.Venue) (*domain.OrderResult, pnl.Scenarios, error) {
	p, err := r.positions.GetPosition(ctx, positionID)
	if err != nil {
		return nil, pnl.Scenarios{}, err
	}
	if err := requireResolvable(p); err != nil {
		return nil, pnl.Scenarios{}, err
	}

	filledVenue, filledOK := firstFilledVenue(p, primaryVenue, secondaryVenue)
	if !filledOK {
		return nil, pnl.Scenarios{}, fmt.Errorf("execution: position %s has no filled leg to retry against", positionID)
	}
	missingVenue, missingOK := failedLeg(p, primaryVenue, secondaryVenue)
	if !missingOK {
		return nil, pnl.Scenarios{}, fmt.Errorf("execution: position %s has no missing leg", positionID)
	}

	conn, ok := r.connectors[missingVenue]
	if !ok {
		return nil, pnl.Scenarios{}, fmt.Errorf("execution: no connector for venue %s", missingVenue)
	}

	size := p.SizePerVenue[filledVenue]
	side := oppositeSide(p.SidePerVenue[filledVenue])

	result, err := conn.SubmitOrder(ctx, domain.OrderParams{
		Side: side, Quantity: size, Price: retryPrice, Type: domain.OrderTypeLimit,
	})
	if err != nil || (result.Status != domain.OrderStatusFilled && result.Status != domain.OrderStatusPartial) {
		scenarios := r.recomputeScenarios(ctx, p, filledVenue, missingVenue, positionID)
		return nil, scenarios, nil
	}

	r.persistRetryOrder(ctx, missingVenue, side, result)

	if p.SidePerVenue == nil {
		p.SidePerVenue = map[domain.Venue]domain.Side{}
	}
	p.SidePerVenue[missingVenue] = side
	if p.EntryPricePerVenue == nil {
		p.EntryPricePerVenue = map[domain.Venue]decimal.Decimal{}
	}
	p.EntryPricePerVenue[missingVenue] = result.FilledPrice
	if p.SizePerVenue == nil {
		p.SizePerVenue = map[domain.Venue]int64{}
	}
	p.SizePerVenue[missingVenue] = result.FilledQuantity
	if missingVenue == primaryVenue {
		p.PrimaryOrderRef = &result.OrderID
	} else {
		p.SecondaryOrderRef = &result.OrderID
	}
	p.Status = domain.PositionOpen
	p.UpdatedAt = time.Now()
	if err := r.positions.UpdatePosition(ctx, p); err != nil {
		r.log.Error("failed to persist retried position", zap.Error(err))
	}

	originalEdge := p.ExpectedEdge
	newEdge := p.EntryPricePerVenue[filledVenue].Sub(result.FilledPrice).Abs()

	if r.bus != nil {
		r.bus.Publish(eventbus.OrderFilled, OrderFilledEvent{
			EventHeader: eventbus.EventHeader{Timestamp: time.Now().UnixNano()},
			PositionID:  positionID,
			Order:       result,
		})
		r.bus.Publish(eventbus.ExecutionSingleLegResolved, ResolvedEvent{
			EventHeader:  eventbus.EventHeader{Timestamp: time.Now().UnixNano()},
			PositionID:   positionID,
			Type:         "retried",
			OriginalEdge: originalEdge,
			NewEdge:      &newEdge,
			RetryPrice:   &retryPrice,
		})
	}

	return &result, pnl.Scenarios{}, nil
}

// CloseLeg unwinds the filled leg on its own venue at that venue's current
// best opposing price (best bid for a long leg, best ask for a short one).
// rationale is carried through for audit but does not affect the algorithm.
func (r *Resolution) CloseLeg(ctx context.Context, positionID, rationale string, primaryVenue, secondaryVenue domain.Venue, takerFee decimal.Decimal) (*domain.OrderResult, error) {
	p, err := r.positions.GetPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if err := requireResolvable(p); err != nil {
		return nil, err
	}

	filledVenue, ok := firstFilledVenue(p, primaryVenue, secondaryVenue)
	if !ok {
		return nil, fmt.Errorf("execution: position %s has no filled leg to close", positionID)
	}
	conn, ok := r.connectors[filledVenue]
	if !ok {
		return nil, fmt.Errorf("execution: no connector for venue %s", filledVenue)
	}

	entrySide := p.SidePerVenue[filledVenue]
	closeSide := oppositeSide(entrySide)

	book, err := conn.GetOrderBook(ctx, "")
	if err != nil {
		return nil, domain.ErrCloseFailedWarning("could not fetch book to close exposed leg")
	}
	var closePrice decimal.Decimal
	if entrySide == domain.SideBuy {
		bid, ok := book.BestBid()
		if !ok {
			return nil, domain.ErrCloseFailedWarning("no bid available to close long exposure")
		}
		closePrice = bid.Price
	} else {
		ask, ok := book.BestAsk()
		if !ok {
			return nil, domain.ErrCloseFailedWarning("no ask available to close short exposure")
		}
		closePrice = ask.Price
	}

	size := p.SizePerVenue[filledVenue]
	result, err := conn.SubmitOrder(ctx, domain.OrderParams{Side: closeSide, Quantity: size, Price: closePrice, Type: domain.OrderTypeLimit})
	if err != nil || (result.Status != domain.OrderStatusFilled && result.Status != domain.OrderStatusPartial) {
		return nil, domain.ErrCloseFailedError(err)
	}

	entryPrice := p.EntryPricePerVenue[filledVenue]
	gross := closePrice.Sub(entryPrice).Mul(decimal.NewFromInt(size))
	fee := closePrice.Mul(decimal.NewFromInt(size)).Mul(takerFee)
	realizedPnl := gross.Sub(fee)
	if entrySide == domain.SideSell {
		realizedPnl = realizedPnl.Neg()
	}

	r.persistRetryOrder(ctx, filledVenue, closeSide, result)

	p.Status = domain.PositionClosed
	p.UpdatedAt = time.Now()
	if err := r.positions.UpdatePosition(ctx, p); err != nil {
		r.log.Error("failed to persist closed position", zap.Error(err))
	}

	if r.riskMgr != nil {
		entryCapital := entryPrice.Mul(decimal.NewFromInt(size))
		r.riskMgr.ClosePosition(entryCapital.Add(realizedPnl), realizedPnl)
	}

	if r.bus != nil {
		r.bus.Publish(eventbus.ExecutionSingleLegResolved, ResolvedEvent{
			EventHeader: eventbus.EventHeader{Timestamp: time.Now().UnixNano()},
			PositionID:  positionID,
			Type:        "closed",
			RealizedPnl: &realizedPnl,
		})
	}

	return &result, nil
}

func (r *Resolution) recomputeScenarios(ctx context.Context, p domain.Position, filledVenue, otherVenue domain.Venue, positionID string) pnl.Scenarios {
	snap := pnl.MarketSnapshot{}
	ctx, cancel := context.WithTimeout(ctx, bestEffortTimeout)
	defer cancel()

	if conn, ok := r.connectors[filledVenue]; ok {
		if book, err := conn.GetOrderBook(ctx, ""); err == nil {
			if bid, ok := book.BestBid(); ok {
				snap.FilledVenueBestBid = &bid.Price
			}
			if ask, ok := book.BestAsk(); ok {
				snap.FilledVenueBestAsk = &ask.Price
			}
		}
	}
	if conn, ok := r.connectors[otherVenue]; ok {
		if book, err := conn.GetOrderBook(ctx, ""); err == nil {
			if bid, ok := book.BestBid(); ok {
				snap.SecondaryBestBid = &bid.Price
			}
			if ask, ok := book.BestAsk(); ok {
				snap.SecondaryBestAsk = &ask.Price
			}
		}
	}

	fill := pnl.Fill{Venue: filledVenue, Side: p.SidePerVenue[filledVenue], Price: p.EntryPricePerVenue[filledVenue], Size: p.SizePerVenue[filledVenue]}
	return pnl.Compute(fill, decimal.NewFromFloat(0.02), decimal.NewFromFloat(0.02), decimal.NewFromFloat(0.02), snap, positionID)
}

func (r *Resolution) persistRetryOrder(ctx context.Context, venue domain.Venue, side domain.Side, result domain.OrderResult) {
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
	if err := r.orders.InsertOrder(ctx, order); err != nil {
		r.log.Error("failed to persist resolution order", zap.Error(err))
	}
}

func firstFilledVenue(p domain.Position, primaryVenue, secondaryVenue domain.Venue) (domain.Venue, bool) {
	if p.PrimaryOrderRef != nil {
		return primaryVenue, true
	}
	if p.SecondaryOrderRef != nil {
		return secondaryVenue, true
	}
	return "", false
}

func oppositeSide(s domain.Side) domain.Side {
	if s == domain.SideBuy {
		return domain.SideSell
	}
	return domain.SideBuy
}

package connector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"arbitrage-core/internal/domain"
	"arbitrage-core/pkg/ratelimit"
)

// PaperConnector simulates order submission against a locally held book
// snapshot, filling immediately at the volume-weighted average of the
// opposing levels it takes (each at or better than the requested price).
// It never touches a network.
type PaperConnector struct {
	venue     domain.Venue
	connected int32 // atomic bool

	booksMu sync.RWMutex
	books   map[string]domain.NormalizedOrderBook

	ordersMu sync.Map // orderID -> domain.OrderResult

	seq       uint64
	limiter   *ratelimit.RateLimiter
	callbacks []BookUpdateCallback
	cbMu      sync.Mutex

	health VenueHealthSource
}

// VenueHealthSource lets the paper connector surface a health snapshot
// that a test or wiring layer controls directly.
type VenueHealthSource interface {
	GetHealth() domain.VenueHealth
}

type staticHealth struct{ h domain.VenueHealth }

func (s staticHealth) GetHealth() domain.VenueHealth { return s.h }

// NewPaperConnector creates a connector for venue, seeded with an empty
// book set and a generous default rate limit.
func NewPaperConnector(venue domain.Venue) *PaperConnector {
	return &PaperConnector{
		venue:   venue,
		books:   make(map[string]domain.NormalizedOrderBook),
		limiter: ratelimit.NewRateLimiter(50, 100),
		health: staticHealth{h: domain.VenueHealth{
			Venue: venue, Status: domain.HealthHealthy, Mode: domain.ModePaper,
		}},
	}
}

func (p *PaperConnector) Venue() domain.Venue { return p.venue }

func (p *PaperConnector) Connect(ctx context.Context) error {
	atomic.StoreInt32(&p.connected, 1)
	return nil
}

func (p *PaperConnector) Disconnect() error {
	atomic.StoreInt32(&p.connected, 0)
	return nil
}

func (p *PaperConnector) IsConnected(venue domain.Venue) bool {
	return atomic.LoadInt32(&p.connected) == 1
}

func (p *PaperConnector) Mode() domain.ConnectorMode { return domain.ModePaper }

func (p *PaperConnector) GetHealth() domain.VenueHealth { return p.health.GetHealth() }

// SeedBook installs (or replaces) the book used to simulate fills for a
// contract, and fans it out to every registered OnBookUpdate callback.
func (p *PaperConnector) SeedBook(book domain.NormalizedOrderBook) {
	p.booksMu.Lock()
	p.books[book.ContractID] = book
	p.booksMu.Unlock()

	p.cbMu.Lock()
	cbs := make([]BookUpdateCallback, len(p.callbacks))
	copy(cbs, p.callbacks)
	p.cbMu.Unlock()
	for _, cb := range cbs {
		cb(book)
	}
}

func (p *PaperConnector) OnBookUpdate(cb BookUpdateCallback) {
	p.cbMu.Lock()
	defer p.cbMu.Unlock()
	p.callbacks = append(p.callbacks, cb)
}

func (p *PaperConnector) GetOrderBook(ctx context.Context, contractID string) (domain.NormalizedOrderBook, error) {
	ctx, cancel := WithBookFetchTimeout(ctx)
	defer cancel()
	if err := p.limiter.Wait(ctx); err != nil {
		return domain.NormalizedOrderBook{}, err
	}

	p.booksMu.RLock()
	defer p.booksMu.RUnlock()
	book, ok := p.books[contractID]
	if !ok {
		return domain.NormalizedOrderBook{}, fmt.Errorf("connector: no book seeded for contract %q", contractID)
	}
	return book, nil
}

// SubmitOrder fills immediately against the seeded book: fully if enough
// depth rests on the opposing side at-or-better than params.Price,
// partially if only some does, and rejected if none does.
func (p *PaperConnector) SubmitOrder(ctx context.Context, params domain.OrderParams) (domain.OrderResult, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return domain.OrderResult{}, err
	}

	p.booksMu.RLock()
	book, ok := p.books[params.ContractID]
	p.booksMu.RUnlock()
	if !ok {
		return domain.OrderResult{}, fmt.Errorf("connector: no book seeded for contract %q", params.ContractID)
	}

	var levels []domain.PriceLevel
	if params.Side == domain.SideBuy {
		levels = book.Asks
	} else {
		levels = book.Bids
	}

	filled := int64(0)
	notional := decimal.Zero
	for _, lvl := range levels {
		if filled >= params.Quantity {
			break
		}
		if params.Side == domain.SideBuy && lvl.Price.GreaterThan(params.Price) {
			break
		}
		if params.Side == domain.SideSell && lvl.Price.LessThan(params.Price) {
			break
		}
		take := lvl.Quantity
		remaining := decimal.NewFromInt(params.Quantity - filled)
		if take.GreaterThan(remaining) {
			take = remaining
		}
		notional = notional.Add(take.Mul(lvl.Price))
		filled += take.IntPart()
	}

	orderID := fmt.Sprintf("%s-%d", p.venue, atomic.AddUint64(&p.seq, 1))
	status := domain.OrderStatusRejected
	fillPrice := decimal.Zero
	switch {
	case filled == params.Quantity && filled > 0:
		status = domain.OrderStatusFilled
		fillPrice = notional.Div(decimal.NewFromInt(filled))
	case filled > 0:
		status = domain.OrderStatusPartial
		fillPrice = notional.Div(decimal.NewFromInt(filled))
	}

	result := domain.OrderResult{
		OrderID:        orderID,
		Venue:          p.venue,
		Status:         status,
		FilledQuantity: filled,
		FilledPrice:    fillPrice,
		Timestamp:      time.Now(),
	}
	p.ordersMu.Store(orderID, result)
	return result, nil
}

// GetOrderStatus returns the recorded fill result for a previously
// submitted order. Paper orders never change state after submission, so
// this always reflects the original fill outcome.
func (p *PaperConnector) GetOrderStatus(ctx context.Context, orderID string) (domain.OrderResult, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return domain.OrderResult{}, err
	}
	v, ok := p.ordersMu.Load(orderID)
	if !ok {
		return domain.OrderResult{}, ErrOrderNotFound
	}
	return v.(domain.OrderResult), nil
}

func (p *PaperConnector) CancelOrder(ctx context.Context, orderID string) (CancelResult, error) {
	if _, ok := p.ordersMu.Load(orderID); !ok {
		return CancelResult{OrderID: orderID, Cancelled: false}, fmt.Errorf("connector: unknown order %q", orderID)
	}
	return CancelResult{OrderID: orderID, Cancelled: true}, nil
}

func (p *PaperConnector) GetPositions(ctx context.Context) ([]domain.Position, error) {
	return nil, nil
}

func (p *PaperConnector) GetFeeSchedule(ctx context.Context, contractID string) (FeeSchedule, error) {
	return FeeSchedule{MakerPercent: 0.01, TakerPercent: 0.02}, nil
}

package execution

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arbitrage-core/internal/connector"
	"arbitrage-core/internal/domain"
	"arbitrage-core/internal/eventbus"
)

type fakeOrderRepo struct{ orders []domain.PersistedOrder }

func (f *fakeOrderRepo) InsertOrder(ctx context.Context, o domain.PersistedOrder) error {
	f.orders = append(f.orders, o)
	return nil
}

type fakePositionRepo struct{ positions []domain.Position }

func (f *fakePositionRepo) InsertPosition(ctx context.Context, p domain.Position) error {
	f.positions = append(f.positions, p)
	return nil
}

type seqIDs struct{ n int64 }

func (s *seqIDs) NewPositionID() string {
	return "pos-" + time.Now().Add(time.Duration(atomic.AddInt64(&s.n, 1))).String()
}

func setupCore(t *testing.T) (*Core, *connector.PaperConnector, *connector.PaperConnector, *eventbus.Bus) {
	t.Helper()
	a := connector.NewPaperConnector(domain.VenueA)
	b := connector.NewPaperConnector(domain.VenueB)
	a.SeedBook(domain.NormalizedOrderBook{
		Venue: domain.VenueA, ContractID: "YES-A",
		Asks: []domain.PriceLevel{{Price: decimal.NewFromFloat(0.40), Quantity: decimal.NewFromFloat(1000)}},
		Bids: []domain.PriceLevel{{Price: decimal.NewFromFloat(0.39), Quantity: decimal.NewFromFloat(1000)}},
	})
	b.SeedBook(domain.NormalizedOrderBook{
		Venue: domain.VenueB, ContractID: "NO-B",
		Bids: []domain.PriceLevel{{Price: decimal.NewFromFloat(0.58), Quantity: decimal.NewFromFloat(1000)}},
		Asks: []domain.PriceLevel{{Price: decimal.NewFromFloat(0.59), Quantity: decimal.NewFromFloat(1000)}},
	})

	conns := map[domain.Venue]connector.PlatformConnector{domain.VenueA: a, domain.VenueB: b}
	bus := eventbus.New(nil)
	core := NewCore(conns, &fakeOrderRepo{}, &fakePositionRepo{}, &seqIDs{}, bus, nil)
	return core, a, b, bus
}

func TestExecuteBothLegsFilled(t *testing.T) {
	core, _, _, bus := setupCore(t)

	var filledCount int
	bus.Subscribe(eventbus.OrderFilled, func(event interface{}) { filledCount++ })

	opp := domain.RankedOpportunity{
		OpportunityID: "opp-1", PairID: 1,
		PrimaryVenue: domain.VenueA, SecondaryVenue: domain.VenueB,
		BuySide: domain.VenueA, SellSide: domain.VenueB,
		ContractIDBuy: "YES-A", ContractIDSell: "NO-B",
		TargetBuyPrice: decimal.NewFromFloat(0.40), TargetSellPrice: decimal.NewFromFloat(0.58),
		NetEdge: decimal.NewFromFloat(0.02), RequestedCapital: decimal.NewFromFloat(40),
	}

	result := core.Execute(context.Background(), opp)
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if filledCount != 2 {
		t.Fatalf("expected 2 order.filled events, got %d", filledCount)
	}
}

func TestExecuteInsufficientPrimaryDepthFails(t *testing.T) {
	core, a, _, bus := setupCore(t)
	a.SeedBook(domain.NormalizedOrderBook{
		Venue: domain.VenueA, ContractID: "YES-A",
		Asks: []domain.PriceLevel{{Price: decimal.NewFromFloat(0.40), Quantity: decimal.NewFromFloat(1)}},
	})

	var failed int
	bus.Subscribe(eventbus.ExecutionFailed, func(event interface{}) { failed++ })

	opp := domain.RankedOpportunity{
		OpportunityID: "opp-2", PairID: 1,
		PrimaryVenue: domain.VenueA, SecondaryVenue: domain.VenueB,
		BuySide: domain.VenueA, SellSide: domain.VenueB,
		ContractIDBuy: "YES-A", ContractIDSell: "NO-B",
		TargetBuyPrice: decimal.NewFromFloat(0.40), TargetSellPrice: decimal.NewFromFloat(0.58),
		RequestedCapital: decimal.NewFromFloat(40),
	}

	result := core.Execute(context.Background(), opp)
	if result.Success {
		t.Fatal("expected failure on insufficient primary depth")
	}
	if result.Error == nil || result.Error.Code != domain.CodeInsufficientLiquidity {
		t.Fatalf("expected INSUFFICIENT_LIQUIDITY error, got %+v", result.Error)
	}
	if failed != 1 {
		t.Fatalf("expected one execution.failed event, got %d", failed)
	}
}

func TestExecuteSecondaryDepthFailureCausesSingleLegExposure(t *testing.T) {
	core, _, b, bus := setupCore(t)
	b.SeedBook(domain.NormalizedOrderBook{
		Venue: domain.VenueB, ContractID: "NO-B",
		Bids: []domain.PriceLevel{{Price: decimal.NewFromFloat(0.58), Quantity: decimal.NewFromFloat(1)}},
	})

	var exposures int
	var orderFilledBeforeExposure bool
	var sawFilled bool
	bus.Subscribe(eventbus.OrderFilled, func(event interface{}) { sawFilled = true })
	bus.Subscribe(eventbus.ExecutionSingleLegExposure, func(event interface{}) {
		exposures++
		orderFilledBeforeExposure = sawFilled
	})

	opp := domain.RankedOpportunity{
		OpportunityID: "opp-3", PairID: 1,
		PrimaryVenue: domain.VenueA, SecondaryVenue: domain.VenueB,
		BuySide: domain.VenueA, SellSide: domain.VenueB,
		ContractIDBuy: "YES-A", ContractIDSell: "NO-B",
		TargetBuyPrice: decimal.NewFromFloat(0.40), TargetSellPrice: decimal.NewFromFloat(0.58),
		RequestedCapital: decimal.NewFromFloat(40),
	}

	result := core.Execute(context.Background(), opp)
	if result.Success || !result.PartialFill {
		t.Fatalf("expected partial fill failure, got %+v", result)
	}
	if exposures != 1 {
		t.Fatalf("expected exactly one single_leg_exposure event, got %d", exposures)
	}
	if !orderFilledBeforeExposure {
		t.Fatal("expected order.filled for primary to be observed before single_leg_exposure")
	}
	if result.Error == nil || result.Error.Code != domain.CodeSingleLegExposure {
		t.Fatalf("expected SINGLE_LEG_EXPOSURE error, got %+v", result.Error)
	}
}

package execution

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arbitrage-core/internal/connector"
	"arbitrage-core/internal/domain"
	"arbitrage-core/internal/eventbus"
)

func TestQueueSubmitReleasesLockAfterExecute(t *testing.T) {
	a := connector.NewPaperConnector(domain.VenueA)
	b := connector.NewPaperConnector(domain.VenueB)
	a.SeedBook(domain.NormalizedOrderBook{
		Venue: domain.VenueA, ContractID: "YES-A",
		Asks: []domain.PriceLevel{{Price: decimal.NewFromFloat(0.40), Quantity: decimal.NewFromFloat(1000)}},
	})
	b.SeedBook(domain.NormalizedOrderBook{
		Venue: domain.VenueB, ContractID: "NO-B",
		Bids: []domain.PriceLevel{{Price: decimal.NewFromFloat(0.58), Quantity: decimal.NewFromFloat(1000)}},
	})
	conns := map[domain.Venue]connector.PlatformConnector{domain.VenueA: a, domain.VenueB: b}
	core := NewCore(conns, &fakeOrderRepo{}, &fakePositionRepo{}, &seqIDs{}, eventbus.New(nil), nil)
	lock := NewLock(nil)
	q := NewQueue(lock, core, nil)

	opp := domain.RankedOpportunity{
		OpportunityID: "opp-1", PairID: 1,
		PrimaryVenue: domain.VenueA, SecondaryVenue: domain.VenueB,
		BuySide: domain.VenueA, SellSide: domain.VenueB,
		ContractIDBuy: "YES-A", ContractIDSell: "NO-B",
		TargetBuyPrice: decimal.NewFromFloat(0.40), TargetSellPrice: decimal.NewFromFloat(0.58),
		RequestedCapital: decimal.NewFromFloat(40),
	}

	q.Submit(context.Background(), opp)

	// Lock must be free again: a second acquire must not block.
	done := make(chan struct{})
	go func() {
		id := lock.Acquire()
		lock.Release(id)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected lock to be free after Submit returns")
	}
}

package connector

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arbitrage-core/internal/domain"
)

func seedBook(p *PaperConnector, contractID string, askPrice, askQty float64) {
	p.SeedBook(domain.NormalizedOrderBook{
		Venue:      p.venue,
		ContractID: contractID,
		Asks:       []domain.PriceLevel{{Price: decimal.NewFromFloat(askPrice), Quantity: decimal.NewFromFloat(askQty)}},
		Timestamp:  time.Now(),
	})
}

func TestSubmitOrderFullFill(t *testing.T) {
	p := NewPaperConnector(domain.VenueA)
	seedBook(p, "YES-1", 0.40, 100)

	result, err := p.SubmitOrder(context.Background(), domain.OrderParams{
		ContractID: "YES-1", Side: domain.SideBuy, Quantity: 50, Price: decimal.NewFromFloat(0.40), Type: domain.OrderTypeLimit,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != domain.OrderStatusFilled || result.FilledQuantity != 50 {
		t.Fatalf("expected full fill of 50, got %+v", result)
	}
}

func TestSubmitOrderPartialFill(t *testing.T) {
	p := NewPaperConnector(domain.VenueA)
	seedBook(p, "YES-1", 0.40, 20)

	result, err := p.SubmitOrder(context.Background(), domain.OrderParams{
		ContractID: "YES-1", Side: domain.SideBuy, Quantity: 50, Price: decimal.NewFromFloat(0.40), Type: domain.OrderTypeLimit,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != domain.OrderStatusPartial || result.FilledQuantity != 20 {
		t.Fatalf("expected partial fill of 20, got %+v", result)
	}
}

func TestSubmitOrderRejectsBeyondPriceLimit(t *testing.T) {
	p := NewPaperConnector(domain.VenueA)
	seedBook(p, "YES-1", 0.50, 100)

	result, err := p.SubmitOrder(context.Background(), domain.OrderParams{
		ContractID: "YES-1", Side: domain.SideBuy, Quantity: 50, Price: decimal.NewFromFloat(0.40), Type: domain.OrderTypeLimit,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != domain.OrderStatusRejected {
		t.Fatalf("expected rejected order when book is priced beyond limit, got %+v", result)
	}
}

func TestOnBookUpdateFansOutToCallbacks(t *testing.T) {
	p := NewPaperConnector(domain.VenueA)
	received := make(chan domain.NormalizedOrderBook, 1)
	p.OnBookUpdate(func(b domain.NormalizedOrderBook) { received <- b })

	seedBook(p, "YES-1", 0.40, 10)

	select {
	case b := <-received:
		if b.ContractID != "YES-1" {
			t.Fatalf("expected YES-1, got %q", b.ContractID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected callback to fire on seed")
	}
}

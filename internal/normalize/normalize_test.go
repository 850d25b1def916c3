package normalize

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"arbitrage-core/internal/domain"
)

func TestNormalizeAInvertsNoSideAndSorts(t *testing.T) {
	n := New(zap.NewNop())
	now := time.Now()
	raw := RawBookA{
		ContractID: "YES-1",
		YesLevels:  []RawLevel{{PriceCents: 40, Quantity: 10}, {PriceCents: 42, Quantity: 5}, {PriceCents: 41, Quantity: 0}},
		NoLevels:   []RawLevel{{PriceCents: 55, Quantity: 3}, {PriceCents: 56, Quantity: 7}},
		ReceivedAt: now,
	}

	res := n.NormalizeA(raw, now)
	if res == nil {
		t.Fatalf("expected non-nil result")
	}

	if len(res.Book.Bids) != 2 {
		t.Fatalf("expected zero-qty bid dropped, got %d bids", len(res.Book.Bids))
	}
	best, ok := res.Book.BestBid()
	if !ok || !best.Price.Equal(decimal.NewFromFloat(0.42)) {
		t.Fatalf("expected best bid 0.42, got %v", best.Price)
	}
	// NO @ 55c -> ask at 1-0.55=0.45; NO @ 56c -> ask at 0.44. Best (lowest) ask is 0.44.
	bestAsk, ok := res.Book.BestAsk()
	if !ok || !bestAsk.Price.Equal(decimal.NewFromFloat(0.44)) {
		t.Fatalf("expected best ask 0.44, got %v", bestAsk.Price)
	}
	if res.Flag != domain.BookNormal {
		t.Fatalf("expected normal book, got %v", res.Flag)
	}
}

func TestNormalizeARejectsOutOfRangePrice(t *testing.T) {
	n := New(zap.NewNop())
	now := time.Now()
	raw := RawBookA{
		ContractID: "YES-1",
		YesLevels:  []RawLevel{{PriceCents: 140, Quantity: 10}},
		ReceivedAt: now,
	}
	if res := n.NormalizeA(raw, now); res != nil {
		t.Fatalf("expected nil result for out-of-range cents price, got %+v", res)
	}
}

func TestNormalizeARejectsNegativeQuantity(t *testing.T) {
	n := New(zap.NewNop())
	now := time.Now()
	raw := RawBookA{
		ContractID: "YES-1",
		YesLevels:  []RawLevel{{PriceCents: 40, Quantity: -1}},
		ReceivedAt: now,
	}
	if res := n.NormalizeA(raw, now); res != nil {
		t.Fatalf("expected nil result for negative quantity, got %+v", res)
	}
}

func TestNormalizeBParsesDecimalStrings(t *testing.T) {
	n := New(zap.NewNop())
	now := time.Now()
	raw := RawBookB{
		ContractID: "YES-1",
		Bids:       []RawLevelString{{Price: "0.60", Quantity: "10"}},
		Asks:       []RawLevelString{{Price: "0.55", Quantity: "10"}},
		ReceivedAt: now,
	}

	res := n.NormalizeB(raw, now)
	if res == nil {
		t.Fatalf("expected non-nil result")
	}
	if res.Flag != domain.BookCrossed {
		t.Fatalf("expected crossed_market flag, got %v", res.Flag)
	}
}

func TestNormalizeBRejectsUnparseablePrice(t *testing.T) {
	n := New(zap.NewNop())
	now := time.Now()
	raw := RawBookB{
		ContractID: "YES-1",
		Bids:       []RawLevelString{{Price: "not-a-number", Quantity: "10"}},
		ReceivedAt: now,
	}
	if res := n.NormalizeB(raw, now); res != nil {
		t.Fatalf("expected nil result for unparseable price, got %+v", res)
	}
}

func TestNormalizeBRejectsOutOfRangePrice(t *testing.T) {
	n := New(zap.NewNop())
	now := time.Now()
	raw := RawBookB{
		ContractID: "YES-1",
		Bids:       []RawLevelString{{Price: "1.50", Quantity: "10"}},
		ReceivedAt: now,
	}
	if res := n.NormalizeB(raw, now); res != nil {
		t.Fatalf("expected nil result for out-of-range decimal price, got %+v", res)
	}
}

func TestNormalizeClassifiesZeroSpread(t *testing.T) {
	n := New(zap.NewNop())
	now := time.Now()
	raw := RawBookB{
		ContractID: "YES-1",
		Bids:       []RawLevelString{{Price: "0.50", Quantity: "10"}},
		Asks:       []RawLevelString{{Price: "0.50", Quantity: "10"}},
		ReceivedAt: now,
	}

	res := n.NormalizeB(raw, now)
	if res == nil {
		t.Fatalf("expected non-nil result")
	}
	if res.Flag != domain.BookZeroSpread {
		t.Fatalf("expected zero_spread flag, got %v", res.Flag)
	}
}

func TestLatencyP95TracksRollingWindow(t *testing.T) {
	n := New(zap.NewNop())
	base := time.Now()
	for i := 0; i < windowSize; i++ {
		received := base.Add(-time.Duration(i%50) * time.Millisecond)
		n.NormalizeA(RawBookA{ContractID: "YES-1", ReceivedAt: received}, base)
	}
	p95 := n.LatencyP95(domain.VenueA)
	if p95 <= 0 {
		t.Fatalf("expected positive p95 latency, got %v", p95)
	}
}

func TestNormalizeANeverPanicsOnEmptyBook(t *testing.T) {
	n := New(zap.NewNop())
	now := time.Now()
	res := n.NormalizeA(RawBookA{ContractID: "YES-1", ReceivedAt: now}, now)
	if res == nil {
		t.Fatalf("expected non-nil result for empty book")
	}
	if res.Flag != domain.BookNormal {
		t.Fatalf("expected normal flag for empty book, got %v", res.Flag)
	}
}

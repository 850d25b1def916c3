package reconciliation

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arbitrage-core/internal/connector"
	"arbitrage-core/internal/domain"
	"arbitrage-core/internal/eventbus"
)

func mustDec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakePositionLister struct{ positions []domain.Position }

func (f fakePositionLister) ListActivePositions(ctx context.Context) ([]domain.Position, error) {
	return f.positions, nil
}

type fakePositionGetter struct{ position domain.Position }

func (f fakePositionGetter) GetPosition(ctx context.Context, positionID string) (domain.Position, error) {
	return f.position, nil
}

type fakePositionUpdater struct{ updated []domain.Position }

func (f *fakePositionUpdater) UpdatePosition(ctx context.Context, p domain.Position) error {
	f.updated = append(f.updated, p)
	return nil
}

type fakeDiscrepancyRecorder struct{ discrepancies []domain.ReconciliationDiscrepancy }

func (f *fakeDiscrepancyRecorder) InsertDiscrepancy(ctx context.Context, d domain.ReconciliationDiscrepancy) error {
	f.discrepancies = append(f.discrepancies, d)
	return nil
}

type fakeOrderLookup struct{ orders map[string]domain.PersistedOrder }

func (f fakeOrderLookup) GetOrder(ctx context.Context, orderID string) (domain.PersistedOrder, error) {
	return f.orders[orderID], nil
}

func strPtr(s string) *string { return &s }

func TestRunClassifiesPendingFilled(t *testing.T) {
	a := connector.NewPaperConnector(domain.VenueA)
	a.Connect(context.Background())
	a.SeedBook(domain.NormalizedOrderBook{Venue: domain.VenueA, ContractID: "contract-a",
		Bids: []domain.PriceLevel{{Price: mustDec("0.50"), Quantity: mustDec("500")}},
		Asks: []domain.PriceLevel{{Price: mustDec("0.51"), Quantity: mustDec("500")}}})
	res, err := a.SubmitOrder(context.Background(), domain.OrderParams{ContractID: "contract-a", Side: domain.SideBuy, Quantity: 100, Price: mustDec("0.51")})
	if err != nil {
		t.Fatalf("setup submit failed: %v", err)
	}

	orders := fakeOrderLookup{orders: map[string]domain.PersistedOrder{
		res.OrderID: {OrderID: res.OrderID, Venue: domain.VenueA, Status: domain.PersistedPending},
	}}

	pos := domain.Position{PositionID: "pos-1", PairID: 1, PrimaryOrderRef: strPtr(res.OrderID), Status: domain.PositionOpen}
	lister := fakePositionLister{positions: []domain.Position{pos}}
	updater := &fakePositionUpdater{}
	discrepancies := &fakeDiscrepancyRecorder{}
	bus := eventbus.New(nil)

	var complete int
	bus.Subscribe(eventbus.ReconciliationComplete, func(event interface{}) { complete++ })
	var found int
	bus.Subscribe(eventbus.ReconciliationDiscrepancy, func(event interface{}) { found++ })

	engine := NewEngine(map[domain.Venue]connector.PlatformConnector{domain.VenueA: a}, lister, fakePositionGetter{}, updater, discrepancies, orders, bus, nil)

	summary, err := engine.Run(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.DiscrepanciesFound != 1 {
		t.Fatalf("expected one discrepancy, got %d", summary.DiscrepanciesFound)
	}
	if found != 1 || complete != 1 {
		t.Fatalf("expected one discrepancy event and one complete event, got %d/%d", found, complete)
	}
	if len(discrepancies.discrepancies) != 1 || discrepancies.discrepancies[0].Kind != domain.DiscrepancyPendingFilled {
		t.Fatalf("expected pending_filled discrepancy, got %+v", discrepancies.discrepancies)
	}
	if len(updater.updated) != 1 || updater.updated[0].Status != domain.PositionReconciliationNeeded {
		t.Fatalf("expected position flagged RECONCILIATION_REQUIRED, got %+v", updater.updated)
	}
}

func TestRunDebouncesWithin30Seconds(t *testing.T) {
	lister := fakePositionLister{}
	engine := NewEngine(nil, lister, fakePositionGetter{}, &fakePositionUpdater{}, &fakeDiscrepancyRecorder{}, fakeOrderLookup{}, eventbus.New(nil), nil)

	now := time.Now()
	if _, err := engine.Run(context.Background(), now); err != nil {
		t.Fatalf("first run should succeed: %v", err)
	}
	if _, err := engine.Run(context.Background(), now.Add(10*time.Second)); err != ErrDebounced {
		t.Fatalf("expected ErrDebounced, got %v", err)
	}
	if _, err := engine.Run(context.Background(), now.Add(31*time.Second)); err != nil {
		t.Fatalf("expected run to proceed after debounce window, got %v", err)
	}
}

func TestResolveDiscrepancyRequiresReconciliationRequiredState(t *testing.T) {
	updater := &fakePositionUpdater{}
	getter := fakePositionGetter{position: domain.Position{PositionID: "pos-2", Status: domain.PositionOpen}}
	engine := NewEngine(nil, fakePositionLister{}, getter, updater, &fakeDiscrepancyRecorder{}, fakeOrderLookup{}, eventbus.New(nil), nil)

	_, err := engine.ResolveDiscrepancy(context.Background(), "pos-2", ActionMarkClosed, "confirmed closed at venue", time.Now())
	if err == nil {
		t.Fatalf("expected error resolving a position not in RECONCILIATION_REQUIRED")
	}
}

func TestResolveDiscrepancyAppliesAction(t *testing.T) {
	updater := &fakePositionUpdater{}
	getter := fakePositionGetter{position: domain.Position{PositionID: "pos-3", Status: domain.PositionReconciliationNeeded}}
	engine := NewEngine(nil, fakePositionLister{}, getter, updater, &fakeDiscrepancyRecorder{}, fakeOrderLookup{}, eventbus.New(nil), nil)

	resolved, err := engine.ResolveDiscrepancy(context.Background(), "pos-3", ActionMarkClosed, "confirmed closed at venue", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Status != domain.PositionClosed {
		t.Fatalf("expected position resolved to CLOSED, got %s", resolved.Status)
	}
	if len(updater.updated) != 1 {
		t.Fatalf("expected resolution persisted once, got %d", len(updater.updated))
	}
}

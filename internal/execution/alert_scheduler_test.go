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

type fixedLister struct{ positions []domain.Position }

func (f fixedLister) ListExposedPositions(ctx context.Context) ([]domain.Position, error) {
	return f.positions, nil
}

func TestAlertSchedulerDebouncesWithin55Seconds(t *testing.T) {
	a := connector.NewPaperConnector(domain.VenueA)
	b := connector.NewPaperConnector(domain.VenueB)
	a.Connect(context.Background())
	b.Connect(context.Background())
	conns := map[domain.Venue]connector.PlatformConnector{domain.VenueA: a, domain.VenueB: b}

	price := decimal.NewFromFloat(0.45)
	pos := domain.Position{
		PositionID:         "pos-1",
		PrimaryOrderRef:    strPtr("order-a"),
		SidePerVenue:       map[domain.Venue]domain.Side{domain.VenueA: domain.SideBuy},
		EntryPricePerVenue: map[domain.Venue]decimal.Decimal{domain.VenueA: price},
		SizePerVenue:       map[domain.Venue]int64{domain.VenueA: 200},
		Status:             domain.PositionSingleLegExposed,
	}

	bus := eventbus.New(nil)
	var reminders int
	bus.Subscribe(eventbus.ExecutionSingleLegExposureReminder, func(event interface{}) { reminders++ })

	sched := NewAlertScheduler(fixedLister{positions: []domain.Position{pos}}, conns, domain.VenueA, domain.VenueB, bus, nil)

	start := time.Now()
	sched.Tick(context.Background(), start)
	sched.Tick(context.Background(), start.Add(30*time.Second))

	if reminders != 1 {
		t.Fatalf("expected exactly one reminder across two ticks 30s apart, got %d", reminders)
	}
}

func TestAlertSchedulerSkipsWhenVenueDisconnected(t *testing.T) {
	a := connector.NewPaperConnector(domain.VenueA)
	b := connector.NewPaperConnector(domain.VenueB)
	a.Connect(context.Background())
	// b is left disconnected.
	conns := map[domain.Venue]connector.PlatformConnector{domain.VenueA: a, domain.VenueB: b}

	pos := domain.Position{
		PositionID:         "pos-2",
		PrimaryOrderRef:    strPtr("order-a"),
		SidePerVenue:       map[domain.Venue]domain.Side{domain.VenueA: domain.SideBuy},
		EntryPricePerVenue: map[domain.Venue]decimal.Decimal{domain.VenueA: decimal.NewFromFloat(0.45)},
		SizePerVenue:       map[domain.Venue]int64{domain.VenueA: 200},
		Status:             domain.PositionSingleLegExposed,
	}

	bus := eventbus.New(nil)
	var reminders int
	bus.Subscribe(eventbus.ExecutionSingleLegExposureReminder, func(event interface{}) { reminders++ })

	sched := NewAlertScheduler(fixedLister{positions: []domain.Position{pos}}, conns, domain.VenueA, domain.VenueB, bus, nil)
	sched.Tick(context.Background(), time.Now())

	if reminders != 0 {
		t.Fatalf("expected no reminder while a venue connector is disconnected, got %d", reminders)
	}
}

func strPtr(s string) *string { return &s }

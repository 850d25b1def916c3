package execution

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"arbitrage-core/internal/connector"
	"arbitrage-core/internal/domain"
	"arbitrage-core/internal/eventbus"
	"arbitrage-core/internal/pnl"
)

const reminderDebounce = 55 * time.Second

// ExposedPositionLister reads positions currently needing reminders.
type ExposedPositionLister interface {
	ListExposedPositions(ctx context.Context) ([]domain.Position, error)
}

// ExposureReminderEvent is published on execution.single_leg.exposure_reminder.
type ExposureReminderEvent struct {
	eventbus.EventHeader
	PositionID string
	Scenarios  pnl.Scenarios
}

// AlertScheduler re-emits a reminder for each still-exposed position at a
// fixed interval, debounced per position.
type AlertScheduler struct {
	lister     ExposedPositionLister
	connectors map[domain.Venue]connector.PlatformConnector
	primary    domain.Venue
	secondary  domain.Venue
	bus        *eventbus.Bus
	log        *zap.Logger

	mu        sync.Mutex
	lastSent  map[string]time.Time
}

// NewAlertScheduler wires an AlertScheduler. primary/secondary identify
// the two venues every position spans, used to resolve the filled leg.
func NewAlertScheduler(lister ExposedPositionLister, connectors map[domain.Venue]connector.PlatformConnector, primary, secondary domain.Venue, bus *eventbus.Bus, log *zap.Logger) *AlertScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AlertScheduler{
		lister: lister, connectors: connectors, primary: primary, secondary: secondary,
		bus: bus, log: log, lastSent: make(map[string]time.Time),
	}
}

// Tick runs one scheduler cycle. Errors for one position never affect
// others.
func (s *AlertScheduler) Tick(ctx context.Context, now time.Time) {
	positions, err := s.lister.ListExposedPositions(ctx)
	if err != nil {
		s.log.Error("failed to list exposed positions", zap.Error(err))
		return
	}

	seen := make(map[string]bool, len(positions))
	for _, p := range positions {
		seen[p.PositionID] = true
		s.tickPosition(ctx, p, now)
	}
	s.pruneStale(seen)
}

func (s *AlertScheduler) tickPosition(ctx context.Context, p domain.Position, now time.Time) {
	filledVenue, ok := firstFilledVenue(p, s.primary, s.secondary)
	if !ok {
		return
	}
	otherVenue := s.secondary
	if filledVenue == s.secondary {
		otherVenue = s.primary
	}

	for _, v := range []domain.Venue{s.primary, s.secondary} {
		conn, ok := s.connectors[v]
		if !ok || !conn.IsConnected(v) {
			return
		}
	}

	s.mu.Lock()
	last, ok := s.lastSent[p.PositionID]
	if ok && now.Sub(last) < reminderDebounce {
		s.mu.Unlock()
		return
	}
	s.lastSent[p.PositionID] = now
	s.mu.Unlock()

	snap := s.bestEffortSnapshot(ctx, filledVenue, otherVenue)
	fill := pnl.Fill{
		Venue: filledVenue,
		Side:  p.SidePerVenue[filledVenue],
		Price: p.EntryPricePerVenue[filledVenue],
		Size:  p.SizePerVenue[filledVenue],
	}
	scenarios := pnl.Compute(fill, decimal.NewFromFloat(0.02), decimal.NewFromFloat(0.02), decimal.NewFromFloat(0.02), snap, p.PositionID)

	if s.bus != nil {
		s.bus.Publish(eventbus.ExecutionSingleLegExposureReminder, ExposureReminderEvent{
			EventHeader: eventbus.EventHeader{Timestamp: now.UnixNano()},
			PositionID:  p.PositionID,
			Scenarios:   scenarios,
		})
	}
}

func (s *AlertScheduler) bestEffortSnapshot(ctx context.Context, filledVenue, otherVenue domain.Venue) pnl.MarketSnapshot {
	ctx, cancel := context.WithTimeout(ctx, bestEffortTimeout)
	defer cancel()

	snap := pnl.MarketSnapshot{}
	if conn, ok := s.connectors[filledVenue]; ok {
		if book, err := conn.GetOrderBook(ctx, ""); err == nil {
			if bid, ok := book.BestBid(); ok {
				snap.FilledVenueBestBid = &bid.Price
			}
			if ask, ok := book.BestAsk(); ok {
				snap.FilledVenueBestAsk = &ask.Price
			}
		}
	}
	if conn, ok := s.connectors[otherVenue]; ok {
		if book, err := conn.GetOrderBook(ctx, ""); err == nil {
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

// pruneStale drops debounce entries for positions no longer in the
// exposed query's result set.
func (s *AlertScheduler) pruneStale(stillExposed map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.lastSent {
		if !stillExposed[id] {
			delete(s.lastSent, id)
		}
	}
}

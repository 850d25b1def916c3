// Package degradation реализует идемпотентный флаг деградации площадки:
// пока он активен, исполнительный конвейер обязан избегать торговли на
// этой площадке. Состояние целиком управляется переходами
// PlatformHealthTracker — у протокола нет собственных таймеров.
package degradation

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"arbitrage-core/internal/domain"
	"arbitrage-core/internal/eventbus"
)

type entry struct {
	active           bool
	reason           string
	lastDataTs       *time.Time
	activatedAt      time.Time
}

// Protocol tracks the per-venue degradation flag.
type Protocol struct {
	mu      sync.RWMutex
	venues  map[domain.Venue]*entry
	bus     *eventbus.Bus
	log     *zap.Logger
}

// New creates an empty Protocol. bus may be nil during tests that do not
// care about emitted events.
func New(bus *eventbus.Bus, log *zap.Logger) *Protocol {
	if log == nil {
		log = zap.NewNop()
	}
	return &Protocol{venues: make(map[domain.Venue]*entry), bus: bus, log: log}
}

// DegradationActivatedEvent is published on degradation.activated.
type DegradationActivatedEvent struct {
	eventbus.EventHeader
	Venue      domain.Venue
	Reason     string
	LastDataTs *time.Time
}

// DegradationDeactivatedEvent is published on degradation.deactivated.
type DegradationDeactivatedEvent struct {
	eventbus.EventHeader
	Venue            domain.Venue
	OutageDurationMs int64
}

// Activate marks venue degraded. No-op (and no event) if already active.
func (p *Protocol) Activate(venue domain.Venue, reason string, lastDataTs *time.Time, now time.Time) {
	p.mu.Lock()
	e, ok := p.venues[venue]
	if !ok {
		e = &entry{}
		p.venues[venue] = e
	}
	if e.active {
		p.mu.Unlock()
		return
	}
	e.active = true
	e.reason = reason
	e.lastDataTs = lastDataTs
	e.activatedAt = now
	p.mu.Unlock()

	p.log.Warn("venue degraded", zap.String("venue", string(venue)), zap.String("reason", reason))
	if p.bus != nil {
		p.bus.Publish(eventbus.DegradationActivated, DegradationActivatedEvent{
			EventHeader: eventbus.EventHeader{Timestamp: now.UnixNano()},
			Venue:       venue,
			Reason:      reason,
			LastDataTs:  lastDataTs,
		})
	}
}

// Deactivate clears the degraded flag. No-op (and no event) if already
// inactive.
func (p *Protocol) Deactivate(venue domain.Venue, now time.Time) {
	p.mu.Lock()
	e, ok := p.venues[venue]
	if !ok || !e.active {
		p.mu.Unlock()
		return
	}
	e.active = false
	outage := now.Sub(e.activatedAt)
	p.mu.Unlock()

	p.log.Info("venue recovered", zap.String("venue", string(venue)), zap.Duration("outage", outage))
	if p.bus != nil {
		p.bus.Publish(eventbus.DegradationDeactivated, DegradationDeactivatedEvent{
			EventHeader:      eventbus.EventHeader{Timestamp: now.UnixNano()},
			Venue:            venue,
			OutageDurationMs: outage.Milliseconds(),
		})
	}
}

// IsDegraded reports whether venue is currently flagged degraded.
func (p *Protocol) IsDegraded(venue domain.Venue) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.venues[venue]
	return ok && e.active
}

// DegradedCount reports how many venues are currently degraded, for the
// gauge metric.
func (p *Protocol) DegradedCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, e := range p.venues {
		if e.active {
			n++
		}
	}
	return n
}

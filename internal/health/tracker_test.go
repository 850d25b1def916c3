package health

import (
	"testing"
	"time"

	"arbitrage-core/internal/degradation"
	"arbitrage-core/internal/domain"
	"arbitrage-core/internal/eventbus"
)

type alwaysConnected struct{}

func (alwaysConnected) IsConnected(domain.Venue) bool { return true }

type neverConnected struct{}

func (neverConnected) IsConnected(domain.Venue) bool { return false }

func TestTickStaysHealthyWithRecentUpdates(t *testing.T) {
	bus := eventbus.New(nil)
	tr := New(alwaysConnected{}, degradation.New(bus, nil), bus, nil, nil)
	now := time.Now()
	tr.RecordUpdate(domain.VenueA, 10, now)

	tr.Tick([]domain.Venue{domain.VenueA}, now)
	tr.Tick([]domain.Venue{domain.VenueA}, now.Add(30*time.Second))

	vs := tr.stateFor(domain.VenueA)
	if vs.currentStatus != domain.HealthHealthy {
		t.Fatalf("expected healthy, got %v", vs.currentStatus)
	}
}

func TestTickRequiresTwoConsecutiveTicksToDegrade(t *testing.T) {
	bus := eventbus.New(nil)
	degrader := degradation.New(bus, nil)
	tr := New(alwaysConnected{}, degrader, bus, nil, nil)

	start := time.Now()
	tr.RecordUpdate(domain.VenueA, 10, start)

	// First stale tick: should not yet transition.
	firstTick := start.Add(90 * time.Second)
	tr.Tick([]domain.Venue{domain.VenueA}, firstTick)
	if degrader.IsDegraded(domain.VenueA) {
		t.Fatal("expected not yet degraded after a single unhealthy tick")
	}

	// Second consecutive stale tick confirms the transition.
	secondTick := firstTick.Add(30 * time.Second)
	tr.Tick([]domain.Venue{domain.VenueA}, secondTick)
	if !degrader.IsDegraded(domain.VenueA) {
		t.Fatal("expected degraded after two consecutive unhealthy ticks")
	}
}

func TestTickDisconnectedClassification(t *testing.T) {
	bus := eventbus.New(nil)
	var transitions []PlatformHealthTransitionEvent
	bus.Subscribe(eventbus.PlatformHealthDisconnected, func(event interface{}) {
		transitions = append(transitions, event.(PlatformHealthTransitionEvent))
	})
	degrader := degradation.New(bus, nil)
	tr := New(neverConnected{}, degrader, bus, nil, nil)

	start := time.Now()
	tr.RecordUpdate(domain.VenueB, 10, start)
	tr.Tick([]domain.Venue{domain.VenueB}, start.Add(30*time.Second))
	tr.Tick([]domain.Venue{domain.VenueB}, start.Add(60*time.Second))

	if len(transitions) != 1 {
		t.Fatalf("expected exactly one disconnected transition event, got %d", len(transitions))
	}
}

func TestRecoveryRejectedByFreshnessGate(t *testing.T) {
	bus := eventbus.New(nil)
	degrader := degradation.New(bus, nil)
	tr := New(alwaysConnected{}, degrader, bus, nil, nil)

	start := time.Now()
	tr.RecordUpdate(domain.VenueA, 3000, start) // high latency
	tr.Tick([]domain.Venue{domain.VenueA}, start.Add(30*time.Second))
	tr.Tick([]domain.Venue{domain.VenueA}, start.Add(60*time.Second))
	if !degrader.IsDegraded(domain.VenueA) {
		t.Fatal("expected venue degraded before testing recovery gate")
	}

	// A fresh low-latency sample arrives once, then two ticks observe it
	// as healthy (not stale, low p95) confirming recovery by hysteresis,
	// but each tick is 30-60s after that single update, so the 30s
	// freshness gate fails and the degradation protocol must not be
	// deactivated.
	updateAt := start.Add(61 * time.Second)
	tr.RecordUpdate(domain.VenueA, 10, updateAt)
	tr.Tick([]domain.Venue{domain.VenueA}, updateAt.Add(30*time.Second))
	tr.Tick([]domain.Venue{domain.VenueA}, updateAt.Add(60*time.Second))

	if !degrader.IsDegraded(domain.VenueA) {
		t.Fatal("expected recovery to be rejected by the freshness gate")
	}
}

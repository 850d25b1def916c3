// Package health реализует PlatformHealthTracker: по каждой площадке
// хранит момент последнего обновления и скользящее окно задержки,
// по 30-секундному тику классифицирует состояние с гистерезисом в два
// подтверждающих тика и связывает переходы с DegradationProtocol.
package health

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"arbitrage-core/internal/degradation"
	"arbitrage-core/internal/domain"
	"arbitrage-core/internal/eventbus"
)

const (
	staleThreshold        = 60 * time.Second
	latencyThreshold      = 2 * time.Second
	freshnessGateOnRecover = 30 * time.Second
	latencyWindowSize      = 100
	hysteresisTicks        = 2
)

// Connector is the subset of a PlatformConnector the tracker needs:
// whether the venue's transport reports itself connected.
type Connector interface {
	IsConnected(venue domain.Venue) bool
}

// HealthLogWriter persists a row only on a status transition.
type HealthLogWriter interface {
	InsertHealthTransition(venue domain.Venue, status domain.HealthStatus, reason string, at time.Time) error
}

type venueState struct {
	mu                   sync.Mutex
	lastUpdateMonotonic  time.Time
	latencies            []float64
	latencyPos           int
	latencyFilled        bool
	currentStatus        domain.HealthStatus
	consecutiveUnhealthy int
	consecutiveHealthy   int
}

func newVenueState() *venueState {
	return &venueState{
		latencies:     make([]float64, latencyWindowSize),
		currentStatus: domain.HealthHealthy,
	}
}

func (v *venueState) recordUpdate(latencyMs float64, now time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lastUpdateMonotonic = now
	v.latencies[v.latencyPos] = latencyMs
	v.latencyPos = (v.latencyPos + 1) % latencyWindowSize
	if v.latencyPos == 0 {
		v.latencyFilled = true
	}
}

func (v *venueState) p95Locked() float64 {
	n := v.latencyPos
	if v.latencyFilled {
		n = latencyWindowSize
	}
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, v.latencies[:n])
	sort.Float64s(sorted)
	idx := int(float64(n)*0.95) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

// Tracker is the PlatformHealthTracker.
type Tracker struct {
	mu         sync.Mutex
	venues     map[domain.Venue]*venueState
	connector  Connector
	degrader   *degradation.Protocol
	bus        *eventbus.Bus
	healthLog  HealthLogWriter
	log        *zap.Logger
}

// New creates a Tracker. healthLog may be nil, in which case transitions
// are simply not persisted.
func New(connector Connector, degrader *degradation.Protocol, bus *eventbus.Bus, healthLog HealthLogWriter, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		venues:    make(map[domain.Venue]*venueState),
		connector: connector,
		degrader:  degrader,
		bus:       bus,
		healthLog: healthLog,
		log:       log,
	}
}

func (t *Tracker) stateFor(venue domain.Venue) *venueState {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.venues[venue]
	if !ok {
		v = newVenueState()
		t.venues[venue] = v
	}
	return v
}

// RecordUpdate advances the per-venue last-update timestamp and latency
// window. Called from the normalizer path on every received book.
func (t *Tracker) RecordUpdate(venue domain.Venue, latencyMs float64, now time.Time) {
	t.stateFor(venue).recordUpdate(latencyMs, now)
}

// PlatformHealthUpdatedEvent is published on every health tick, per venue.
type PlatformHealthUpdatedEvent struct {
	eventbus.EventHeader
	Venue  domain.Venue
	Status domain.HealthStatus
}

// PlatformHealthTransitionEvent is published on degraded/recovered/disconnected.
type PlatformHealthTransitionEvent struct {
	eventbus.EventHeader
	Venue  domain.Venue
	Status domain.HealthStatus
	Reason string
}

// Tick evaluates all known venues. Intended to be invoked once per 30s
// scheduler tick, never overlapping with itself.
func (t *Tracker) Tick(venues []domain.Venue, now time.Time) {
	for _, venue := range venues {
		t.tickVenue(venue, now)
	}
}

func (t *Tracker) tickVenue(venue domain.Venue, now time.Time) {
	vs := t.stateFor(venue)

	vs.mu.Lock()
	lastUpdate := vs.lastUpdateMonotonic
	p95 := vs.p95Locked()
	prevStatus := vs.currentStatus
	vs.mu.Unlock()

	disconnected := t.connector != nil && !t.connector.IsConnected(venue)
	stale := !lastUpdate.IsZero() && now.Sub(lastUpdate) > staleThreshold
	highLatency := p95 > float64(latencyThreshold.Milliseconds())

	var observed domain.HealthStatus
	var reason string
	switch {
	case disconnected:
		observed = domain.HealthDisconnected
		reason = "disconnected"
	case stale:
		observed = domain.HealthDegraded
		reason = "stale_data"
	case highLatency:
		observed = domain.HealthDegraded
		reason = "high_latency"
	default:
		observed = domain.HealthHealthy
		reason = ""
	}

	vs.mu.Lock()
	if observed != domain.HealthHealthy {
		vs.consecutiveUnhealthy++
		vs.consecutiveHealthy = 0
	} else {
		vs.consecutiveHealthy++
		vs.consecutiveUnhealthy = 0
	}
	unhealthyConfirmed := vs.consecutiveUnhealthy >= hysteresisTicks
	healthyConfirmed := vs.consecutiveHealthy >= hysteresisTicks
	newStatus := prevStatus
	switch {
	case prevStatus == domain.HealthHealthy && unhealthyConfirmed:
		newStatus = observed
	case prevStatus != domain.HealthHealthy && healthyConfirmed:
		newStatus = domain.HealthHealthy
	case prevStatus != domain.HealthHealthy && observed != domain.HealthHealthy && observed != prevStatus:
		// already unhealthy, but the specific classification changed
		// (e.g. degraded -> disconnected); no hysteresis gate on a
		// worsening reclassification within the unhealthy state.
		newStatus = observed
	}
	vs.currentStatus = newStatus
	vs.mu.Unlock()

	t.publishUpdated(venue, observed, now)

	if newStatus == prevStatus {
		return
	}

	t.persistTransition(venue, newStatus, reason, now)
	t.publishTransition(venue, newStatus, reason, now)
	t.coupleToDegradation(venue, newStatus, reason, lastUpdate, now)
}

func (t *Tracker) publishUpdated(venue domain.Venue, status domain.HealthStatus, now time.Time) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(eventbus.PlatformHealthUpdated, PlatformHealthUpdatedEvent{
		EventHeader: eventbus.EventHeader{Timestamp: now.UnixNano()},
		Venue:       venue,
		Status:      status,
	})
}

func (t *Tracker) publishTransition(venue domain.Venue, status domain.HealthStatus, reason string, now time.Time) {
	var name eventbus.Name
	switch status {
	case domain.HealthDegraded:
		name = eventbus.PlatformHealthDegraded
	case domain.HealthDisconnected:
		name = eventbus.PlatformHealthDisconnected
	default:
		name = eventbus.PlatformHealthRecovered
	}
	if t.bus != nil {
		t.bus.Publish(name, PlatformHealthTransitionEvent{
			EventHeader: eventbus.EventHeader{Timestamp: now.UnixNano()},
			Venue:       venue,
			Status:      status,
			Reason:      reason,
		})
	}
}

func (t *Tracker) persistTransition(venue domain.Venue, status domain.HealthStatus, reason string, now time.Time) {
	if t.healthLog == nil {
		return
	}
	if err := t.healthLog.InsertHealthTransition(venue, status, reason, now); err != nil {
		t.log.Error("failed to persist health transition", zap.String("venue", string(venue)), zap.Error(err))
	}
}

// coupleToDegradation is exception-safe per the tracker's contract: a
// failure in the degradation protocol is caught, logged, and must never
// suppress the health events already published above.
func (t *Tracker) coupleToDegradation(venue domain.Venue, status domain.HealthStatus, reason string, lastUpdate time.Time, now time.Time) {
	if t.degrader == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("degradation protocol call panicked", zap.String("venue", string(venue)), zap.Any("recover", r))
		}
	}()

	if status != domain.HealthHealthy {
		lu := lastUpdate
		t.degrader.Activate(venue, reason, &lu, now)
		return
	}

	if lastUpdate.IsZero() || now.Sub(lastUpdate) > freshnessGateOnRecover {
		t.log.Warn("recovery rejected by freshness gate", zap.String("venue", string(venue)))
		return
	}
	t.degrader.Deactivate(venue, now)
}

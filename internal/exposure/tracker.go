// Package exposure реализует ExposureTracker: подписывается на
// execution.single_leg.exposure, ведёт месячные и недельные (ISO-8601)
// счётчики, и эмитит предупредительные/предельные события при превышении
// порогов. Счётчики восстанавливаются из персистентных позиций при старте.
package exposure

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"arbitrage-core/internal/domain"
	"arbitrage-core/internal/eventbus"
	"arbitrage-core/pkg/isoweek"
)

// Thresholds configures the tracker's alert limits. Surfaced via config so
// these are not magic numbers baked into the tracker.
type Thresholds struct {
	MonthlyExposureThreshold    int
	WeeklyConsecutiveBreachWeeks int
}

// DefaultThresholds mirrors the values this system has run with historically.
func DefaultThresholds() Thresholds {
	return Thresholds{MonthlyExposureThreshold: 5, WeeklyConsecutiveBreachWeeks: 3}
}

// HistoricalPositionSource lets Tracker rebuild its counters at startup
// from whatever single-leg-exposure incidents persistence already knows
// about.
type HistoricalPositionSource interface {
	ListHistoricalExposureTimestamps(ctx context.Context) ([]time.Time, error)
}

// LimitApproachedEvent is published on limit.approached.
type LimitApproachedEvent struct {
	eventbus.EventHeader
	Type      string
	Count     int
	Threshold int
}

// LimitBreachedEvent is published on limit.breached.
type LimitBreachedEvent struct {
	eventbus.EventHeader
	Type             string
	ConsecutiveWeeks int
}

// Tracker is the ExposureTracker.
type Tracker struct {
	mu         sync.Mutex
	counters   domain.ExposureCounters
	thresholds Thresholds
	bus        *eventbus.Bus
	log        *zap.Logger
}

// New creates a Tracker with empty counters. Call RebuildFromHistory
// immediately after construction, before the event bus starts delivering
// live exposure events.
func New(thresholds Thresholds, bus *eventbus.Bus, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		counters: domain.ExposureCounters{
			PerMonth:   make(map[string]int),
			PerIsoWeek: make(map[string]int),
		},
		thresholds: thresholds,
		bus:        bus,
		log:        log,
	}
}

// RebuildFromHistory replays every historical exposure timestamp through
// the same counting logic RecordExposure uses, without re-emitting events.
func (t *Tracker) RebuildFromHistory(ctx context.Context, source HistoricalPositionSource) error {
	timestamps, err := source.ListHistoricalExposureTimestamps(ctx)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ts := range timestamps {
		t.recordLocked(ts, false)
	}
	return nil
}

// Subscribe wires the tracker onto the event bus for live exposure events.
func (t *Tracker) Subscribe(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.ExecutionSingleLegExposure, func(event interface{}) {
		t.RecordExposure(time.Now())
	})
}

// RecordExposure advances both counters for an exposure observed at now,
// emitting limit events as thresholds are crossed.
func (t *Tracker) RecordExposure(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recordLocked(now, true)
}

func (t *Tracker) recordLocked(now time.Time, emit bool) {
	monthKey := isoweek.MonthKey(now)
	t.counters.PerMonth[monthKey]++
	monthCount := t.counters.PerMonth[monthKey]

	if emit && monthCount > t.thresholds.MonthlyExposureThreshold {
		t.publish(eventbus.LimitApproached, LimitApproachedEvent{
			EventHeader: eventbus.EventHeader{Timestamp: now.UnixNano()},
			Type:        "monthly_exposure", Count: monthCount, Threshold: t.thresholds.MonthlyExposureThreshold,
		})
	}

	currentWeek := isoweek.Key(now)
	if currentWeek != t.counters.LastEvaluatedWeek {
		prevWeek, err := isoweek.Previous(currentWeek)
		if err == nil {
			if t.counters.PerIsoWeek[prevWeek] > 1 {
				t.counters.ConsecutiveBreachedWeeks++
			} else {
				t.counters.ConsecutiveBreachedWeeks = 0
			}
		}
	}
	t.counters.LastEvaluatedWeek = currentWeek

	t.counters.PerIsoWeek[currentWeek]++
	weekCount := t.counters.PerIsoWeek[currentWeek]

	if emit && weekCount > 1 && t.counters.ConsecutiveBreachedWeeks+1 >= t.thresholds.WeeklyConsecutiveBreachWeeks {
		t.publish(eventbus.LimitBreached, LimitBreachedEvent{
			EventHeader:      eventbus.EventHeader{Timestamp: now.UnixNano()},
			Type:             "weekly_consecutive_exposure",
			ConsecutiveWeeks: t.counters.ConsecutiveBreachedWeeks + 1,
		})
	}
}

func (t *Tracker) publish(name eventbus.Name, event interface{}) {
	if t.bus != nil {
		t.bus.Publish(name, event)
	}
}

// Snapshot returns a copy of the current counters, for diagnostics.
func (t *Tracker) Snapshot() domain.ExposureCounters {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := domain.ExposureCounters{
		PerMonth:                 make(map[string]int, len(t.counters.PerMonth)),
		PerIsoWeek:               make(map[string]int, len(t.counters.PerIsoWeek)),
		ConsecutiveBreachedWeeks: t.counters.ConsecutiveBreachedWeeks,
		LastEvaluatedWeek:        t.counters.LastEvaluatedWeek,
	}
	for k, v := range t.counters.PerMonth {
		cp.PerMonth[k] = v
	}
	for k, v := range t.counters.PerIsoWeek {
		cp.PerIsoWeek[k] = v
	}
	return cp
}

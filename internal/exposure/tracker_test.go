package exposure

import (
	"testing"
	"time"

	"arbitrage-core/internal/eventbus"
)

func TestMonthlyThresholdEmitsLimitApproached(t *testing.T) {
	bus := eventbus.New(nil)
	var approached int
	bus.Subscribe(eventbus.LimitApproached, func(event interface{}) { approached++ })

	tr := New(Thresholds{MonthlyExposureThreshold: 5, WeeklyConsecutiveBreachWeeks: 3}, bus, nil)
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		tr.RecordExposure(now.Add(time.Duration(i) * time.Hour))
	}

	if approached != 1 {
		t.Fatalf("expected exactly one limit.approached once count exceeds 5, got %d", approached)
	}
}

func TestWeeklyConsecutiveBreachEmitsLimitBreached(t *testing.T) {
	bus := eventbus.New(nil)
	var breached int
	bus.Subscribe(eventbus.LimitBreached, func(event interface{}) { breached++ })

	tr := New(Thresholds{MonthlyExposureThreshold: 100, WeeklyConsecutiveBreachWeeks: 3}, bus, nil)

	// Week 1: two exposures (count > 1).
	w1 := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC) // Monday
	tr.RecordExposure(w1)
	tr.RecordExposure(w1.Add(time.Hour))

	// Week 2: two exposures.
	w2 := w1.AddDate(0, 0, 7)
	tr.RecordExposure(w2)
	tr.RecordExposure(w2.Add(time.Hour))

	// Week 3: two exposures -> third consecutive breached week.
	w3 := w2.AddDate(0, 0, 7)
	tr.RecordExposure(w3)
	tr.RecordExposure(w3.Add(time.Hour))

	if breached < 1 {
		t.Fatalf("expected at least one limit.breached after three consecutive breached weeks, got %d", breached)
	}
}

func TestSnapshotReturnsIndependentCopy(t *testing.T) {
	tr := New(DefaultThresholds(), nil, nil)
	now := time.Now()
	tr.RecordExposure(now)

	snap := tr.Snapshot()
	snap.PerMonth["tamper"] = 999

	snap2 := tr.Snapshot()
	if _, ok := snap2.PerMonth["tamper"]; ok {
		t.Fatal("expected Snapshot to return an independent copy")
	}
}

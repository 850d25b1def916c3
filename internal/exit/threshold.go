// Package exit реализует ThresholdEvaluator — чистую функцию оценки выхода
// по стоп-лоссу, тейк-профиту и временному горизонту — и ExitMonitor,
// периодический наблюдатель открытых позиций. Приоритет триггеров и
// формулы взяты дословно из раздела оценки выхода спецификации.
package exit

import (
	"github.com/shopspring/decimal"

	"arbitrage-core/internal/domain"
)

// stopLossMultiple, takeProfitMultiple and timeBasedHoursRemaining are the
// fixed thresholds this evaluator triggers against.
var (
	stopLossMultiple   = decimal.NewFromInt(-2)
	takeProfitMultiple = decimal.NewFromFloat(0.80)
)

const timeBasedHoursRemaining = 48.0

// TriggerType names which exit condition fired.
type TriggerType string

const (
	TriggerStopLoss   TriggerType = "stop_loss"
	TriggerTakeProfit TriggerType = "take_profit"
	TriggerTimeBased  TriggerType = "time_based"
)

// LegInput is one venue's entry/current price, size, side and fee for the
// evaluator.
type LegInput struct {
	Venue        domain.Venue
	Side         domain.Side
	EntryPrice   decimal.Decimal
	CurrentPrice decimal.Decimal
	Size         int64
	FeeDecimal   decimal.Decimal
}

// Evaluation is the pure result of ThresholdEvaluator.evaluate.
type Evaluation struct {
	Triggered      bool
	Type           TriggerType
	CurrentEdge    decimal.Decimal
	CurrentPnl     decimal.Decimal
	CapturedEdgePct decimal.Decimal
}

// Evaluate computes per-leg P&L, net edge and the first (priority-ordered)
// triggered exit condition, if any. hoursRemaining is nil when the pair has
// no resolution date.
func Evaluate(legs [2]LegInput, initialEdge decimal.Decimal, hoursRemaining *float64) Evaluation {
	var legPnlSum, exitFees decimal.Decimal
	minLegSize := legs[0].Size
	if legs[1].Size < minLegSize {
		minLegSize = legs[1].Size
	}

	for _, leg := range legs {
		size := decimal.NewFromInt(leg.Size)
		var legPnl decimal.Decimal
		if leg.Side == domain.SideBuy {
			legPnl = leg.CurrentPrice.Sub(leg.EntryPrice).Mul(size)
		} else {
			legPnl = leg.EntryPrice.Sub(leg.CurrentPrice).Mul(size)
		}
		legPnlSum = legPnlSum.Add(legPnl)
		exitFees = exitFees.Add(leg.CurrentPrice.Mul(size).Mul(leg.FeeDecimal))
	}

	currentPnl := legPnlSum.Sub(exitFees)
	scaledInitialEdge := initialEdge.Mul(decimal.NewFromInt(minLegSize))

	var currentEdge decimal.Decimal
	if minLegSize != 0 {
		currentEdge = currentPnl.Div(decimal.NewFromInt(minLegSize))
	}

	var capturedEdgePct decimal.Decimal
	if !scaledInitialEdge.IsZero() {
		capturedEdgePct = currentPnl.Div(scaledInitialEdge).Mul(decimal.NewFromInt(100))
	}

	eval := Evaluation{CurrentEdge: currentEdge, CurrentPnl: currentPnl, CapturedEdgePct: capturedEdgePct}

	switch {
	case currentPnl.LessThanOrEqual(stopLossMultiple.Mul(scaledInitialEdge)):
		eval.Triggered = true
		eval.Type = TriggerStopLoss
	case currentPnl.GreaterThanOrEqual(takeProfitMultiple.Mul(scaledInitialEdge)):
		eval.Triggered = true
		eval.Type = TriggerTakeProfit
	case hoursRemaining != nil && *hoursRemaining <= timeBasedHoursRemaining:
		eval.Triggered = true
		eval.Type = TriggerTimeBased
	}

	return eval
}

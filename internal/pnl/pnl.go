// Package pnl содержит чистые функции сценариев P&L для экспонированной
// одной ноги позиции: закрыть сейчас, повторить по рынку, держать под
// риском. Ни одна функция не обращается к сети или базе данных — только
// арифметика над уже полученными ценами.
package pnl

import (
	"fmt"

	"github.com/shopspring/decimal"

	"arbitrage-core/internal/domain"
)

// Unavailable is returned by closeNow/retryAtCurrent when a required
// current-market price could not be obtained.
const Unavailable = "UNAVAILABLE"

// Fill describes the filled leg of an exposed position.
type Fill struct {
	Venue domain.Venue
	Side  domain.Side
	Price decimal.Decimal
	Size  int64
}

// MarketSnapshot is the best-effort current-price context gathered (with a
// 2-second timeout, best-effort, swallowing connector errors) at the moment
// a scenario is computed.
type MarketSnapshot struct {
	FilledVenueBestBid *decimal.Decimal
	FilledVenueBestAsk *decimal.Decimal
	SecondaryBestBid   *decimal.Decimal
	SecondaryBestAsk   *decimal.Decimal
}

// allFourUnavailable reports whether every best-bid/ask value in snap is nil.
func (s MarketSnapshot) allFourUnavailable() bool {
	return s.FilledVenueBestBid == nil && s.FilledVenueBestAsk == nil &&
		s.SecondaryBestBid == nil && s.SecondaryBestAsk == nil
}

// CloseNow computes the P&L string from unwinding the filled leg
// immediately at the opposing current price on the same venue.
func CloseNow(fill Fill, takerFee decimal.Decimal, snap MarketSnapshot) string {
	var unwindPrice *decimal.Decimal
	if fill.Side == domain.SideBuy {
		unwindPrice = snap.FilledVenueBestBid
	} else {
		unwindPrice = snap.FilledVenueBestAsk
	}
	if unwindPrice == nil {
		return Unavailable
	}

	size := decimal.NewFromInt(fill.Size)
	gross := unwindPrice.Sub(fill.Price).Mul(size)
	feeCost := unwindPrice.Mul(size).Mul(takerFee)
	p := gross.Sub(feeCost)
	if fill.Side == domain.SideSell {
		p = p.Neg()
	}
	return p.StringFixed(2)
}

// retryEdgePercent returns the computed retry edge percentage and whether a
// secondary current price was available at all.
func retryEdgePercent(fill Fill, feePrimary, feeSecondary decimal.Decimal, snap MarketSnapshot) (decimal.Decimal, bool) {
	var secCurrent *decimal.Decimal
	if fill.Side == domain.SideBuy {
		// the secondary leg sells, so its current price is the secondary bid
		secCurrent = snap.SecondaryBestBid
	} else {
		secCurrent = snap.SecondaryBestAsk
	}
	if secCurrent == nil {
		return decimal.Zero, false
	}

	grossEdge := fill.Price.Sub(*secCurrent).Abs().
		Sub(fill.Price.Mul(feePrimary)).
		Sub(secCurrent.Mul(feeSecondary))

	mean := fill.Price.Add(*secCurrent).Div(decimal.NewFromInt(2))
	if mean.IsZero() {
		return decimal.Zero, false
	}
	return grossEdge.Div(mean).Mul(decimal.NewFromInt(100)), true
}

// RetryAtCurrent computes the percentage-edge string from submitting the
// failed secondary leg at its current market price right now.
func RetryAtCurrent(fill Fill, feePrimary, feeSecondary decimal.Decimal, snap MarketSnapshot) string {
	pct, ok := retryEdgePercent(fill, feePrimary, feeSecondary, snap)
	if !ok {
		return Unavailable
	}
	if pct.GreaterThan(decimal.Zero) {
		return fmt.Sprintf("Retry would yield ~%s%% edge", pct.Round(2).String())
	}
	return fmt.Sprintf("Retry at current price would result in ~%s%% loss", pct.Abs().Round(2).String())
}

// HoldRiskAssessment formats the always-available "currently exposed,
// unhedged" warning, appending a staleness note when all four current
// prices are unavailable.
func HoldRiskAssessment(fill Fill, snap MarketSnapshot) string {
	exposureUsd := fill.Price.Mul(decimal.NewFromInt(fill.Size)).Round(2)
	msg := fmt.Sprintf("EXPOSED: $%s on %s (%s %d@%s). No hedge. Immediate operator action recommended.",
		exposureUsd.StringFixed(2), fill.Venue, fill.Side, fill.Size, fill.Price.String())
	if snap.allFourUnavailable() {
		msg += " Current market prices unavailable — risk assessment may be stale."
	}
	return msg
}

// Scenarios bundles the three pnl.* strings plus the ordered, human-facing
// recommended action list for an exposure event payload.
type Scenarios struct {
	CloseNow           string
	RetryAtCurrent     string
	HoldRiskAssessment string
	RecommendedActions []string
}

// Compute runs all three scenarios and derives the ordered recommendation
// list per §4.12(recommendedActions).
func Compute(fill Fill, takerFee, feePrimary, feeSecondary decimal.Decimal, snap MarketSnapshot, positionID string) Scenarios {
	closeNow := CloseNow(fill, takerFee, snap)
	retry := RetryAtCurrent(fill, feePrimary, feeSecondary, snap)
	hold := HoldRiskAssessment(fill, snap)

	pct, ok := retryEdgePercent(fill, feePrimary, feeSecondary, snap)
	retryPositive := ok && pct.GreaterThan(decimal.Zero)

	var actions []string
	if retryPositive {
		actions = append(actions, "Retry the secondary leg at the current market price to capture the remaining edge.")
	}
	if closeNow != Unavailable && !retryPositive {
		actions = append(actions, "Close the exposed leg now to cap realized loss.")
	}
	actions = append(actions, fmt.Sprintf("Monitor via GET /positions/%s.", positionID))

	return Scenarios{
		CloseNow:           closeNow,
		RetryAtCurrent:     retry,
		HoldRiskAssessment: hold,
		RecommendedActions: actions,
	}
}

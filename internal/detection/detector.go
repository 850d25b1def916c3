// Package detection ships the upstream collaborator ExecutionQueue
// expects: something that turns two venues' order books into a priced
// RankedOpportunity. Its pricing math is deliberately small — a single
// cross-venue buy/sell spread check after fees — since the engine's
// contract with this collaborator is the RankedOpportunity shape, not any
// particular detection strategy.
package detection

import (
	"github.com/shopspring/decimal"

	"arbitrage-core/internal/domain"
)

// Detector discovers a priced cross-venue dislocation between two already
// normalized books for the same underlying pair.
type Detector interface {
	Detect(pair domain.Pair, bookA, bookB domain.NormalizedOrderBook, feeA, feeB decimal.Decimal, requestedCapital decimal.Decimal) (domain.RankedOpportunity, bool)
}

// ReferenceDetector checks both cross-venue directions — buy A's ask and
// sell B's bid, or buy B's ask and sell A's bid — and returns whichever
// direction clears a positive net edge after both venues' taker fees,
// preferring the larger edge if both do.
type ReferenceDetector struct {
	opportunitySeq func() string
}

// NewReferenceDetector builds a ReferenceDetector. idGen mints opportunity
// ids; pass nil to leave OpportunityID empty and let the caller assign one.
func NewReferenceDetector(idGen func() string) *ReferenceDetector {
	return &ReferenceDetector{opportunitySeq: idGen}
}

type direction struct {
	buyVenue, sellVenue   domain.Venue
	buyContract, sellContract string
	buyPrice, sellPrice   decimal.Decimal
	buyFee, sellFee       decimal.Decimal
}

func (d *ReferenceDetector) Detect(pair domain.Pair, bookA, bookB domain.NormalizedOrderBook, feeA, feeB decimal.Decimal, requestedCapital decimal.Decimal) (domain.RankedOpportunity, bool) {
	askA, okAskA := bookA.BestAsk()
	bidA, okBidA := bookA.BestBid()
	askB, okAskB := bookB.BestAsk()
	bidB, okBidB := bookB.BestBid()

	var candidates []direction
	if okAskA && okBidB {
		candidates = append(candidates, direction{
			buyVenue: domain.VenueA, sellVenue: domain.VenueB,
			buyContract: pair.ContractA, sellContract: pair.ContractB,
			buyPrice: askA.Price, sellPrice: bidB.Price,
			buyFee: feeA, sellFee: feeB,
		})
	}
	if okAskB && okBidA {
		candidates = append(candidates, direction{
			buyVenue: domain.VenueB, sellVenue: domain.VenueA,
			buyContract: pair.ContractB, sellContract: pair.ContractA,
			buyPrice: askB.Price, sellPrice: bidA.Price,
			buyFee: feeB, sellFee: feeA,
		})
	}

	var best *direction
	var bestEdge decimal.Decimal
	for i := range candidates {
		c := candidates[i]
		edge := netEdge(c)
		if edge.IsPositive() && (best == nil || edge.GreaterThan(bestEdge)) {
			best = &candidates[i]
			bestEdge = edge
		}
	}
	if best == nil {
		return domain.RankedOpportunity{}, false
	}

	primary, secondary := best.buyVenue, best.sellVenue
	if pair.PrimaryLeg == best.sellVenue {
		primary, secondary = best.sellVenue, best.buyVenue
	}

	opp := domain.RankedOpportunity{
		PairID:           pair.PairID,
		PrimaryVenue:     primary,
		SecondaryVenue:   secondary,
		BuySide:          best.buyVenue,
		SellSide:         best.sellVenue,
		ContractIDBuy:    best.buyContract,
		ContractIDSell:   best.sellContract,
		TargetBuyPrice:   best.buyPrice,
		TargetSellPrice:  best.sellPrice,
		NetEdge:          bestEdge,
		RequestedCapital: requestedCapital,
	}
	if d.opportunitySeq != nil {
		opp.OpportunityID = d.opportunitySeq()
	}
	return opp, true
}

// netEdge is the per-contract edge after both venues' taker fees: the
// sell-side proceeds minus the buy-side cost minus each venue's fee on its
// own notional.
func netEdge(c direction) decimal.Decimal {
	gross := c.sellPrice.Sub(c.buyPrice)
	fees := c.buyPrice.Mul(c.buyFee).Add(c.sellPrice.Mul(c.sellFee))
	return gross.Sub(fees)
}

// Package domain holds the shared entity types for the arbitrage engine:
// order books, venue health, orders, positions, reservations and
// reconciliation records. All monetary and probability fields are exact
// decimals (github.com/shopspring/decimal) per the engine's no-float-money
// rule.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Venue identifies one of the two independent prediction-market venues.
type Venue string

const (
	VenueA Venue = "A"
	VenueB Venue = "B"
)

// Side is a buy/sell instruction for an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType selects limit or market execution.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderStatus is the venue-reported lifecycle state of a submitted order.
type OrderStatus string

const (
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusPartial  OrderStatus = "partial"
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusRejected OrderStatus = "rejected"
)

// PersistedOrderStatus mirrors OrderStatus plus the terminal CANCELLED state
// used once an order is written to the orders table.
type PersistedOrderStatus string

const (
	PersistedFilled    PersistedOrderStatus = "FILLED"
	PersistedPartial   PersistedOrderStatus = "PARTIAL"
	PersistedPending   PersistedOrderStatus = "PENDING"
	PersistedCancelled PersistedOrderStatus = "CANCELLED"
	PersistedRejected  PersistedOrderStatus = "REJECTED"
)

// ConnectorMode reports whether a connector is trading live capital or
// simulating fills against a paper book.
type ConnectorMode string

const (
	ModeLive  ConnectorMode = "live"
	ModePaper ConnectorMode = "paper"
)

// HealthStatus is the tri-state classification a PlatformHealthTracker
// assigns to a venue.
type HealthStatus string

const (
	HealthHealthy      HealthStatus = "healthy"
	HealthDegraded     HealthStatus = "degraded"
	HealthDisconnected HealthStatus = "disconnected"
)

// PriceLevel is one level of a normalized order book.
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// NormalizedOrderBook is the venue-agnostic book shape every connector's
// raw payload is transformed into.
type NormalizedOrderBook struct {
	Venue      Venue
	ContractID string
	Bids       []PriceLevel // descending by price
	Asks       []PriceLevel // ascending by price
	Timestamp  time.Time
	Seq        *uint64
}

// BestBid returns the highest bid, or false if the book has no bids.
func (b NormalizedOrderBook) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest ask, or false if the book has no asks.
func (b NormalizedOrderBook) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// BookFlag classifies the relationship between a book's best bid and ask.
type BookFlag string

const (
	BookCrossed    BookFlag = "crossed_market"
	BookZeroSpread BookFlag = "zero_spread"
	BookNormal     BookFlag = "normal"
)

// VenueHealth is the current classification of one venue's connectivity.
type VenueHealth struct {
	Venue         Venue
	Status        HealthStatus
	LastHeartbeat *time.Time
	LatencyMsP95  *float64
	Mode          ConnectorMode
}

// OrderParams describes an order to submit to a venue.
type OrderParams struct {
	ContractID string
	Side       Side
	Quantity   int64
	Price      decimal.Decimal
	Type       OrderType
}

// OrderResult is the venue's response to a submitted order.
type OrderResult struct {
	OrderID        string
	Venue          Venue
	Status         OrderStatus
	FilledQuantity int64
	FilledPrice    decimal.Decimal
	Timestamp      time.Time
}

// ReservationStatus tracks a BudgetReservation through its lifecycle.
type ReservationStatus string

const (
	ReservationOpen      ReservationStatus = "open"
	ReservationCommitted ReservationStatus = "committed"
	ReservationReleased  ReservationStatus = "released"
)

// BudgetReservation is a hold against the global risk budget for one
// opportunity, created by RiskManager.reserveBudget and resolved by
// exactly one of commitReservation / releaseReservation.
type BudgetReservation struct {
	ReservationID      string
	OpportunityID      string
	ReservedCapitalUsd decimal.Decimal
	CreatedAt          time.Time
	Status             ReservationStatus
}

// RankedOpportunity is a priced dislocation handed to the ExecutionQueue by
// the upstream detection collaborator.
type RankedOpportunity struct {
	OpportunityID    string
	PairID           int
	PrimaryVenue     Venue
	SecondaryVenue   Venue
	BuySide          Venue // which venue the buy leg executes on
	SellSide         Venue // which venue the sell leg executes on
	ContractIDBuy    string
	ContractIDSell   string
	TargetBuyPrice   decimal.Decimal
	TargetSellPrice  decimal.Decimal
	NetEdge          decimal.Decimal
	RequestedCapital decimal.Decimal
}

// PositionStatus is the state machine value for a Position.
type PositionStatus string

const (
	PositionOpen                 PositionStatus = "OPEN"
	PositionSingleLegExposed     PositionStatus = "SINGLE_LEG_EXPOSED"
	PositionExitPartial          PositionStatus = "EXIT_PARTIAL"
	PositionClosed               PositionStatus = "CLOSED"
	PositionReconciliationNeeded PositionStatus = "RECONCILIATION_REQUIRED"
)

// Position is one open (or resolved) arbitrage position across both venues.
type Position struct {
	PositionID       string
	PairID           int
	PrimaryOrderRef  *string
	SecondaryOrderRef *string
	// ExitPrimaryOrderRef / ExitSecondaryOrderRef are populated once the
	// exit monitor submits closing orders; EXIT_PARTIAL requires exactly
	// one of these to be non-nil.
	ExitPrimaryOrderRef   *string
	ExitSecondaryOrderRef *string

	SidePerVenue       map[Venue]Side
	EntryPricePerVenue map[Venue]decimal.Decimal
	SizePerVenue       map[Venue]int64

	ExpectedEdge decimal.Decimal
	Status       PositionStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PersistedOrder is a durable record of a submitted order.
type PersistedOrder struct {
	OrderID   string
	Venue     Venue
	ContractID string
	PairID    int
	Side      Side
	Price     decimal.Decimal
	Size      int64
	Status    PersistedOrderStatus
	FillPrice *decimal.Decimal
	FillSize  *int64
	IsPaper   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ExposureCounters is the rolling tally ExposureTracker maintains.
type ExposureCounters struct {
	PerMonth               map[string]int // "YYYY-MM" -> count
	PerIsoWeek             map[string]int // "YYYY-Www" -> count
	ConsecutiveBreachedWeeks int
	LastEvaluatedWeek      string
}

// DiscrepancyKind classifies a ReconciliationDiscrepancy.
type DiscrepancyKind string

const (
	DiscrepancyOrderStatusMismatch DiscrepancyKind = "order_status_mismatch"
	DiscrepancyOrderNotFound       DiscrepancyKind = "order_not_found"
	DiscrepancyPendingFilled       DiscrepancyKind = "pending_filled"
	DiscrepancyPlatformUnavailable DiscrepancyKind = "platform_unavailable"
)

// ReconciliationDiscrepancy records one mismatch found while cross-checking
// local state against venue truth.
type ReconciliationDiscrepancy struct {
	PositionID        string
	PairID            int
	Kind              DiscrepancyKind
	LocalState        string
	VenueState        string
	RecommendedAction string
	DetectedAt        time.Time
}

// Pair describes the static linkage between two venue contracts that
// resolve to the same underlying event.
type Pair struct {
	PairID       int
	Symbol       string
	ContractA    string
	ContractB    string
	PrimaryLeg   Venue // which venue is submitted first on entry and exit
	ResolutionAt *time.Time
}

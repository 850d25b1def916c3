// Package connector определяет унифицированный интерфейс площадки
// (PlatformConnector) и две его реализации — paper (симулятор исполнения
// по книге заявок) и live (заготовка боевого подключения). Форма интерфейса
// и структур унаследована от exchange.Exchange торгового ядра-предшественника
// и адаптирована под контракты бинарных исходов вместо бессрочных фьючерсов.
package connector

import (
	"context"
	"errors"
	"time"

	"arbitrage-core/internal/domain"
)

// ErrOrderNotFound is returned by GetOrderStatus when the venue has no
// record of orderID at all, distinct from a transport/connectivity error.
var ErrOrderNotFound = errors.New("connector: order not found")

// CancelResult is the outcome of cancelling a resting order.
type CancelResult struct {
	OrderID   string
	Cancelled bool
}

// FeeSchedule is a venue's current maker/taker/gas costs.
type FeeSchedule struct {
	MakerPercent float64
	TakerPercent float64
	GasUsd       *float64
}

// BookUpdateCallback is invoked with every live book update a connector
// receives over its streaming transport.
type BookUpdateCallback func(domain.NormalizedOrderBook)

// PlatformConnector is the uniform surface the execution core, health
// tracker and normalizer drive regardless of whether a venue is traded
// live or simulated in paper mode.
type PlatformConnector interface {
	Venue() domain.Venue
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected(venue domain.Venue) bool

	SubmitOrder(ctx context.Context, params domain.OrderParams) (domain.OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) (CancelResult, error)
	GetOrderBook(ctx context.Context, contractID string) (domain.NormalizedOrderBook, error)
	GetPositions(ctx context.Context) ([]domain.Position, error)
	GetHealth() domain.VenueHealth
	GetFeeSchedule(ctx context.Context, contractID string) (FeeSchedule, error)

	// GetOrderStatus queries the venue's current view of a previously
	// submitted order, for ReconciliationEngine's cross-check pass.
	// Returns ErrOrderNotFound if the venue has no record of orderID.
	GetOrderStatus(ctx context.Context, orderID string) (domain.OrderResult, error)

	OnBookUpdate(cb BookUpdateCallback)
	Mode() domain.ConnectorMode
}

// bookFetchTimeout bounds every order-book RPC per the 2-second ceiling.
const bookFetchTimeout = 2 * time.Second

// WithBookFetchTimeout wraps ctx with the connector-wide order-book fetch
// deadline. Connectors call this at the top of GetOrderBook.
func WithBookFetchTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, bookFetchTimeout)
}

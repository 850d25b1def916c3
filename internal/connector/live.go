package connector

import (
	"context"
	"fmt"
	"sync/atomic"

	"arbitrage-core/internal/domain"
	"arbitrage-core/pkg/ratelimit"
	"arbitrage-core/pkg/retry"
)

// LiveConnector is the boundary for a real venue API client. The HTTP/WS
// transport is not filled in here. SubmitOrder, CancelOrder, GetOrderBook,
// GetPositions, GetFeeSchedule and GetOrderStatus wait on the shared rate
// limiter before calling the transport; Connect retries the transport's
// Connect under the retry policy. No other call is retried, and the
// remaining methods use neither the limiter nor the retry policy.
type LiveConnector struct {
	venue      domain.Venue
	connected  int32
	apiKey     string
	apiSecret  string
	limiter    *ratelimit.RateLimiter
	retryCfg   retry.Config
	transport  Transport
	callbacks  []BookUpdateCallback
}

// Transport is the thin seam a real venue SDK implements. LiveConnector
// holds the rate-limit and retry logic; Transport is pure I/O.
type Transport interface {
	Submit(ctx context.Context, params domain.OrderParams) (domain.OrderResult, error)
	Cancel(ctx context.Context, orderID string) (CancelResult, error)
	FetchBook(ctx context.Context, contractID string) (domain.NormalizedOrderBook, error)
	FetchPositions(ctx context.Context) ([]domain.Position, error)
	FetchFeeSchedule(ctx context.Context, contractID string) (FeeSchedule, error)
	FetchOrderStatus(ctx context.Context, orderID string) (domain.OrderResult, error)
	Connect(ctx context.Context, apiKey, apiSecret string) error
	Disconnect() error
}

// NewLiveConnector wires a concrete Transport with the connector's shared
// rate limiting and retry policy.
func NewLiveConnector(venue domain.Venue, apiKey, apiSecret string, transport Transport, rate, burst float64) *LiveConnector {
	return &LiveConnector{
		venue:     venue,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		limiter:   ratelimit.NewRateLimiter(rate, burst),
		retryCfg:  retry.DefaultConfig(),
		transport: transport,
	}
}

func (c *LiveConnector) Venue() domain.Venue { return c.venue }

func (c *LiveConnector) Connect(ctx context.Context) error {
	err := retry.Do(ctx, func() error {
		return c.transport.Connect(ctx, c.apiKey, c.apiSecret)
	}, c.retryCfg)
	if err != nil {
		return fmt.Errorf("connector: connect failed for venue %s: %w", c.venue, err)
	}
	atomic.StoreInt32(&c.connected, 1)
	return nil
}

func (c *LiveConnector) Disconnect() error {
	atomic.StoreInt32(&c.connected, 0)
	return c.transport.Disconnect()
}

func (c *LiveConnector) IsConnected(venue domain.Venue) bool {
	return atomic.LoadInt32(&c.connected) == 1
}

func (c *LiveConnector) Mode() domain.ConnectorMode { return domain.ModeLive }

func (c *LiveConnector) GetHealth() domain.VenueHealth {
	status := domain.HealthDisconnected
	if c.IsConnected(c.venue) {
		status = domain.HealthHealthy
	}
	return domain.VenueHealth{Venue: c.venue, Status: status, Mode: domain.ModeLive}
}

func (c *LiveConnector) SubmitOrder(ctx context.Context, params domain.OrderParams) (domain.OrderResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.OrderResult{}, err
	}
	return c.transport.Submit(ctx, params)
}

func (c *LiveConnector) CancelOrder(ctx context.Context, orderID string) (CancelResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return CancelResult{}, err
	}
	return c.transport.Cancel(ctx, orderID)
}

func (c *LiveConnector) GetOrderBook(ctx context.Context, contractID string) (domain.NormalizedOrderBook, error) {
	ctx, cancel := WithBookFetchTimeout(ctx)
	defer cancel()
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.NormalizedOrderBook{}, err
	}
	return c.transport.FetchBook(ctx, contractID)
}

func (c *LiveConnector) GetPositions(ctx context.Context) ([]domain.Position, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.transport.FetchPositions(ctx)
}

func (c *LiveConnector) GetFeeSchedule(ctx context.Context, contractID string) (FeeSchedule, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return FeeSchedule{}, err
	}
	return c.transport.FetchFeeSchedule(ctx, contractID)
}

func (c *LiveConnector) GetOrderStatus(ctx context.Context, orderID string) (domain.OrderResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.OrderResult{}, err
	}
	return c.transport.FetchOrderStatus(ctx, orderID)
}

func (c *LiveConnector) OnBookUpdate(cb BookUpdateCallback) {
	c.callbacks = append(c.callbacks, cb)
}

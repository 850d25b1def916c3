// Package normalize преобразует сырые стаканы каждой площадки в единый
// NormalizedOrderBook, считает скользящий P95 задержки обновления и
// классифицирует стакан как обычный, со скрещенным рынком или с нулевым
// спредом. Normalizer никогда не паникует и не возвращает ошибку наверх:
// площадка с некорректными данными просто получает nil и запись в лог, как
// того требует протокол деградации.
package normalize

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"arbitrage-core/internal/domain"
)

// windowSize — глубина окна, по которому считается P95 задержки
// обновления стакана на площадку.
const windowSize = 100

// latencySLAWarningMs is the p95 threshold above which Normalize logs an
// SLA warning for the venue.
const latencySLAWarningMs = 500

// RawLevel is one venue-A cents-denominated price/quantity pair before
// normalization. Price is expressed in whole cents (e.g. 42 means $0.42).
type RawLevel struct {
	PriceCents float64
	Quantity   float64
}

// RawLevelString is one venue-B decimal-string price/quantity pair exactly
// as the connector delivers it.
type RawLevelString struct {
	Price    string
	Quantity string
}

// RawBookA is venue A's book payload: parallel YES/NO cents-denominated
// level arrays. YES levels become bids (price/100); NO levels become asks
// (1 - price/100), inverting the NO side into the YES side's frame.
type RawBookA struct {
	ContractID string
	YesLevels  []RawLevel
	NoLevels   []RawLevel
	ReceivedAt time.Time
	Seq        *uint64
}

// RawBookB is venue B's book payload: parallel decimal-string bid/ask
// level arrays, already expressed in the YES side's frame.
type RawBookB struct {
	ContractID string
	Bids       []RawLevelString
	Asks       []RawLevelString
	ReceivedAt time.Time
	Seq        *uint64
}

// Result bundles the normalized book with the flag describing its health.
type Result struct {
	Book NormalizedBook
	Flag domain.BookFlag
}

// NormalizedBook is the decimal-valued, venue-tagged book handed to the
// execution layer. It is an alias of domain.NormalizedOrderBook; the computed
// Flag travels beside it in Result.
type NormalizedBook = domain.NormalizedOrderBook

// latencyWindow is a fixed-capacity ring buffer of recent update latencies
// used to compute a rolling P95 per venue.
type latencyWindow struct {
	mu     sync.Mutex
	values []float64
	pos    int
	filled bool
}

func newLatencyWindow() *latencyWindow {
	return &latencyWindow{values: make([]float64, windowSize)}
}

func (w *latencyWindow) add(ms float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.values[w.pos] = ms
	w.pos = (w.pos + 1) % windowSize
	if w.pos == 0 {
		w.filled = true
	}
}

func (w *latencyWindow) p95() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.pos
	if w.filled {
		n = windowSize
	}
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, w.values[:n])
	sort.Float64s(sorted)
	idx := int(math.Ceil(0.95*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

// Normalizer holds per-venue latency windows across calls to Normalize.
type Normalizer struct {
	mu      sync.Mutex
	windows map[domain.Venue]*latencyWindow
	log     *zap.Logger
}

// New creates an empty Normalizer. log may be nil, in which case a no-op
// logger is used.
func New(log *zap.Logger) *Normalizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Normalizer{windows: make(map[domain.Venue]*latencyWindow), log: log}
}

func (n *Normalizer) windowFor(v domain.Venue) *latencyWindow {
	n.mu.Lock()
	defer n.mu.Unlock()
	w, ok := n.windows[v]
	if !ok {
		w = newLatencyWindow()
		n.windows[v] = w
	}
	return w
}

// NormalizeA converts venue A's cents-denominated YES/NO book into a
// Result. YES levels become bids at price/100; NO levels become asks at
// 1 - price/100, the inversion that puts both venues' quotes in the same
// frame. Returns nil and logs an error on any invalid price or quantity.
func (n *Normalizer) NormalizeA(raw RawBookA, now time.Time) *Result {
	bids, ok := centsToLevels(raw.YesLevels, false)
	if !ok {
		n.log.Error("normalize: venue A YES level out of range", zap.String("contract", raw.ContractID))
		return nil
	}
	asks, ok := centsToLevels(raw.NoLevels, true)
	if !ok {
		n.log.Error("normalize: venue A NO level out of range", zap.String("contract", raw.ContractID))
		return nil
	}
	return n.finish(domain.VenueA, raw.ContractID, bids, asks, raw.ReceivedAt, raw.Seq, now)
}

// NormalizeB converts venue B's decimal-string book into a Result. Prices
// arrive already in the YES side's frame, so bids/asks parse as-is.
// Returns nil and logs an error on any invalid price or quantity.
func (n *Normalizer) NormalizeB(raw RawBookB, now time.Time) *Result {
	bids, ok := stringsToLevels(raw.Bids)
	if !ok {
		n.log.Error("normalize: venue B bid level invalid", zap.String("contract", raw.ContractID))
		return nil
	}
	asks, ok := stringsToLevels(raw.Asks)
	if !ok {
		n.log.Error("normalize: venue B ask level invalid", zap.String("contract", raw.ContractID))
		return nil
	}
	return n.finish(domain.VenueB, raw.ContractID, bids, asks, raw.ReceivedAt, raw.Seq, now)
}

func (n *Normalizer) finish(venue domain.Venue, contractID string, bids, asks []domain.PriceLevel, receivedAt time.Time, seq *uint64, now time.Time) *Result {
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price.GreaterThan(bids[j].Price) })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price.LessThan(asks[j].Price) })

	book := NormalizedBook{
		Venue:      venue,
		ContractID: contractID,
		Bids:       bids,
		Asks:       asks,
		Timestamp:  receivedAt,
		Seq:        seq,
	}

	latencyMs := float64(now.Sub(receivedAt).Milliseconds())
	if latencyMs < 0 {
		latencyMs = 0
	}
	w := n.windowFor(venue)
	w.add(latencyMs)
	if p95 := w.p95(); p95 > latencySLAWarningMs {
		n.log.Warn("normalize: p95 update latency exceeds SLA",
			zap.String("venue", string(venue)), zap.Float64("p95_ms", p95))
	}

	return &Result{Book: book, Flag: classify(book)}
}

// LatencyP95 returns the current rolling P95 update latency, in
// milliseconds, for venue. Zero if no samples have been recorded yet.
func (n *Normalizer) LatencyP95(v domain.Venue) float64 {
	return n.windowFor(v).p95()
}

// validPrice reports whether p is finite and within [0,1], the contract
// every normalized price must satisfy regardless of source venue.
func validPrice(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0) && p >= 0 && p <= 1
}

// centsToLevels converts cents-denominated raw levels to decimal price
// levels, optionally inverting (for the NO side: price = 1 - cents/100).
// Zero-quantity levels are dropped. Returns ok=false on the first invalid
// price so the caller can reject the whole book rather than silently drop
// one bad level.
func centsToLevels(raw []RawLevel, invert bool) ([]domain.PriceLevel, bool) {
	out := make([]domain.PriceLevel, 0, len(raw))
	for _, r := range raw {
		if r.Quantity < 0 || math.IsNaN(r.Quantity) || math.IsInf(r.Quantity, 0) {
			return nil, false
		}
		if r.Quantity == 0 {
			continue
		}
		if math.IsNaN(r.PriceCents) || math.IsInf(r.PriceCents, 0) {
			return nil, false
		}
		price := decimal.NewFromFloat(r.PriceCents).Div(decimal.NewFromInt(100))
		if invert {
			price = decimal.NewFromInt(1).Sub(price)
		}
		if price.IsNegative() || price.GreaterThan(decimal.NewFromInt(1)) {
			return nil, false
		}
		out = append(out, domain.PriceLevel{
			Price:    price,
			Quantity: decimal.NewFromFloat(r.Quantity),
		})
	}
	return out, true
}

// stringsToLevels parses venue B's decimal-string levels. Zero-quantity
// levels are dropped. Returns ok=false on any unparseable or out-of-range
// value.
func stringsToLevels(raw []RawLevelString) ([]domain.PriceLevel, bool) {
	out := make([]domain.PriceLevel, 0, len(raw))
	for _, r := range raw {
		price, err := decimal.NewFromString(r.Price)
		if err != nil {
			return nil, false
		}
		qty, err := decimal.NewFromString(r.Quantity)
		if err != nil {
			return nil, false
		}
		priceF, _ := price.Float64()
		if !validPrice(priceF) {
			return nil, false
		}
		if qty.IsNegative() {
			return nil, false
		}
		if qty.IsZero() {
			continue
		}
		out = append(out, domain.PriceLevel{Price: price, Quantity: qty})
	}
	return out, true
}

// classify flags a crossed market (best bid > best ask) or a zero-spread
// book (best bid == best ask) before they ever reach opportunity detection.
func classify(book NormalizedBook) domain.BookFlag {
	bid, hasBid := book.BestBid()
	ask, hasAsk := book.BestAsk()
	if !hasBid || !hasAsk {
		return domain.BookNormal
	}
	switch {
	case bid.Price.GreaterThan(ask.Price):
		return domain.BookCrossed
	case bid.Price.Equal(ask.Price):
		return domain.BookZeroSpread
	default:
		return domain.BookNormal
	}
}

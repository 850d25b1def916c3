// Package metrics содержит Prometheus-метрики торгового ядра: латентность
// нормализации стакана, ожидание блокировки исполнения, счётчики экспозиции
// и результатов реконсиляции. Набор метрик и стиль регистрации через
// promauto взяты из торгового ядра-предшественника, поля под новый домен
// cross-venue арбитража бинарных контрактов.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============ Латентность ============

var BookNormalizeLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "arbitrage",
		Subsystem: "normalize",
		Name:      "book_latency_ms",
		Help:      "Rolling update latency from venue book to normalized form, in milliseconds",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	},
	[]string{"venue"},
)

var ExecutionLockWaitMs = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "arbitrage",
		Subsystem: "execution",
		Name:      "lock_wait_ms",
		Help:      "Time spent waiting to acquire the serial execution lock",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 30000},
	},
)

var LegExecutionLatencyMs = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "arbitrage",
		Subsystem: "execution",
		Name:      "leg_latency_ms",
		Help:      "Time to submit and confirm one leg of a position",
		Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000},
	},
	[]string{"venue", "leg"}, // leg: primary, secondary, exit
)

// ============ Счётчики событий ============

var EventsProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "core",
		Name:      "events_processed_total",
		Help:      "Total number of bus events published, by name",
	},
	[]string{"event"},
)

var OrdersSubmitted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "execution",
		Name:      "orders_submitted_total",
		Help:      "Orders submitted by venue and resulting status",
	},
	[]string{"venue", "status"},
)

var SingleLegExposures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "execution",
		Name:      "single_leg_exposures_total",
		Help:      "Single-leg exposure incidents, by resolution",
	},
	[]string{"resolution"}, // retried, closed, held
)

var ReconciliationDiscrepancies = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "reconciliation",
		Name:      "discrepancies_total",
		Help:      "Discrepancies found during reconciliation, by kind",
	},
	[]string{"kind"},
)

var BufferOverflows = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "core",
		Name:      "buffer_overflows_total",
		Help:      "Number of internal channel buffer overflows (items dropped)",
	},
	[]string{"buffer"},
)

// ============ Состояние ============

var VenueHealthGauge = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "arbitrage",
		Subsystem: "health",
		Name:      "venue_status",
		Help:      "Venue health status (2=healthy, 1=degraded, 0=disconnected)",
	},
	[]string{"venue"},
)

var DegradedVenues = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "arbitrage",
		Subsystem: "health",
		Name:      "degraded_venues",
		Help:      "Number of venues currently in degraded mode",
	},
)

var ExposureMonthlyCount = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "arbitrage",
		Subsystem: "exposure",
		Name:      "monthly_count",
		Help:      "Single-leg exposure incidents this calendar month",
	},
	[]string{"month"},
)

var OpenPositions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "arbitrage",
		Subsystem: "execution",
		Name:      "open_positions",
		Help:      "Current number of open positions",
	},
)

// ============ Вспомогательные функции ============

// RecordBufferOverflow increments the overflow counter for a named buffer.
func RecordBufferOverflow(buffer string) {
	BufferOverflows.WithLabelValues(buffer).Inc()
}

// RecordVenueHealth сохраняет числовой код состояния площадки в gauge.
func RecordVenueHealth(venue string, code float64) {
	VenueHealthGauge.WithLabelValues(venue).Set(code)
}

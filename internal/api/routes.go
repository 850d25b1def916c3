package api

import (
	"net/http"
	"net/http/pprof"
	"runtime"

	"go.uber.org/zap"

	"arbitrage-core/internal/api/handlers"
	"arbitrage-core/internal/api/middleware"
	"arbitrage-core/internal/wshub"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	Positions     *handlers.PositionsHandler
	Reconciliation *handlers.ReconciliationHandler
	Hub           *wshub.Hub
	Log           *zap.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /positions/{id}/retry-leg  - POST, повторная отправка непрошедшей ноги
//	├── /positions/{id}/close-leg  - POST, закрытие исполненной ноги
//	├── /reconciliation/run        - POST, внеочередная сверка (429 при debounce)
//	├── /reconciliation/{id}/resolve - POST, разрешение найденного расхождения
//	└── /reconciliation/status     - GET, список открытых расхождений
//
// /ws/
//
//	└── /stream - WebSocket для real-time обновлений
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS)

	api := router.PathPrefix("/api/v1").Subrouter()

	if deps != nil && deps.Positions != nil {
		api.HandleFunc("/positions/{id}/retry-leg", deps.Positions.RetryLeg).Methods("POST")
		api.HandleFunc("/positions/{id}/close-leg", deps.Positions.CloseLeg).Methods("POST")
	}

	if deps != nil && deps.Reconciliation != nil {
		api.HandleFunc("/reconciliation/run", deps.Reconciliation.Run).Methods("POST")
		api.HandleFunc("/reconciliation/{id}/resolve", deps.Reconciliation.Resolve).Methods("POST")
		api.HandleFunc("/reconciliation/status", deps.Reconciliation.Status).Methods("GET")
	}

	// WebSocket route для real-time обновлений
	if deps != nil && deps.Hub != nil {
		log := deps.Log
		if log == nil {
			log = zap.NewNop()
		}
		router.HandleFunc("/ws/stream", func(w http.ResponseWriter, r *http.Request) {
			wshub.ServeWS(deps.Hub, log, w, r)
		}).Methods("GET")
	}

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	// ============================================================
	// Prometheus metrics endpoint
	// ============================================================
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// ============================================================
	// pprof endpoints для профилирования
	// ============================================================
	// ВАЖНО: В production должны быть защищены авторизацией!
	debug := router.PathPrefix("/debug/pprof").Subrouter()
	debug.Use(middleware.DebugAuth)

	debug.HandleFunc("/", pprof.Index)
	debug.HandleFunc("/cmdline", pprof.Cmdline)
	debug.HandleFunc("/profile", pprof.Profile)
	debug.HandleFunc("/symbol", pprof.Symbol)
	debug.HandleFunc("/trace", pprof.Trace)

	debug.HandleFunc("/heap", func(w http.ResponseWriter, r *http.Request) {
		pprof.Handler("heap").ServeHTTP(w, r)
	})
	debug.HandleFunc("/goroutine", func(w http.ResponseWriter, r *http.Request) {
		pprof.Handler("goroutine").ServeHTTP(w, r)
	})
	debug.HandleFunc("/block", func(w http.ResponseWriter, r *http.Request) {
		pprof.Handler("block").ServeHTTP(w, r)
	})
	debug.HandleFunc("/threadcreate", func(w http.ResponseWriter, r *http.Request) {
		pprof.Handler("threadcreate").ServeHTTP(w, r)
	})
	debug.HandleFunc("/mutex", func(w http.ResponseWriter, r *http.Request) {
		pprof.Handler("mutex").ServeHTTP(w, r)
	})
	debug.HandleFunc("/allocs", func(w http.ResponseWriter, r *http.Request) {
		pprof.Handler("allocs").ServeHTTP(w, r)
	})

	// Runtime stats endpoint (дополнительно)
	runtimeDebug := router.PathPrefix("/debug/runtime").Subrouter()
	runtimeDebug.Use(middleware.DebugAuth)
	runtimeDebug.HandleFunc("", func(w http.ResponseWriter, r *http.Request) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{`))
		w.Write([]byte(`"goroutines":` + itoa(runtime.NumGoroutine()) + `,`))
		w.Write([]byte(`"heap_alloc_mb":` + ftoa(float64(m.HeapAlloc)/1024/1024) + `,`))
		w.Write([]byte(`"heap_sys_mb":` + ftoa(float64(m.HeapSys)/1024/1024) + `,`))
		w.Write([]byte(`"num_gc":` + itoa(int(m.NumGC)) + `,`))
		w.Write([]byte(`"gc_pause_total_ms":` + ftoa(float64(m.PauseTotalNs)/1e6)))
		w.Write([]byte(`}`))
	}).Methods("GET")

	return router
}

// Вспомогательные функции для JSON без fmt
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	pos := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		pos--
		b[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		b[pos] = '-'
	}
	return string(b[pos:])
}

func ftoa(f float64) string {
	i := int(f * 100)
	whole := i / 100
	frac := i % 100
	if frac < 0 {
		frac = -frac
	}
	fracStr := itoa(frac)
	if len(fracStr) == 1 {
		fracStr = "0" + fracStr
	}
	return itoa(whole) + "." + fracStr
}

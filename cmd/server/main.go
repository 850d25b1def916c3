package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"arbitrage-core/internal/api"
	"arbitrage-core/internal/api/handlers"
	"arbitrage-core/internal/config"
	"arbitrage-core/internal/connector"
	"arbitrage-core/internal/degradation"
	"arbitrage-core/internal/detection"
	"arbitrage-core/internal/domain"
	"arbitrage-core/internal/eventbus"
	"arbitrage-core/internal/execution"
	"arbitrage-core/internal/exit"
	"arbitrage-core/internal/exposure"
	"arbitrage-core/internal/health"
	"arbitrage-core/internal/reconciliation"
	"arbitrage-core/internal/repository"
	"arbitrage-core/internal/risk"
	"arbitrage-core/internal/wshub"
	"arbitrage-core/pkg/logging"

	_ "github.com/lib/pq"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	defer log.Sync()

	db, err := initDatabase(cfg)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	log.Info("connected to database")

	orderRepo := repository.NewOrderRepository(db)
	positionRepo := repository.NewPositionRepository(db)
	pairRepo := repository.NewPairRepository(db)
	healthLogRepo := repository.NewHealthLogRepository(db)
	discrepancyRepo := repository.NewDiscrepancyRepository(db)

	bus := eventbus.New(log)

	hub := wshub.NewHub(log)
	go hub.Run()
	hub.Subscribe(bus)

	paperA := connector.NewPaperConnector(domain.VenueA)
	paperB := connector.NewPaperConnector(domain.VenueB)
	connectors := map[domain.Venue]connector.PlatformConnector{
		domain.VenueA: paperA,
		domain.VenueB: paperB,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for venue, c := range connectors {
		if err := c.Connect(ctx); err != nil {
			log.Error("connector failed to connect", zap.String("venue", string(venue)), zap.Error(err))
		}
	}

	degrader := degradation.New(bus, log)
	healthTracker := health.New(connectorSet(connectors), degrader, bus, healthLogRepo, log)

	riskMgr := risk.NewInMemoryManager(cfg.Risk.TotalBudgetUsd)

	lock := execution.NewLock(log)
	core := execution.NewCore(connectors, orderRepo, positionRepo, execution.RandomIDGenerator{Prefix: "pos_"}, bus, log)
	queue := execution.NewQueue(lock, core, log)
	resolution := execution.NewResolution(connectors, positionRepo, orderRepo, riskMgr, bus, log)
	alertScheduler := execution.NewAlertScheduler(positionRepo, connectors, domain.VenueA, domain.VenueB, bus, log)

	exposureTracker := exposure.New(exposure.Thresholds{
		MonthlyExposureThreshold:     cfg.Exposure.MonthlyExposureThreshold,
		WeeklyConsecutiveBreachWeeks: cfg.Exposure.WeeklyConsecutiveBreachWeeks,
	}, bus, log)
	if err := exposureTracker.RebuildFromHistory(ctx, positionRepo); err != nil {
		log.Warn("could not rebuild exposure history", zap.Error(err))
	}
	exposureTracker.Subscribe(bus)

	exitMonitor := exit.NewMonitor(connectors, positionRepo, pairRepo, orderRepo, positionRepo, riskMgr, bus, log)
	reconciler := reconciliation.NewEngine(connectors, positionRepo, positionRepo, positionRepo, discrepancyRepo, orderRepo, bus, log)

	dispatcher := newOpportunityDispatcher(connectors, pairRepo, queue, riskMgr, log)
	paperA.OnBookUpdate(dispatcher.onBookUpdate)
	paperB.OnBookUpdate(dispatcher.onBookUpdate)
	if err := dispatcher.loadPairs(ctx); err != nil {
		log.Warn("could not preload pairs for dispatch", zap.Error(err))
	}

	takerFee, _ := decimal.NewFromString("0.02")
	deps := &api.Dependencies{
		Positions:      handlers.NewPositionsHandler(resolution, positionRepo, pairRepo, takerFee),
		Reconciliation: handlers.NewReconciliationHandler(reconciler, discrepancyRepo),
		Hub:            hub,
		Log:            log,
	}
	router := api.SetupRoutes(deps)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var wg sync.WaitGroup
	startTicker(ctx, &wg, 30*time.Second, func(now time.Time) {
		healthTracker.Tick([]domain.Venue{domain.VenueA, domain.VenueB}, now)
	})
	startTicker(ctx, &wg, cfg.Execution.ExitPollInterval, func(now time.Time) {
		exitMonitor.Tick(ctx, now)
	})
	startTicker(ctx, &wg, cfg.Execution.AlertReminderEvery, func(now time.Time) {
		alertScheduler.Tick(ctx, now)
	})
	startTicker(ctx, &wg, cfg.Reconciliation.Debounce, func(now time.Time) {
		if _, err := reconciler.Run(ctx, now); err != nil && err != reconciliation.ErrDebounced {
			log.Error("reconciliation run failed", zap.Error(err))
		}
	})

	go func() {
		log.Info("starting server", zap.String("addr", server.Addr))
		var serveErr error
		if cfg.Server.UseHTTPS {
			serveErr = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			serveErr = server.ListenAndServe()
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(serveErr))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	log.Info("server exited")
}

// startTicker runs fn on every tick of interval until ctx is cancelled,
// registering its goroutine on wg so shutdown can wait for an in-flight
// tick before the process exits.
func startTicker(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, fn func(now time.Time)) {
	if interval <= 0 {
		interval = time.Second
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				fn(now)
			}
		}
	}()
}

// connectorSet adapts a map of connectors to health.Connector, the
// single-method interface the health tracker polls.
type connectorSet map[domain.Venue]connector.PlatformConnector

func (s connectorSet) IsConnected(venue domain.Venue) bool {
	c, ok := s[venue]
	if !ok {
		return false
	}
	return c.IsConnected(venue)
}

// initDatabase opens the Postgres pool and verifies connectivity.
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)

	db, err := sql.Open(cfg.Database.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// opportunityDispatcher wires live OnBookUpdate callbacks into
// ReferenceDetector, then submits any positive-edge opportunity to the
// execution queue under a cleared capital reservation.
type opportunityDispatcher struct {
	mu         sync.Mutex
	books      map[string]domain.NormalizedOrderBook // keyed by contractID
	pairsByCtr map[string]domain.Pair                 // contractID -> owning pair

	connectors map[domain.Venue]connector.PlatformConnector
	pairs      *repository.PairRepository
	queue      *execution.Queue
	risk       risk.Manager
	detector   *detection.ReferenceDetector
	log        *zap.Logger
}

func newOpportunityDispatcher(connectors map[domain.Venue]connector.PlatformConnector, pairs *repository.PairRepository, queue *execution.Queue, riskMgr risk.Manager, log *zap.Logger) *opportunityDispatcher {
	var seq int64
	idGen := func() string {
		seq++
		return fmt.Sprintf("opp_%d_%d", time.Now().UnixNano(), seq)
	}
	return &opportunityDispatcher{
		books:      make(map[string]domain.NormalizedOrderBook),
		pairsByCtr: make(map[string]domain.Pair),
		connectors: connectors,
		pairs:      pairs,
		queue:      queue,
		risk:       riskMgr,
		detector:   detection.NewReferenceDetector(idGen),
		log:        log,
	}
}

func (d *opportunityDispatcher) loadPairs(ctx context.Context) error {
	all, err := d.pairs.ListAll(ctx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range all {
		d.pairsByCtr[p.ContractA] = p
		d.pairsByCtr[p.ContractB] = p
	}
	return nil
}

func (d *opportunityDispatcher) onBookUpdate(book domain.NormalizedOrderBook) {
	d.mu.Lock()
	pair, known := d.pairsByCtr[book.ContractID]
	if !known {
		d.mu.Unlock()
		return
	}
	d.books[book.ContractID] = book

	bookA, haveA := d.books[pair.ContractA]
	bookB, haveB := d.books[pair.ContractB]
	d.mu.Unlock()

	if !haveA || !haveB {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	connA, okA := d.connectors[domain.VenueA]
	connB, okB := d.connectors[domain.VenueB]
	if !okA || !okB {
		return
	}
	feeA, err := connA.GetFeeSchedule(ctx, pair.ContractA)
	if err != nil {
		d.log.Warn("fee schedule lookup failed", zap.String("venue", string(domain.VenueA)), zap.Error(err))
		return
	}
	feeB, err := connB.GetFeeSchedule(ctx, pair.ContractB)
	if err != nil {
		d.log.Warn("fee schedule lookup failed", zap.String("venue", string(domain.VenueB)), zap.Error(err))
		return
	}

	opp, found := d.detector.Detect(pair, bookA, bookB,
		decimal.NewFromFloat(feeA.TakerPercent), decimal.NewFromFloat(feeB.TakerPercent),
		d.risk.AvailableBudget())
	if !found {
		return
	}

	reservation, err := d.risk.ReserveBudget(opp.OpportunityID, opp.RequestedCapital, time.Now())
	if err != nil {
		d.log.Debug("opportunity skipped, budget unavailable", zap.String("opportunity", opp.OpportunityID), zap.Error(err))
		return
	}

	result := d.queue.Submit(ctx, opp)
	if result.Success {
		if err := d.risk.CommitReservation(reservation.ReservationID); err != nil {
			d.log.Error("failed to commit reservation", zap.Error(err))
		}
		return
	}
	if err := d.risk.ReleaseReservation(reservation.ReservationID); err != nil {
		d.log.Error("failed to release reservation", zap.Error(err))
	}
	if result.Error != nil {
		d.log.Warn("opportunity execution failed", zap.String("opportunity", opp.OpportunityID), zap.Error(result.Error))
	}
}

/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the inventory sync and analytics server:
  configuration, dependency wiring, the background scheduler, and graceful
  shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load .env / environment config
  2. Open the SQLite store
  3. Build the remote client and the three synchronizers
  4. Register scheduled sync times; optionally fire the warm-up jobs
  5. Start the HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -port       HTTP server port (default: 3000)
  -db         SQLite database path (default: sales_data.db)
              Use ":memory:" for an in-memory database
  -snapshots  Directory for per-product JSON snapshots (default: products_json)

ENVIRONMENT:
  MOYSKLAD_USERNAME / MOYSKLAD_PASSWORD   remote API credentials (required)
  MOYSKLAD_ORGANIZATION                   organization href (required)
  MOYSKLAD_STORES                         comma-separated store hrefs (required)
  SYNC_SALES_AT / SYNC_STOCK_AT / SYNC_INCOMING_AT   daily times (HH:MM)
  SYNC_ON_START                           fire warm-up syncs at boot
  FORECAST_URL                            forecasting collaborator endpoint
  See config/config.go for the rest.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM: stop the scheduler and warm-up jobs, drain active
  requests (30s timeout), close the database, exit.

SEE ALSO:
  - api/server.go: Router configuration
  - schedule/: background loop and warm-up jobs
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pospro/inventory-engine/api"
	"github.com/pospro/inventory-engine/config"
	"github.com/pospro/inventory-engine/ingest"
	"github.com/pospro/inventory-engine/moysklad"
	"github.com/pospro/inventory-engine/report"
	"github.com/pospro/inventory-engine/schedule"
	"github.com/pospro/inventory-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 3000, "HTTP server port")
	dbPath := flag.String("db", "sales_data.db", "SQLite database path")
	snapshotDir := flag.String("snapshots", "products_json", "Snapshot output directory")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Remote client and synchronizers
	client := moysklad.New(cfg.BaseURL, cfg.Username, cfg.Password)
	retry := ingest.RetryPolicy{MaxAttempts: cfg.RetryAttempts, Delay: cfg.RetryDelay}

	salesSync := &ingest.SalesSyncer{
		Client: client, Store: store,
		Organization: cfg.OrganizationRef,
		PageLimit:    cfg.PageLimit,
		Retry:        retry,
	}
	incomingSync := &ingest.IncomingSyncer{
		Client: client, Store: store,
		Organization: cfg.OrganizationRef,
		PageLimit:    cfg.PageLimit,
		Retry:        retry,
	}
	stockSync := &ingest.StockSyncer{
		Client: client, Store: store,
		StoreRefs: cfg.StoreRefs,
		PageLimit: cfg.PageLimit,
		Retry:     retry,
	}

	// Scheduled syncs always start from the first of the current month.
	monthly := func(s ingest.Syncer) schedule.Job {
		return func(ctx context.Context) error {
			return s.Sync(ctx, api.FirstOfMonth(time.Now()))
		}
	}

	sched := schedule.New(nil)
	sched.At(cfg.SalesAt, "sales", monthly(salesSync))
	sched.At(cfg.StockAt, "stock", monthly(stockSync))
	sched.At(cfg.IncomingAt, "prihod", monthly(incomingSync))
	sched.Start()
	defer sched.Stop()

	var warmup *schedule.StartupRunner
	if cfg.SyncOnStart {
		warmup = schedule.NewStartupRunner([]schedule.StartupJob{
			{Name: "sales", Delay: 0, Job: monthly(salesSync)},
			{Name: "stock", Delay: 5 * time.Minute, Job: monthly(stockSync)},
			{Name: "prihod", Delay: 10 * time.Minute, Job: monthly(incomingSync)},
		})
		warmup.Start(context.Background())
		defer warmup.Stop()
	}

	// Read services and HTTP surface
	summary := &report.Service{Store: store}
	snapshots := &report.Builder{Store: store, Dir: *snapshotDir, Horizon: cfg.HistoryHorizon}
	forecast := api.NewForecastClient(cfg.ForecastURL)

	handler := api.NewHandler(store, summary, snapshots, forecast,
		[]ingest.Syncer{salesSync, incomingSync, stockSync})
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // forecast proxying can be slow
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d", *port)
		log.Printf("📊 API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/motium-app/sync-agent/internal/api"
	"github.com/motium-app/sync-agent/internal/auth"
	"github.com/motium-app/sync-agent/internal/config"
	"github.com/motium-app/sync-agent/internal/connectivity"
	"github.com/motium-app/sync-agent/internal/db"
	"github.com/motium-app/sync-agent/internal/queue"
	"github.com/motium-app/sync-agent/internal/remote"
	"github.com/motium-app/sync-agent/internal/scheduler"
	"github.com/motium-app/sync-agent/internal/syncer"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})
	logger.SetOutput(os.Stdout)

	// Load configuration with defaults
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize local database
	sqlDB, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.Fatalf("Failed to open database: %v", err)
	}
	defer sqlDB.Close()

	// Run migrations with retry logic
	if err := retry(3, 5*time.Second, func() error {
		return db.Migrate(sqlDB)
	}); err != nil {
		logger.Fatalf("Failed to run migrations after retries: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Wire the sync core: store, session store, backend client, coordinator,
	// queue, connectivity monitor, orchestrator, background scheduler.
	store := db.NewSQLiteStore(sqlDB)

	sessions, err := auth.NewSecureSessionStore(ctx, store)
	if err != nil {
		logger.Fatalf("Failed to load session store: %v", err)
	}

	client := remote.NewClient(cfg.APIBaseURL, sessions, logger,
		remote.WithTimeout(cfg.Sync.RemoteTimeout))
	coordinator := auth.NewCoordinator(sessions, client, cfg.Auth, logger)
	defer coordinator.Stop()

	pendingQueue := queue.New(store, cfg.Sync.MaxRetries, logger)

	monitor := connectivity.NewMonitor(client, cfg.Scheduler.ProbeInterval, logger)
	monitor.Start(ctx)
	defer monitor.Stop()

	orchestrator := syncer.NewOrchestrator(pendingQueue, coordinator, sessions, store, client, monitor, cfg.Sync, logger)
	orchestrator.StartPeriodicSync(ctx)
	defer orchestrator.StopPeriodicSync()

	// Arm the proactive refresh for a persisted session
	if expiresAt, ok := sessions.ExpiresAt(); ok {
		coordinator.ScheduleProactiveRefresh(expiresAt)
	}

	// Register the background refresh job; keep-existing means re-running
	// this at startup never duplicates or re-phases the schedule.
	host := scheduler.NewInProcessScheduler(monitor, logger)
	refreshJob := scheduler.NewTokenRefreshJob(sessions, coordinator, cfg.Scheduler.ExpiringSoonThresholdMinutes, logger)
	if err := host.RegisterPeriodic(ctx, scheduler.JobSpec{
		Name:            scheduler.TokenRefreshJobName,
		Interval:        cfg.Scheduler.RefreshJobInterval,
		RequiresNetwork: true,
	}, refreshJob); err != nil {
		logger.Fatalf("Failed to register background refresh job: %v", err)
	}

	// Local diagnostics/control API
	handler := api.NewHandler(store, pendingQueue, orchestrator, coordinator, logger)
	router := api.SetupRouter(handler)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Agent API listening on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down agent...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}
	logger.Info("Agent exited properly")
}

// retry retries a function up to a certain number of attempts with a delay between attempts
func retry(attempts int, sleep time.Duration, fn func() error) error {
	if err := fn(); err != nil {
		if attempts--; attempts > 0 {
			time.Sleep(sleep)
			return retry(attempts, sleep, fn)
		}
		return err
	}
	return nil
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/toursync/agent/internal/config"
	"github.com/toursync/agent/internal/handlers"
	custommw "github.com/toursync/agent/internal/middleware"
	"github.com/toursync/agent/internal/observability"
	"github.com/toursync/agent/internal/remote"
	"github.com/toursync/agent/internal/repository"
	"github.com/toursync/agent/internal/services"
)

const serviceVersion = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.GetLogger()

	// Initialize telemetry
	ctx := context.Background()
	telemetry, err := observability.Initialize(ctx, observability.NewConfig("toursync-agent", serviceVersion))
	if err != nil {
		log.Printf("Warning: telemetry initialization failed: %v", err)
	}

	// Local store: queue and document cache share one SQLite file
	db, err := repository.NewSQLiteDB(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to initialize local database: %v", err)
	}
	defer db.Close()

	queueRepo := repository.NewQueueRepository(db)
	cacheRepo := repository.NewTourCacheRepository(db, cfg.Cache.MaxTours, cfg.MaxCacheBytes())

	// Remote backend clients. Connections are lazy: starting offline is
	// normal and reachability is the connectivity monitor's business.
	if cfg.Remote.DatabaseURL == "" {
		log.Fatalf("REMOTE_DATABASE_URL is required")
	}
	pgStore, err := remote.NewPostgresStore(cfg.Remote.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to configure remote database: %v", err)
	}
	defer pgStore.Close()
	var rowStore remote.RowStore = pgStore

	blobStore := remote.NewHTTPBlobStore(cfg.Remote.StorageURL, cfg.Remote.StorageBucket, cfg.Remote.StorageKey)

	// Services
	imageService := services.NewImageService()
	monitor := services.NewConnectivityMonitor(cfg.Sync.StartOnline)
	if !monitor.IsOnline() {
		if err := pgStore.Ping(ctx); err == nil {
			monitor.SetOnline(true)
		}
	}
	hub := services.NewEventHub()
	go hub.Run()

	notifier := services.NewNotifier(hub, logger)

	syncMetrics, err := observability.NewSyncMetrics()
	if err != nil {
		log.Printf("Warning: sync metrics unavailable: %v", err)
	}

	reconciler := services.NewReconciler(
		queueRepo,
		cacheRepo,
		rowStore,
		blobStore,
		imageService,
		monitor,
		hub,
		notifier,
		syncMetrics,
		logger,
		time.Duration(cfg.Sync.TourRetentionDays)*24*time.Hour,
	)

	monitor.OnOnline(func() {
		reconciler.TriggerSync("online")
	})
	monitor.OnChange(func(online bool) {
		hub.NotifyConnectivity(online)
	})

	dbService := services.NewDatabaseService(queueRepo, cacheRepo, rowStore, monitor, hub, reconciler, logger)

	// Handlers
	healthHandler := handlers.NewHealthHandler()
	syncHandler := handlers.NewSyncHandler(reconciler, dbService, monitor, logger)
	tourHandler := handlers.NewTourHandler(dbService, logger)
	photoHandler := handlers.NewPhotoHandler(dbService, logger)
	wsHandler := handlers.NewWebSocketHandler(hub)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.TracingMiddleware("toursync-agent"))
	if httpMetrics, err := observability.NewHTTPMetrics(); err == nil {
		r.Use(observability.MetricsMiddleware(httpMetrics))
	}
	r.Use(custommw.APIKeyAuth(cfg.Security.APIKey, cfg.Security.APIKeyHeader))

	// Routes
	r.Get("/health", healthHandler.HealthCheck)
	r.Get("/api/health", healthHandler.HealthCheck)

	r.Route("/api/sync", func(r chi.Router) {
		r.Get("/status", syncHandler.GetStatus)
		r.Post("/now", syncHandler.SyncNow)
		r.Get("/pending", syncHandler.GetPending)
	})

	r.Post("/api/connectivity", syncHandler.SetConnectivity)
	r.Get("/api/storage/stats", syncHandler.GetStorageStats)

	r.Route("/api/tours", func(r chi.Router) {
		r.Get("/", tourHandler.ListTours)
		r.Post("/", tourHandler.CreateTour)
		r.Get("/{id}", tourHandler.GetTour)
		r.Put("/{id}", tourHandler.SaveTour)
		r.Delete("/{id}", tourHandler.DeleteTour)
	})

	r.Post("/api/hotspots/{hotspotId}/photos", photoHandler.QueuePhoto)
	r.Delete("/api/photos/pending/{id}", photoHandler.RemovePendingPhoto)

	r.Get("/ws", wsHandler.HandleConnection)

	// Create server
	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // Longer for uploads
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("TourSync Agent starting on %s", cfg.ServerAddress)
		log.Printf("Local database: %s", cfg.DatabasePath)
		log.Printf("Cache limits: %d tours, %dMB", cfg.Cache.MaxTours, cfg.Cache.MaxSizeMB)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Drain anything left over from the previous run
	if monitor.IsOnline() {
		reconciler.TriggerSync("startup")
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down agent...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			log.Printf("Telemetry shutdown error: %v", err)
		}
	}

	log.Println("Agent stopped")
}

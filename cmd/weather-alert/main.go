package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mr1hm/go-weather-alerts/internal/alerts"
	"github.com/mr1hm/go-weather-alerts/internal/api"
	"github.com/mr1hm/go-weather-alerts/internal/config"
	"github.com/mr1hm/go-weather-alerts/internal/enrichment"
	"github.com/mr1hm/go-weather-alerts/internal/events"
	"github.com/mr1hm/go-weather-alerts/internal/geocoding"
	"github.com/mr1hm/go-weather-alerts/internal/logging"
	"github.com/mr1hm/go-weather-alerts/internal/metrics"
	"github.com/mr1hm/go-weather-alerts/internal/repository"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port, "db_driver", cfg.DB.Driver)

	db, err := repository.Open(cfg.DB.Driver, cfg.DB.Source())
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	metrics.Init(prometheus.DefaultRegisterer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Status events for SSE subscribers
	broadcaster := events.NewBroadcaster()

	// One gate shared by every worker keeps us within the provider's usage policy
	gate := geocoding.NewRateGate(cfg.Geocoding.Interval())
	client := geocoding.NewClient(geocoding.Options{
		BaseURL:   cfg.Geocoding.BaseURL,
		UserAgent: cfg.Geocoding.UserAgent,
		Timeout:   cfg.Geocoding.Timeout,
	}, gate)

	mgr := enrichment.NewManager(cfg.Enrichment, db, client, broadcaster)
	mgr.Start(ctx)
	metrics.RegisterQueueGauges(prometheus.DefaultRegisterer, mgr.Pending, mgr.Workers)

	svc := alerts.NewService(db, mgr, broadcaster)

	// Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Set to false when using wildcard origins
	}))
	router.Use(api.RateLimitMiddleware(cfg.Server.RateLimit))

	handler := api.NewHandler(svc, broadcaster)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	broadcaster.Close() // Close all streams gracefully

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// Let in-flight geo-tagging finish; whatever is cut off stays PENDING
	graceCtx, graceCancel := context.WithTimeout(context.Background(), cfg.Enrichment.ShutdownGrace)
	defer graceCancel()
	_ = mgr.Shutdown(graceCtx)
	cancel()

	slog.Info("shutdown complete")
}

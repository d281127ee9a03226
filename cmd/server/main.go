package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frostdev-ops/devtest-backend-go/internal/adapters/bluetooth"
	"github.com/frostdev-ops/devtest-backend-go/internal/adapters/mqtt"
	"github.com/frostdev-ops/devtest-backend-go/internal/api"
	"github.com/frostdev-ops/devtest-backend-go/internal/api/handlers"
	"github.com/frostdev-ops/devtest-backend-go/internal/config"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/discovery"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/manager"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/metrics"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/registry"
	"github.com/frostdev-ops/devtest-backend-go/internal/database"
	"github.com/frostdev-ops/devtest-backend-go/internal/websocket"
	"github.com/frostdev-ops/devtest-backend-go/pkg/logger"
	"github.com/frostdev-ops/devtest-backend-go/pkg/version"
)

func main() {
	// Initialize logger
	log := logger.New("info")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}
	log.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	log.WithField("version", version.GetFullVersion()).Info("Starting")

	// Initialize database; migrations run here when auto_migrate is set
	db, err := database.Initialize(cfg.Database, log.Logger)
	if err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	defer db.Close()

	repos := database.NewRepositories(db)

	var collector *metrics.PrometheusCollector
	if cfg.Metrics.Enabled {
		collector = metrics.NewPrometheusCollector(&metrics.MetricsConfig{Enabled: true, Prefix: "devtest"})
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Create WebSocket hub
	wsHub := websocket.NewHub(cfg.WebSocket, log.Logger)
	if collector != nil {
		wsHub.SetRecorder(collector)
	}
	go wsHub.Run(ctx)

	factory := registry.NewFactory(adapterSettings(cfg), log.Logger)

	deps := manager.Deps{
		Records:     repos.ExecRecords,
		Devices:     repos.Devices,
		Results:     repos.Results,
		Broadcaster: wsHub,
		Factory:     factory,
		Config:      cfg.Execution,
		Logger:      log.Logger,
	}
	if collector != nil {
		deps.Recorder = collector
	}
	testManager := manager.New(deps)

	var discoveryService *discovery.Service
	if cfg.Discovery.Enabled {
		discoveryService = discovery.NewService(cfg.Discovery, log.Logger)
	}

	connections := registry.New(log.Logger, registry.WithFactory(factory))

	// Initialize router
	router := api.NewRouter(cfg, handlers.Services{
		Repos:       repos,
		Hub:         wsHub,
		Manager:     testManager,
		Discovery:   discoveryService,
		Connections: connections,
	}, log, collector)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server
	go func() {
		log.Infof("Starting devtest backend on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server:", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	log.Info("Stopping running test plans...")
	if err := testManager.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Test plans did not stop in time")
	}

	if err := connections.DisconnectAll(); err != nil {
		log.WithError(err).Warn("Failed to close manual connections")
	}

	stop()
	log.FlushPending()
	log.Info("Server exited")
}

// adapterSettings maps configuration onto the adapter tuning knobs.
func adapterSettings(cfg *config.Config) registry.Settings {
	s := registry.DefaultSettings()
	s.MQTT = mqtt.Options{
		QueueCapacity:  cfg.MQTT.QueueCapacity,
		QueueMaxAge:    cfg.MQTT.QueueMaxAge,
		SweepSpec:      cfg.MQTT.SweepSpec,
		ConnectTimeout: cfg.MQTT.ConnectTimeout,
		KeepAlive:      cfg.MQTT.KeepAlive,
		NewClient:      s.MQTT.NewClient,
	}
	s.Bluetooth = bluetooth.DefaultOptions()
	if cfg.Execution.DialTimeout > 0 {
		s.DialTimeout = cfg.Execution.DialTimeout
	}
	return s
}

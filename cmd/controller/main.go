package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/mir00r/failover-controller/internal/adminclient"
	"github.com/mir00r/failover-controller/internal/config"
	"github.com/mir00r/failover-controller/internal/controller"
	"github.com/mir00r/failover-controller/internal/eventlog"
	"github.com/mir00r/failover-controller/internal/failover"
	"github.com/mir00r/failover-controller/internal/handler"
	"github.com/mir00r/failover-controller/internal/metrics"
	"github.com/mir00r/failover-controller/internal/middleware"
	"github.com/mir00r/failover-controller/internal/sampler"
	"github.com/mir00r/failover-controller/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (or set CONFIG_FILE)")
	flag.Parse()

	// Invalid configuration is fatal; the tick loop is never entered.
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
		File:   cfg.Logging.File,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.WithFields(map[string]interface{}{
		"check_interval": cfg.Controller.CheckInterval.String(),
		"trip_high":      cfg.Controller.TripHigh,
		"trip_low":       cfg.Controller.TripLow,
		"pool":           cfg.Backends.Pool,
		"primary":        cfg.Backends.Primary,
		"backup":         cfg.Backends.Backup,
		"admin_endpoint": cfg.Admin.Address,
		"dry_run":        cfg.Controller.DryRun,
	}).Info("Failover controller configuration loaded")

	for _, warning := range cfg.Warnings() {
		log.Warn(warning)
	}

	events, err := eventlog.New(cfg.EventLog.File, cfg.EventLog.HistorySize, log)
	if err != nil {
		log.WithError(err).Error("Failed to open event log")
		os.Exit(1)
	}
	defer events.Close()

	m := metrics.New()
	cpuSampler := sampler.New(log)
	adminClient := adminclient.New(adminclient.Config{
		Network: cfg.Admin.Network,
		Address: cfg.Admin.Address,
		Timeout: cfg.Admin.Timeout,
	}, cfg.Backends, log)
	machine := failover.New(cfg.Thresholds(), log)

	ctrl := controller.New(controller.Config{
		CheckInterval: cfg.Controller.CheckInterval,
		AdminTimeout:  cfg.Admin.Timeout,
		DryRun:        cfg.Controller.DryRun,
	}, cpuSampler, adminClient, machine, events, m, log)

	var server *http.Server
	if cfg.StatusAPI.Enabled {
		server = buildStatusServer(cfg, ctrl, events, m, log)

		go func() {
			log.WithField("port", cfg.StatusAPI.Port).Info("Starting status API server")
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("Status API server failed")
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := ctrl.Run(ctx); err != nil {
			log.WithError(err).Error("Controller loop failed")
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	log.Info("Shutdown signal received")

	// Cooperative shutdown: the in-flight tick completes before Run returns.
	cancel()
	<-runDone

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("Error shutting down status API server")
		}
	}

	log.Info("Failover controller stopped gracefully")
}

// buildStatusServer assembles the read-only status API with its middleware chain
func buildStatusServer(cfg *config.Config, ctrl *controller.Controller, events *eventlog.Log, m *metrics.Metrics, log *logger.Logger) *http.Server {
	router := mux.NewRouter()

	var served *metrics.Metrics
	if cfg.Metrics.Enabled {
		served = m
	}
	statusHandler := handler.NewStatusHandler(ctrl, events, served, log)
	statusHandler.RegisterRoutes(router, cfg.Metrics.Path)

	middlewares := []func(http.Handler) http.Handler{
		middleware.RecoveryMiddleware(log),
		middleware.LoggingMiddleware(log),
	}

	if cfg.StatusAPI.RateLimit.Enabled {
		rateLimiter := middleware.NewRateLimiter(cfg.StatusAPI.RateLimit, log)
		middlewares = append(middlewares, rateLimiter.RateLimitMiddleware())
		log.Info("Status API rate limiting enabled")
	}

	if cfg.StatusAPI.Auth.Enabled {
		auth := middleware.NewAuthMiddleware(cfg.StatusAPI.Auth, log)
		middlewares = append(middlewares, auth.Middleware())
		log.Info("Status API authentication enabled")
	}

	var finalHandler http.Handler = router
	for i := len(middlewares) - 1; i >= 0; i-- {
		finalHandler = middlewares[i](finalHandler)
	}

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.StatusAPI.Port),
		Handler:      finalHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

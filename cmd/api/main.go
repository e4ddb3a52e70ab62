package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/leozw/routerfleet/internal/api"
	"github.com/leozw/routerfleet/internal/api/handlers"
	"github.com/leozw/routerfleet/internal/config"
	"github.com/leozw/routerfleet/internal/db"
	"github.com/leozw/routerfleet/internal/device"
	"github.com/leozw/routerfleet/internal/fleet"
	"github.com/leozw/routerfleet/internal/metrics"
	"github.com/leozw/routerfleet/internal/voucher"
)

func main() {
	config.Flags(pflag.CommandLine)
	pflag.Parse()

	cfg, err := config.Load(pflag.CommandLine)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var logger *zap.Logger
	if cfg.Server.Mode == gin.ReleaseMode {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	gin.SetMode(cfg.Server.Mode)

	store, closeStore, err := db.Open(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer closeStore()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metricsCollector := metrics.NewCollector(registry)

	client := device.NewClient(cfg.Device, logger, metricsCollector)
	coordinator := fleet.NewCoordinator(cfg.Fleet, store, client, metricsCollector, logger)
	issuer := voucher.NewIssuer(cfg.Voucher, store, metricsCollector, logger)

	handler := handlers.NewHandler(store, coordinator, issuer, metricsCollector, logger)
	server := api.NewServer(cfg, handler, metricsCollector, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: server.Router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("API server started",
		zap.String("port", cfg.Server.Port),
		zap.String("store", cfg.Database.Driver),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

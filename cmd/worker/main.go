package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/leozw/routerfleet/internal/api/middleware"
	"github.com/leozw/routerfleet/internal/config"
	"github.com/leozw/routerfleet/internal/db"
	"github.com/leozw/routerfleet/internal/device"
	"github.com/leozw/routerfleet/internal/fleet"
	"github.com/leozw/routerfleet/internal/metrics"
	"github.com/leozw/routerfleet/internal/scheduler"
)

func main() {
	config.Flags(pflag.CommandLine)
	pflag.Parse()

	cfg, err := config.Load(pflag.CommandLine)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	store, closeStore, err := db.Open(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer closeStore()

	metricsCollector := metrics.NewCollector(prometheus.NewRegistry())
	client := device.NewClient(cfg.Device, logger, metricsCollector)
	coordinator := fleet.NewCoordinator(cfg.Fleet, store, client, metricsCollector, logger)

	sched := scheduler.NewScheduler(coordinator, cfg.Scheduler, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Start(ctx)
		close(done)
	}()

	// metrics for the worker process itself
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.Logger(logger))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().Unix()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metricsCollector.Gatherer(), promhttp.HandlerOpts{})))

	srv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	logger.Info("Worker started", zap.String("port", cfg.Server.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer stop()
	_ = srv.Shutdown(shutdownCtx)

	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("Scheduler did not stop in time")
	}

	logger.Info("Worker exited")
}

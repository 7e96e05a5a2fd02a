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

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/election-api/internal/app"
	"github.com/jwalitptl/election-api/internal/config"
	"github.com/jwalitptl/election-api/internal/handler/health"
	"github.com/jwalitptl/election-api/internal/worker"
	"github.com/jwalitptl/election-api/pkg/cron"
	"github.com/jwalitptl/election-api/pkg/logger"
)

func setupHealthCheck(a *app.App, port int, log *logger.Logger) *http.Server {
	engine := gin.New()
	engine.Use(gin.Recovery())
	health.NewHandler(a.Registry, a.HealthChecks()).RegisterRoutes(engine)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err, "health check server failed")
		}
	}()
	return srv
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		JSON:       cfg.Log.JSON || cfg.IsProduction(),
	})
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal(err, "failed to initialize application")
	}
	defer a.Close()

	runner := cron.NewRunner(a.Clock, cfg.Location(), log)
	w, err := worker.NewJobWorker(runner, a.Jobs.Registry(), cfg.Scheduler.Jobs, log)
	if err != nil {
		log.Fatal(err, "failed to register jobs")
	}

	srv := setupHealthCheck(a, cfg.Worker.HealthPort, log)

	// Blocks until a shutdown signal.
	w.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "health server forced to shutdown")
	}
	log.Info("worker exited properly")
}

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
	"golang.org/x/time/rate"

	"github.com/jwalitptl/election-api/internal/app"
	"github.com/jwalitptl/election-api/internal/config"
	electionHandler "github.com/jwalitptl/election-api/internal/handler/election"
	"github.com/jwalitptl/election-api/internal/handler/health"
	jobsHandler "github.com/jwalitptl/election-api/internal/handler/jobs"
	notificationHandler "github.com/jwalitptl/election-api/internal/handler/notification"
	"github.com/jwalitptl/election-api/internal/middleware"
	"github.com/jwalitptl/election-api/internal/router"
	"github.com/jwalitptl/election-api/pkg/auth"
	"github.com/jwalitptl/election-api/pkg/logger"
)

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
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.JWT.Secret == "" {
		log.Fatal(nil, "jwt secret is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal(err, "failed to initialize application")
	}
	defer a.Close()

	restored, err := a.Scheduler.Restore(ctx)
	if err != nil {
		log.Fatal(err, "failed to restore scheduled notifications")
	}
	log.Info("scheduled notifications restored", "count", restored)

	jwtService := auth.NewJWTService(cfg.JWT.Secret, time.Hour)
	authMiddleware := middleware.NewAuthMiddleware(jwtService, cfg.JWT.AdminRole)

	r := router.NewRouter(
		authMiddleware,
		electionHandler.NewHandler(a.ElectionService, authMiddleware),
		notificationHandler.NewHandler(a.NotificationService, a.Scheduler, a.Broker, authMiddleware),
		jobsHandler.NewHandler(a.Jobs),
		health.NewHandler(a.Registry, a.HealthChecks()),
		log,
		a.Metrics,
		router.RouterConfig{
			RateLimitEnabled: cfg.RateLimit.Enabled,
			RateLimit:        rate.Limit(cfg.RateLimit.RequestsPerSecond),
			RateBurst:        cfg.RateLimit.Burst,
			MaxBodySize:      middleware.DefaultMaxBodySize,
		},
	)

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     r.Engine(),
		ReadTimeout: cfg.Server.ReadTimeout,
		// No WriteTimeout: it would cut off notification streams.
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("server starting", "port", cfg.Server.Port, "store", cfg.Store, "broker", cfg.Broker)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err, "failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "server forced to shutdown")
	}

	log.Info("server exited properly")
}

// Package app assembles the stores, transports and services shared by the
// api and worker binaries.
package app

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jwalitptl/election-api/internal/config"
	"github.com/jwalitptl/election-api/internal/directory"
	"github.com/jwalitptl/election-api/internal/email"
	"github.com/jwalitptl/election-api/internal/handler/health"
	"github.com/jwalitptl/election-api/internal/repository"
	"github.com/jwalitptl/election-api/internal/repository/memory"
	"github.com/jwalitptl/election-api/internal/repository/postgres"
	electionService "github.com/jwalitptl/election-api/internal/service/election"
	notificationService "github.com/jwalitptl/election-api/internal/service/notification"
	"github.com/jwalitptl/election-api/internal/service/scheduler"
	"github.com/jwalitptl/election-api/pkg/idgen"
	"github.com/jwalitptl/election-api/pkg/logger"
	"github.com/jwalitptl/election-api/pkg/messaging"
	"github.com/jwalitptl/election-api/pkg/messaging/redis"
	"github.com/jwalitptl/election-api/pkg/metrics"
)

const metricsNamespace = "election"

type App struct {
	Config   *config.Config
	Logger   *logger.Logger
	Clock    clockwork.Clock
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Elections     repository.ElectionRepository
	Notifications repository.NotificationRepository
	Schedules     repository.ScheduleRepository
	Directory     repository.Directory
	Broker        messaging.Broker
	Mailer        email.Service

	ElectionService     *electionService.Service
	NotificationService *notificationService.Service
	Scheduler           *scheduler.Scheduler
	Jobs                *scheduler.Jobs

	checks  map[string]health.Check
	closers []func() error
}

// New connects the configured backends and builds the services on top of
// them. Close releases whatever New opened, also after a partial failure.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := &App{
		Config:   cfg,
		Logger:   log,
		Clock:    clockwork.NewRealClock(),
		Registry: reg,
		Metrics:  metrics.NewMetrics(metricsNamespace, reg),
		checks:   make(map[string]health.Check),
	}

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openBroker(); err != nil {
		a.Close()
		return nil, err
	}
	a.openMailer()
	a.buildServices()
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	switch a.Config.Store {
	case "postgres":
		db, err := postgres.NewDB(a.Config.Database)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)
		if a.Config.Database.AutoMigrate {
			if err := postgres.Migrate(ctx, db); err != nil {
				return err
			}
			a.Logger.Info("database schema applied")
		}

		base := postgres.NewBaseRepository(db, a.Metrics)
		a.Elections = postgres.NewElectionRepository(base)
		a.Notifications = postgres.NewNotificationRepository(base)
		a.Schedules = postgres.NewScheduleRepository(base)
		a.Directory = postgres.NewDirectory(base)
		a.checks["postgres"] = db.PingContext
	case "memory", "":
		a.Elections = memory.NewElectionRepository()
		a.Notifications = memory.NewNotificationRepository()
		a.Schedules = memory.NewScheduleRepository()
		a.Directory = seedDirectory(a.Config.Directory)
		a.Logger.Warn(nil, "using in-memory store; data is lost on restart",
			"users", len(a.Config.Directory.Users), "open_enrollment", a.Config.Directory.OpenEnrollment)
	default:
		return fmt.Errorf("unknown store %q", a.Config.Store)
	}

	if a.Config.Directory.CacheTTL > 0 {
		a.Directory = directory.NewCached(a.Directory, a.Config.Directory.CacheTTL, a.Config.Directory.CacheCleanup)
	}
	return nil
}

func seedDirectory(cfg config.DirectoryConfig) *memory.Directory {
	dir := memory.NewDirectory()
	dir.SetOpenEnrollment(cfg.OpenEnrollment)
	for _, u := range cfg.Users {
		dir.AddUser(u.ID, u.Email)
		for _, electionID := range u.Elections {
			dir.Enroll(electionID, u.ID)
		}
	}
	return dir
}

func (a *App) openBroker() error {
	switch a.Config.Broker {
	case "redis":
		b, err := redis.NewRedisBroker(a.Config.ToBrokerConfig(), &a.Logger.ZL, a.Metrics)
		if err != nil {
			return err
		}
		a.Broker = b
		a.closers = append(a.closers, b.Close)
		a.checks["redis"] = b.Ping
	case "memory", "":
		b := messaging.NewMemoryBroker(64)
		a.Broker = b
		a.closers = append(a.closers, b.Close)
	default:
		return fmt.Errorf("unknown broker %q", a.Config.Broker)
	}
	return nil
}

func (a *App) openMailer() {
	if a.Config.SMTP.Host == "" {
		a.Mailer = email.NewLogService(a.Logger)
		return
	}
	a.Mailer = email.NewSMTPService(a.Config.ToMailerConfig(), a.Logger)
}

func (a *App) buildServices() {
	newID := idgen.Generator(idgen.UUID)

	a.NotificationService = notificationService.NewService(
		notificationService.NewComposer(a.Clock, newID),
		notificationService.NewEmailSender(a.Directory, a.Mailer),
		notificationService.NewInAppSender(a.Broker, a.Clock, newID, a.Logger),
		a.Notifications,
		a.Directory,
		a.Clock,
		a.Logger,
		a.Metrics,
		notificationService.Config{Concurrency: a.Config.Scheduler.Concurrency},
	)
	a.ElectionService = electionService.NewService(a.Elections, a.Directory, a.NotificationService,
		a.Clock, newID, a.Logger, a.Metrics)
	a.Scheduler = scheduler.New(a.Schedules, a.NotificationService, a.Clock, newID, a.Logger, a.Metrics)
	a.Jobs = scheduler.NewJobs(a.Elections, a.Notifications, a.Directory, a.NotificationService,
		a.Clock, a.Logger, a.Metrics, a.Config.ToJobsConfig())
}

// HealthChecks returns one readiness probe per external backend.
func (a *App) HealthChecks() map[string]health.Check {
	return a.checks
}

// Close stops pending schedule timers and closes backends in reverse order.
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

package router

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	electionHandler "github.com/jwalitptl/election-api/internal/handler/election"
	"github.com/jwalitptl/election-api/internal/handler/health"
	jobsHandler "github.com/jwalitptl/election-api/internal/handler/jobs"
	notificationHandler "github.com/jwalitptl/election-api/internal/handler/notification"
	"github.com/jwalitptl/election-api/internal/middleware"
	"github.com/jwalitptl/election-api/pkg/logger"
	"github.com/jwalitptl/election-api/pkg/metrics"
)

type RouterConfig struct {
	RateLimitEnabled bool
	RateLimit        rate.Limit
	RateBurst        int
	MaxBodySize      int64
}

type Router struct {
	engine        *gin.Engine
	auth          *middleware.AuthMiddleware
	electionH     *electionHandler.Handler
	notificationH *notificationHandler.Handler
	jobsH         *jobsHandler.Handler
	healthH       *health.Handler
	metrics       *metrics.Metrics
	limiter       *middleware.RateLimiter
}

// NewRouter builds the engine. jobsH may be nil when the API process does
// not expose manual job triggers.
func NewRouter(
	auth *middleware.AuthMiddleware,
	electionH *electionHandler.Handler,
	notificationH *notificationHandler.Handler,
	jobsH *jobsHandler.Handler,
	healthH *health.Handler,
	log *logger.Logger,
	m *metrics.Metrics,
	config RouterConfig,
) *Router {
	engine := gin.New()

	r := &Router{
		engine:        engine,
		auth:          auth,
		electionH:     electionH,
		notificationH: notificationH,
		jobsH:         jobsH,
		healthH:       healthH,
		metrics:       m,
	}
	if config.RateLimitEnabled {
		r.limiter = middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  config.RateLimit,
			Burst: config.RateBurst,
		})
	}

	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(log),
		middleware.Logger(log),
		r.metricsMiddleware(),
		middleware.SizeLimit(config.MaxBodySize),
	)

	r.setup()
	return r
}

func (r *Router) setup() {
	r.healthH.RegisterRoutes(r.engine)

	api := r.engine.Group("/api/v1")
	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})

	// Limit after authentication so buckets are per user.
	protected := api.Group("", r.auth.Authenticate())
	if r.limiter != nil {
		protected.Use(r.limiter.RateLimit())
	}

	admin := r.auth.RequireAdmin()
	r.electionH.RegisterRoutes(protected, admin)
	r.notificationH.RegisterRoutes(protected, admin)
	if r.jobsH != nil {
		r.jobsH.RegisterRoutes(protected, admin)
	}
}

// metricsMiddleware labels by route template to keep cardinality bounded.
func (r *Router) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		r.metrics.HTTPRequests.WithLabelValues(c.Request.Method, path, status).Inc()
		r.metrics.HTTPDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

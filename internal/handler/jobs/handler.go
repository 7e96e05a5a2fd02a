package jobs

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/election-api/internal/service/scheduler"
	"github.com/jwalitptl/election-api/pkg/httputil"
)

// Runner is the part of scheduler.Jobs the handler needs.
type Runner interface {
	Names() []string
	Run(ctx context.Context, name string) (*scheduler.JobReport, error)
}

type Handler struct {
	jobs Runner
}

func NewHandler(jobs Runner) *Handler {
	return &Handler{jobs: jobs}
}

// RegisterRoutes mounts the manual triggers. The whole group is admin-only.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, admin gin.HandlerFunc) {
	jobs := rg.Group("/jobs", admin)
	{
		jobs.GET("", h.ListJobs)
		jobs.POST("/:name/run", h.RunJob)
	}
}

func (h *Handler) ListJobs(c *gin.Context) {
	httputil.RespondWithSuccess(c, h.jobs.Names())
}

// RunJob runs a recurring job once, synchronously.
func (h *Handler) RunJob(c *gin.Context) {
	report, err := h.jobs.Run(c.Request.Context(), c.Param("name"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, report)
}

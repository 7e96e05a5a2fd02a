package election

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/election-api/internal/middleware"
	"github.com/jwalitptl/election-api/internal/model"
	electionService "github.com/jwalitptl/election-api/internal/service/election"
	"github.com/jwalitptl/election-api/pkg/errors"
	"github.com/jwalitptl/election-api/pkg/httputil"
)

// Authorizer decides whether the caller holds the admin role.
type Authorizer interface {
	IsAdmin(c *gin.Context) bool
}

type Handler struct {
	service electionService.ElectionServicer
	auth    Authorizer
}

func NewHandler(service electionService.ElectionServicer, auth Authorizer) *Handler {
	return &Handler{service: service, auth: auth}
}

// RegisterRoutes expects rg to be authenticated. admin guards the
// administrative routes; vote may add a stricter limiter to casting.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, admin gin.HandlerFunc, vote ...gin.HandlerFunc) {
	elections := rg.Group("/elections")
	{
		elections.POST("", admin, h.CreateElection)
		elections.GET("/:id", h.GetElection)
		elections.GET("/:id/status", h.GetStatus)
		elections.POST("/:id/votes", append(vote, h.CastVote)...)
		elections.GET("/:id/results", h.GetResults)

		elections.POST("/:id/publish", admin, h.PublishElection)
		elections.POST("/:id/cancel", admin, h.CancelElection)
		elections.POST("/:id/results/publish", admin, h.PublishResults)
		elections.DELETE("/:id", admin, h.DeleteElection)
	}
}

type candidateRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name" binding:"required"`
	Position string `json:"position"`
	Bio      string `json:"bio"`
	ImageURL string `json:"image_url" binding:"omitempty,url"`
}

type createElectionRequest struct {
	ID          string             `json:"id"`
	Title       string             `json:"title" binding:"required"`
	Description string             `json:"description"`
	StartDate   time.Time          `json:"start_date" binding:"required"`
	EndDate     time.Time          `json:"end_date" binding:"required,gtfield=StartDate"`
	IsPublic    bool               `json:"is_public"`
	VoterCount  int                `json:"voter_count" binding:"min=0"`
	Candidates  []candidateRequest `json:"candidates" binding:"required,min=1,dive"`
}

type castVoteRequest struct {
	CandidateID string `json:"candidate_id" binding:"required"`
}

func bindError(err error) error {
	return errors.BadRequest("invalid request body", err)
}

func (h *Handler) CreateElection(c *gin.Context) {
	var req createElectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, bindError(err))
		return
	}

	e := &model.Election{
		ID:          req.ID,
		Title:       req.Title,
		Description: req.Description,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		IsPublic:    req.IsPublic,
		VoterCount:  req.VoterCount,
		CreatedBy:   middleware.UserID(c),
	}
	for _, cr := range req.Candidates {
		e.Candidates = append(e.Candidates, &model.Candidate{
			ID:       cr.ID,
			Name:     cr.Name,
			Position: cr.Position,
			Bio:      cr.Bio,
			ImageURL: cr.ImageURL,
		})
	}

	if err := h.service.Create(c.Request.Context(), e); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithStatus(c, http.StatusCreated, e)
}

// visible hides drafts and private elections from non-admins.
func (h *Handler) visible(c *gin.Context, e *model.Election) bool {
	if h.auth.IsAdmin(c) {
		return true
	}
	return e.Status != model.ElectionStatusDraft && e.IsPublic
}

func (h *Handler) GetElection(c *gin.Context) {
	e, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if !h.visible(c, e) {
		httputil.RespondWithError(c, errors.NotFound("election", nil))
		return
	}
	httputil.RespondWithSuccess(c, e)
}

func (h *Handler) GetStatus(c *gin.Context) {
	e, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if !h.visible(c, e) {
		httputil.RespondWithError(c, errors.NotFound("election", nil))
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"election_id": e.ID, "status": e.Status})
}

// CastVote records a ballot for the authenticated caller.
func (h *Handler) CastVote(c *gin.Context) {
	var req castVoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, bindError(err))
		return
	}

	ballot, err := h.service.CastVote(c.Request.Context(), c.Param("id"), middleware.UserID(c), req.CandidateID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithStatus(c, http.StatusCreated, ballot)
}

// GetResults hides elections the caller cannot see before the results gate.
func (h *Handler) GetResults(c *gin.Context) {
	e, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if !h.visible(c, e) {
		httputil.RespondWithError(c, errors.NotFound("election", nil))
		return
	}
	tally, err := h.service.Results(c.Request.Context(), e.ID, h.auth.IsAdmin(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, tally)
}

func (h *Handler) PublishElection(c *gin.Context) {
	e, err := h.service.Publish(c.Request.Context(), c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, e)
}

func (h *Handler) CancelElection(c *gin.Context) {
	e, err := h.service.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, e)
}

func (h *Handler) PublishResults(c *gin.Context) {
	e, err := h.service.PublishResults(c.Request.Context(), c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, e)
}

func (h *Handler) DeleteElection(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

package notification

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/election-api/internal/middleware"
	"github.com/jwalitptl/election-api/internal/model"
	notificationService "github.com/jwalitptl/election-api/internal/service/notification"
	"github.com/jwalitptl/election-api/internal/service/scheduler"
	"github.com/jwalitptl/election-api/pkg/errors"
	"github.com/jwalitptl/election-api/pkg/httputil"
	"github.com/jwalitptl/election-api/pkg/messaging"
)

type Authorizer interface {
	IsAdmin(c *gin.Context) bool
}

type Handler struct {
	service   notificationService.NotificationServicer
	scheduler scheduler.SchedulerServicer
	broker    messaging.Broker
	auth      Authorizer
	// keepAlive is the idle interval between SSE comments.
	keepAlive time.Duration
}

// NewHandler wires the notification routes. broker may be nil, which
// disables the event stream.
func NewHandler(service notificationService.NotificationServicer, sched scheduler.SchedulerServicer,
	broker messaging.Broker, auth Authorizer) *Handler {
	return &Handler{
		service:   service,
		scheduler: sched,
		broker:    broker,
		auth:      auth,
		keepAlive: 25 * time.Second,
	}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, admin gin.HandlerFunc) {
	notifications := rg.Group("/notifications")
	{
		notifications.GET("", h.ListMine)
		notifications.GET("/stream", h.Stream)
		notifications.GET("/:id", h.GetNotification)
		notifications.POST("/:id/read", h.MarkRead)

		notifications.POST("", admin, h.SendNotification)
		notifications.POST("/broadcast", admin, h.Broadcast)
		notifications.POST("/schedule", admin, h.Schedule)
		notifications.GET("/scheduled", admin, h.ListScheduled)
		notifications.GET("/scheduled/:id", admin, h.GetScheduled)
		notifications.DELETE("/scheduled/:id", admin, h.CancelScheduled)
	}
}

type sendRequest struct {
	Type        model.NotificationType    `json:"type" binding:"required"`
	RecipientID string                    `json:"recipient_id"`
	Channel     model.NotificationChannel `json:"channel" binding:"omitempty,oneof=email in_app both"`
	Title       string                    `json:"title"`
	Content     string                    `json:"content"`
	Metadata    map[string]string         `json:"metadata"`
}

func (r sendRequest) toModel() model.NotificationRequest {
	return model.NotificationRequest{
		Type:        r.Type,
		RecipientID: r.RecipientID,
		Channel:     r.Channel,
		Title:       r.Title,
		Content:     r.Content,
		Metadata:    r.Metadata,
	}
}

type broadcastRequest struct {
	Notification sendRequest `json:"notification" binding:"required"`
	RecipientIDs []string    `json:"recipient_ids" binding:"required,min=1,dive,required"`
}

type scheduleRequest struct {
	broadcastRequest
	ScheduledFor time.Time `json:"scheduled_for" binding:"required"`
}

func (h *Handler) SendNotification(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid request body", err))
		return
	}

	report, err := h.service.Send(c.Request.Context(), req.toModel())
	if err != nil {
		if report != nil {
			httputil.RespondWithErrorData(c, err, report)
			return
		}
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithStatus(c, http.StatusCreated, report)
}

func (h *Handler) Broadcast(c *gin.Context) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid request body", err))
		return
	}

	result, err := h.service.Broadcast(c.Request.Context(), req.Notification.toModel(), req.RecipientIDs)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, result)
}

func (h *Handler) Schedule(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid request body", err))
		return
	}

	sn, err := h.scheduler.ScheduleAt(c.Request.Context(), req.Notification.toModel(), req.RecipientIDs, req.ScheduledFor)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	status := http.StatusAccepted
	if sn.Status == model.ScheduleStatusProcessed {
		status = http.StatusOK
	}
	httputil.RespondWithStatus(c, status, sn)
}

func (h *Handler) ListScheduled(c *gin.Context) {
	status := model.ScheduleStatus(c.Query("status"))
	switch status {
	case "", model.ScheduleStatusScheduled, model.ScheduleStatusProcessed, model.ScheduleStatusCancelled:
	default:
		httputil.RespondWithError(c, errors.BadRequest(fmt.Sprintf("unknown status %q", status), nil))
		return
	}

	list, err := h.scheduler.List(c.Request.Context(), status)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, list)
}

func (h *Handler) GetScheduled(c *gin.Context) {
	sn, err := h.scheduler.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, sn)
}

func (h *Handler) CancelScheduled(c *gin.Context) {
	sn, err := h.scheduler.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, sn)
}

func (h *Handler) ListMine(c *gin.Context) {
	list, err := h.service.List(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, list)
}

// GetNotification returns a notification to its recipient or an admin.
func (h *Handler) GetNotification(c *gin.Context) {
	n, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if n.RecipientID != middleware.UserID(c) && !h.auth.IsAdmin(c) {
		httputil.RespondWithError(c, errors.NotFound("notification", nil))
		return
	}
	httputil.RespondWithSuccess(c, n)
}

func (h *Handler) MarkRead(c *gin.Context) {
	n, err := h.service.MarkRead(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, n)
}

// Stream relays the caller's in-app notifications as server-sent events.
func (h *Handler) Stream(c *gin.Context) {
	if h.broker == nil {
		httputil.RespondWithError(c, errors.InvalidState("event stream not available"))
		return
	}

	ctx := c.Request.Context()
	events, err := h.broker.Subscribe(ctx, messaging.UserTopic(middleware.UserID(c)))
	if err != nil {
		httputil.RespondWithError(c, fmt.Errorf("failed to subscribe: %w", err))
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	fmt.Fprint(c.Writer, ": connected\n\n")
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprint(c.Writer, ": keep-alive\n\n")
			c.Writer.Flush()
		case payload, ok := <-events:
			if !ok {
				return
			}
			if !json.Valid(payload) {
				continue
			}
			c.SSEvent("notification", json.RawMessage(payload))
			c.Writer.Flush()
		}
	}
}

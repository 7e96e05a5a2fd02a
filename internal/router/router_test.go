package router

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/election-api/internal/email"
	electionHandler "github.com/jwalitptl/election-api/internal/handler/election"
	"github.com/jwalitptl/election-api/internal/handler/health"
	jobsHandler "github.com/jwalitptl/election-api/internal/handler/jobs"
	notificationHandler "github.com/jwalitptl/election-api/internal/handler/notification"
	"github.com/jwalitptl/election-api/internal/middleware"
	"github.com/jwalitptl/election-api/internal/model"
	"github.com/jwalitptl/election-api/internal/repository/memory"
	electionService "github.com/jwalitptl/election-api/internal/service/election"
	notificationService "github.com/jwalitptl/election-api/internal/service/notification"
	"github.com/jwalitptl/election-api/internal/service/scheduler"
	"github.com/jwalitptl/election-api/pkg/auth"
	"github.com/jwalitptl/election-api/pkg/httputil"
	"github.com/jwalitptl/election-api/pkg/idgen"
	"github.com/jwalitptl/election-api/pkg/logger"
	"github.com/jwalitptl/election-api/pkg/messaging"
	"github.com/jwalitptl/election-api/pkg/metrics"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type app struct {
	router *Router
	clock  *clockwork.FakeClock
	jwt    auth.JWTService
	broker *messaging.MemoryBroker
	notes  *memory.NotificationRepository
}

func newApp(t *testing.T) *app {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clock := clockwork.NewFakeClockAt(t0)
	log := logger.Nop()
	m := metrics.New("test")
	newID := idgen.Sequence("id")

	dir := memory.NewDirectory()
	for _, u := range []string{"v1", "v2", "admin"} {
		dir.AddUser(u, u+"@example.com")
	}
	dir.Enroll("E1", "v1", "v2")

	broker := messaging.NewMemoryBroker(16)
	t.Cleanup(func() { broker.Close() })

	notes := memory.NewNotificationRepository()
	notifications := notificationService.NewService(
		notificationService.NewComposer(clock, newID),
		notificationService.NewEmailSender(dir, email.NewLogService(log)),
		notificationService.NewInAppSender(broker, clock, newID, log),
		notes, dir, clock, log, m, notificationService.Config{},
	)
	elections := memory.NewElectionRepository()
	electionSvc := electionService.NewService(elections, dir, notifications, clock, newID, log, m)
	sched := scheduler.New(memory.NewScheduleRepository(), notifications, clock, newID, log, m)
	t.Cleanup(sched.Stop)
	jobs := scheduler.NewJobs(elections, notes, dir, notifications, clock, log, m, scheduler.JobsConfig{})

	jwt := auth.NewJWTService("secret", time.Hour)
	authMW := middleware.NewAuthMiddleware(jwt, "admin")

	r := NewRouter(
		authMW,
		electionHandler.NewHandler(electionSvc, authMW),
		notificationHandler.NewHandler(notifications, sched, broker, authMW),
		jobsHandler.NewHandler(jobs),
		health.NewHandler(prometheus.NewRegistry(), nil),
		log, m,
		RouterConfig{},
	)
	return &app{router: r, clock: clock, jwt: jwt, broker: broker, notes: notes}
}

func (a *app) token(t *testing.T, user, role string) string {
	t.Helper()
	tok, err := a.jwt.GenerateAccessToken(user, role)
	require.NoError(t, err)
	return tok
}

func (a *app) call(t *testing.T, method, path, user, role string, body interface{}) (*httptest.ResponseRecorder, httputil.Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+a.token(t, user, role))
	}
	w := httptest.NewRecorder()
	a.router.Engine().ServeHTTP(w, req)

	var resp httputil.Response
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
	}
	return w, resp
}

func createElection(t *testing.T, a *app) {
	t.Helper()
	w, _ := a.call(t, http.MethodPost, "/api/v1/elections", "admin", "admin", gin.H{
		"id":         "E1",
		"title":      "Board",
		"start_date": t0.Add(time.Hour),
		"end_date":   t0.Add(48 * time.Hour),
		"is_public":  true,
		"candidates": []gin.H{{"id": "C1", "name": "Ada"}, {"id": "C2", "name": "Grace"}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestElectionLifecycleOverHTTP(t *testing.T) {
	a := newApp(t)
	createElection(t, a)

	// Drafts are invisible to voters.
	w, _ := a.call(t, http.MethodGet, "/api/v1/elections/E1", "v1", "voter", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = a.call(t, http.MethodPost, "/api/v1/elections/E1/publish", "v1", "voter", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = a.call(t, http.MethodPost, "/api/v1/elections/E1/publish", "admin", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, resp := a.call(t, http.MethodGet, "/api/v1/elections/E1/status", "v1", "voter", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "upcoming", resp.Data.(map[string]interface{})["status"])

	vote := gin.H{"candidate_id": "C1"}
	w, _ = a.call(t, http.MethodPost, "/api/v1/elections/E1/votes", "v1", "voter", vote)
	assert.Equal(t, http.StatusConflict, w.Code)

	a.clock.Advance(2 * time.Hour)

	w, _ = a.call(t, http.MethodPost, "/api/v1/elections/E1/votes", "v1", "voter", vote)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, resp = a.call(t, http.MethodPost, "/api/v1/elections/E1/votes", "v1", "voter", gin.H{"candidate_id": "C2"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already voted", resp.Error.Message)

	w, _ = a.call(t, http.MethodPost, "/api/v1/elections/E1/votes", "v3", "voter", vote)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = a.call(t, http.MethodPost, "/api/v1/elections/E1/votes", "v2", "voter", gin.H{"candidate_id": "C9"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = a.call(t, http.MethodPost, "/api/v1/elections/E1/votes", "v2", "voter", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = a.call(t, http.MethodGet, "/api/v1/elections/E1/results", "v1", "voter", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, resp = a.call(t, http.MethodGet, "/api/v1/elections/E1/results", "admin", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), resp.Data.(map[string]interface{})["total_votes"])

	w, _ = a.call(t, http.MethodPost, "/api/v1/elections/E1/results/publish", "admin", "admin", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	a.clock.Advance(72 * time.Hour)
	w, _ = a.call(t, http.MethodPost, "/api/v1/elections/E1/results/publish", "admin", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = a.call(t, http.MethodGet, "/api/v1/elections/E1/results", "v2", "voter", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = a.call(t, http.MethodDelete, "/api/v1/elections/E1", "admin", "admin", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestResultsHiddenLikeElection(t *testing.T) {
	a := newApp(t)
	createElection(t, a)

	w, _ := a.call(t, http.MethodGet, "/api/v1/elections/E1/results", "v1", "voter", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = a.call(t, http.MethodPost, "/api/v1/elections", "admin", "admin", gin.H{
		"id":         "E2",
		"title":      "Audit committee",
		"start_date": t0.Add(time.Hour),
		"end_date":   t0.Add(2 * time.Hour),
		"is_public":  false,
		"candidates": []gin.H{{"id": "C1", "name": "Ada"}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w, _ = a.call(t, http.MethodPost, "/api/v1/elections/E2/publish", "admin", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)

	a.clock.Advance(3 * time.Hour)
	w, _ = a.call(t, http.MethodPost, "/api/v1/elections/E2/results/publish", "admin", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = a.call(t, http.MethodGet, "/api/v1/elections/E2/results", "v1", "voter", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = a.call(t, http.MethodGet, "/api/v1/elections/E2/results", "admin", "admin", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = a.call(t, http.MethodGet, "/api/v1/elections/missing/results", "v1", "voter", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUnauthenticatedRejected(t *testing.T) {
	a := newApp(t)
	w, _ := a.call(t, http.MethodGet, "/api/v1/elections/E1", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = a.call(t, http.MethodGet, "/health/live", "", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNotificationsOverHTTP(t *testing.T) {
	a := newApp(t)

	w, resp := a.call(t, http.MethodPost, "/api/v1/notifications", "admin", "admin", gin.H{
		"type":         "system_announcement",
		"recipient_id": "v1",
		"channel":      "in_app",
		"content":      "Maintenance tonight",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	report := resp.Data.(map[string]interface{})
	id := report["notification"].(map[string]interface{})["id"].(string)

	w, resp = a.call(t, http.MethodGet, "/api/v1/notifications", "v1", "voter", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp.Data, 1)

	w, _ = a.call(t, http.MethodGet, "/api/v1/notifications/"+id, "v2", "voter", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, resp = a.call(t, http.MethodPost, "/api/v1/notifications/"+id+"/read", "v1", "voter", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "read", resp.Data.(map[string]interface{})["status"])

	w, resp = a.call(t, http.MethodPost, "/api/v1/notifications/broadcast", "admin", "admin", gin.H{
		"notification":  gin.H{"type": "system_announcement", "channel": "email"},
		"recipient_ids": []string{"v1", "v2", "ghost"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, map[string]interface{}{"total": float64(3), "sent": float64(2), "failed": float64(1)}, resp.Data)

	w, _ = a.call(t, http.MethodPost, "/api/v1/notifications/broadcast", "v1", "voter", gin.H{})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestScheduleOverHTTP(t *testing.T) {
	a := newApp(t)

	w, resp := a.call(t, http.MethodPost, "/api/v1/notifications/schedule", "admin", "admin", gin.H{
		"notification":  gin.H{"type": "election_reminder", "channel": "in_app"},
		"recipient_ids": []string{"v1"},
		"scheduled_for": t0.Add(time.Hour),
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	id := resp.Data.(map[string]interface{})["id"].(string)

	w, resp = a.call(t, http.MethodGet, "/api/v1/notifications/scheduled?status=scheduled", "admin", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp.Data, 1)

	w, _ = a.call(t, http.MethodGet, "/api/v1/notifications/scheduled?status=bogus", "admin", "admin", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp = a.call(t, http.MethodDelete, "/api/v1/notifications/scheduled/"+id, "admin", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cancelled", resp.Data.(map[string]interface{})["status"])

	w, _ = a.call(t, http.MethodDelete, "/api/v1/notifications/scheduled/"+id, "admin", "admin", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = a.call(t, http.MethodPost, "/api/v1/notifications/schedule", "admin", "admin", gin.H{
		"notification":  gin.H{"type": "election_reminder"},
		"recipient_ids": []string{},
		"scheduled_for": t0,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunJobOverHTTP(t *testing.T) {
	a := newApp(t)

	w, resp := a.call(t, http.MethodGet, "/api/v1/jobs", "admin", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp.Data, 4)

	w, _ = a.call(t, http.MethodPost, "/api/v1/jobs/"+scheduler.JobCleanup+"/run", "admin", "admin", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = a.call(t, http.MethodPost, "/api/v1/jobs/nope/run", "admin", "admin", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = a.call(t, http.MethodPost, "/api/v1/jobs/"+scheduler.JobCleanup+"/run", "v1", "voter", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestStreamRelaysInAppNotifications(t *testing.T) {
	a := newApp(t)
	srv := httptest.NewServer(a.router.Engine())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/notifications/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+a.token(t, "v1", "voter"))

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	lines := bufio.NewReader(resp.Body)
	first, err := lines.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": connected\n", first)

	require.NoError(t, a.broker.Publish(ctx, messaging.UserTopic("v1"), model.NotificationEvent{
		ID:     "ev-1",
		UserID: "v1",
		Type:   "system_announcement",
		Title:  "Hello",
	}))

	var data string
	for data == "" {
		line, err := lines.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data:") {
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	var ev model.NotificationEvent
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	assert.Equal(t, "ev-1", ev.ID)
	assert.Equal(t, "Hello", ev.Title)
}

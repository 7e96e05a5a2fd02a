package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jwalitptl/election-api/internal/model"
	"github.com/jwalitptl/election-api/internal/repository"
	electionsvc "github.com/jwalitptl/election-api/internal/service/election"
	"github.com/jwalitptl/election-api/pkg/errors"
	"github.com/jwalitptl/election-api/pkg/logger"
	"github.com/jwalitptl/election-api/pkg/metrics"
)

// Job names as exposed to cron and the jobs endpoint.
const (
	JobClosingSoon   = "closing-soon"
	JobStartingToday = "starting-today"
	JobEndingToday   = "ending-today"
	JobCleanup       = "notification-cleanup"
)

// published excludes Draft and Cancelled at the query level.
var published = []model.ElectionStatus{
	model.ElectionStatusUpcoming,
	model.ElectionStatusActive,
	model.ElectionStatusCompleted,
}

type JobsConfig struct {
	ClosingSoonWindow time.Duration
	Retention         time.Duration
	// Location decides where "today" starts and ends.
	Location *time.Location
	// PublicURL, when set, adds an election link to reminders.
	PublicURL string
}

// JobReport summarizes one run. Elections counts the elections the job
// matched; ElectionFailures those it could not process.
type JobReport struct {
	Job              string                `json:"job"`
	StartedAt        time.Time             `json:"started_at"`
	Elections        int                   `json:"elections"`
	ElectionFailures int                   `json:"election_failures"`
	Notifications    model.BroadcastResult `json:"notifications"`
	Purged           int64                 `json:"purged,omitempty"`
}

func (r *JobReport) add(res model.BroadcastResult) {
	r.Notifications.Total += res.Total
	r.Notifications.Sent += res.Sent
	r.Notifications.Failed += res.Failed
}

type JobFunc func(ctx context.Context) (*JobReport, error)

type Jobs struct {
	elections     repository.ElectionRepository
	notifications repository.NotificationRepository
	directory     repository.Directory
	broadcaster   Broadcaster
	clock         clockwork.Clock
	logger        *logger.Logger
	metrics       *metrics.Metrics
	cfg           JobsConfig
}

func NewJobs(elections repository.ElectionRepository, notifications repository.NotificationRepository,
	directory repository.Directory, broadcaster Broadcaster, clock clockwork.Clock,
	log *logger.Logger, m *metrics.Metrics, cfg JobsConfig) *Jobs {
	if cfg.ClosingSoonWindow <= 0 {
		cfg.ClosingSoonWindow = 24 * time.Hour
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 90 * 24 * time.Hour
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Jobs{
		elections:     elections,
		notifications: notifications,
		directory:     directory,
		broadcaster:   broadcaster,
		clock:         clock,
		logger:        log,
		metrics:       m,
		cfg:           cfg,
	}
}

// Registry maps job names to their instrumented entry points.
func (j *Jobs) Registry() map[string]JobFunc {
	return map[string]JobFunc{
		JobClosingSoon:   j.instrument(JobClosingSoon, j.ClosingSoonReminders),
		JobStartingToday: j.instrument(JobStartingToday, j.StartingToday),
		JobEndingToday:   j.instrument(JobEndingToday, j.EndingToday),
		JobCleanup:       j.instrument(JobCleanup, j.CleanupNotifications),
	}
}

// Names lists registered jobs in a stable order.
func (j *Jobs) Names() []string {
	names := make([]string, 0, 4)
	for name := range j.Registry() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes a job by name.
func (j *Jobs) Run(ctx context.Context, name string) (*JobReport, error) {
	fn, ok := j.Registry()[name]
	if !ok {
		return nil, errors.NotFound(fmt.Sprintf("job %q", name), nil)
	}
	return fn(ctx)
}

func (j *Jobs) instrument(name string, fn JobFunc) JobFunc {
	return func(ctx context.Context) (*JobReport, error) {
		start := time.Now()
		report, err := fn(ctx)
		j.metrics.JobDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		j.metrics.JobRuns.WithLabelValues(name, metrics.Outcome(err)).Inc()
		if err != nil {
			j.logger.Error(err, "job failed", "job", name)
			return report, err
		}
		j.logger.Info("job finished", "job", name,
			"elections", report.Elections,
			"election_failures", report.ElectionFailures,
			"sent", report.Notifications.Sent,
			"failed", report.Notifications.Failed,
			"purged", report.Purged)
		return report, nil
	}
}

func (j *Jobs) today(now time.Time) (time.Time, time.Time) {
	local := now.In(j.cfg.Location)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, j.cfg.Location)
	return start, start.AddDate(0, 0, 1)
}

func (j *Jobs) electionMeta(e *model.Election) map[string]string {
	loc := j.cfg.Location
	meta := map[string]string{
		model.MetaElectionID:    e.ID,
		model.MetaElectionTitle: e.Title,
		model.MetaStartDate:     e.StartDate.In(loc).Format(time.RFC1123),
		model.MetaEndDate:       e.EndDate.In(loc).Format(time.RFC1123),
	}
	if j.cfg.PublicURL != "" {
		meta[model.MetaElectionURL] = strings.TrimRight(j.cfg.PublicURL, "/") + "/elections/" + e.ID
	}
	return meta
}

func nonVoters(e *model.Election, eligible []string) []string {
	out := make([]string, 0, len(eligible))
	for _, id := range eligible {
		if !e.HasVoted(id) {
			out = append(out, id)
		}
	}
	return out
}

// forEach runs step per election; one election failing never stops the rest.
func (j *Jobs) forEach(ctx context.Context, report *JobReport, elections []*model.Election,
	step func(ctx context.Context, e *model.Election) (model.BroadcastResult, error)) {
	report.Elections = len(elections)
	for _, e := range elections {
		if ctx.Err() != nil {
			return
		}
		res, err := step(ctx, e)
		if err != nil {
			report.ElectionFailures++
			j.logger.Warn(err, "job step failed", "job", report.Job, "election_id", e.ID)
			continue
		}
		report.add(res)
	}
}

// ClosingSoonReminders nudges eligible voters who have not voted in active
// elections that end within the closing-soon window.
func (j *Jobs) ClosingSoonReminders(ctx context.Context) (*JobReport, error) {
	now := j.clock.Now()
	report := &JobReport{Job: JobClosingSoon, StartedAt: now}

	candidates, err := j.elections.List(ctx, model.ElectionFilter{
		EndFrom:  now,
		EndTo:    now.Add(j.cfg.ClosingSoonWindow),
		Statuses: published,
	})
	if err != nil {
		return report, fmt.Errorf("failed to list closing elections: %w", err)
	}

	var active []*model.Election
	for _, e := range candidates {
		if electionsvc.EffectiveStatus(e, now) == model.ElectionStatusActive {
			active = append(active, e)
		}
	}

	j.forEach(ctx, report, active, func(ctx context.Context, e *model.Election) (model.BroadcastResult, error) {
		eligible, err := j.directory.EligibleVoters(ctx, e.ID)
		if err != nil {
			return model.BroadcastResult{}, err
		}
		targets := nonVoters(e, eligible)
		if len(targets) == 0 {
			return model.BroadcastResult{}, nil
		}
		return j.broadcaster.Broadcast(ctx, model.NotificationRequest{
			Type:     model.NotificationTypeElectionReminder,
			Metadata: j.electionMeta(e),
		}, targets)
	})
	return report, nil
}

// StartingToday announces elections whose start falls on the current day.
func (j *Jobs) StartingToday(ctx context.Context) (*JobReport, error) {
	now := j.clock.Now()
	report := &JobReport{Job: JobStartingToday, StartedAt: now}
	dayStart, dayEnd := j.today(now)

	elections, err := j.elections.List(ctx, model.ElectionFilter{
		StartFrom: dayStart,
		StartTo:   dayEnd,
		Statuses:  published,
	})
	if err != nil {
		return report, fmt.Errorf("failed to list starting elections: %w", err)
	}

	j.forEach(ctx, report, elections, func(ctx context.Context, e *model.Election) (model.BroadcastResult, error) {
		eligible, err := j.directory.EligibleVoters(ctx, e.ID)
		if err != nil {
			return model.BroadcastResult{}, err
		}
		if len(eligible) == 0 {
			return model.BroadcastResult{}, nil
		}
		return j.broadcaster.Broadcast(ctx, model.NotificationRequest{
			Type:     model.NotificationTypeElectionStarted,
			Metadata: j.electionMeta(e),
		}, eligible)
	})
	return report, nil
}

// EndingToday tells every eligible voter the election ends today and sends
// an urgent reminder to those who have not voted while voting is still open.
func (j *Jobs) EndingToday(ctx context.Context) (*JobReport, error) {
	now := j.clock.Now()
	report := &JobReport{Job: JobEndingToday, StartedAt: now}
	dayStart, dayEnd := j.today(now)

	elections, err := j.elections.List(ctx, model.ElectionFilter{
		EndFrom:  dayStart,
		EndTo:    dayEnd,
		Statuses: published,
	})
	if err != nil {
		return report, fmt.Errorf("failed to list ending elections: %w", err)
	}

	j.forEach(ctx, report, elections, func(ctx context.Context, e *model.Election) (model.BroadcastResult, error) {
		eligible, err := j.directory.EligibleVoters(ctx, e.ID)
		if err != nil {
			return model.BroadcastResult{}, err
		}
		if len(eligible) == 0 {
			return model.BroadcastResult{}, nil
		}

		meta := j.electionMeta(e)
		total, err := j.broadcaster.Broadcast(ctx, model.NotificationRequest{
			Type:     model.NotificationTypeElectionEnded,
			Metadata: meta,
		}, eligible)
		if err != nil {
			return total, err
		}

		if electionsvc.EffectiveStatus(e, now) != model.ElectionStatusActive {
			return total, nil
		}
		targets := nonVoters(e, eligible)
		if len(targets) == 0 {
			return total, nil
		}

		urgent := make(map[string]string, len(meta)+1)
		for k, v := range meta {
			urgent[k] = v
		}
		urgent[model.MetaUrgent] = "true"
		reminders, err := j.broadcaster.Broadcast(ctx, model.NotificationRequest{
			Type:     model.NotificationTypeElectionReminder,
			Metadata: urgent,
		}, targets)
		total.Total += reminders.Total
		total.Sent += reminders.Sent
		total.Failed += reminders.Failed
		return total, err
	})
	return report, nil
}

// CleanupNotifications purges notification records older than the retention window.
func (j *Jobs) CleanupNotifications(ctx context.Context) (*JobReport, error) {
	now := j.clock.Now()
	report := &JobReport{Job: JobCleanup, StartedAt: now}

	purged, err := j.notifications.DeleteBefore(ctx, now.Add(-j.cfg.Retention))
	if err != nil {
		return report, fmt.Errorf("failed to purge notifications: %w", err)
	}
	report.Purged = purged
	return report, nil
}

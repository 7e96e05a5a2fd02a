package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/election-api/internal/model"
	"github.com/jwalitptl/election-api/internal/repository/memory"
	"github.com/jwalitptl/election-api/pkg/errors"
	"github.com/jwalitptl/election-api/pkg/logger"
	"github.com/jwalitptl/election-api/pkg/metrics"
)

type jobsFixture struct {
	jobs          *Jobs
	elections     *memory.ElectionRepository
	notifications *memory.NotificationRepository
	dir           *memory.Directory
	broadcaster   *fakeBroadcaster
	clock         *clockwork.FakeClock
}

func newJobsFixture(t *testing.T) *jobsFixture {
	t.Helper()
	f := &jobsFixture{
		elections:     memory.NewElectionRepository(),
		notifications: memory.NewNotificationRepository(),
		dir:           memory.NewDirectory(),
		broadcaster:   &fakeBroadcaster{},
		clock:         clockwork.NewFakeClockAt(t0),
	}
	f.jobs = NewJobs(f.elections, f.notifications, f.dir, f.broadcaster, f.clock,
		logger.Nop(), metrics.New("test"), JobsConfig{Retention: 30 * 24 * time.Hour})
	return f
}

func (f *jobsFixture) election(t *testing.T, id string, start, end time.Time, status model.ElectionStatus, voters ...string) {
	t.Helper()
	require.NoError(t, f.elections.Create(context.Background(), &model.Election{
		ID:         id,
		Title:      "Election " + id,
		StartDate:  start,
		EndDate:    end,
		Status:     status,
		Candidates: []*model.Candidate{{ID: "C1", Name: "Ada"}},
	}))
	f.dir.Enroll(id, voters...)
}

func (f *jobsFixture) vote(t *testing.T, electionID, voterID string) {
	t.Helper()
	require.NoError(t, f.elections.ApplyVote(context.Background(), &model.Ballot{
		ID: voterID + "-ballot", ElectionID: electionID, VoterID: voterID, CandidateID: "C1",
	}, nil))
}

func TestClosingSoonTargetsOnlyNonVoters(t *testing.T) {
	f := newJobsFixture(t)
	f.election(t, "E1", t0.Add(-24*time.Hour), t0.Add(10*time.Hour), model.ElectionStatusUpcoming, "v1", "v2")
	f.vote(t, "E1", "v1")

	report, err := f.jobs.ClosingSoonReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Elections)
	assert.Equal(t, 1, report.Notifications.Sent)

	calls := f.broadcaster.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"v2"}, calls[0].recipients)
	assert.Equal(t, model.NotificationTypeElectionReminder, calls[0].req.Type)
	assert.Equal(t, "E1", calls[0].req.Metadata[model.MetaElectionID])
	assert.Empty(t, calls[0].req.Metadata[model.MetaUrgent])
}

func TestClosingSoonSkipsOutOfWindow(t *testing.T) {
	f := newJobsFixture(t)
	f.election(t, "later", t0.Add(-time.Hour), t0.Add(48*time.Hour), model.ElectionStatusUpcoming, "v1")
	f.election(t, "ended", t0.Add(-48*time.Hour), t0.Add(-time.Hour), model.ElectionStatusUpcoming, "v1")
	f.election(t, "notyet", t0.Add(time.Hour), t0.Add(5*time.Hour), model.ElectionStatusUpcoming, "v1")
	f.election(t, "cancelled", t0.Add(-time.Hour), t0.Add(5*time.Hour), model.ElectionStatusCancelled, "v1")
	f.election(t, "draft", t0.Add(-time.Hour), t0.Add(5*time.Hour), model.ElectionStatusDraft, "v1")
	f.election(t, "allvoted", t0.Add(-time.Hour), t0.Add(5*time.Hour), model.ElectionStatusUpcoming, "v1")
	f.vote(t, "allvoted", "v1")

	report, err := f.jobs.ClosingSoonReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Elections)
	assert.Empty(t, f.broadcaster.snapshot())
}

func TestStartingToday(t *testing.T) {
	f := newJobsFixture(t)
	f.election(t, "today", t0.Add(2*time.Hour), t0.Add(48*time.Hour), model.ElectionStatusUpcoming, "v1", "v2")
	f.election(t, "tomorrow", t0.Add(24*time.Hour), t0.Add(48*time.Hour), model.ElectionStatusUpcoming, "v3")
	f.election(t, "earlier", t0.Add(-8*time.Hour), t0.Add(48*time.Hour), model.ElectionStatusUpcoming, "v4")

	report, err := f.jobs.StartingToday(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Elections)

	calls := f.broadcaster.snapshot()
	require.Len(t, calls, 2)
	for _, c := range calls {
		assert.Equal(t, model.NotificationTypeElectionStarted, c.req.Type)
	}
	assert.Equal(t, []string{"v4"}, calls[0].recipients)
	assert.Equal(t, []string{"v1", "v2"}, calls[1].recipients)
}

func TestStartingTodayHonoursLocation(t *testing.T) {
	f := newJobsFixture(t)
	loc := time.FixedZone("UTC+10", 10*3600)
	f.jobs.cfg.Location = loc

	// 09:00 UTC is 19:00 local; 15:00 UTC is already tomorrow locally.
	f.election(t, "local-tomorrow", t0.Add(6*time.Hour), t0.Add(48*time.Hour), model.ElectionStatusUpcoming, "v1")

	report, err := f.jobs.StartingToday(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Elections)
}

func TestEndingToday(t *testing.T) {
	f := newJobsFixture(t)
	f.election(t, "E1", t0.Add(-48*time.Hour), t0.Add(6*time.Hour), model.ElectionStatusUpcoming, "v1", "v2", "v3")
	f.vote(t, "E1", "v2")

	report, err := f.jobs.EndingToday(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Elections)
	assert.Equal(t, 5, report.Notifications.Total)

	calls := f.broadcaster.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, model.NotificationTypeElectionEnded, calls[0].req.Type)
	assert.Equal(t, []string{"v1", "v2", "v3"}, calls[0].recipients)
	assert.Equal(t, model.NotificationTypeElectionReminder, calls[1].req.Type)
	assert.Equal(t, "true", calls[1].req.Metadata[model.MetaUrgent])
	assert.Equal(t, []string{"v1", "v3"}, calls[1].recipients)
}

func TestEndingTodayAlreadyClosedSkipsReminder(t *testing.T) {
	f := newJobsFixture(t)
	f.election(t, "E1", t0.Add(-48*time.Hour), t0.Add(-time.Hour), model.ElectionStatusUpcoming, "v1")

	_, err := f.jobs.EndingToday(context.Background())
	require.NoError(t, err)

	calls := f.broadcaster.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, model.NotificationTypeElectionEnded, calls[0].req.Type)
}

type failingDirectory struct {
	*memory.Directory
	failFor string
}

func (d *failingDirectory) EligibleVoters(ctx context.Context, electionID string) ([]string, error) {
	if electionID == d.failFor {
		return nil, fmt.Errorf("directory timeout")
	}
	return d.Directory.EligibleVoters(ctx, electionID)
}

func TestJobIsolatesElectionFailures(t *testing.T) {
	f := newJobsFixture(t)
	dir := &failingDirectory{Directory: f.dir, failFor: "A"}
	f.jobs.directory = dir

	f.election(t, "A", t0.Add(time.Hour), t0.Add(48*time.Hour), model.ElectionStatusUpcoming, "v1")
	f.election(t, "B", t0.Add(2*time.Hour), t0.Add(48*time.Hour), model.ElectionStatusUpcoming, "v2")

	report, err := f.jobs.StartingToday(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Elections)
	assert.Equal(t, 1, report.ElectionFailures)

	calls := f.broadcaster.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"v2"}, calls[0].recipients)
}

func TestCleanupNotifications(t *testing.T) {
	ctx := context.Background()
	f := newJobsFixture(t)

	for i, age := range []time.Duration{time.Hour, 29 * 24 * time.Hour, 31 * 24 * time.Hour, 400 * 24 * time.Hour} {
		require.NoError(t, f.notifications.Create(ctx, &model.Notification{
			ID:          fmt.Sprintf("n%d", i),
			RecipientID: "u1",
			CreatedAt:   t0.Add(-age),
		}))
	}

	report, err := f.jobs.CleanupNotifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.Purged)
	assert.Equal(t, 2, f.notifications.Len())
}

func TestRunByName(t *testing.T) {
	f := newJobsFixture(t)

	assert.Equal(t, []string{JobClosingSoon, JobEndingToday, JobCleanup, JobStartingToday}, f.jobs.Names())

	report, err := f.jobs.Run(context.Background(), JobCleanup)
	require.NoError(t, err)
	assert.Equal(t, JobCleanup, report.Job)

	_, err = f.jobs.Run(context.Background(), "nope")
	assert.True(t, errors.HasCode(err, errors.ErrNotFound))
}

func TestReminderCarriesElectionLink(t *testing.T) {
	f := newJobsFixture(t)
	f.jobs.cfg.PublicURL = "https://vote.example.com/"
	f.election(t, "E1", t0.Add(-time.Hour), t0.Add(5*time.Hour), model.ElectionStatusUpcoming, "v1")

	_, err := f.jobs.ClosingSoonReminders(context.Background())
	require.NoError(t, err)

	calls := f.broadcaster.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "https://vote.example.com/elections/E1", calls[0].req.Metadata[model.MetaElectionURL])
}

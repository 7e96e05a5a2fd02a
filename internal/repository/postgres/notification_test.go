package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/election-api/internal/model"
	"github.com/jwalitptl/election-api/pkg/errors"
)

var notificationCols = []string{"id", "type", "recipient_id", "title", "content", "channel", "status", "metadata", "last_error", "created_at", "sent_at"}

func TestNotificationCreateEncodesMetadata(t *testing.T) {
	base, mock := newMock(t)
	repo := NewNotificationRepository(base)

	mock.ExpectExec(`INSERT INTO notifications`).
		WithArgs("n1", "election_started", "u1", "t", "c", "both", "pending",
			`{"electionId":"E1"}`, "", start, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &model.Notification{
		ID: "n1", Type: model.NotificationTypeElectionStarted, RecipientID: "u1",
		Title: "t", Content: "c", Channel: model.ChannelBoth, Status: model.NotificationStatusPending,
		Metadata: map[string]string{model.MetaElectionID: "E1"}, CreatedAt: start,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationGetDecodesMetadata(t *testing.T) {
	base, mock := newMock(t)
	repo := NewNotificationRepository(base)

	sentAt := start.Add(time.Minute)
	mock.ExpectQuery(`SELECT .+ FROM notifications WHERE id = \$1`).
		WithArgs("n1").
		WillReturnRows(sqlmock.NewRows(notificationCols).
			AddRow("n1", "vote_confirmation", "u1", "t", "c", "email", "sent", []byte(`{"ballotId":"B1"}`), "", start, sentAt))

	n, err := repo.Get(context.Background(), "n1")
	require.NoError(t, err)
	assert.Equal(t, model.NotificationTypeVoteConfirmation, n.Type)
	assert.Equal(t, "B1", n.Metadata[model.MetaBallotID])
	require.NotNil(t, n.SentAt)
	assert.Equal(t, sentAt, *n.SentAt)

	mock.ExpectQuery(`SELECT .+ FROM notifications WHERE id = \$1`).
		WithArgs("n2").
		WillReturnRows(sqlmock.NewRows(notificationCols))
	_, err = repo.Get(context.Background(), "n2")
	assert.True(t, errors.HasCode(err, errors.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationDeleteBefore(t *testing.T) {
	base, mock := newMock(t)
	repo := NewNotificationRepository(base)

	mock.ExpectExec(`DELETE FROM notifications WHERE created_at < \$1`).
		WithArgs(start).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := repo.DeleteBefore(context.Background(), start)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationUpdateMissing(t *testing.T) {
	base, mock := newMock(t)
	repo := NewNotificationRepository(base)

	mock.ExpectExec(`UPDATE notifications`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &model.Notification{ID: "gone", Status: model.NotificationStatusRead})
	assert.True(t, errors.HasCode(err, errors.ErrNotFound))
}

func TestScheduleRoundTrip(t *testing.T) {
	base, mock := newMock(t)
	repo := NewScheduleRepository(base)

	mock.ExpectQuery(`SELECT .+ FROM scheduled_notifications WHERE status = \$1 ORDER BY scheduled_for`).
		WithArgs("processed").
		WillReturnRows(sqlmock.NewRows([]string{"id", "request", "recipient_ids", "scheduled_for", "status", "result", "created_at", "processed_at"}).
			AddRow("s1", []byte(`{"type":"system_announcement"}`), "{u1,u2}", start, "processed",
				[]byte(`{"total":2,"sent":1,"failed":1}`), start, start))

	out, err := repo.List(context.Background(), model.ScheduleStatusProcessed)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, model.NotificationTypeSystemAnnouncement, out[0].Request.Type)
	assert.Equal(t, []string{"u1", "u2"}, out[0].RecipientIDs)
	require.NotNil(t, out[0].Result)
	assert.Equal(t, model.BroadcastResult{Total: 2, Sent: 1, Failed: 1}, *out[0].Result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectory(t *testing.T) {
	base, mock := newMock(t)
	dir := NewDirectory(base)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT email FROM users WHERE id = \$1`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow("u1@example.com"))
	mock.ExpectQuery(`SELECT email FROM users WHERE id = \$1`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"email"}))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("E1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT user_id FROM election_voters`).
		WithArgs("E1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("u1").AddRow("u2"))

	addr, err := dir.AddressOf(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1@example.com", addr)

	_, err = dir.AddressOf(ctx, "ghost")
	assert.True(t, errors.HasCode(err, errors.ErrNotFound))

	ok, err := dir.IsEligible(ctx, "u1", "E1")
	require.NoError(t, err)
	assert.True(t, ok)

	voters, err := dir.EligibleVoters(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, voters)
	assert.NoError(t, mock.ExpectationsWereMet())
}

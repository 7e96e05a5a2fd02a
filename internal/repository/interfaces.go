package repository

import (
	"context"
	"time"

	"github.com/jwalitptl/election-api/internal/model"
)

// VoteGuard runs inside the store's per-election critical section, after the
// election was found and before the duplicate-voter and candidate checks.
type VoteGuard func(e *model.Election) error

// All repository interfaces in one file
type (
	// ElectionRepository owns Election/Candidate aggregates and their ballots.
	// Lookups of missing elections return an errors.ErrNotFound AppError.
	ElectionRepository interface {
		Create(ctx context.Context, election *model.Election) error
		Get(ctx context.Context, id string) (*model.Election, error)
		List(ctx context.Context, filter model.ElectionFilter) ([]*model.Election, error)
		// Mutate applies fn to the stored election atomically; fn errors abort the write.
		Mutate(ctx context.Context, id string, fn func(e *model.Election) error) (*model.Election, error)
		// ApplyVote records ballot and bumps the tally as one atomic unit.
		ApplyVote(ctx context.Context, ballot *model.Ballot, guard VoteGuard) error
		Delete(ctx context.Context, id string) error
	}

	NotificationRepository interface {
		Create(ctx context.Context, notification *model.Notification) error
		Get(ctx context.Context, id string) (*model.Notification, error)
		Update(ctx context.Context, notification *model.Notification) error
		ListByRecipient(ctx context.Context, recipientID string) ([]*model.Notification, error)
		DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	}

	ScheduleRepository interface {
		Create(ctx context.Context, s *model.ScheduledNotification) error
		Get(ctx context.Context, id string) (*model.ScheduledNotification, error)
		Update(ctx context.Context, s *model.ScheduledNotification) error
		List(ctx context.Context, status model.ScheduleStatus) ([]*model.ScheduledNotification, error)
	}

	// Directory is the user directory capability.
	Directory interface {
		AddressOf(ctx context.Context, userID string) (string, error)
		IsEligible(ctx context.Context, userID, electionID string) (bool, error)
		EligibleVoters(ctx context.Context, electionID string) ([]string, error)
	}
)

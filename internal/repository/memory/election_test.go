package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/election-api/internal/model"
	"github.com/jwalitptl/election-api/pkg/errors"
)

func seedElection(t *testing.T, repo *ElectionRepository, id string) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Create(context.Background(), &model.Election{
		ID:        id,
		Title:     "Board",
		StartDate: now.Add(-time.Hour),
		EndDate:   now.Add(time.Hour),
		Status:    model.ElectionStatusUpcoming,
		Candidates: []*model.Candidate{
			{ID: "c1", Name: "Ann"},
			{ID: "c2", Name: "Bob"},
		},
	}))
}

func ballot(election, voter, candidate string) *model.Ballot {
	return &model.Ballot{ID: voter + "-" + candidate, ElectionID: election, VoterID: voter, CandidateID: candidate}
}

func TestApplyVoteOrdering(t *testing.T) {
	ctx := context.Background()
	repo := NewElectionRepository()
	seedElection(t, repo, "e1")

	err := repo.ApplyVote(ctx, ballot("missing", "v1", "c1"), nil)
	assert.True(t, errors.HasCode(err, errors.ErrNotFound))

	guardErr := errors.InvalidState("closed")
	err = repo.ApplyVote(ctx, ballot("e1", "v1", "nope"), func(*model.Election) error { return guardErr })
	assert.Equal(t, guardErr, err, "guard runs before candidate lookup")

	err = repo.ApplyVote(ctx, ballot("e1", "v1", "nope"), nil)
	assert.True(t, errors.HasCode(err, errors.ErrNotFound))

	require.NoError(t, repo.ApplyVote(ctx, ballot("e1", "v1", "c1"), nil))

	err = repo.ApplyVote(ctx, ballot("e1", "v1", "nope"), nil)
	assert.True(t, errors.HasCode(err, errors.ErrConflict), "duplicate check precedes candidate check")
}

func TestApplyVoteConcurrentSameVoter(t *testing.T) {
	ctx := context.Background()
	repo := NewElectionRepository()
	seedElection(t, repo, "e1")

	const n = 64
	var ok, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cand := "c1"
			if i%2 == 0 {
				cand = "c2"
			}
			err := repo.ApplyVote(ctx, ballot("e1", "v1", cand), nil)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.HasCode(err, errors.ErrConflict):
				conflicts.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(n-1), conflicts.Load())

	e, err := repo.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 1, e.TotalVotes)
	assert.Equal(t, []string{"v1"}, e.VotedBy)
}

func TestApplyVoteTallyConsistency(t *testing.T) {
	ctx := context.Background()
	repo := NewElectionRepository()
	seedElection(t, repo, "e1")
	seedElection(t, repo, "e2")

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			election := "e1"
			if i%3 == 0 {
				election = "e2"
			}
			cand := fmt.Sprintf("c%d", i%2+1)
			_ = repo.ApplyVote(ctx, ballot(election, fmt.Sprintf("v%d", i%50), cand), nil)
		}(i)
	}
	wg.Wait()

	for _, id := range []string{"e1", "e2"} {
		e, err := repo.Get(ctx, id)
		require.NoError(t, err)
		sum := 0
		for _, c := range e.Candidates {
			sum += c.Votes
		}
		assert.Equal(t, e.TotalVotes, sum, id)
		assert.Equal(t, e.TotalVotes, len(e.VotedBy), id)
	}
}

func TestMutateKeepsTally(t *testing.T) {
	ctx := context.Background()
	repo := NewElectionRepository()
	seedElection(t, repo, "e1")
	require.NoError(t, repo.ApplyVote(ctx, ballot("e1", "v1", "c1"), nil))

	updated, err := repo.Mutate(ctx, "e1", func(e *model.Election) error {
		e.Status = model.ElectionStatusCancelled
		e.TotalVotes = 99
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, model.ElectionStatusCancelled, updated.Status)
	assert.Equal(t, 1, updated.TotalVotes)

	_, err = repo.Mutate(ctx, "e1", func(*model.Election) error { return errors.InvalidState("nope") })
	assert.True(t, errors.HasCode(err, errors.ErrInvalidState))
}

func TestListFilterAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewElectionRepository()
	seedElection(t, repo, "e1")
	seedElection(t, repo, "e2")

	all, err := repo.List(ctx, model.ElectionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	none, err := repo.List(ctx, model.ElectionFilter{Statuses: []model.ElectionStatus{model.ElectionStatusDraft}})
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, repo.Delete(ctx, "e1"))
	_, err = repo.Get(ctx, "e1")
	assert.True(t, errors.HasCode(err, errors.ErrNotFound))
	assert.True(t, errors.HasCode(repo.Delete(ctx, "e1"), errors.ErrNotFound))
}

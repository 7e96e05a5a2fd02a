package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/jwalitptl/election-api/internal/model"
	"github.com/jwalitptl/election-api/internal/repository"
	"github.com/jwalitptl/election-api/pkg/errors"
)

type electionEntry struct {
	mu       sync.Mutex
	election *model.Election
	voted    map[string]struct{}
	deleted  bool
}

// ElectionRepository keeps elections in process memory. Each election has its
// own mutex so votes on different elections never contend.
type ElectionRepository struct {
	mu      sync.RWMutex
	entries map[string]*electionEntry
}

func NewElectionRepository() *ElectionRepository {
	return &ElectionRepository{entries: make(map[string]*electionEntry)}
}

var _ repository.ElectionRepository = (*ElectionRepository)(nil)

func (r *ElectionRepository) Create(_ context.Context, election *model.Election) error {
	if election == nil || election.ID == "" {
		return errors.BadRequest("election id is required", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[election.ID]; exists {
		return errors.Conflict("election already exists")
	}

	stored := election.Clone()
	voted := make(map[string]struct{}, len(stored.VotedBy))
	for _, v := range stored.VotedBy {
		voted[v] = struct{}{}
	}
	for _, c := range stored.Candidates {
		c.ElectionID = stored.ID
	}
	r.entries[election.ID] = &electionEntry{election: stored, voted: voted}
	return nil
}

func (r *ElectionRepository) entry(id string) (*electionEntry, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.NotFound("election", nil)
	}
	return e, nil
}

func (r *ElectionRepository) Get(_ context.Context, id string) (*model.Election, error) {
	e, err := r.entry(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, errors.NotFound("election", nil)
	}
	return e.election.Clone(), nil
}

func (r *ElectionRepository) List(_ context.Context, filter model.ElectionFilter) ([]*model.Election, error) {
	r.mu.RLock()
	entries := make([]*electionEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var out []*model.Election
	for _, e := range entries {
		e.mu.Lock()
		if !e.deleted && filter.Matches(e.election) {
			out = append(out, e.election.Clone())
		}
		e.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartDate.Before(out[j].StartDate)
	})
	return out, nil
}

func (r *ElectionRepository) Mutate(_ context.Context, id string, fn func(e *model.Election) error) (*model.Election, error) {
	e, err := r.entry(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, errors.NotFound("election", nil)
	}

	working := e.election.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	// Tally fields are owned by ApplyVote.
	working.TotalVotes = e.election.TotalVotes
	working.VotedBy = e.election.VotedBy
	for i, c := range working.Candidates {
		if i < len(e.election.Candidates) {
			c.Votes = e.election.Candidates[i].Votes
		}
	}
	e.election = working
	return working.Clone(), nil
}

func (r *ElectionRepository) ApplyVote(_ context.Context, ballot *model.Ballot, guard repository.VoteGuard) error {
	e, err := r.entry(ballot.ElectionID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.deleted {
		return errors.NotFound("election", nil)
	}
	if guard != nil {
		if err := guard(e.election.Clone()); err != nil {
			return err
		}
	}
	if _, voted := e.voted[ballot.VoterID]; voted {
		return errors.Conflict("already voted")
	}
	candidate := e.election.Candidate(ballot.CandidateID)
	if candidate == nil {
		return errors.NotFound("candidate", nil)
	}

	candidate.Votes++
	e.election.TotalVotes++
	e.election.VotedBy = append(e.election.VotedBy, ballot.VoterID)
	e.voted[ballot.VoterID] = struct{}{}
	return nil
}

func (r *ElectionRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()
	if !ok {
		return errors.NotFound("election", nil)
	}

	e.mu.Lock()
	e.deleted = true
	e.mu.Unlock()
	return nil
}

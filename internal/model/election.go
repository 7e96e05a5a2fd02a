package model

import (
	"time"
)

type ElectionStatus string

const (
	ElectionStatusDraft     ElectionStatus = "draft"
	ElectionStatusUpcoming  ElectionStatus = "upcoming"
	ElectionStatusActive    ElectionStatus = "active"
	ElectionStatusCompleted ElectionStatus = "completed"
	ElectionStatusCancelled ElectionStatus = "cancelled"
)

// Election is the aggregate root for candidates and cast ballots.
// TotalVotes is the authoritative counter; the candidate sum and
// len(VotedBy) must always agree with it.
type Election struct {
	ID               string         `json:"id" db:"id"`
	Title            string         `json:"title" db:"title"`
	Description      string         `json:"description" db:"description"`
	StartDate        time.Time      `json:"start_date" db:"start_date"`
	EndDate          time.Time      `json:"end_date" db:"end_date"`
	Status           ElectionStatus `json:"status" db:"status"`
	IsPublic         bool           `json:"is_public" db:"is_public"`
	ResultsPublished bool           `json:"results_published" db:"results_published"`
	VoterCount       int            `json:"voter_count" db:"voter_count"`
	TotalVotes       int            `json:"total_votes" db:"total_votes"`
	CreatedBy        string         `json:"created_by" db:"created_by"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at" db:"updated_at"`
	Candidates       []*Candidate   `json:"candidates" db:"-"`
	VotedBy          []string       `json:"-" db:"-"`
}

type Candidate struct {
	ID         string `json:"id" db:"id"`
	ElectionID string `json:"election_id" db:"election_id"`
	Name       string `json:"name" db:"name"`
	Position   string `json:"position" db:"position"`
	Bio        string `json:"bio" db:"bio"`
	ImageURL   string `json:"image_url" db:"image_url"`
	Votes      int    `json:"votes" db:"votes"`
}

// Ballot is one voter's recorded choice; unique per (ElectionID, VoterID).
type Ballot struct {
	ID          string    `json:"id" db:"id"`
	ElectionID  string    `json:"election_id" db:"election_id"`
	VoterID     string    `json:"voter_id" db:"voter_id"`
	CandidateID string    `json:"candidate_id" db:"candidate_id"`
	CastAt      time.Time `json:"cast_at" db:"cast_at"`
}

// ElectionFilter selects elections by lifecycle window. Zero times are open bounds.
type ElectionFilter struct {
	StartFrom time.Time
	StartTo   time.Time
	EndFrom   time.Time
	EndTo     time.Time
	// Statuses restricts on the stored status column.
	Statuses []ElectionStatus
}

// Matches applies the filter to a stored election.
func (f ElectionFilter) Matches(e *Election) bool {
	if !f.StartFrom.IsZero() && e.StartDate.Before(f.StartFrom) {
		return false
	}
	if !f.StartTo.IsZero() && !e.StartDate.Before(f.StartTo) {
		return false
	}
	if !f.EndFrom.IsZero() && e.EndDate.Before(f.EndFrom) {
		return false
	}
	if !f.EndTo.IsZero() && !e.EndDate.Before(f.EndTo) {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if e.Status == s {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand out of a store.
func (e *Election) Clone() *Election {
	c := *e
	c.Candidates = make([]*Candidate, len(e.Candidates))
	for i, cand := range e.Candidates {
		cc := *cand
		c.Candidates[i] = &cc
	}
	c.VotedBy = append([]string(nil), e.VotedBy...)
	return &c
}

// Candidate returns the candidate with id, or nil.
func (e *Election) Candidate(id string) *Candidate {
	for _, c := range e.Candidates {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// HasVoted reports whether voterID is in VotedBy.
func (e *Election) HasVoted(voterID string) bool {
	for _, v := range e.VotedBy {
		if v == voterID {
			return true
		}
	}
	return false
}

// Tally is a read-only snapshot of the counters.
type Tally struct {
	ElectionID string           `json:"election_id"`
	TotalVotes int              `json:"total_votes"`
	Candidates []CandidateTally `json:"candidates"`
}

type CandidateTally struct {
	CandidateID string `json:"candidate_id"`
	Name        string `json:"name"`
	Votes       int    `json:"votes"`
}

func (e *Election) Tally() *Tally {
	t := &Tally{ElectionID: e.ID, TotalVotes: e.TotalVotes}
	for _, c := range e.Candidates {
		t.Candidates = append(t.Candidates, CandidateTally{CandidateID: c.ID, Name: c.Name, Votes: c.Votes})
	}
	return t
}

package election

import (
	"context"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/jwalitptl/election-api/internal/model"
	"github.com/jwalitptl/election-api/internal/repository"
	"github.com/jwalitptl/election-api/pkg/errors"
	"github.com/jwalitptl/election-api/pkg/idgen"
	"github.com/jwalitptl/election-api/pkg/logger"
	"github.com/jwalitptl/election-api/pkg/metrics"
)

// Notifier receives lifecycle events after they are committed. Calls are
// best-effort and never hold the ledger lock.
type Notifier interface {
	VoteCast(ctx context.Context, e *model.Election, ballot *model.Ballot)
	ResultsPublished(ctx context.Context, e *model.Election)
}

type ElectionServicer interface {
	Create(ctx context.Context, e *model.Election) error
	Get(ctx context.Context, id string) (*model.Election, error)
	ResolveStatus(ctx context.Context, id string) (model.ElectionStatus, error)
	CastVote(ctx context.Context, electionID, voterID, candidateID string) (*model.Ballot, error)
	Publish(ctx context.Context, id string) (*model.Election, error)
	Cancel(ctx context.Context, id string) (*model.Election, error)
	PublishResults(ctx context.Context, id string) (*model.Election, error)
	Results(ctx context.Context, id string, privileged bool) (*model.Tally, error)
	Delete(ctx context.Context, id string) error
}

type Service struct {
	repo      repository.ElectionRepository
	directory repository.Directory
	notifier  Notifier
	clock     clockwork.Clock
	newID     idgen.Generator
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

// NewService wires the ledger. directory and notifier may be nil: without a
// directory every voter is eligible, without a notifier nothing is sent.
func NewService(repo repository.ElectionRepository, directory repository.Directory, notifier Notifier,
	clock clockwork.Clock, newID idgen.Generator, log *logger.Logger, m *metrics.Metrics) *Service {
	return &Service{
		repo:      repo,
		directory: directory,
		notifier:  notifier,
		clock:     clock,
		newID:     newID,
		logger:    log,
		metrics:   m,
	}
}

var _ ElectionServicer = (*Service)(nil)

func (s *Service) Create(ctx context.Context, e *model.Election) error {
	if err := validateElection(e); err != nil {
		return err
	}

	now := s.clock.Now()
	if e.ID == "" {
		e.ID = s.newID()
	}
	e.Status = model.ElectionStatusDraft
	e.TotalVotes = 0
	e.VotedBy = nil
	e.ResultsPublished = false
	e.CreatedAt = now
	e.UpdatedAt = now
	for _, c := range e.Candidates {
		if c.ID == "" {
			c.ID = s.newID()
		}
		c.ElectionID = e.ID
		c.Votes = 0
	}

	if err := s.repo.Create(ctx, e); err != nil {
		return fmt.Errorf("failed to create election: %w", err)
	}
	s.logger.Info("election created", "election_id", e.ID, "candidates", len(e.Candidates))
	return nil
}

// Get returns the election with its status resolved at read time.
func (s *Service) Get(ctx context.Context, id string) (*model.Election, error) {
	e, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	e.Status = EffectiveStatus(e, s.clock.Now())
	return e, nil
}

func (s *Service) ResolveStatus(ctx context.Context, id string) (model.ElectionStatus, error) {
	e, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return e.Status, nil
}

// CastVote records one ballot. Existence, status, duplicate-voter and
// candidate checks run in that order inside the store's critical section.
func (s *Service) CastVote(ctx context.Context, electionID, voterID, candidateID string) (*model.Ballot, error) {
	if strings.TrimSpace(voterID) == "" {
		return nil, errors.BadRequest("voter id is required", nil)
	}

	if s.directory != nil {
		if _, err := s.repo.Get(ctx, electionID); err != nil {
			s.reject(err)
			return nil, err
		}
		eligible, err := s.directory.IsEligible(ctx, voterID, electionID)
		if err != nil {
			return nil, fmt.Errorf("failed to check eligibility: %w", err)
		}
		if !eligible {
			err := errors.Forbidden("voter not eligible")
			s.reject(err)
			return nil, err
		}
	}

	now := s.clock.Now()
	ballot := &model.Ballot{
		ID:          s.newID(),
		ElectionID:  electionID,
		VoterID:     voterID,
		CandidateID: candidateID,
		CastAt:      now,
	}

	var snapshot *model.Election
	err := s.repo.ApplyVote(ctx, ballot, func(e *model.Election) error {
		if EffectiveStatus(e, now) != model.ElectionStatusActive {
			return errors.InvalidState("election not open for voting")
		}
		snapshot = e
		return nil
	})
	if err != nil {
		s.reject(err)
		return nil, err
	}

	s.metrics.VotesCast.Inc()
	s.logger.Info("vote cast", "election_id", electionID, "voter_id", voterID, "ballot_id", ballot.ID)

	if s.notifier != nil {
		go s.notifier.VoteCast(context.WithoutCancel(ctx), snapshot, ballot)
	}
	return ballot, nil
}

func (s *Service) reject(err error) {
	reason := "internal"
	if code, ok := errors.CodeOf(err); ok {
		switch code {
		case errors.ErrNotFound:
			reason = "not_found"
		case errors.ErrInvalidState:
			reason = "invalid_state"
		case errors.ErrConflict:
			reason = "conflict"
		case errors.ErrForbidden:
			reason = "forbidden"
		}
	}
	s.metrics.VoteRejections.WithLabelValues(reason).Inc()
}

// Publish moves a draft into the time-driven lifecycle.
func (s *Service) Publish(ctx context.Context, id string) (*model.Election, error) {
	now := s.clock.Now()
	e, err := s.repo.Mutate(ctx, id, func(e *model.Election) error {
		if e.Status != model.ElectionStatusDraft {
			return errors.InvalidState("only draft elections can be published")
		}
		e.Status = model.ElectionStatusUpcoming
		e.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.Status = EffectiveStatus(e, now)
	s.logger.Info("election published", "election_id", id, "status", string(e.Status))
	return e, nil
}

// Cancel is sticky; a cancelled election never transitions again.
func (s *Service) Cancel(ctx context.Context, id string) (*model.Election, error) {
	now := s.clock.Now()
	e, err := s.repo.Mutate(ctx, id, func(e *model.Election) error {
		if e.Status == model.ElectionStatusCancelled {
			return errors.InvalidState("election already cancelled")
		}
		e.Status = model.ElectionStatusCancelled
		e.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("election cancelled", "election_id", id)
	return e, nil
}

func (s *Service) PublishResults(ctx context.Context, id string) (*model.Election, error) {
	now := s.clock.Now()
	e, err := s.repo.Mutate(ctx, id, func(e *model.Election) error {
		if EffectiveStatus(e, now) != model.ElectionStatusCompleted {
			return errors.InvalidState("results can only be published for completed elections")
		}
		if e.ResultsPublished {
			return errors.InvalidState("results already published")
		}
		e.ResultsPublished = true
		e.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.Status = EffectiveStatus(e, now)
	s.logger.Info("results published", "election_id", id, "total_votes", e.TotalVotes)

	if s.notifier != nil {
		go s.notifier.ResultsPublished(context.WithoutCancel(ctx), e)
	}
	return e, nil
}

func (s *Service) Results(ctx context.Context, id string, privileged bool) (*model.Tally, error) {
	e, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !e.ResultsPublished && !privileged {
		return nil, errors.Forbidden("results not published")
	}
	return e.Tally(), nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("election deleted", "election_id", id)
	return nil
}

func validateElection(e *model.Election) error {
	if e == nil {
		return errors.BadRequest("election is required", nil)
	}
	if strings.TrimSpace(e.Title) == "" {
		return errors.BadRequest("title is required", nil)
	}
	if e.StartDate.IsZero() || e.EndDate.IsZero() {
		return errors.BadRequest("start and end dates are required", nil)
	}
	if !e.EndDate.After(e.StartDate) {
		return errors.BadRequest("end date must be after start date", nil)
	}
	if e.VoterCount < 0 {
		return errors.BadRequest("voter count must not be negative", nil)
	}
	seen := make(map[string]struct{}, len(e.Candidates))
	for _, c := range e.Candidates {
		if strings.TrimSpace(c.Name) == "" {
			return errors.BadRequest("candidate name is required", nil)
		}
		if c.ID == "" {
			continue
		}
		if _, dup := seen[c.ID]; dup {
			return errors.BadRequest(fmt.Sprintf("duplicate candidate id %s", c.ID), nil)
		}
		seen[c.ID] = struct{}{}
	}
	return nil
}

package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jwalitptl/election-api/internal/repository"
	"github.com/jwalitptl/election-api/pkg/errors"
)

type directoryRepository struct {
	*BaseRepository
}

// NewDirectory reads users and election_voters. Account management itself
// lives elsewhere; this side only reads.
func NewDirectory(base *BaseRepository) repository.Directory {
	return &directoryRepository{BaseRepository: base}
}

func (r *directoryRepository) AddressOf(ctx context.Context, userID string) (addr string, err error) {
	defer func(start time.Time) { r.observe("directory_address", start, err) }(time.Now())

	if err := r.db.GetContext(ctx, &addr, `SELECT email FROM users WHERE id = $1`, userID); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return "", errors.NotFound("recipient", nil)
		}
		return "", fmt.Errorf("failed to resolve address: %w", err)
	}
	return addr, nil
}

func (r *directoryRepository) IsEligible(ctx context.Context, userID, electionID string) (ok bool, err error) {
	defer func(start time.Time) { r.observe("directory_eligible", start, err) }(time.Now())

	query := `SELECT EXISTS(SELECT 1 FROM election_voters WHERE election_id = $1 AND user_id = $2)`
	if err := r.db.GetContext(ctx, &ok, query, electionID, userID); err != nil {
		return false, fmt.Errorf("failed to check eligibility: %w", err)
	}
	return ok, nil
}

func (r *directoryRepository) EligibleVoters(ctx context.Context, electionID string) (voters []string, err error) {
	defer func(start time.Time) { r.observe("directory_voters", start, err) }(time.Now())

	query := `SELECT user_id FROM election_voters WHERE election_id = $1 ORDER BY user_id`
	if err := r.db.SelectContext(ctx, &voters, query, electionID); err != nil {
		return nil, fmt.Errorf("failed to list eligible voters: %w", err)
	}
	return voters, nil
}

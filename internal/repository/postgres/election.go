package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/election-api/internal/model"
	"github.com/jwalitptl/election-api/internal/repository"
	"github.com/jwalitptl/election-api/pkg/errors"
)

const electionColumns = `id, title, description, start_date, end_date, status, is_public,
	results_published, voter_count, total_votes, created_by, created_at, updated_at`

const candidateColumns = `id, election_id, name, position, bio, image_url, votes`

type electionRepository struct {
	*BaseRepository
}

func NewElectionRepository(base *BaseRepository) repository.ElectionRepository {
	return &electionRepository{BaseRepository: base}
}

func (r *electionRepository) Create(ctx context.Context, election *model.Election) (err error) {
	defer func(start time.Time) { r.observe("election_create", start, err) }(time.Now())

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO elections (` + electionColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`
		_, err := tx.ExecContext(ctx, query,
			election.ID,
			election.Title,
			election.Description,
			election.StartDate,
			election.EndDate,
			election.Status,
			election.IsPublic,
			election.ResultsPublished,
			election.VoterCount,
			election.TotalVotes,
			election.CreatedBy,
			election.CreatedAt,
			election.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return errors.Conflict("election already exists")
			}
			return fmt.Errorf("failed to create election: %w", err)
		}

		for i, c := range election.Candidates {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO candidates (id, election_id, name, position, bio, image_url, votes, sort_order)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			`, c.ID, election.ID, c.Name, c.Position, c.Bio, c.ImageURL, c.Votes, i)
			if err != nil {
				return fmt.Errorf("failed to create candidate: %w", err)
			}
		}
		return nil
	})
}

func (r *electionRepository) Get(ctx context.Context, id string) (e *model.Election, err error) {
	defer func(start time.Time) { r.observe("election_get", start, err) }(time.Now())

	var election model.Election
	query := `SELECT ` + electionColumns + ` FROM elections WHERE id = $1`
	if err := r.db.GetContext(ctx, &election, query, id); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("election", nil)
		}
		return nil, fmt.Errorf("failed to get election: %w", err)
	}
	if err := r.hydrate(ctx, r.db, &election); err != nil {
		return nil, err
	}
	return &election, nil
}

// hydrate loads candidates and the voter roll.
func (r *electionRepository) hydrate(ctx context.Context, q sqlx.QueryerContext, e *model.Election) error {
	var candidates []*model.Candidate
	query := `SELECT ` + candidateColumns + ` FROM candidates WHERE election_id = $1 ORDER BY sort_order, id`
	if err := sqlx.SelectContext(ctx, q, &candidates, query, e.ID); err != nil {
		return fmt.Errorf("failed to load candidates: %w", err)
	}

	var voters []string
	if err := sqlx.SelectContext(ctx, q, &voters,
		`SELECT voter_id FROM ballots WHERE election_id = $1 ORDER BY cast_at, voter_id`, e.ID); err != nil {
		return fmt.Errorf("failed to load ballots: %w", err)
	}

	e.Candidates = candidates
	e.VotedBy = voters
	return nil
}

func (r *electionRepository) List(ctx context.Context, filter model.ElectionFilter) (out []*model.Election, err error) {
	defer func(start time.Time) { r.observe("election_list", start, err) }(time.Now())

	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if !filter.StartFrom.IsZero() {
		add("start_date >= $%d", filter.StartFrom)
	}
	if !filter.StartTo.IsZero() {
		add("start_date < $%d", filter.StartTo)
	}
	if !filter.EndFrom.IsZero() {
		add("end_date >= $%d", filter.EndFrom)
	}
	if !filter.EndTo.IsZero() {
		add("end_date < $%d", filter.EndTo)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			args = append(args, s)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `SELECT ` + electionColumns + ` FROM elections`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_date, id"

	var elections []*model.Election
	if err := r.db.SelectContext(ctx, &elections, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list elections: %w", err)
	}
	for _, e := range elections {
		if err := r.hydrate(ctx, r.db, e); err != nil {
			return nil, err
		}
	}
	return elections, nil
}

// lock reads the election row FOR UPDATE inside tx.
func (r *electionRepository) lock(ctx context.Context, tx *sqlx.Tx, id string) (*model.Election, error) {
	var election model.Election
	query := `SELECT ` + electionColumns + ` FROM elections WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &election, query, id); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("election", nil)
		}
		return nil, fmt.Errorf("failed to lock election: %w", err)
	}
	if err := r.hydrate(ctx, tx, &election); err != nil {
		return nil, err
	}
	return &election, nil
}

// Mutate updates the election row. Tally columns and candidates are untouched.
func (r *electionRepository) Mutate(ctx context.Context, id string, fn func(e *model.Election) error) (out *model.Election, err error) {
	defer func(start time.Time) { r.observe("election_mutate", start, err) }(time.Now())

	err = r.WithTx(ctx, func(tx *sqlx.Tx) error {
		election, err := r.lock(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(election); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE elections
			SET title = $1, description = $2, start_date = $3, end_date = $4, status = $5,
				is_public = $6, results_published = $7, voter_count = $8, updated_at = $9
			WHERE id = $10
		`,
			election.Title,
			election.Description,
			election.StartDate,
			election.EndDate,
			election.Status,
			election.IsPublic,
			election.ResultsPublished,
			election.VoterCount,
			election.UpdatedAt,
			id,
		)
		if err != nil {
			return fmt.Errorf("failed to update election: %w", err)
		}
		out = election
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ApplyVote serializes casts on the election row lock. The unique
// (election_id, voter_id) key backs up the duplicate check.
func (r *electionRepository) ApplyVote(ctx context.Context, ballot *model.Ballot, guard repository.VoteGuard) (err error) {
	defer func(start time.Time) { r.observe("election_apply_vote", start, err) }(time.Now())

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		election, err := r.lock(ctx, tx, ballot.ElectionID)
		if err != nil {
			return err
		}
		if guard != nil {
			if err := guard(election.Clone()); err != nil {
				return err
			}
		}
		if election.HasVoted(ballot.VoterID) {
			return errors.Conflict("already voted")
		}
		if election.Candidate(ballot.CandidateID) == nil {
			return errors.NotFound("candidate", nil)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO ballots (id, election_id, voter_id, candidate_id, cast_at)
			VALUES ($1, $2, $3, $4, $5)
		`, ballot.ID, ballot.ElectionID, ballot.VoterID, ballot.CandidateID, ballot.CastAt)
		if err != nil {
			if isUniqueViolation(err) {
				return errors.Conflict("already voted")
			}
			return fmt.Errorf("failed to record ballot: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE candidates SET votes = votes + 1 WHERE election_id = $1 AND id = $2`,
			ballot.ElectionID, ballot.CandidateID); err != nil {
			return fmt.Errorf("failed to update candidate tally: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE elections SET total_votes = total_votes + 1 WHERE id = $1`,
			ballot.ElectionID); err != nil {
			return fmt.Errorf("failed to update election tally: %w", err)
		}
		return nil
	})
}

func (r *electionRepository) Delete(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { r.observe("election_delete", start, err) }(time.Now())

	result, err := r.db.ExecContext(ctx, `DELETE FROM elections WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete election: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return errors.NotFound("election", nil)
	}
	return nil
}

// Package postgres implements the tutorchat stores on top of pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"tutorme/tutorchat/internal/apperr"
	"tutorme/tutorchat/internal/db"
	"tutorme/tutorchat/internal/model"
	"tutorme/tutorchat/internal/votes"
)

var ErrDuplicate = errors.New("duplicate key")

type Store struct {
	db *db.Store
}

func New(store *db.Store) *Store {
	return &Store{db: store}
}

const messageColumns = `id::text, sender, receiver, body, kind, created_at`

func (s *Store) InsertMessage(ctx context.Context, msg model.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	_, err := s.db.Pool.Exec(ctx,
		`INSERT INTO messages (id, sender, receiver, body, kind, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.Sender, msg.Receiver, msg.Body, string(msg.Kind), msg.CreatedAt,
	)
	if db.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (s *Store) ListConversation(ctx context.Context, a, b string) ([]model.Message, error) {
	return s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE (sender = $1 AND receiver = $2) OR (sender = $2 AND receiver = $1)
		 ORDER BY created_at, id`, a, b)
}

func (s *Store) ListInvolving(ctx context.Context, identity string) ([]model.Message, error) {
	return s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE sender = $1 OR receiver = $1
		 ORDER BY created_at, id`, identity)
}

func (s *Store) ListReceivedByKind(ctx context.Context, receiver string, kind model.MessageKind) ([]model.Message, error) {
	return s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE receiver = $1 AND kind = $2
		 ORDER BY created_at, id`, receiver, string(kind))
}

func (s *Store) queryMessages(ctx context.Context, sql string, args ...any) ([]model.Message, error) {
	rows, err := s.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Message, error) {
		var m model.Message
		var kind string
		err := row.Scan(&m.ID, &m.Sender, &m.Receiver, &m.Body, &kind, &m.CreatedAt)
		m.Kind = model.MessageKind(kind)
		m.CreatedAt = m.CreatedAt.UTC()
		return m, err
	})
}

const tutorColumns = `email, display_name, qualifications, course_tags, phone, profile_image_url, likes, dislikes, created_at`

func scanTutor(row pgx.Row) (model.Tutor, error) {
	var t model.Tutor
	err := row.Scan(&t.Email, &t.DisplayName, &t.Qualifications, &t.CourseTags, &t.Phone, &t.ProfileImageURL, &t.Likes, &t.Dislikes, &t.CreatedAt)
	t.CreatedAt = t.CreatedAt.UTC()
	return t, err
}

func (s *Store) CreateTutor(ctx context.Context, tutor model.Tutor) error {
	_, err := s.db.Pool.Exec(ctx,
		`INSERT INTO tutors (email, display_name, qualifications, course_tags, phone, profile_image_url, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tutor.Email, tutor.DisplayName, tutor.Qualifications, tutor.CourseTags, tutor.Phone, tutor.ProfileImageURL, tutor.CreatedAt,
	)
	if db.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (s *Store) GetTutor(ctx context.Context, email string) (model.Tutor, error) {
	tutor, err := scanTutor(s.db.Pool.QueryRow(ctx, `SELECT `+tutorColumns+` FROM tutors WHERE email = $1`, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Tutor{}, apperr.E(apperr.NotFound, "tutors.get", nil)
	}
	return tutor, err
}

func (s *Store) ListTutors(ctx context.Context) ([]model.Tutor, error) {
	rows, err := s.db.Pool.Query(ctx, `SELECT `+tutorColumns+` FROM tutors ORDER BY created_at, email`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Tutor, error) {
		return scanTutor(row)
	})
}

func (s *Store) ListTutorEmails(ctx context.Context) ([]string, error) {
	rows, err := s.db.Pool.Query(ctx, `SELECT email FROM tutors ORDER BY created_at, email`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// ApplyVote locks the tutor row first so concurrent casts on one tutor
// serialize, then changes the vote row and the counters in the same
// transaction.
func (s *Store) ApplyVote(ctx context.Context, vote model.Vote) (votes.Applied, error) {
	var applied votes.Applied
	err := s.db.WithTxRetry(ctx, func(tx pgx.Tx) error {
		var locked string
		err := tx.QueryRow(ctx, `SELECT email FROM tutors WHERE email = $1 FOR UPDATE`, vote.Target).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.E(apperr.NotFound, "votes.apply", nil)
		}
		if err != nil {
			return err
		}

		var existing *model.VoteKind
		var current string
		err = tx.QueryRow(ctx,
			`SELECT vote_type FROM tutor_votes WHERE tutor_email = $1 AND voter_id = $2`,
			vote.Target, vote.Voter,
		).Scan(&current)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return err
		default:
			kind := model.VoteKind(current)
			existing = &kind
		}

		transition := votes.Plan(existing, vote.Kind)
		if transition.DeleteExisting {
			if _, err := tx.Exec(ctx, `DELETE FROM tutor_votes WHERE tutor_email = $1 AND voter_id = $2`, vote.Target, vote.Voter); err != nil {
				return err
			}
		}
		var stored *model.Vote
		if transition.Insert {
			if _, err := tx.Exec(ctx,
				`INSERT INTO tutor_votes (id, tutor_email, voter_id, vote_type, created_at) VALUES ($1, $2, $3, $4, $5)`,
				vote.ID, vote.Target, vote.Voter, string(vote.Kind), vote.CreatedAt,
			); err != nil {
				return err
			}
			v := vote
			stored = &v
		}

		tutor, err := scanTutor(tx.QueryRow(ctx,
			`UPDATE tutors SET likes = likes + $2, dislikes = dislikes + $3 WHERE email = $1 RETURNING `+tutorColumns,
			vote.Target, transition.LikesDelta, transition.DislikesDelta,
		))
		if err != nil {
			return fmt.Errorf("update counters: %w", err)
		}
		applied = votes.Applied{Transition: transition, Tutor: tutor, Vote: stored}
		return nil
	})
	if err != nil {
		return votes.Applied{}, err
	}
	return applied, nil
}

func (s *Store) ReconcileCounters(ctx context.Context, target string) (votes.Reconciliation, error) {
	rec := votes.Reconciliation{Target: target}
	err := s.db.WithTxRetry(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`SELECT likes, dislikes FROM tutors WHERE email = $1 FOR UPDATE`, target,
		).Scan(&rec.LikesBefore, &rec.DislikesBefore)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.E(apperr.NotFound, "votes.reconcile", nil)
		}
		if err != nil {
			return err
		}
		return tx.QueryRow(ctx,
			`UPDATE tutors SET
			   likes = (SELECT count(*) FROM tutor_votes WHERE tutor_email = $1 AND vote_type = 'like'),
			   dislikes = (SELECT count(*) FROM tutor_votes WHERE tutor_email = $1 AND vote_type = 'dislike')
			 WHERE email = $1
			 RETURNING likes, dislikes`, target,
		).Scan(&rec.Likes, &rec.Dislikes)
	})
	if err != nil {
		return votes.Reconciliation{}, err
	}
	return rec, nil
}

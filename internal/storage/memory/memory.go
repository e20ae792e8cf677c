// Package memory is an in-process implementation of every tutorchat store,
// used for local runs without DATABASE_URL and throughout the tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"tutorme/tutorchat/internal/apperr"
	"tutorme/tutorchat/internal/model"
	"tutorme/tutorchat/internal/votes"
)

var ErrDuplicate = errors.New("duplicate key")

type Store struct {
	mu         sync.RWMutex
	messages   []model.Message
	messageIDs map[string]struct{}
	tutors     map[string]*model.Tutor
	tutorOrder []string
	votes      map[string]model.Vote // target|voter -> vote
}

func New() *Store {
	return &Store{
		messageIDs: make(map[string]struct{}),
		tutors:     make(map[string]*model.Tutor),
		votes:      make(map[string]model.Vote),
	}
}

func voteKey(target, voter string) string {
	return target + "|" + voter
}

// Messages

func (s *Store) InsertMessage(_ context.Context, msg model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID != "" {
		if _, ok := s.messageIDs[msg.ID]; ok {
			return ErrDuplicate
		}
		s.messageIDs[msg.ID] = struct{}{}
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *Store) ListConversation(_ context.Context, a, b string) ([]model.Message, error) {
	return s.filterMessages(func(m model.Message) bool { return m.Involves(a, b) }), nil
}

func (s *Store) ListInvolving(_ context.Context, identity string) ([]model.Message, error) {
	return s.filterMessages(func(m model.Message) bool { return m.Touches(identity) }), nil
}

func (s *Store) ListReceivedByKind(_ context.Context, receiver string, kind model.MessageKind) ([]model.Message, error) {
	return s.filterMessages(func(m model.Message) bool { return m.Receiver == receiver && m.Kind == kind }), nil
}

func (s *Store) filterMessages(keep func(model.Message) bool) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Message, 0)
	for _, m := range s.messages {
		if keep(m) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return model.Less(out[i], out[j]) })
	return out
}

// Tutors

func (s *Store) CreateTutor(_ context.Context, tutor model.Tutor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tutors[tutor.Email]; ok {
		return ErrDuplicate
	}
	tutor.Likes, tutor.Dislikes = 0, 0
	s.tutors[tutor.Email] = &tutor
	s.tutorOrder = append(s.tutorOrder, tutor.Email)
	return nil
}

func (s *Store) GetTutor(_ context.Context, email string) (model.Tutor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tutor, ok := s.tutors[email]
	if !ok {
		return model.Tutor{}, apperr.E(apperr.NotFound, "tutors.get", nil)
	}
	return *tutor, nil
}

func (s *Store) ListTutors(_ context.Context) ([]model.Tutor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Tutor, 0, len(s.tutorOrder))
	for _, email := range s.tutorOrder {
		out = append(out, *s.tutors[email])
	}
	return out, nil
}

func (s *Store) ListTutorEmails(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.tutorOrder...), nil
}

// Votes

// ApplyVote holds the store lock across the read of the existing vote, the
// vote-row change and the counter change.
func (s *Store) ApplyVote(_ context.Context, vote model.Vote) (votes.Applied, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tutor, ok := s.tutors[vote.Target]
	if !ok {
		return votes.Applied{}, apperr.E(apperr.NotFound, "votes.apply", nil)
	}
	key := voteKey(vote.Target, vote.Voter)
	var existing *model.VoteKind
	if current, ok := s.votes[key]; ok {
		kind := current.Kind
		existing = &kind
	}
	transition := votes.Plan(existing, vote.Kind)
	if transition.DeleteExisting {
		delete(s.votes, key)
	}
	var result *model.Vote
	if transition.Insert {
		s.votes[key] = vote
		stored := vote
		result = &stored
	}
	tutor.Likes += transition.LikesDelta
	tutor.Dislikes += transition.DislikesDelta
	return votes.Applied{Transition: transition, Tutor: *tutor, Vote: result}, nil
}

func (s *Store) ReconcileCounters(_ context.Context, target string) (votes.Reconciliation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tutor, ok := s.tutors[target]
	if !ok {
		return votes.Reconciliation{}, apperr.E(apperr.NotFound, "votes.reconcile", nil)
	}
	rec := votes.Reconciliation{Target: target, LikesBefore: tutor.Likes, DislikesBefore: tutor.Dislikes}
	for _, v := range s.votes {
		if v.Target != target {
			continue
		}
		if v.Kind == model.Like {
			rec.Likes++
		} else {
			rec.Dislikes++
		}
	}
	tutor.Likes, tutor.Dislikes = rec.Likes, rec.Dislikes
	return rec, nil
}

// VoteCounts counts vote rows for target by kind.
func (s *Store) VoteCounts(target string) (likes, dislikes int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.votes {
		if v.Target != target {
			continue
		}
		if v.Kind == model.Like {
			likes++
		} else {
			dislikes++
		}
	}
	return likes, dislikes
}

// VoteFor returns the voter's current vote on target.
func (s *Store) VoteFor(target, voter string) (model.Vote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.votes[voteKey(target, voter)]
	return v, ok
}

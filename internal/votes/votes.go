// Package votes keeps per-(voter, target) exclusive votes and the
// denormalized like/dislike counters on tutors in lockstep.
package votes

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"tutorme/tutorchat/internal/apperr"
	"tutorme/tutorchat/internal/logging"
	"tutorme/tutorchat/internal/metrics"
	"tutorme/tutorchat/internal/model"
	"tutorme/tutorchat/internal/session"
)

// Applied is what a store reports after committing a transition.
type Applied struct {
	Transition Transition
	Tutor      model.Tutor
	// Vote is the voter's vote after the cast, nil after a retraction.
	Vote *model.Vote
}

type Reconciliation struct {
	Target         string
	LikesBefore    int64
	DislikesBefore int64
	Likes          int64
	Dislikes       int64
}

func (r Reconciliation) Repaired() bool {
	return r.LikesBefore != r.Likes || r.DislikesBefore != r.Dislikes
}

// Store must apply ApplyVote atomically per target: the vote-row change and
// the counter change commit together or not at all, and concurrent casts on
// the same target serialize.
type Store interface {
	ApplyVote(ctx context.Context, vote model.Vote) (Applied, error)
	ListTutors(ctx context.Context) ([]model.Tutor, error)
	ListTutorEmails(ctx context.Context) ([]string, error)
	ReconcileCounters(ctx context.Context, target string) (Reconciliation, error)
}

type CastResult struct {
	Outcome Outcome       `json:"outcome"`
	Tutor   model.Tutor   `json:"tutor"`
	Vote    *model.Vote   `json:"vote"`
	Ranking []model.Tutor `json:"ranking"`
}

type Aggregator struct {
	store   Store
	timeout time.Duration
	now     func() time.Time
}

func NewAggregator(store Store, timeout time.Duration) *Aggregator {
	return &Aggregator{store: store, timeout: timeout, now: time.Now}
}

// Cast applies the voter's opinion on target and returns the refreshed ranking.
func (a *Aggregator) Cast(ctx context.Context, sess *session.Session, target string, kind model.VoteKind) (CastResult, error) {
	const op = "votes.cast"
	if err := session.Require(sess, op); err != nil {
		return CastResult{}, err
	}
	if sess.UserID == "" {
		return CastResult{}, apperr.Errorf(apperr.NotAuthenticated, op, "session has no user id")
	}
	if target == "" {
		return CastResult{}, apperr.Errorf(apperr.Invalid, op, "missing target")
	}
	if kind != model.Like && kind != model.Dislike {
		return CastResult{}, apperr.Errorf(apperr.Invalid, op, "unknown vote kind %q", kind)
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	applied, err := a.store.ApplyVote(ctx, model.Vote{
		ID:        uuid.NewString(),
		Target:    target,
		Voter:     sess.UserID,
		Kind:      kind,
		CreatedAt: a.now().UTC(),
	})
	if err != nil {
		return CastResult{}, apperr.Transport(op, err)
	}
	metrics.VotesCast.WithLabelValues(string(applied.Transition.Outcome)).Inc()
	logging.FromContext(ctx).Debug().
		Str("target", target).
		Str("voter", sess.UserID).
		Str("outcome", string(applied.Transition.Outcome)).
		Int64("likes", applied.Tutor.Likes).
		Int64("dislikes", applied.Tutor.Dislikes).
		Msg("vote applied")

	result := CastResult{
		Outcome: applied.Transition.Outcome,
		Tutor:   applied.Tutor,
		Vote:    applied.Vote,
	}
	// The cast is committed at this point. Reporting a ranking failure as a
	// cast failure would invite a retry, and a retried cast toggles.
	ranking, err := a.Ranking(ctx)
	if err != nil {
		logging.FromContext(ctx).Warn().Err(err).Msg("ranking refresh failed after vote")
		return result, nil
	}
	result.Ranking = ranking
	return result, nil
}

// Ranking lists every tutor by likes minus dislikes, highest first. Equal
// scores keep the store's order.
func (a *Aggregator) Ranking(ctx context.Context) ([]model.Tutor, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	tutors, err := a.store.ListTutors(ctx)
	if err != nil {
		return nil, apperr.Transport("votes.ranking", err)
	}
	return Rank(tutors), nil
}

// Reconcile recomputes target's counters from its vote rows.
func (a *Aggregator) Reconcile(ctx context.Context, target string) (Reconciliation, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	rec, err := a.store.ReconcileCounters(ctx, target)
	if err != nil {
		return Reconciliation{}, apperr.Transport("votes.reconcile", err)
	}
	if rec.Repaired() {
		metrics.CounterRepairs.Inc()
		logging.Component("votes").Error().
			Err(apperr.E(apperr.InvariantViolation, "votes.reconcile", nil)).
			Str("target", target).
			Int64("likes_before", rec.LikesBefore).
			Int64("dislikes_before", rec.DislikesBefore).
			Int64("likes", rec.Likes).
			Int64("dislikes", rec.Dislikes).
			Msg("vote counters diverged from vote rows; rewritten")
	}
	return rec, nil
}

func (a *Aggregator) Targets(ctx context.Context) ([]string, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	emails, err := a.store.ListTutorEmails(ctx)
	if err != nil {
		return nil, apperr.Transport("votes.targets", err)
	}
	return emails, nil
}

func (a *Aggregator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.timeout)
}

// Rank returns a copy of tutors sorted by score, descending, stable.
func Rank(tutors []model.Tutor) []model.Tutor {
	ranked := make([]model.Tutor, len(tutors))
	copy(ranked, tutors)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score() > ranked[j].Score()
	})
	return ranked
}

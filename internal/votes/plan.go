package votes

import "tutorme/tutorchat/internal/model"

type Outcome string

const (
	OutcomeAdded     Outcome = "added"
	OutcomeRetracted Outcome = "retracted"
	OutcomeSwitched  Outcome = "switched"
)

// Transition is the full effect of one cast on the vote rows and on the
// tutor's counters. Stores must apply it as one unit.
type Transition struct {
	Outcome        Outcome
	DeleteExisting bool
	Insert         bool
	LikesDelta     int64
	DislikesDelta  int64
}

// Plan decides what a cast of requested does given the voter's current vote
// on the target (nil when none).
func Plan(existing *model.VoteKind, requested model.VoteKind) Transition {
	switch {
	case existing == nil:
		t := Transition{Outcome: OutcomeAdded, Insert: true}
		t.add(requested, 1)
		return t
	case *existing == requested:
		t := Transition{Outcome: OutcomeRetracted, DeleteExisting: true}
		t.add(requested, -1)
		return t
	default:
		t := Transition{Outcome: OutcomeSwitched, DeleteExisting: true, Insert: true}
		t.add(*existing, -1)
		t.add(requested, 1)
		return t
	}
}

func (t *Transition) add(kind model.VoteKind, delta int64) {
	if kind == model.Like {
		t.LikesDelta += delta
		return
	}
	t.DislikesDelta += delta
}

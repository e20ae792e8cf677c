package votes

import (
	"testing"

	"tutorme/tutorchat/internal/model"
)

func kindPtr(k model.VoteKind) *model.VoteKind { return &k }

func TestPlan(t *testing.T) {
	cases := []struct {
		name     string
		existing *model.VoteKind
		request  model.VoteKind
		expect   Transition
	}{
		{"first like", nil, model.Like, Transition{Outcome: OutcomeAdded, Insert: true, LikesDelta: 1}},
		{"first dislike", nil, model.Dislike, Transition{Outcome: OutcomeAdded, Insert: true, DislikesDelta: 1}},
		{"retract like", kindPtr(model.Like), model.Like, Transition{Outcome: OutcomeRetracted, DeleteExisting: true, LikesDelta: -1}},
		{"retract dislike", kindPtr(model.Dislike), model.Dislike, Transition{Outcome: OutcomeRetracted, DeleteExisting: true, DislikesDelta: -1}},
		{"like to dislike", kindPtr(model.Like), model.Dislike, Transition{Outcome: OutcomeSwitched, DeleteExisting: true, Insert: true, LikesDelta: -1, DislikesDelta: 1}},
		{"dislike to like", kindPtr(model.Dislike), model.Like, Transition{Outcome: OutcomeSwitched, DeleteExisting: true, Insert: true, LikesDelta: 1, DislikesDelta: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Plan(tc.existing, tc.request); got != tc.expect {
				t.Fatalf("expected %+v, got %+v", tc.expect, got)
			}
		})
	}
}

func TestRankIsStableByScore(t *testing.T) {
	tutors := []model.Tutor{
		{Email: "a", Likes: 1, Dislikes: 1},
		{Email: "b", Likes: 5, Dislikes: 0},
		{Email: "c", Likes: 2, Dislikes: 2},
		{Email: "d", Likes: 0, Dislikes: 3},
	}
	ranked := Rank(tutors)
	order := []string{"b", "a", "c", "d"}
	for i, email := range order {
		if ranked[i].Email != email {
			t.Fatalf("position %d: expected %s, got %s", i, email, ranked[i].Email)
		}
	}
	if tutors[0].Email != "a" {
		t.Fatalf("expected input to stay untouched")
	}
}

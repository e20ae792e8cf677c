package model

import (
	"strconv"
	"strings"
	"time"
)

type MessageKind string

const (
	KindPlain       MessageKind = "plain"
	KindReminder    MessageKind = "reminder"
	KindCertificate MessageKind = "certificate"
)

// CancelBody is the fixed notice emitted by the /stop command.
const CancelBody = "Booking canceled."

type Message struct {
	ID        string      `json:"id"`
	Sender    string      `json:"sender"`
	Receiver  string      `json:"receiver"`
	Body      string      `json:"body"`
	Kind      MessageKind `json:"kind"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Key identifies a message for de-duplication across the history fetch and
// the change stream.
func (m Message) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return m.Sender + "|" + m.Receiver + "|" + strconv.FormatInt(m.CreatedAt.UnixNano(), 10)
}

// Involves reports whether the message belongs to the conversation {a, b}.
func (m Message) Involves(a, b string) bool {
	return (m.Sender == a && m.Receiver == b) || (m.Sender == b && m.Receiver == a)
}

// Touches reports whether identity is the sender or receiver.
func (m Message) Touches(identity string) bool {
	return m.Sender == identity || m.Receiver == identity
}

// Counterpart returns the other side of the message relative to owner.
func (m Message) Counterpart(owner string) string {
	if m.Sender == owner {
		return m.Receiver
	}
	return m.Sender
}

// ClassifyBody derives the payload kind from legacy text-encoded bodies.
func ClassifyBody(body string) MessageKind {
	switch {
	case strings.HasPrefix(body, "data:"):
		return KindCertificate
	case strings.Contains(body, "Date:") && strings.Contains(body, "Time:"):
		return KindReminder
	default:
		return KindPlain
	}
}

// Less orders messages by creation time, then id.
func Less(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

type VoteKind string

const (
	Like    VoteKind = "like"
	Dislike VoteKind = "dislike"
)

func ParseVoteKind(value string) (VoteKind, bool) {
	switch VoteKind(strings.ToLower(strings.TrimSpace(value))) {
	case Like:
		return Like, true
	case Dislike:
		return Dislike, true
	default:
		return "", false
	}
}

type Vote struct {
	ID        string    `json:"id"`
	Target    string    `json:"target"`
	Voter     string    `json:"voter"`
	Kind      VoteKind  `json:"kind"`
	CreatedAt time.Time `json:"createdAt"`
}

type Tutor struct {
	Email           string    `json:"email"`
	DisplayName     string    `json:"displayName"`
	Qualifications  string    `json:"qualifications"`
	CourseTags      string    `json:"courseTags"`
	Phone           string    `json:"phone,omitempty"`
	ProfileImageURL string    `json:"profileImageUrl,omitempty"`
	Likes           int64     `json:"likes"`
	Dislikes        int64     `json:"dislikes"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Score is the ranking key.
func (t Tutor) Score() int64 {
	return t.Likes - t.Dislikes
}

type Countdown struct {
	Days    int64 `json:"days"`
	Hours   int64 `json:"hours"`
	Minutes int64 `json:"minutes"`
	Overdue bool  `json:"overdue"`
}

type Contact struct {
	Identity  string     `json:"identity"`
	Reminder  *string    `json:"reminder"`
	DueAt     *time.Time `json:"dueAt,omitempty"`
	Countdown *Countdown `json:"countdown"`
}

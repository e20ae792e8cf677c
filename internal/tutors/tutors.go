// Package tutors manages tutor profiles: registration, lookup and search.
package tutors

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"tutorme/tutorchat/internal/apperr"
	"tutorme/tutorchat/internal/model"
	"tutorme/tutorchat/internal/session"
	"tutorme/tutorchat/internal/votes"
)

// ErrExists is returned by stores when the email is already registered.
var ErrExists = errors.New("tutor already registered")

type Store interface {
	CreateTutor(ctx context.Context, tutor model.Tutor) error
	GetTutor(ctx context.Context, email string) (model.Tutor, error)
	ListTutors(ctx context.Context) ([]model.Tutor, error)
}

type Profile struct {
	DisplayName     string `json:"displayName"`
	Qualifications  string `json:"qualifications"`
	CourseTags      string `json:"courseTags"`
	Phone           string `json:"phone"`
	ProfileImageURL string `json:"profileImageUrl"`
}

type Service struct {
	store     Store
	duplicate func(error) bool
	timeout   time.Duration
	now       func() time.Time
}

// NewService wires a tutor store. isDuplicate recognises the store's
// duplicate-key error.
func NewService(store Store, isDuplicate func(error) bool, timeout time.Duration) *Service {
	if isDuplicate == nil {
		isDuplicate = func(error) bool { return false }
	}
	return &Service{store: store, duplicate: isDuplicate, timeout: timeout, now: time.Now}
}

// Register creates the caller's own tutor profile. Counters always start at zero.
func (s *Service) Register(ctx context.Context, sess *session.Session, profile Profile) (model.Tutor, error) {
	const op = "tutors.register"
	if err := session.Require(sess, op); err != nil {
		return model.Tutor{}, err
	}
	if !sess.IsTutor() {
		return model.Tutor{}, apperr.Errorf(apperr.Forbidden, op, "tutor role required")
	}
	if _, err := mail.ParseAddress(sess.Identity); err != nil {
		return model.Tutor{}, apperr.Errorf(apperr.Invalid, op, "identity is not an email")
	}
	tutor := model.Tutor{
		Email:           sess.Identity,
		DisplayName:     strings.TrimSpace(profile.DisplayName),
		Qualifications:  strings.TrimSpace(profile.Qualifications),
		CourseTags:      strings.TrimSpace(profile.CourseTags),
		Phone:           strings.TrimSpace(profile.Phone),
		ProfileImageURL: strings.TrimSpace(profile.ProfileImageURL),
		CreatedAt:       s.now().UTC(),
	}
	if tutor.DisplayName == "" {
		tutor.DisplayName = sess.DisplayName
	}
	if tutor.DisplayName == "" {
		return model.Tutor{}, apperr.Errorf(apperr.Invalid, op, "display name required")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.store.CreateTutor(ctx, tutor); err != nil {
		if s.duplicate(err) {
			return model.Tutor{}, apperr.E(apperr.Invalid, op, ErrExists)
		}
		return model.Tutor{}, apperr.Transport(op, err)
	}
	return tutor, nil
}

func (s *Service) Get(ctx context.Context, email string) (model.Tutor, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	tutor, err := s.store.GetTutor(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return model.Tutor{}, apperr.Transport("tutors.get", err)
	}
	return tutor, nil
}

// Search returns tutors in ranking order whose display name or course tags
// contain query, case-insensitively. An empty query matches everyone.
func (s *Service) Search(ctx context.Context, query string) ([]model.Tutor, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	all, err := s.store.ListTutors(ctx)
	if err != nil {
		return nil, apperr.Transport("tutors.search", err)
	}
	return Filter(votes.Rank(all), query), nil
}

func Filter(tutors []model.Tutor, query string) []model.Tutor {
	term := strings.ToLower(strings.TrimSpace(query))
	out := make([]model.Tutor, 0, len(tutors))
	for _, t := range tutors {
		if term == "" ||
			strings.Contains(strings.ToLower(t.DisplayName), term) ||
			strings.Contains(strings.ToLower(t.CourseTags), term) {
			out = append(out, t)
		}
	}
	return out
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

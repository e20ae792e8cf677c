// Package chat turns conversation input into persisted messages: it runs the
// command interpreter, renders certificates and appends through the adapter.
package chat

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"tutorme/tutorchat/internal/apperr"
	"tutorme/tutorchat/internal/certificate"
	"tutorme/tutorchat/internal/command"
	"tutorme/tutorchat/internal/logging"
	"tutorme/tutorchat/internal/messages"
	"tutorme/tutorchat/internal/metrics"
	"tutorme/tutorchat/internal/model"
	"tutorme/tutorchat/internal/session"
)

type TutorLookup interface {
	Get(ctx context.Context, email string) (model.Tutor, error)
}

type Service struct {
	adapter  *messages.Adapter
	tutors   TutorLookup
	renderer certificate.Renderer
	timeout  time.Duration
	now      func() time.Time
	newID    func() string
}

func NewService(adapter *messages.Adapter, tutors TutorLookup, renderer certificate.Renderer, timeout time.Duration) *Service {
	return &Service{
		adapter:  adapter,
		tutors:   tutors,
		renderer: renderer,
		timeout:  timeout,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Compose interprets raw input from sess addressed to counterpart and builds
// the message to persist. Whitespace-only input returns command.ErrEmpty.
func (s *Service) Compose(ctx context.Context, sess *session.Session, counterpart, raw string) (model.Message, error) {
	const op = "chat.compose"
	if err := session.Require(sess, op); err != nil {
		return model.Message{}, err
	}
	counterpart = normalize(counterpart)
	if counterpart == "" || counterpart == sess.Identity {
		return model.Message{}, apperr.Errorf(apperr.Invalid, op, "invalid counterpart")
	}

	cmd, err := command.Interpret(raw)
	if err != nil {
		return model.Message{}, err
	}

	msg := model.Message{
		ID:        s.newID(),
		Sender:    sess.Identity,
		Receiver:  counterpart,
		CreatedAt: s.now().UTC(),
	}
	switch cmd.Kind {
	case command.KindCancel:
		msg.Body = model.CancelBody
		msg.Kind = model.KindPlain
	case command.KindCertificate:
		artifact, err := s.renderCertificate(ctx, sess, cmd.StudentName)
		if err != nil {
			return model.Message{}, err
		}
		msg.Body = artifact
		msg.Kind = model.KindCertificate
	default:
		msg.Body = cmd.Text
		msg.Kind = model.ClassifyBody(cmd.Text)
	}
	return msg, nil
}

func (s *Service) renderCertificate(ctx context.Context, sess *session.Session, studentName string) (string, error) {
	const op = "chat.certificate"
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	tutor, err := s.tutors.Get(ctx, sess.Identity)
	if err != nil {
		if apperr.IsKind(err, apperr.NotFound) {
			return "", apperr.Errorf(apperr.NotFound, op, "sender is not a registered tutor")
		}
		return "", apperr.Transport(op, err)
	}
	fields := certificate.NewFields(studentName, tutor.DisplayName, tutor.CourseTags, s.now())
	artifact, err := s.renderer.Render(ctx, fields)
	if err != nil {
		return "", apperr.Transport(op, err)
	}
	logging.FromContext(ctx).Info().Str("tutor", tutor.Email).Str("fields", fields.Describe()).Msg("certificate rendered")
	return artifact, nil
}

// Deliver persists a composed message and announces it.
func (s *Service) Deliver(ctx context.Context, msg model.Message) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.adapter.Append(ctx, msg); err != nil {
		return err
	}
	metrics.MessagesAppended.WithLabelValues(string(msg.Kind)).Inc()
	return nil
}

// Send composes and delivers in one step, without a local echo.
func (s *Service) Send(ctx context.Context, sess *session.Session, counterpart, raw string) (model.Message, error) {
	msg, err := s.Compose(ctx, sess, counterpart, raw)
	if err != nil {
		return model.Message{}, err
	}
	if err := s.Deliver(ctx, msg); err != nil {
		return model.Message{}, err
	}
	return msg, nil
}

func (s *Service) History(ctx context.Context, sess *session.Session, counterpart string) ([]model.Message, error) {
	if err := session.Require(sess, "chat.history"); err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.adapter.Conversation(ctx, sess.Identity, normalize(counterpart))
}

// Certificates lists certificate artifacts the session owner has received.
func (s *Service) Certificates(ctx context.Context, sess *session.Session) ([]model.Message, error) {
	if err := session.Require(sess, "chat.certificates"); err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.adapter.Certificates(ctx, sess.Identity)
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func normalize(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

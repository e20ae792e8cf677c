// Package messages is the message store adapter: append-only persistence plus
// a change-notification stream of inserts.
package messages

import (
	"context"

	"tutorme/tutorchat/internal/apperr"
	"tutorme/tutorchat/internal/logging"
	"tutorme/tutorchat/internal/model"
)

// Store persists messages. Every list is ordered by createdAt ascending.
type Store interface {
	InsertMessage(ctx context.Context, msg model.Message) error
	ListConversation(ctx context.Context, a, b string) ([]model.Message, error)
	ListInvolving(ctx context.Context, identity string) ([]model.Message, error)
	ListReceivedByKind(ctx context.Context, receiver string, kind model.MessageKind) ([]model.Message, error)
}

// Filter selects insert events for one side of a conversation. An empty
// Counterpart matches every message touching Self; All matches every insert.
type Filter struct {
	Self        string
	Counterpart string
	All         bool
}

func (f Filter) Match(msg model.Message) bool {
	if f.All {
		return true
	}
	if f.Counterpart == "" {
		return msg.Touches(f.Self)
	}
	return msg.Involves(f.Self, f.Counterpart)
}

// Subscription yields inserted messages until Close. Delivery is at-least-once.
type Subscription interface {
	Events() <-chan model.Message
	Close() error
}

type Notifier interface {
	Publish(ctx context.Context, msg model.Message) error
	Subscribe(ctx context.Context, filter Filter) (Subscription, error)
}

// InsertHook observes every appended message, e.g. to invalidate caches.
type InsertHook func(msg model.Message)

type Adapter struct {
	store    Store
	notifier Notifier
	hooks    []InsertHook
}

func NewAdapter(store Store, notifier Notifier) *Adapter {
	return &Adapter{store: store, notifier: notifier}
}

// OnInsert registers a hook. Not safe to call concurrently with Append.
func (a *Adapter) OnInsert(hook InsertHook) {
	a.hooks = append(a.hooks, hook)
}

// Append persists msg and then announces it on the change stream. A publish
// failure after a successful insert is logged; the row is already durable and
// subscribers recover it on their next history fetch.
func (a *Adapter) Append(ctx context.Context, msg model.Message) error {
	if msg.Kind == "" {
		msg.Kind = model.ClassifyBody(msg.Body)
	}
	if err := a.store.InsertMessage(ctx, msg); err != nil {
		return apperr.Transport("messages.append", err)
	}
	for _, hook := range a.hooks {
		hook(msg)
	}
	if err := a.notifier.Publish(ctx, msg); err != nil {
		logging.Component("messages").Warn().Err(err).Str("message_id", msg.ID).Msg("publish failed after insert")
	}
	return nil
}

func (a *Adapter) Conversation(ctx context.Context, self, counterpart string) ([]model.Message, error) {
	msgs, err := a.store.ListConversation(ctx, self, counterpart)
	if err != nil {
		return nil, apperr.Transport("messages.conversation", err)
	}
	return msgs, nil
}

func (a *Adapter) Involving(ctx context.Context, identity string) ([]model.Message, error) {
	msgs, err := a.store.ListInvolving(ctx, identity)
	if err != nil {
		return nil, apperr.Transport("messages.involving", err)
	}
	return msgs, nil
}

func (a *Adapter) Certificates(ctx context.Context, receiver string) ([]model.Message, error) {
	msgs, err := a.store.ListReceivedByKind(ctx, receiver, model.KindCertificate)
	if err != nil {
		return nil, apperr.Transport("messages.certificates", err)
	}
	return msgs, nil
}

func (a *Adapter) Subscribe(ctx context.Context, filter Filter) (Subscription, error) {
	sub, err := a.notifier.Subscribe(ctx, filter)
	if err != nil {
		return nil, apperr.Transport("messages.subscribe", err)
	}
	return sub, nil
}

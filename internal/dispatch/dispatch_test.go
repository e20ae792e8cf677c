package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"tutorme/tutorchat/internal/messages"
	"tutorme/tutorchat/internal/model"
	"tutorme/tutorchat/internal/session"
	"tutorme/tutorchat/internal/storage/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	self  = "sam@students.io"
	other = "ada@tutorme.io"
)

var base = time.Date(2025, 1, 9, 8, 0, 0, 0, time.UTC)

type fakeSub struct {
	ch   chan model.Message
	once sync.Once
}

func (s *fakeSub) Events() <-chan model.Message { return s.ch }

func (s *fakeSub) Close() error {
	s.once.Do(func() { close(s.ch) })
	return nil
}

type fakeSource struct {
	history []model.Message
	sub     *fakeSub
	err     error
}

func (f *fakeSource) Conversation(context.Context, string, string) ([]model.Message, error) {
	return f.history, f.err
}

func (f *fakeSource) Subscribe(context.Context, messages.Filter) (messages.Subscription, error) {
	return f.sub, nil
}

type fakeComposer struct {
	mu        sync.Mutex
	next      int
	failWith  error
	delivered []model.Message
}

func (c *fakeComposer) Compose(_ context.Context, sess *session.Session, counterpart, raw string) (model.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	return model.Message{
		ID:        "local-" + string(rune('a'+c.next)),
		Sender:    sess.Identity,
		Receiver:  counterpart,
		Body:      raw,
		Kind:      model.KindPlain,
		CreatedAt: base.Add(time.Duration(c.next) * time.Hour),
	}, nil
}

func (c *fakeComposer) Deliver(_ context.Context, msg model.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWith != nil {
		return c.failWith
	}
	c.delivered = append(c.delivered, msg)
	return nil
}

func sess() *session.Session {
	return session.New("u1", self, "Sam", session.RoleStudent)
}

func next(t *testing.T, c *Conversation) Event {
	t.Helper()
	select {
	case ev, ok := <-c.Updates():
		require.True(t, ok, "updates closed")
		return ev
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for update")
		return Event{}
	}
}

func ids(msgs []model.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestOpenDeduplicatesHistoryAndStream(t *testing.T) {
	m1 := model.Message{ID: "m1", Sender: other, Receiver: self, Body: "hi", CreatedAt: base}
	m2 := model.Message{ID: "m2", Sender: self, Receiver: other, Body: "hello", CreatedAt: base.Add(time.Minute)}
	src := &fakeSource{history: []model.Message{m1}, sub: &fakeSub{ch: make(chan model.Message, 4)}}
	src.sub.ch <- m1
	src.sub.ch <- m2

	conv, err := Open(context.Background(), src, &fakeComposer{}, sess(), other, Options{})
	require.NoError(t, err)
	defer conv.Close()

	ev := next(t, conv)
	require.Equal(t, "m2", ev.Message.ID)
	require.Equal(t, []string{"m1", "m2"}, ids(conv.Messages()))
}

func TestSendEchoesBeforePersisting(t *testing.T) {
	src := &fakeSource{sub: &fakeSub{ch: make(chan model.Message, 4)}}
	composer := &fakeComposer{}
	conv, err := Open(context.Background(), src, composer, sess(), other, Options{Policy: EchoKeep})
	require.NoError(t, err)
	defer conv.Close()

	msg, err := conv.Send(context.Background(), "hello")
	require.NoError(t, err)
	ev := next(t, conv)
	require.True(t, ev.Echo)
	require.Equal(t, msg.ID, ev.Message.ID)
	require.Len(t, composer.delivered, 1)

	src.sub.ch <- msg
	follow := model.Message{ID: "m9", Sender: other, Receiver: self, CreatedAt: msg.CreatedAt.Add(time.Second)}
	src.sub.ch <- follow
	ev = next(t, conv)
	require.Equal(t, "m9", ev.Message.ID)
	require.Equal(t, []string{msg.ID, "m9"}, ids(conv.Messages()))
}

func TestSendFailureKeepsEcho(t *testing.T) {
	src := &fakeSource{sub: &fakeSub{ch: make(chan model.Message)}}
	composer := &fakeComposer{failWith: errors.New("write failed")}
	conv, err := Open(context.Background(), src, composer, sess(), other, Options{Policy: EchoKeep})
	require.NoError(t, err)
	defer conv.Close()

	_, err = conv.Send(context.Background(), "hello")
	require.Error(t, err)
	require.True(t, next(t, conv).Echo)
	require.Len(t, conv.Messages(), 1)
}

func TestSendFailureRollsBackEcho(t *testing.T) {
	src := &fakeSource{sub: &fakeSub{ch: make(chan model.Message)}}
	composer := &fakeComposer{failWith: errors.New("write failed")}
	conv, err := Open(context.Background(), src, composer, sess(), other, Options{Policy: EchoRollback})
	require.NoError(t, err)
	defer conv.Close()

	msg, err := conv.Send(context.Background(), "hello")
	require.Error(t, err)
	require.True(t, next(t, conv).Echo)
	ev := next(t, conv)
	require.Equal(t, EventRetracted, ev.Type)
	require.Equal(t, msg.ID, ev.Message.ID)
	require.Empty(t, conv.Messages())
}

func TestCloseStopsDelivery(t *testing.T) {
	store := memory.New()
	notifier := messages.NewMemoryNotifier()
	adapter := messages.NewAdapter(store, notifier)

	conv, err := Open(context.Background(), adapter, &fakeComposer{}, sess(), other, Options{})
	require.NoError(t, err)
	require.Equal(t, 1, notifier.Subscribers())

	require.NoError(t, conv.Close())
	require.NoError(t, conv.Close())
	require.Equal(t, 0, notifier.Subscribers())

	require.NoError(t, adapter.Append(context.Background(), model.Message{ID: "late", Sender: other, Receiver: self, Body: "late", CreatedAt: base}))
	_, open := <-conv.Updates()
	require.False(t, open)
	require.Empty(t, conv.Messages())
}

func TestOpenFailsCleanly(t *testing.T) {
	sub := &fakeSub{ch: make(chan model.Message)}
	src := &fakeSource{sub: sub, err: errors.New("select failed")}
	_, err := Open(context.Background(), src, &fakeComposer{}, sess(), other, Options{})
	require.Error(t, err)
	_, open := <-sub.ch
	require.False(t, open)

	_, err = Open(context.Background(), src, &fakeComposer{}, nil, other, Options{})
	require.Error(t, err)
	_, err = Open(context.Background(), src, &fakeComposer{}, sess(), self, Options{})
	require.Error(t, err)
}

func TestHubClosesConversationsOnShutdown(t *testing.T) {
	notifier := messages.NewMemoryNotifier()
	adapter := messages.NewAdapter(memory.New(), notifier)
	hub := NewHub(adapter, &fakeComposer{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	first, err := hub.Open(context.Background(), sess(), other)
	require.NoError(t, err)
	second, err := hub.Open(context.Background(), sess(), "bob@tutorme.io")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Count(self) == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, second.Close())
	require.Eventually(t, func() bool { return hub.Count("") == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-hub.Stopped()
	_, open := <-first.Updates()
	require.False(t, open)
	require.Equal(t, 0, notifier.Subscribers())

	_, err = hub.Open(context.Background(), sess(), other)
	require.ErrorIs(t, err, ErrHubClosed)
}

func TestSlowReaderSeesEveryPersistedMessage(t *testing.T) {
	adapter := messages.NewAdapter(memory.New(), messages.NewMemoryNotifier())
	conv, err := Open(context.Background(), adapter, &fakeComposer{}, sess(), other, Options{})
	require.NoError(t, err)
	defer conv.Close()

	const total = 200
	for i := 0; i < total; i++ {
		require.NoError(t, adapter.Append(context.Background(), model.Message{
			ID:        fmt.Sprintf("m%03d", i),
			Sender:    other,
			Receiver:  self,
			Body:      "ping",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.Eventually(t, func() bool { return len(conv.Messages()) == total }, 2*time.Second, 5*time.Millisecond)

	for i := 0; i < total; i++ {
		ev := next(t, conv)
		require.Equal(t, fmt.Sprintf("m%03d", i), ev.Message.ID)
	}
}

func TestSendNeverWaitsOnUndrainedUpdates(t *testing.T) {
	src := &fakeSource{sub: &fakeSub{ch: make(chan model.Message)}}
	conv, err := Open(context.Background(), src, &fakeComposer{}, sess(), other, Options{Buffer: 1})
	require.NoError(t, err)

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for i := 0; i < 20; i++ {
			_, _ = conv.Send(context.Background(), "hello")
		}
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatalf("send blocked on a full updates channel")
	}
	require.Len(t, conv.Messages(), 20)
	require.NoError(t, conv.Close())
}

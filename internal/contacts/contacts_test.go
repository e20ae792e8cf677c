package contacts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"tutorme/tutorchat/internal/apperr"
	"tutorme/tutorchat/internal/messages"
	"tutorme/tutorchat/internal/model"
	"tutorme/tutorchat/internal/session"
)

type fakeHistory struct {
	msgs  []model.Message
	calls int
	err   error
}

func (h *fakeHistory) Involving(_ context.Context, identity string) ([]model.Message, error) {
	h.calls++
	if h.err != nil {
		return nil, h.err
	}
	var out []model.Message
	for _, m := range h.msgs {
		if m.Touches(identity) {
			out = append(out, m)
		}
	}
	return out, nil
}

func identities(contacts []model.Contact) []string {
	out := make([]string, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, c.Identity)
	}
	return out
}

func sess(identity string) *session.Session {
	return session.New("id-"+identity, identity, identity, session.RoleStudent)
}

func TestDirectoryCounterparts(t *testing.T) {
	history := &fakeHistory{msgs: []model.Message{
		{ID: "1", Sender: "a", Receiver: "b", Body: "hi"},
		{ID: "2", Sender: "b", Receiver: "a", Body: "hello"},
		{ID: "3", Sender: "a", Receiver: "c", Body: "yo"},
	}}
	dir := NewDirectory(history, time.UTC, 0)

	forA, err := dir.Contacts(context.Background(), sess("a"))
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"b", "c"}, identities(forA)); diff != "" {
		t.Fatalf("contacts for a (-want +got):\n%s", diff)
	}

	forB, err := dir.Contacts(context.Background(), sess("b"))
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"a"}, identities(forB)); diff != "" {
		t.Fatalf("contacts for b (-want +got):\n%s", diff)
	}
}

func TestDirectoryReminderAndCountdown(t *testing.T) {
	base := time.Date(2025, 1, 9, 8, 0, 0, 0, time.UTC)
	history := &fakeHistory{msgs: []model.Message{
		{ID: "1", Sender: "t", Receiver: "s", Body: "Date: 2025-01-09 Time: 09:00", Kind: model.KindReminder, CreatedAt: base},
		{ID: "2", Sender: "s", Receiver: "t", Body: "Date: 2025-01-10 Time: 10:00", Kind: model.KindReminder, CreatedAt: base.Add(time.Minute)},
		{ID: "3", Sender: "s", Receiver: "u", Body: "no reminder", Kind: model.KindPlain, CreatedAt: base},
	}}
	dir := NewDirectory(history, time.UTC, 0)
	dir.now = func() time.Time { return time.Date(2025, 1, 9, 8, 30, 0, 0, time.UTC) }

	got, err := dir.Contacts(context.Background(), sess("s"))
	require.NoError(t, err)
	require.Len(t, got, 2)

	require.Equal(t, "t", got[0].Identity)
	require.NotNil(t, got[0].Reminder)
	require.Equal(t, "Date: 2025-01-10 Time: 10:00", *got[0].Reminder)
	if diff := cmp.Diff(&model.Countdown{Days: 1, Hours: 1, Minutes: 30}, got[0].Countdown); diff != "" {
		t.Fatalf("countdown (-want +got):\n%s", diff)
	}

	require.Equal(t, "u", got[1].Identity)
	require.Nil(t, got[1].Reminder)
	require.Nil(t, got[1].Countdown)
}

func TestDirectoryCacheInvalidation(t *testing.T) {
	history := &fakeHistory{msgs: []model.Message{{ID: "1", Sender: "a", Receiver: "b"}}}
	dir := NewDirectory(history, time.UTC, 0)
	ctx := context.Background()

	_, err := dir.Contacts(ctx, sess("a"))
	require.NoError(t, err)
	_, err = dir.Contacts(ctx, sess("a"))
	require.NoError(t, err)
	require.Equal(t, 1, history.calls)

	msg := model.Message{ID: "2", Sender: "c", Receiver: "a"}
	history.msgs = append(history.msgs, msg)
	dir.Invalidate(msg)

	got, err := dir.Contacts(ctx, sess("a"))
	require.NoError(t, err)
	require.Equal(t, 2, history.calls)
	require.Equal(t, []string{"b", "c"}, identities(got))
}

func TestDirectoryCacheExpires(t *testing.T) {
	history := &fakeHistory{}
	dir := NewDirectory(history, time.UTC, time.Minute)
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	dir.now = func() time.Time { return clock }

	_, err := dir.Contacts(context.Background(), sess("a"))
	require.NoError(t, err)
	clock = clock.Add(2 * time.Minute)
	_, err = dir.Contacts(context.Background(), sess("a"))
	require.NoError(t, err)
	require.Equal(t, 2, history.calls)
}

func TestDirectoryErrors(t *testing.T) {
	dir := NewDirectory(&fakeHistory{err: errors.New("down")}, time.UTC, 0)
	_, err := dir.Contacts(context.Background(), sess("a"))
	require.True(t, apperr.IsKind(err, apperr.TransportFailure))

	_, err = dir.Contacts(context.Background(), nil)
	require.True(t, apperr.IsKind(err, apperr.NotAuthenticated))
}

type gatedHistory struct {
	mu      sync.Mutex
	msgs    []model.Message
	calls   int
	entered chan struct{}
	release chan struct{}
}

func (h *gatedHistory) Involving(_ context.Context, identity string) ([]model.Message, error) {
	h.mu.Lock()
	h.calls++
	first := h.calls == 1
	var out []model.Message
	for _, m := range h.msgs {
		if m.Touches(identity) {
			out = append(out, m)
		}
	}
	h.mu.Unlock()
	if first {
		close(h.entered)
		<-h.release
	}
	return out, nil
}

func (h *gatedHistory) add(m model.Message) {
	h.mu.Lock()
	h.msgs = append(h.msgs, m)
	h.mu.Unlock()
}

func TestInvalidationDuringLoadIsNotCached(t *testing.T) {
	history := &gatedHistory{
		msgs:    []model.Message{{ID: "1", Sender: "a", Receiver: "b"}},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	dir := NewDirectory(history, time.UTC, 0)

	first := make(chan []model.Contact, 1)
	go func() {
		got, err := dir.Contacts(context.Background(), sess("a"))
		if err != nil {
			first <- nil
			return
		}
		first <- got
	}()

	<-history.entered
	late := model.Message{ID: "2", Sender: "a", Receiver: "c"}
	history.add(late)
	dir.Invalidate(late)
	close(history.release)
	require.Equal(t, []string{"b"}, identities(<-first))

	got, err := dir.Contacts(context.Background(), sess("a"))
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"b", "c"}, identities(got)); diff != "" {
		t.Fatalf("contacts after invalidation (-want +got):\n%s", diff)
	}
}

func TestFollowInvalidatesFromChangeStream(t *testing.T) {
	history := &gatedHistory{entered: make(chan struct{}), release: make(chan struct{})}
	close(history.release)
	history.add(model.Message{ID: "1", Sender: "a", Receiver: "b"})
	dir := NewDirectory(history, time.UTC, 0)

	notifier := messages.NewMemoryNotifier()
	sub, err := notifier.Subscribe(context.Background(), messages.Filter{All: true})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		dir.Follow(ctx, sub)
	}()

	got, err := dir.Contacts(context.Background(), sess("a"))
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, identities(got))

	remote := model.Message{ID: "2", Sender: "c", Receiver: "a"}
	history.add(remote)
	require.NoError(t, notifier.Publish(context.Background(), remote))

	require.Eventually(t, func() bool {
		got, err := dir.Contacts(context.Background(), sess("a"))
		return err == nil && len(got) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-stopped
	require.Equal(t, 0, notifier.Subscribers())
}

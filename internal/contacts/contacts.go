// Package contacts derives an identity's counterparts, and the latest
// reminder exchanged with each, from its message history.
package contacts

import (
	"context"
	"sort"
	"sync"
	"time"

	"tutorme/tutorchat/internal/apperr"
	"tutorme/tutorchat/internal/messages"
	"tutorme/tutorchat/internal/metrics"
	"tutorme/tutorchat/internal/model"
	"tutorme/tutorchat/internal/reminder"
	"tutorme/tutorchat/internal/session"
)

type History interface {
	Involving(ctx context.Context, identity string) ([]model.Message, error)
}

type entry struct {
	contacts []model.Contact
	loadedAt time.Time
}

// Directory caches derived contacts per owner. Entries are dropped when a
// message touching the owner is appended, either through the local insert
// hook or the change stream given to Follow, and expire after ttl.
type Directory struct {
	history History
	loc     *time.Location
	ttl     time.Duration
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]entry
	// gens counts invalidations per owner; a load that overlapped one is
	// returned but not cached.
	gens map[string]uint64
}

func NewDirectory(history History, loc *time.Location, ttl time.Duration) *Directory {
	if loc == nil {
		loc = time.UTC
	}
	return &Directory{
		history: history,
		loc:     loc,
		ttl:     ttl,
		now:     time.Now,
		cache:   make(map[string]entry),
		gens:    make(map[string]uint64),
	}
}

// Contacts lists the session owner's counterparts sorted by identity, with
// countdowns computed against the current time.
func (d *Directory) Contacts(ctx context.Context, sess *session.Session) ([]model.Contact, error) {
	const op = "contacts.list"
	if err := session.Require(sess, op); err != nil {
		return nil, err
	}
	now := d.now()
	base, err := d.load(ctx, sess.Identity, now)
	if err != nil {
		return nil, apperr.Transport(op, err)
	}
	out := make([]model.Contact, len(base))
	for i, c := range base {
		out[i] = c
		if c.DueAt != nil {
			cd := reminder.CountdownAt(*c.DueAt, now)
			out[i].Countdown = &cd
		}
	}
	return out, nil
}

func (d *Directory) load(ctx context.Context, owner string, now time.Time) ([]model.Contact, error) {
	d.mu.Lock()
	cached, ok := d.cache[owner]
	gen := d.gens[owner]
	d.mu.Unlock()
	if ok && (d.ttl <= 0 || now.Sub(cached.loadedAt) < d.ttl) {
		metrics.DirectoryCache.WithLabelValues("hit").Inc()
		return cached.contacts, nil
	}
	metrics.DirectoryCache.WithLabelValues("miss").Inc()

	msgs, err := d.history.Involving(ctx, owner)
	if err != nil {
		return nil, err
	}
	contacts := Derive(owner, msgs, d.loc)

	d.mu.Lock()
	if d.gens[owner] == gen {
		d.cache[owner] = entry{contacts: contacts, loadedAt: now}
	}
	d.mu.Unlock()
	return contacts, nil
}

// Invalidate drops the cached directories of both parties of msg. It has the
// shape of a messages.InsertHook.
func (d *Directory) Invalidate(msg model.Message) {
	d.mu.Lock()
	for _, owner := range [2]string{msg.Sender, msg.Receiver} {
		delete(d.cache, owner)
		d.gens[owner]++
	}
	d.mu.Unlock()
}

// Follow invalidates on every insert seen on sub until ctx ends or sub is
// exhausted, so inserts made by other instances are picked up too. It
// closes sub on return.
func (d *Directory) Follow(ctx context.Context, sub messages.Subscription) {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Events():
			if !ok {
				return
			}
			d.Invalidate(msg)
		}
	}
}

// Derive builds the directory for owner without countdowns. A counterpart
// whose latest reminder-bearing message cannot be parsed gets no reminder.
func Derive(owner string, msgs []model.Message, loc *time.Location) []model.Contact {
	byCounterpart := make(map[string][]model.Message)
	for _, m := range msgs {
		for _, identity := range [2]string{m.Sender, m.Receiver} {
			if identity == owner || identity == "" {
				continue
			}
			byCounterpart[identity] = append(byCounterpart[identity], m)
		}
	}

	out := make([]model.Contact, 0, len(byCounterpart))
	for identity, thread := range byCounterpart {
		contact := model.Contact{Identity: identity}
		if latest, ok := reminder.Latest(thread); ok {
			if at, ok := reminder.Extract(latest.Body, loc); ok {
				body := latest.Body
				contact.Reminder = &body
				contact.DueAt = &at
			}
		}
		out = append(out, contact)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// Package dispatch keeps one live view per open conversation: a seeded
// history merged with the change stream, plus optimistic local echo of sends.
package dispatch

import (
	"context"
	"sort"
	"sync"
	"time"

	"tutorme/tutorchat/internal/apperr"
	"tutorme/tutorchat/internal/logging"
	"tutorme/tutorchat/internal/messages"
	"tutorme/tutorchat/internal/metrics"
	"tutorme/tutorchat/internal/model"
	"tutorme/tutorchat/internal/session"
)

// EchoPolicy decides what happens to a locally echoed message whose
// persistence failed.
type EchoPolicy string

const (
	EchoKeep     EchoPolicy = "keep"
	EchoRollback EchoPolicy = "rollback"
)

func ParseEchoPolicy(value string) EchoPolicy {
	if EchoPolicy(value) == EchoRollback {
		return EchoRollback
	}
	return EchoKeep
}

type EventType string

const (
	EventMessage   EventType = "message"
	EventRetracted EventType = "retracted"
)

type Event struct {
	Type    EventType     `json:"type"`
	Message model.Message `json:"message"`
	// Echo marks a message shown before its write was confirmed.
	Echo bool `json:"echo,omitempty"`
}

type Source interface {
	Conversation(ctx context.Context, self, counterpart string) ([]model.Message, error)
	Subscribe(ctx context.Context, filter messages.Filter) (messages.Subscription, error)
}

type Composer interface {
	Compose(ctx context.Context, sess *session.Session, counterpart, raw string) (model.Message, error)
	Deliver(ctx context.Context, msg model.Message) error
}

type Options struct {
	Policy       EchoPolicy
	FetchTimeout time.Duration
	Buffer       int
}

type Conversation struct {
	sess        *session.Session
	counterpart string
	composer    Composer
	policy      EchoPolicy
	sub         messages.Subscription
	hub         *Hub

	mu   sync.Mutex
	msgs []model.Message
	seen map[string]struct{}

	// pending holds events not yet taken by the Updates reader. It is
	// unbounded so neither the pump nor Send ever waits on a slow reader.
	qmu         sync.Mutex
	pending     []Event
	closed      bool
	wake        chan struct{}
	updates     chan Event
	done        chan struct{}
	pumpDone    chan struct{}
	forwardDone chan struct{}
	once        sync.Once
}

// Open subscribes before fetching so no insert falls between the two; the
// overlap is removed by de-duplicating on message key.
func Open(ctx context.Context, src Source, composer Composer, sess *session.Session, counterpart string, opts Options) (*Conversation, error) {
	const op = "dispatch.open"
	if err := session.Require(sess, op); err != nil {
		return nil, err
	}
	if counterpart == "" || counterpart == sess.Identity {
		return nil, apperr.Errorf(apperr.Invalid, op, "invalid counterpart")
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}

	sub, err := src.Subscribe(ctx, messages.Filter{Self: sess.Identity, Counterpart: counterpart})
	if err != nil {
		return nil, apperr.Transport(op, err)
	}

	fetchCtx, cancel := ctx, context.CancelFunc(func() {})
	if opts.FetchTimeout > 0 {
		fetchCtx, cancel = context.WithTimeout(ctx, opts.FetchTimeout)
	}
	history, err := src.Conversation(fetchCtx, sess.Identity, counterpart)
	cancel()
	if err != nil {
		_ = sub.Close()
		return nil, apperr.Transport(op, err)
	}

	c := &Conversation{
		sess:        sess,
		counterpart: counterpart,
		composer:    composer,
		policy:      opts.Policy,
		sub:         sub,
		seen:        make(map[string]struct{}, len(history)),
		wake:        make(chan struct{}, 1),
		updates:     make(chan Event, opts.Buffer),
		done:        make(chan struct{}),
		pumpDone:    make(chan struct{}),
		forwardDone: make(chan struct{}),
	}
	for _, m := range history {
		c.insert(m)
	}
	go c.pump()
	go c.forward()
	metrics.OpenConversations.Inc()
	return c, nil
}

func (c *Conversation) Counterpart() string {
	return c.counterpart
}

func (c *Conversation) Session() *session.Session {
	return c.sess
}

// Messages returns a snapshot of the visible history, oldest first.
func (c *Conversation) Messages() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Message(nil), c.msgs...)
}

// Updates yields newly visible messages and retractions. It is closed by Close.
func (c *Conversation) Updates() <-chan Event {
	return c.updates
}

// Send echoes the composed message locally and then persists it. The write
// is detached from ctx cancellation so closing the conversation or dropping
// the caller does not abandon it.
func (c *Conversation) Send(ctx context.Context, raw string) (model.Message, error) {
	msg, err := c.composer.Compose(ctx, c.sess, c.counterpart, raw)
	if err != nil {
		return model.Message{}, err
	}
	if c.insert(msg) {
		c.emit(Event{Type: EventMessage, Message: msg, Echo: true})
	}

	if err := c.composer.Deliver(context.WithoutCancel(ctx), msg); err != nil {
		metrics.SendFailures.Inc()
		logging.FromContext(ctx).Warn().Err(err).
			Str("message_id", msg.ID).
			Str("policy", string(c.policy)).
			Msg("send failed after echo")
		if c.policy == EchoRollback && c.remove(msg) {
			c.emit(Event{Type: EventRetracted, Message: msg})
		}
		return msg, err
	}
	return msg, nil
}

// Close releases the subscription and stops delivery. After Close returns
// the Updates channel is closed and nothing more is delivered. Safe to call
// more than once.
func (c *Conversation) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.sub.Close()
		<-c.pumpDone
		<-c.forwardDone

		c.qmu.Lock()
		c.closed = true
		c.pending = nil
		c.qmu.Unlock()
		close(c.updates)

		if c.hub != nil {
			c.hub.release(c)
		}
		metrics.OpenConversations.Dec()
	})
	return err
}

func (c *Conversation) pump() {
	defer close(c.pumpDone)
	events := c.sub.Events()
	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			if c.insert(msg) {
				c.emit(Event{Type: EventMessage, Message: msg})
			}
		}
	}
}

func (c *Conversation) emit(ev Event) {
	c.qmu.Lock()
	if c.closed {
		c.qmu.Unlock()
		return
	}
	c.pending = append(c.pending, ev)
	c.qmu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// forward moves pending events to the Updates channel in emit order.
func (c *Conversation) forward() {
	defer close(c.forwardDone)
	for {
		c.qmu.Lock()
		batch := c.pending
		c.pending = nil
		c.qmu.Unlock()

		for _, ev := range batch {
			select {
			case <-c.done:
				return
			default:
			}
			select {
			case c.updates <- ev:
			case <-c.done:
				return
			}
		}
		if len(batch) > 0 {
			continue
		}
		select {
		case <-c.wake:
		case <-c.done:
			return
		}
	}
}

// insert adds msg in createdAt order unless its key is already present.
func (c *Conversation) insert(msg model.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := msg.Key()
	if _, ok := c.seen[key]; ok {
		return false
	}
	c.seen[key] = struct{}{}
	i := sort.Search(len(c.msgs), func(i int) bool { return model.Less(msg, c.msgs[i]) })
	c.msgs = append(c.msgs, model.Message{})
	copy(c.msgs[i+1:], c.msgs[i:])
	c.msgs[i] = msg
	return true
}

func (c *Conversation) remove(msg model.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := msg.Key()
	if _, ok := c.seen[key]; !ok {
		return false
	}
	delete(c.seen, key)
	for i, m := range c.msgs {
		if m.Key() == key {
			c.msgs = append(c.msgs[:i], c.msgs[i+1:]...)
			break
		}
	}
	return true
}

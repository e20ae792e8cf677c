package dispatch

import (
	"context"
	"errors"
	"sync"

	"tutorme/tutorchat/internal/apperr"
	"tutorme/tutorchat/internal/logging"
	"tutorme/tutorchat/internal/session"
)

// ErrHubClosed is returned when opening a conversation on a stopped hub.
var ErrHubClosed = errors.New("dispatch hub closed")

// Hub tracks every open conversation per identity so they can be counted
// and torn down together on shutdown.
type Hub struct {
	src      Source
	composer Composer
	opts     Options

	register   chan *Conversation
	unregister chan *Conversation
	done       chan struct{}
	stopped    chan struct{}

	mu    sync.RWMutex
	conns map[string]map[*Conversation]struct{} // identity -> open conversations
}

func NewHub(src Source, composer Composer, opts Options) *Hub {
	return &Hub{
		src:        src,
		composer:   composer,
		opts:       opts,
		register:   make(chan *Conversation),
		unregister: make(chan *Conversation),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
		conns:      make(map[string]map[*Conversation]struct{}),
	}
}

// Run serves registrations until ctx ends, then closes every conversation
// still open.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			return
		case c := <-h.register:
			h.mu.Lock()
			identity := c.sess.Identity
			if h.conns[identity] == nil {
				h.conns[identity] = make(map[*Conversation]struct{})
			}
			h.conns[identity][c] = struct{}{}
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if set, ok := h.conns[c.sess.Identity]; ok {
				delete(set, c)
				if len(set) == 0 {
					delete(h.conns, c.sess.Identity)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stopped is closed once Run has returned and every conversation is closed.
func (h *Hub) Stopped() <-chan struct{} {
	return h.stopped
}

// Open opens a conversation and registers it with the hub.
func (h *Hub) Open(ctx context.Context, sess *session.Session, counterpart string) (*Conversation, error) {
	select {
	case <-h.done:
		return nil, apperr.E(apperr.TransportFailure, "dispatch.open", ErrHubClosed)
	default:
	}
	c, err := Open(ctx, h.src, h.composer, sess, counterpart, h.opts)
	if err != nil {
		return nil, err
	}
	c.hub = h
	select {
	case h.register <- c:
		return c, nil
	case <-h.done:
		c.hub = nil
		_ = c.Close()
		return nil, apperr.E(apperr.TransportFailure, "dispatch.open", ErrHubClosed)
	}
}

// Count reports open conversations for identity, or all of them when empty.
func (h *Hub) Count(identity string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if identity != "" {
		return len(h.conns[identity])
	}
	total := 0
	for _, set := range h.conns {
		total += len(set)
	}
	return total
}

func (h *Hub) release(c *Conversation) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	var open []*Conversation
	for _, set := range h.conns {
		for c := range set {
			open = append(open, c)
		}
	}
	h.conns = make(map[string]map[*Conversation]struct{})
	h.mu.Unlock()

	for _, c := range open {
		if err := c.Close(); err != nil {
			logging.Component("dispatch").Warn().Err(err).Str("identity", c.sess.Identity).Msg("close conversation")
		}
	}
	if len(open) > 0 {
		logging.Component("dispatch").Info().Int("count", len(open)).Msg("closed open conversations")
	}
}

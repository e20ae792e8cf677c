package messages

import (
	"context"
	"sync"

	"tutorme/tutorchat/internal/model"
)

// MemoryNotifier fans inserts out to in-process subscribers. Each
// subscription queues without bound, so a slow reader never loses an insert.
type MemoryNotifier struct {
	mu   sync.RWMutex
	subs map[*memorySubscription]struct{}
}

func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{subs: make(map[*memorySubscription]struct{})}
}

func (n *MemoryNotifier) Publish(_ context.Context, msg model.Message) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for sub := range n.subs {
		if !sub.filter.Match(msg) {
			continue
		}
		sub.deliver(msg)
	}
	return nil
}

func (n *MemoryNotifier) Subscribe(_ context.Context, filter Filter) (Subscription, error) {
	sub := &memorySubscription{
		filter:   filter,
		events:   make(chan model.Message),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		notifier: n,
	}
	n.mu.Lock()
	n.subs[sub] = struct{}{}
	n.mu.Unlock()
	go sub.run()
	return sub, nil
}

// Subscribers reports the number of live subscriptions.
func (n *MemoryNotifier) Subscribers() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}

type memorySubscription struct {
	filter   Filter
	events   chan model.Message
	notifier *MemoryNotifier

	mu    sync.Mutex
	queue []model.Message
	wake  chan struct{}

	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func (s *memorySubscription) Events() <-chan model.Message {
	return s.events
}

func (s *memorySubscription) deliver(msg model.Message) {
	s.mu.Lock()
	s.queue = append(s.queue, msg)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// run forwards queued inserts to the events channel in publish order.
func (s *memorySubscription) run() {
	defer close(s.stopped)
	defer close(s.events)
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, msg := range batch {
			select {
			case <-s.done:
				return
			default:
			}
			select {
			case s.events <- msg:
			case <-s.done:
				return
			}
		}
		if len(batch) > 0 {
			continue
		}
		select {
		case <-s.wake:
		case <-s.done:
			return
		}
	}
}

// Close unsubscribes and returns once the events channel is closed.
func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.notifier.mu.Lock()
		delete(s.notifier.subs, s)
		s.notifier.mu.Unlock()
		close(s.done)
	})
	<-s.stopped
	return nil
}

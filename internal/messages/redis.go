package messages

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"tutorme/tutorchat/internal/logging"
	"tutorme/tutorchat/internal/metrics"
	"tutorme/tutorchat/internal/model"
)

const (
	channelPrefix      = "tutorchat:messages:"
	subscriptionBuffer = 64
)

// RedisNotifier publishes every insert on the sender's and the receiver's
// channel, so a subscriber listening on its own channel sees both directions
// of each conversation exactly once per publish.
type RedisNotifier struct {
	client *redis.Client
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func channelFor(identity string) string {
	return channelPrefix + identity
}

func (n *RedisNotifier) Publish(ctx context.Context, msg model.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	pipe := n.client.Pipeline()
	pipe.Publish(ctx, channelFor(msg.Receiver), payload)
	if msg.Sender != msg.Receiver {
		pipe.Publish(ctx, channelFor(msg.Sender), payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe listens on the filter owner's channel. An All filter listens on
// every identity's channel and so sees each insert twice.
func (n *RedisNotifier) Subscribe(ctx context.Context, filter Filter) (Subscription, error) {
	var pubsub *redis.PubSub
	if filter.All {
		pubsub = n.client.PSubscribe(ctx, channelPrefix+"*")
	} else {
		pubsub = n.client.Subscribe(ctx, channelFor(filter.Self))
	}
	// Receive blocks until the server confirms, so no insert published after
	// Subscribe returns can be missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}
	sub := &redisSubscription{
		pubsub: pubsub,
		filter: filter,
		events: make(chan model.Message, subscriptionBuffer),
		done:   make(chan struct{}),
	}
	go sub.pump()
	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	filter Filter
	events chan model.Message
	done   chan struct{}
	once   sync.Once
}

func (s *redisSubscription) Events() <-chan model.Message {
	return s.events
}

func (s *redisSubscription) pump() {
	defer close(s.events)
	logger := logging.Component("redis-notifier")
	in := s.pubsub.Channel()
	for {
		select {
		case <-s.done:
			return
		case raw, ok := <-in:
			if !ok {
				return
			}
			var msg model.Message
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				metrics.StreamEventsDropped.Inc()
				logger.Warn().Err(err).Str("channel", raw.Channel).Msg("dropping undecodable event")
				continue
			}
			if !s.filter.Match(msg) {
				continue
			}
			select {
			case s.events <- msg:
			case <-s.done:
				return
			}
		}
	}
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}

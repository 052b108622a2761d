package passkey

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// Bus relays callback messages between the callback page and waiting flows.
type Bus interface {
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	Publish(ctx context.Context, channel string, msg Message) error
}

// Subscription receives the messages published on one channel after it was
// created. Close is idempotent.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Await blocks until a message satisfying match arrives.
func Await(ctx context.Context, sub Subscription, match func(Message) bool) (Message, error) {
	for {
		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case msg, ok := <-sub.Messages():
			if !ok {
				return Message{}, ErrBusClosed
			}
			if match(msg) {
				return msg, nil
			}
		}
	}
}

// =============================================================================
// In-process bus
// =============================================================================

const subscriptionBuffer = 16

// MemoryBus is an in-process Bus.
type MemoryBus struct {
	mu   sync.Mutex
	subs map[string]map[*memorySub]struct{}
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[*memorySub]struct{})}
}

type memorySub struct {
	bus     *MemoryBus
	channel string
	ch      chan Message
	once    sync.Once
}

// Subscribe implements Bus.
func (b *MemoryBus) Subscribe(_ context.Context, channel string) (Subscription, error) {
	s := &memorySub{bus: b, channel: channel, ch: make(chan Message, subscriptionBuffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*memorySub]struct{})
	}
	b.subs[channel][s] = struct{}{}
	return s, nil
}

// Publish implements Bus. Subscribers with a full buffer miss the message.
func (b *MemoryBus) Publish(_ context.Context, channel string, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs[channel] {
		select {
		case s.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribers returns the number of open subscriptions on channel.
func (b *MemoryBus) Subscribers(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}

func (s *memorySub) Messages() <-chan Message { return s.ch }

func (s *memorySub) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs[s.channel], s)
		if len(s.bus.subs[s.channel]) == 0 {
			delete(s.bus.subs, s.channel)
		}
		close(s.ch)
		s.bus.mu.Unlock()
	})
	return nil
}

// =============================================================================
// Redis bus
// =============================================================================

// RedisBus relays messages through Redis pub/sub, so the callback server and
// the waiting flow may run in different processes.
type RedisBus struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedisBus creates a bus on client. Channel names are prefixed with prefix.
func NewRedisBus(client *redis.Client, prefix string, logger zerolog.Logger) *RedisBus {
	return &RedisBus{
		client: client,
		prefix: prefix,
		logger: logger.With().Str("component", "redis_bus").Logger(),
	}
}

// NewRedisBusFromURL parses a redis:// URL.
func NewRedisBusFromURL(rawURL, prefix string, logger zerolog.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisBus(redis.NewClient(opts), prefix, logger), nil
}

// Close closes the underlying client.
func (b *RedisBus) Close() error {
	return b.client.Close()
}

type redisSub struct {
	ps   *redis.PubSub
	ch   chan Message
	once sync.Once
}

// Subscribe implements Bus. It returns once Redis has confirmed the
// subscription.
func (b *RedisBus) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, b.prefix+channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	s := &redisSub{ps: ps, ch: make(chan Message, subscriptionBuffer)}
	incoming := ps.Channel()
	go func() {
		defer close(s.ch)
		for m := range incoming {
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				b.logger.Warn().Err(err).Str("channel", channel).Msg("dropping malformed message")
				continue
			}
			select {
			case s.ch <- msg:
			default:
			}
		}
	}()
	return s, nil
}

// Publish implements Bus.
func (b *RedisBus) Publish(ctx context.Context, channel string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := b.client.Publish(ctx, b.prefix+channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

func (s *redisSub) Messages() <-chan Message { return s.ch }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() { err = s.ps.Close() })
	return err
}

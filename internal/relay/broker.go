package relay

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Broker fans room messages out to every relay instance serving the room.
type Broker interface {
	Publish(ctx context.Context, room string, msg []byte) error
	Subscribe(ctx context.Context, room string) (Subscription, error)
}

// Subscription delivers the messages published to one room.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// LocalBroker is an in-process Broker for a single relay instance.
type LocalBroker struct {
	mu   sync.Mutex
	subs map[string]map[*localSub]struct{}
}

// NewLocalBroker creates an empty LocalBroker.
func NewLocalBroker() *LocalBroker {
	return &LocalBroker{subs: map[string]map[*localSub]struct{}{}}
}

type localSub struct {
	b      *LocalBroker
	room   string
	ch     chan []byte
	once   sync.Once
	closed chan struct{}
}

// Publish implements Broker.
func (b *LocalBroker) Publish(ctx context.Context, room string, msg []byte) error {
	b.mu.Lock()
	subs := make([]*localSub, 0, len(b.subs[room]))
	for s := range b.subs[room] {
		subs = append(subs, s)
	}
	b.mu.Unlock()
	for _, s := range subs {
		select {
		case s.ch <- msg:
		case <-s.closed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe implements Broker.
func (b *LocalBroker) Subscribe(ctx context.Context, room string) (Subscription, error) {
	s := &localSub{b: b, room: room, ch: make(chan []byte, 256), closed: make(chan struct{})}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[room] == nil {
		b.subs[room] = map[*localSub]struct{}{}
	}
	b.subs[room][s] = struct{}{}
	return s, nil
}

func (s *localSub) Messages() <-chan []byte { return s.ch }

func (s *localSub) Close() error {
	s.once.Do(func() {
		s.b.mu.Lock()
		delete(s.b.subs[s.room], s)
		if len(s.b.subs[s.room]) == 0 {
			delete(s.b.subs, s.room)
		}
		s.b.mu.Unlock()
		close(s.closed)
	})
	return nil
}

// RedisBroker fans out through Redis pub/sub so that several relay
// instances can serve the same room.
type RedisBroker struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisBroker connects to addr and checks the connection.
func NewRedisBroker(ctx context.Context, addr string) (*RedisBroker, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return &RedisBroker{rdb: rdb, prefix: "collabtext:room:"}, nil
}

// Publish implements Broker.
func (b *RedisBroker) Publish(ctx context.Context, room string, msg []byte) error {
	if err := b.rdb.Publish(ctx, b.prefix+room, msg).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", room, err)
	}
	return nil
}

// Subscribe implements Broker. It returns once Redis confirmed the
// subscription, so no message published afterwards is missed.
func (b *RedisBroker) Subscribe(ctx context.Context, room string) (Subscription, error) {
	pubsub := b.rdb.Subscribe(ctx, b.prefix+room)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", room, err)
	}
	s := &redisSub{pubsub: pubsub, ch: make(chan []byte, 256), done: make(chan struct{})}
	go func() {
		defer close(s.ch)
		for msg := range pubsub.Channel() {
			select {
			case s.ch <- []byte(msg.Payload):
			case <-s.done:
				return
			}
		}
	}()
	return s, nil
}

// Close releases the Redis client.
func (b *RedisBroker) Close() error {
	return b.rdb.Close()
}

type redisSub struct {
	pubsub *redis.PubSub
	ch     chan []byte
	once   sync.Once
	done   chan struct{}
}

func (s *redisSub) Messages() <-chan []byte { return s.ch }

func (s *redisSub) Close() error {
	s.once.Do(func() { close(s.done) })
	if err := s.pubsub.Close(); err != nil {
		log.Printf("relay: closing redis subscription: %v", err)
		return err
	}
	return nil
}

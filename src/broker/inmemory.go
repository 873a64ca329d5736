package broker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Publish and Subscribe after Close.
var ErrClosed = errors.New("broker is closed")

const subscriberBuffer = 64

type subscriber struct {
	ch   chan Message
	done <-chan struct{}
}

// InMemoryBroker fans messages out to every subscriber of a topic within
// the process. Slow subscribers drop messages rather than block publishers.
type InMemoryBroker struct {
	mu      sync.RWMutex
	subs    map[string]map[*subscriber]struct{}
	offsets map[string]int64
	closing chan struct{}
	closed  bool
}

// NewInMemoryBroker creates a new InMemoryBroker instance.
func NewInMemoryBroker() *InMemoryBroker {
	return &InMemoryBroker{
		subs:    make(map[string]map[*subscriber]struct{}),
		offsets: make(map[string]int64),
		closing: make(chan struct{}),
	}
}

// Publish delivers the message to all current subscribers of topic.
func (b *InMemoryBroker) Publish(ctx context.Context, topic string, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	msg := Message{
		Topic:     topic,
		Key:       key,
		Value:     value,
		Offset:    b.offsets[topic],
		Timestamp: time.Now().UnixMilli(),
	}
	b.offsets[topic]++

	for s := range b.subs[topic] {
		select {
		case s.ch <- msg:
		case <-s.done:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber on topic until ctx ends.
func (b *InMemoryBroker) Subscribe(ctx context.Context, topic string, groupID string) (<-chan Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	s := &subscriber{ch: make(chan Message, subscriberBuffer), done: ctx.Done()}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*subscriber]struct{})
	}
	b.subs[topic][s] = struct{}{}

	go func() {
		select {
		case <-ctx.Done():
			b.unsubscribe(topic, s)
		case <-b.closing:
		}
	}()

	return s.ch, nil
}

func (b *InMemoryBroker) unsubscribe(topic string, s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[topic][s]; !ok {
		return
	}
	delete(b.subs[topic], s)
	close(s.ch)
}

// Close closes every subscriber channel.
func (b *InMemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.closing)
	for topic, subs := range b.subs {
		for s := range subs {
			close(s.ch)
		}
		delete(b.subs, topic)
	}
	return nil
}

// Package broker provides an in-memory pub/sub mechanism scoped by topic.
// It carries score-change events from the mutation path to the result
// broadcaster and to the results SSE stream.
package broker

import (
	"sort"
	"sync"
)

// TopicScores is published after every score mutation, keyed by entry ID.
const TopicScores = "scores"

// Subscription receives a signal each time its topic is published. The signal
// channel is buffered to 1 so rapid publishes coalesce into one notification;
// the keys of every coalesced publish accumulate until Drain is called.
type Subscription struct {
	topic string
	ch    chan struct{}

	mu      sync.Mutex
	pending map[string]struct{}
}

// C returns the signal channel.
func (s *Subscription) C() <-chan struct{} {
	return s.ch
}

// Drain returns and clears the keys published since the last Drain, sorted.
// It may return nothing if a previous Drain already consumed them.
func (s *Subscription) Drain() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	keys := make([]string, 0, len(s.pending))
	for k := range s.pending {
		keys = append(keys, k)
	}
	s.pending = make(map[string]struct{})
	sort.Strings(keys)
	return keys
}

func (s *Subscription) add(keys []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		s.pending[k] = struct{}{}
	}
}

// Broker is a topic-scoped pub/sub hub.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}
}

// New creates a ready-to-use Broker.
func New() *Broker {
	return &Broker{
		subs: make(map[string]map[*Subscription]struct{}),
	}
}

// Subscribe registers a new subscription on topic.
func (b *Broker) Subscribe(topic string) *Subscription {
	sub := &Subscription{
		topic:   topic,
		ch:      make(chan struct{}, 1),
		pending: make(map[string]struct{}),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*Subscription]struct{})
	}
	b.subs[topic][sub] = struct{}{}
	return sub
}

// Unsubscribe removes a subscription. If the topic has no remaining
// subscribers, the entry is cleaned up. Unsubscribing twice is a no-op.
func (b *Broker) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subs[sub.topic]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.subs, sub.topic)
		}
	}
}

// Publish records keys on every subscription of topic and sends each a
// non-blocking signal. A pending unread signal is not duplicated.
func (b *Broker) Publish(topic string, keys ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[topic] {
		sub.add(keys)
		select {
		case sub.ch <- struct{}{}:
		default:
		}
	}
}

// Subscribers returns the number of subscriptions on topic.
func (b *Broker) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}

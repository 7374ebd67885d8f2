// Package bus broadcasts observable state to any number of subscribers.
package bus

import (
	"reflect"
	"sync"

	"github.com/cskr/pubsub"
	"github.com/sirupsen/logrus"
)

const defaultCapacity = 64

type Subscription chan any

// Bus is a topic broadcaster. Delivery is non-blocking: a subscriber whose
// buffer is full misses the message instead of stalling the publisher.
// Operations after Close are no-ops, and Subscribe then returns a closed
// channel.
type Bus struct {
	mu     sync.RWMutex
	ps     *pubsub.PubSub
	closed bool
	log    logrus.FieldLogger
}

func New(capacity int, log logrus.FieldLogger) *Bus {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Bus{
		ps:  pubsub.New(capacity),
		log: log.WithField("component", "bus"),
	}
}

func (b *Bus) Publish(topic string, msg any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.log.WithFields(logrus.Fields{"topic": topic, "payload_type": payloadType(msg)}).Trace("publish")
	b.ps.TryPub(msg, topic)
}

func (b *Bus) Subscribe(topics ...string) Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		ch := make(Subscription)
		close(ch)
		return ch
	}
	b.log.WithField("topics", topics).Debug("subscribe")
	return b.ps.Sub(topics...)
}

// Unsubscribe removes ch from the given topics, or from all topics when none
// are given. The channel is closed once it has no topics left.
func (b *Bus) Unsubscribe(ch Subscription, topics ...string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	if len(topics) == 0 {
		b.ps.Unsub(ch)
		b.log.WithField("mode", "all").Debug("unsubscribe")
		return
	}
	b.ps.Unsub(ch, topics...)
	b.log.WithField("topics", topics).Debug("unsubscribe")
}

// Close closes every subscription. Safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.ps.Shutdown()
}

func payloadType(v any) string {
	if v == nil {
		return "<nil>"
	}
	return reflect.TypeOf(v).String()
}

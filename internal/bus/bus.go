package bus

import (
	"log/slog"
	"sync"
)

// Event is a single broadcast on a named topic.
type Event struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Handler receives events for a subscription. Handlers run on the
// publisher's goroutine and must not block.
type Handler func(Event)

// Bus is a process-wide named-topic broadcast bus. Delivery is at-most-once
// per subscriber with no durability: events published before a subscription
// exists are gone.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[string]Handler // topic → subID → handler
	all  map[string]Handler            // firehose subscribers (gateway)
}

func New() *Bus {
	return &Bus{
		subs: make(map[string]map[string]Handler),
		all:  make(map[string]Handler),
	}
}

// Subscribe registers a handler for one topic. Re-subscribing with the same
// id replaces the previous handler.
func (b *Bus) Subscribe(topic, id string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.subs[topic]
	if !ok {
		m = make(map[string]Handler)
		b.subs[topic] = m
	}
	m[id] = h
}

// Unsubscribe removes a subscription. Unknown ids are a no-op.
func (b *Bus) Unsubscribe(topic, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.subs[topic]; ok {
		delete(m, id)
		if len(m) == 0 {
			delete(b.subs, topic)
		}
	}
}

// SubscribeAll registers a firehose handler that sees every topic.
func (b *Bus) SubscribeAll(id string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all[id] = h
}

// UnsubscribeAll removes a firehose subscription.
func (b *Bus) UnsubscribeAll(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.all, id)
}

// Publish delivers an event to every subscriber of the topic plus all
// firehose subscribers. Handlers are snapshotted under the read lock and
// invoked outside it so a handler may subscribe/unsubscribe.
func (b *Bus) Publish(topic, eventType string, payload any) {
	ev := Event{Topic: topic, Type: eventType, Payload: payload}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[topic])+len(b.all))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	for _, h := range b.all {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	if len(handlers) == 0 {
		slog.Debug("bus.publish_no_subscribers", "topic", topic, "type", eventType)
	}
	for _, h := range handlers {
		h(ev)
	}
}

package bus

import (
	"sync"
)

// SubscriberBuffer is the capacity of a subscription channel. Messages beyond
// it wait in the subscriber's queue.
const SubscriberBuffer = 256

// MemoryPubSub is a process-local broadcast hub: the in-page equivalent of a
// same-origin BroadcastChannel.
type MemoryPubSub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]*subscriber
}

func NewMemoryPubSub() *MemoryPubSub {
	return &MemoryPubSub{subs: make(map[string]map[int]*subscriber)}
}

func (m *MemoryPubSub) Publish(topic string, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sub := range m.subs[topic] {
		sub.push(Message{Topic: topic, Payload: append([]byte(nil), payload...)})
	}
	return nil
}

func (m *MemoryPubSub) Subscribe(topic string) (<-chan Message, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[topic]; !ok {
		m.subs[topic] = make(map[int]*subscriber)
	}
	id := m.nextID
	m.nextID++
	sub := newSubscriber()
	m.subs[topic][id] = sub

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if subsByTopic, ok := m.subs[topic]; ok {
			if _, exists := subsByTopic[id]; exists {
				delete(subsByTopic, id)
				sub.close()
			}
			if len(subsByTopic) == 0 {
				delete(m.subs, topic)
			}
		}
	}
	return sub.out, cancel, nil
}

// Subscribers returns the number of live subscriptions on topic.
func (m *MemoryPubSub) Subscribers(topic string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[topic])
}

var _ PubSub = (*MemoryPubSub)(nil)

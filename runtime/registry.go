package runtime

import (
	"chat-engine/contract"
	"chat-engine/domain"
	"sync"
)

// Registry indexes live subscriptions by topic.
type Registry struct {
	mu     sync.RWMutex
	topics map[domain.Topic]map[string]*subscription
}

func NewRegistry() *Registry {
	return &Registry{topics: make(map[domain.Topic]map[string]*subscription)}
}

// GetSinksForTopic retrieves every active subscription of a topic.
// Returns nil if nobody listens to the topic.
func (r *Registry) GetSinksForTopic(topic domain.Topic) []contract.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subscriptions, ok := r.topics[topic]
	if !ok {
		return nil
	}
	sinks := make([]contract.EventSink, 0, len(subscriptions))
	for _, s := range subscriptions {
		sinks = append(sinks, s)
	}
	return sinks
}

func (r *Registry) add(s *subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.topics[s.topic]; !ok {
		r.topics[s.topic] = make(map[string]*subscription)
	}
	r.topics[s.topic][s.id] = s
}

// remove reports whether the subscription was still registered.
// Empty topics are dropped to prevent the map from growing forever.
func (r *Registry) remove(s *subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	subscriptions, ok := r.topics[s.topic]
	if !ok {
		return false
	}
	if _, ok := subscriptions[s.id]; !ok {
		return false
	}
	delete(subscriptions, s.id)
	if len(subscriptions) == 0 {
		delete(r.topics, s.topic)
	}
	return true
}

func (r *Registry) all() []*subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []*subscription
	for _, subscriptions := range r.topics {
		for _, s := range subscriptions {
			res = append(res, s)
		}
	}
	return res
}

// Count returns the number of live subscriptions of a topic.
func (r *Registry) Count(topic domain.Topic) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[topic])
}

// Package transport provides the publish/subscribe substrate the simulator and
// its controllers talk over: an MQTT client, a websocket hub for broker-less
// setups, and an in-process bus.
//
// Delivery is best effort everywhere. Nothing here retries a failed publish.
package transport

import (
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("transport: bus closed")

// Handler receives one message. Payload must not be retained after return.
type Handler func(topic string, payload []byte)

// Bus is a topic-addressed message channel.
type Bus interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string, h Handler) error
	Close() error
}

// subscriptions maps exact topic names to handlers.
type subscriptions struct {
	mu   sync.RWMutex
	subs map[string][]Handler
}

func (s *subscriptions) add(topic string, h Handler) error {
	if topic == "" {
		return fmt.Errorf("subscribe: empty topic")
	}
	if h == nil {
		return fmt.Errorf("subscribe %s: nil handler", topic)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[string][]Handler)
	}
	s.subs[topic] = append(s.subs[topic], h)
	return nil
}

// handlers returns a copy so dispatch can run without holding the lock.
func (s *subscriptions) handlers(topic string) []Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hs := s.subs[topic]
	if len(hs) == 0 {
		return nil
	}
	out := make([]Handler, len(hs))
	copy(out, hs)
	return out
}

func (s *subscriptions) topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.subs))
	for t := range s.subs {
		out = append(out, t)
	}
	return out
}

func (s *subscriptions) dispatch(topic string, payload []byte) {
	for _, h := range s.handlers(topic) {
		h(topic, payload)
	}
}

package transport

import (
	"sync/atomic"
)

// Memory is an in-process bus. Publish delivers synchronously on the calling
// goroutine, in subscription order, which makes it deterministic for tests and
// for running an agent in the same process as the simulator.
type Memory struct {
	subs   subscriptions
	closed atomic.Bool
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Publish(topic string, payload []byte) error {
	if m.closed.Load() {
		return ErrClosed
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	m.subs.dispatch(topic, buf)
	return nil
}

func (m *Memory) Subscribe(topic string, h Handler) error {
	if m.closed.Load() {
		return ErrClosed
	}
	return m.subs.add(topic, h)
}

func (m *Memory) Close() error {
	m.closed.Store(true)
	return nil
}

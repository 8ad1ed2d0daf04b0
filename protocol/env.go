package protocol

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chris-hoertnagl/deep-rl/game"
	"github.com/chris-hoertnagl/deep-rl/transport"
)

// Env is the controller side of the protocol: it publishes commands and waits
// for the observation each one produces.
//
// Only one Reset or Step may be in flight at a time.
type Env struct {
	bus    transport.Bus
	topics Topics
	log    *slog.Logger
	states chan StatePayload
}

// NewEnv subscribes to the state topic on bus.
func NewEnv(bus transport.Bus, topics Topics, logger *slog.Logger) (*Env, error) {
	if err := topics.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Env{
		bus:    bus,
		topics: topics,
		log:    logger,
		states: make(chan StatePayload, 16),
	}
	if err := bus.Subscribe(topics.State, e.onState); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topics.State, err)
	}
	return e, nil
}

func (e *Env) onState(_ string, payload []byte) {
	p, err := DecodeState(payload)
	if err != nil {
		e.log.Debug("ignoring malformed state", "err", err)
		return
	}
	select {
	case e.states <- p:
	default:
		e.log.Warn("state buffer full, observation dropped")
	}
}

// drain discards observations left over from earlier commands.
func (e *Env) drain() {
	for {
		select {
		case <-e.states:
		default:
			return
		}
	}
}

func (e *Env) await(ctx context.Context) (StatePayload, error) {
	select {
	case p := <-e.states:
		return p, nil
	case <-ctx.Done():
		return StatePayload{}, ctx.Err()
	}
}

// Reset starts a new episode and returns its first observation. The simulator
// must run with reset publishing enabled.
func (e *Env) Reset(ctx context.Context) (Observation, error) {
	e.drain()
	if err := e.bus.Publish(e.topics.Reset, []byte("reset")); err != nil {
		return Observation{}, fmt.Errorf("publish reset: %w", err)
	}
	p, err := e.await(ctx)
	if err != nil {
		return Observation{}, fmt.Errorf("await reset observation: %w", err)
	}
	return p.Observation, nil
}

// Step sends one action and returns the resulting payload.
func (e *Env) Step(ctx context.Context, d game.Direction) (StatePayload, error) {
	e.drain()
	if err := e.bus.Publish(e.topics.Action, []byte(d)); err != nil {
		return StatePayload{}, fmt.Errorf("publish action %s: %w", d, err)
	}
	p, err := e.await(ctx)
	if err != nil {
		return StatePayload{}, fmt.Errorf("await observation for %s: %w", d, err)
	}
	return p, nil
}

// Package agent drives a simulator through protocol.Env.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/chris-hoertnagl/deep-rl/game"
	"github.com/chris-hoertnagl/deep-rl/protocol"
)

// Environment is the part of protocol.Env a policy loop needs.
type Environment interface {
	Reset(ctx context.Context) (protocol.Observation, error)
	Step(ctx context.Context, d game.Direction) (protocol.StatePayload, error)
}

// Result summarises one played episode.
type Result struct {
	Episode int
	Steps   int
	Score   int
	Done    bool
}

type Random struct {
	env      Environment
	rng      *rand.Rand
	maxSteps int
	logger   *slog.Logger
}

// NewRandom plays uniformly random directions. maxSteps caps an episode that
// never ends; zero means no cap.
func NewRandom(env Environment, rng *rand.Rand, maxSteps int, logger *slog.Logger) *Random {
	if logger == nil {
		logger = slog.Default()
	}
	return &Random{env: env, rng: rng, maxSteps: maxSteps, logger: logger}
}

// Play runs one episode starting with a reset.
func (a *Random) Play(ctx context.Context, n int) (Result, error) {
	res := Result{Episode: n}
	if _, err := a.env.Reset(ctx); err != nil {
		return res, fmt.Errorf("episode %d: %w", n, err)
	}
	for a.maxSteps <= 0 || res.Steps < a.maxSteps {
		d := game.Directions[a.rng.Intn(len(game.Directions))]
		p, err := a.env.Step(ctx, d)
		if err != nil {
			return res, fmt.Errorf("episode %d step %d: %w", n, res.Steps, err)
		}
		res.Steps++
		res.Score = p.RewardIndicators.Length
		if p.Done {
			res.Done = true
			break
		}
	}
	a.logger.Info("episode finished", "episode", n, "steps", res.Steps, "score", res.Score, "done", res.Done)
	return res, nil
}

// Run plays episodes until n are done (n <= 0 runs until ctx ends).
func (a *Random) Run(ctx context.Context, n int) ([]Result, error) {
	var results []Result
	for i := 0; n <= 0 || i < n; i++ {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		r, err := a.Play(ctx, i)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

// Package episode runs the snake state machine one inbound command at a time.
//
// A Controller owns the world, the heading, the last pre-move snapshot and the
// process-wide episode counters. All of it sits behind a single mutex, so a
// reset can never observe a half-applied move.
package episode

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chris-hoertnagl/deep-rl/game"
	"github.com/chris-hoertnagl/deep-rl/rules"
)

type Status int

const (
	Running Status = iota
	Done
)

func (s Status) String() string {
	if s == Done {
		return "DONE"
	}
	return "RUNNING"
}

// Report is what the controller decided to publish after a command.
// Snapshot is the pre-move state whenever Done is true.
type Report struct {
	EpisodeID string
	Episode   int
	HighScore int
	Step      int
	Snapshot  game.Snapshot
	Done      bool
}

// Score is the reward indicator of the reported snapshot.
func (r Report) Score() int { return r.Snapshot.Score() }

// Stats is a read-only view of the counters.
type Stats struct {
	EpisodeID string
	Episode   int
	HighScore int
	Score     int
	Steps     int
	Status    Status
}

type Option func(*Controller)

// WithRand sets the food RNG. Tests use a seeded source for reproducibility.
func WithRand(rng *rand.Rand) Option {
	return func(c *Controller) { c.rng = rng }
}

func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithInitialWorld replaces the random starting layout of the first episode.
// Resets still use the standard layout. A world whose body has fewer than two
// segments is ignored.
func WithInitialWorld(w *game.World) Option {
	return func(c *Controller) { c.initial = w }
}

type Controller struct {
	mu sync.Mutex

	board    game.Board
	rng      *rand.Rand
	recorder Recorder
	logger   *slog.Logger
	initial  *game.World

	world     *game.World
	direction game.Direction
	status    Status
	previous  game.Snapshot
	cause     string
	armed     bool

	episodeID string
	episode   int
	highScore int
	steps     int
}

// New creates a controller in the RUNNING state with the initial layout.
func New(board game.Board, opts ...Option) *Controller {
	c := &Controller{board: board}
	for _, opt := range opts {
		opt(c)
	}
	if c.rng == nil {
		c.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.recorder == nil {
		c.recorder = NopRecorder{}
	}

	w := c.initial
	if w != nil && len(w.Body) < len(game.InitialBody(board.CellSize)) {
		c.logger.Warn("initial world ignored, body too short", "segments", len(w.Body))
		w = nil
	}
	if w == nil {
		w = game.NewWorld(board, c.rng)
	} else {
		w = w.Clone()
	}
	c.begin(w)
	return c
}

func (c *Controller) begin(w *game.World) {
	c.world = w
	c.direction = game.Right
	c.status = Running
	c.previous = w.Snapshot(c.direction)
	c.cause = rules.CauseNone
	c.steps = 0
	c.episodeID = uuid.New().String()
}

// Act applies one action. requested may be empty when the inbound token was
// not a direction; the heading is then kept and the snake still moves.
//
// While DONE nothing moves and the terminal snapshot is reported again.
func (c *Controller) Act(requested game.Direction) Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.armed = false

	if c.status == Done {
		return c.reportLocked(c.previous, true)
	}

	c.direction = rules.Turn(c.direction, requested)
	before := c.world.Snapshot(c.direction)
	c.previous = before

	moved := rules.Move(c.world, c.direction)
	c.steps++

	if done, cause := rules.CheckTerminal(moved); done {
		c.status = Done
		c.cause = cause
		c.recorder.OnTransition(Transition{
			EpisodeID: c.episodeID,
			Episode:   c.episode,
			Step:      c.steps,
			Requested: requested,
			Direction: c.direction,
			Before:    before,
			After:     moved.Snapshot(c.direction),
			Done:      true,
			Cause:     cause,
		})
		c.endLocked(before.Score(), cause)
		return c.reportLocked(before, true)
	}

	next, ate := game.EatFood(moved, c.rng)
	c.world = next
	after := next.Snapshot(c.direction)

	if ate {
		c.logger.Debug("food eaten", "episode", c.episode, "step", c.steps, "score", after.Score())
	}
	c.recorder.OnTransition(Transition{
		EpisodeID: c.episodeID,
		Episode:   c.episode,
		Step:      c.steps,
		Requested: requested,
		Direction: c.direction,
		Before:    before,
		After:     after,
		Ate:       ate,
	})
	return c.reportLocked(after, false)
}

// Reset starts a new episode with a fresh layout, bumps the episode counter
// and folds the finished score into the high score. It arms a one-shot report
// that Flush or the next Act consumes.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	score := c.world.Score()
	if c.status == Done {
		score = c.previous.Score()
	} else if c.steps > 0 {
		c.endLocked(score, CauseAbandoned)
	}
	if score > c.highScore {
		c.highScore = score
	}
	c.episode++
	c.begin(game.NewWorld(c.board, c.rng))
	c.armed = true

	c.logger.Info("episode reset", "episode", c.episode, "high_score", c.highScore, "previous_score", score)
}

// Flush returns the report armed by the last Reset, once.
func (c *Controller) Flush() (Report, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.armed {
		return Report{}, false
	}
	c.armed = false
	return c.reportLocked(c.world.Snapshot(c.direction), false), true
}

// Stats returns the counters and the current score.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	score := c.world.Score()
	if c.status == Done {
		score = c.previous.Score()
	}
	return Stats{
		EpisodeID: c.episodeID,
		Episode:   c.episode,
		HighScore: c.highScore,
		Score:     score,
		Steps:     c.steps,
		Status:    c.status,
	}
}

// Current returns the state as it would be reported right now.
func (c *Controller) Current() Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == Done {
		return c.reportLocked(c.previous, true)
	}
	return c.reportLocked(c.world.Snapshot(c.direction), false)
}

func (c *Controller) reportLocked(s game.Snapshot, done bool) Report {
	return Report{
		EpisodeID: c.episodeID,
		Episode:   c.episode,
		HighScore: c.highScore,
		Step:      c.steps,
		Snapshot:  s,
		Done:      done,
	}
}

func (c *Controller) endLocked(score int, cause string) {
	c.recorder.OnEpisodeEnd(Summary{
		EpisodeID: c.episodeID,
		Episode:   c.episode,
		Steps:     c.steps,
		Score:     score,
		Cause:     cause,
	})
	c.logger.Info("episode finished",
		"episode", c.episode,
		"score", score,
		"steps", c.steps,
		"cause", cause,
	)
}

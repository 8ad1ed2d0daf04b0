package episode

import (
	"github.com/chris-hoertnagl/deep-rl/game"
)

// CauseAbandoned marks an episode cut short by a reset while still running.
const CauseAbandoned = "reset"

// Transition is one processed action.
// After is the raw post-move state, which is off the board or overlapping
// itself when Done is set.
type Transition struct {
	EpisodeID string
	Episode   int
	Step      int
	Requested game.Direction
	Direction game.Direction
	Before    game.Snapshot
	After     game.Snapshot
	Ate       bool
	Done      bool
	Cause     string
}

type Summary struct {
	EpisodeID string
	Episode   int
	Steps     int
	Score     int
	Cause     string
}

// Recorder observes the controller. Calls are made while the controller lock
// is held and arrive in processing order, so implementations must not call
// back into the controller.
type Recorder interface {
	OnTransition(t Transition)
	OnEpisodeEnd(s Summary)
}

type NopRecorder struct{}

func (NopRecorder) OnTransition(Transition) {}
func (NopRecorder) OnEpisodeEnd(Summary)    {}

// Recorders fans out to several recorders in order.
type Recorders []Recorder

func (rs Recorders) OnTransition(t Transition) {
	for _, r := range rs {
		r.OnTransition(t)
	}
}

func (rs Recorders) OnEpisodeEnd(s Summary) {
	for _, r := range rs {
		r.OnEpisodeEnd(s)
	}
}

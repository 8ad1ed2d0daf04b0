package rules

import (
	"github.com/chris-hoertnagl/deep-rl/game"
)

// Death causes reported by CheckTerminal.
const (
	CauseNone          = ""
	CauseWallCollision = "wall-collision"
	CauseSelfCollision = "self-collision"
)

// Turn returns the direction in force after requesting next while heading
// current. An exact reversal is rejected and current is kept.
func Turn(current, next game.Direction) game.Direction {
	if next == "" || next == current.Opposite() {
		return current
	}
	return next
}

// Move advances the snake one cell in d and returns the resulting world.
// The input world is left untouched.
func Move(w *game.World, d game.Direction) *game.World {
	return w.WithMove(d)
}

// OutOfBounds reports whether head has left the board on either axis.
func OutOfBounds(board game.Board, head game.Point) bool {
	return !board.Contains(head)
}

// SelfCollision reports whether the head (last element) overlaps any other
// segment of body.
func SelfCollision(body []game.Point) bool {
	if len(body) < 2 {
		return false
	}
	head := body[len(body)-1]
	for _, p := range body[:len(body)-1] {
		if p == head {
			return true
		}
	}
	return false
}

// CheckTerminal runs both terminal checks against w. The wall check wins when
// both apply.
func CheckTerminal(w *game.World) (bool, string) {
	if OutOfBounds(w.Board, w.Head()) {
		return true, CauseWallCollision
	}
	if SelfCollision(w.Body) {
		return true, CauseSelfCollision
	}
	return false, CauseNone
}

// IsTerminal returns true if w is a dead state.
func IsTerminal(w *game.World) bool {
	done, _ := CheckTerminal(w)
	return done
}

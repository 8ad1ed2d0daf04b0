// food.go implements food placement.

package game

import (
	"math/rand"
)

// RandomFood picks a cell-aligned coordinate uniformly over the whole grid.
// Snake occupancy is not consulted, so food may appear under the body.
func RandomFood(rng *rand.Rand, board Board) Point {
	n := board.FieldSize()
	return Point{
		X: rng.Intn(n) * board.CellSize,
		Y: rng.Intn(n) * board.CellSize,
	}
}

// NewWorld returns the initial layout: a two-segment snake in the top-left
// corner heading right, and food at a random cell.
func NewWorld(board Board, rng *rand.Rand) *World {
	return &World{
		Board: board,
		Body:  InitialBody(board.CellSize),
		Food:  RandomFood(rng, board),
	}
}

// EatFood grows the snake and relocates the food when the head is on it.
// It reports whether food was eaten. w is not modified.
func EatFood(w *World, rng *rand.Rand) (*World, bool) {
	if w.Head() != w.Food {
		return w, false
	}
	out := w.WithGrowth()
	out.Food = RandomFood(rng, w.Board)
	return out, true
}

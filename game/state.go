// Package game defines the grid world the snake lives in.
//
// Coordinates are stored raw (multiples of the cell size inside a fixed
// 100x100 board) so they can be reported unchanged to the controller. Every
// value here is plain data: moving, growing and checking for death live in the
// rules package.
package game

import "strings"

// BoardSize is the side of the square board in raw coordinate units.
const BoardSize = 100

// DefaultCellSize is the quantization unit used when none is configured.
const DefaultCellSize = 10

// Point is a raw board coordinate. (0,0) is top-left, y grows downward.
type Point struct {
	X int
	Y int
}

// Cell returns the normalized cell index of p.
func (p Point) Cell(cellSize int) Point {
	return Point{X: floorDiv(p.X, cellSize), Y: floorDiv(p.Y, cellSize)}
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

type Direction string

const (
	Up    Direction = "UP"
	Down  Direction = "DOWN"
	Left  Direction = "LEFT"
	Right Direction = "RIGHT"
)

// Directions lists every valid direction.
var Directions = []Direction{Up, Down, Left, Right}

// ParseDirection accepts a direction token in any case, ignoring surrounding
// whitespace. ok is false for anything else.
func ParseDirection(s string) (Direction, bool) {
	switch Direction(strings.ToUpper(strings.TrimSpace(s))) {
	case Up:
		return Up, true
	case Down:
		return Down, true
	case Left:
		return Left, true
	case Right:
		return Right, true
	}
	return "", false
}

// Opposite returns the reverse of d.
func (d Direction) Opposite() Direction {
	switch d {
	case Up:
		return Down
	case Down:
		return Up
	case Left:
		return Right
	case Right:
		return Left
	}
	return ""
}

// Delta is the unit offset of one step in d.
func (d Direction) Delta() Point {
	switch d {
	case Up:
		return Point{Y: -1}
	case Down:
		return Point{Y: 1}
	case Left:
		return Point{X: -1}
	case Right:
		return Point{X: 1}
	}
	return Point{}
}

// Board is the fixed square playing field.
type Board struct {
	Size     int
	CellSize int
}

// NewBoard returns the standard 100x100 board quantized by cellSize.
func NewBoard(cellSize int) Board {
	if cellSize <= 0 {
		cellSize = DefaultCellSize
	}
	return Board{Size: BoardSize, CellSize: cellSize}
}

// FieldSize is the number of cells per side.
func (b Board) FieldSize() int {
	return b.Size / b.CellSize
}

// Contains reports whether p lies inside [0,Size) on both axes.
func (b Board) Contains(p Point) bool {
	return p.X >= 0 && p.X < b.Size && p.Y >= 0 && p.Y < b.Size
}

// World is the complete simulation state.
// Body is ordered tail-first, head-last.
type World struct {
	Board         Board
	Body          []Point
	Food          Point
	PendingGrowth bool
}

// InitialBody is the two-segment snake every episode starts with.
func InitialBody(cellSize int) []Point {
	return []Point{{X: 0, Y: 0}, {X: cellSize, Y: 0}}
}

// Head returns the last body segment.
func (w *World) Head() Point {
	return w.Body[len(w.Body)-1]
}

// Score is the number of food items eaten this episode. A growth still
// waiting for the next move already counts.
func (w *World) Score() int {
	return score(w.Body, w.PendingGrowth)
}

func score(body []Point, pending bool) int {
	n := len(body) - len(InitialBody(0))
	if pending {
		n++
	}
	return n
}

// WithMove returns a copy of w whose body has advanced one cell in d.
// A pending growth is consumed: the tail is kept instead of dropped.
// w itself is not modified.
func (w *World) WithMove(d Direction) *World {
	out := w.Clone()
	delta := d.Delta()
	head := w.Head()
	next := Point{X: head.X + delta.X*w.Board.CellSize, Y: head.Y + delta.Y*w.Board.CellSize}

	body := make([]Point, 0, len(w.Body)+1)
	if w.PendingGrowth {
		body = append(body, w.Body...)
	} else {
		body = append(body, w.Body[1:]...)
	}
	out.Body = append(body, next)
	out.PendingGrowth = false
	return out
}

// WithGrowth returns a copy of w that grows by one segment on its next move.
func (w *World) WithGrowth() *World {
	out := w.Clone()
	out.PendingGrowth = true
	return out
}

// Clone performs a deep copy of the world.
func (w *World) Clone() *World {
	if w == nil {
		return nil
	}
	out := &World{
		Board:         w.Board,
		Food:          w.Food,
		PendingGrowth: w.PendingGrowth,
	}
	if len(w.Body) > 0 {
		out.Body = make([]Point, len(w.Body))
		copy(out.Body, w.Body)
	}
	return out
}

// Snapshot is an immutable capture of what gets reported to the controller.
type Snapshot struct {
	Board         Board
	Body          []Point
	Food          Point
	Direction     Direction
	PendingGrowth bool
}

// Snapshot captures w moving in d.
func (w *World) Snapshot(d Direction) Snapshot {
	body := make([]Point, len(w.Body))
	copy(body, w.Body)
	return Snapshot{Board: w.Board, Body: body, Food: w.Food, Direction: d, PendingGrowth: w.PendingGrowth}
}

// Head returns the last body segment of the snapshot.
func (s Snapshot) Head() Point {
	return s.Body[len(s.Body)-1]
}

// Score is the reward indicator reported with the snapshot.
func (s Snapshot) Score() int {
	return score(s.Body, s.PendingGrowth)
}

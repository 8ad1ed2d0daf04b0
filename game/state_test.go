package game

import (
	"math/rand"
	"strings"
	"testing"
)

// dumpWorld is a test helper to visualize the board.
func dumpWorld(w *World) string {
	n := w.Board.FieldSize()
	grid := make([][]byte, n)
	for y := 0; y < n; y++ {
		grid[y] = make([]byte, n)
		for x := 0; x < n; x++ {
			grid[y][x] = '.'
		}
	}
	f := w.Food.Cell(w.Board.CellSize)
	if f.X >= 0 && f.X < n && f.Y >= 0 && f.Y < n {
		grid[f.Y][f.X] = '*'
	}
	for i, p := range w.Body {
		c := p.Cell(w.Board.CellSize)
		if c.X < 0 || c.X >= n || c.Y < 0 || c.Y >= n {
			continue
		}
		if i == len(w.Body)-1 {
			grid[c.Y][c.X] = 'H'
		} else {
			grid[c.Y][c.X] = 's'
		}
	}
	var sb strings.Builder
	for y := 0; y < n; y++ {
		sb.Write(grid[y])
		sb.WriteByte('\n')
	}
	return sb.String()
}

func TestParseDirection(t *testing.T) {
	cases := []struct {
		in   string
		want Direction
		ok   bool
	}{
		{"UP", Up, true},
		{"down", Down, true},
		{"Left", Left, true},
		{" right\n", Right, true},
		{"", "", false},
		{"north", "", false},
		{"reset", "", false},
	}
	for _, c := range cases {
		got, ok := ParseDirection(c.in)
		if got != c.want || ok != c.ok {
			t.Fatalf("ParseDirection(%q)=(%q,%v) want (%q,%v)", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestOppositeIsInvolution(t *testing.T) {
	for _, d := range Directions {
		if d.Opposite() == d {
			t.Fatalf("%s is its own opposite", d)
		}
		if d.Opposite().Opposite() != d {
			t.Fatalf("opposite of opposite of %s = %s", d, d.Opposite().Opposite())
		}
	}
}

func TestWithMove_DoesNotMutate(t *testing.T) {
	w := &World{Board: NewBoard(10), Body: InitialBody(10), Food: Point{X: 50, Y: 50}}
	next := w.WithMove(Right)
	t.Logf("before:\n%safter:\n%s", dumpWorld(w), dumpWorld(next))

	wantOld := []Point{{0, 0}, {10, 0}}
	for i := range wantOld {
		if w.Body[i] != wantOld[i] {
			t.Fatalf("original body[%d]=%v want=%v", i, w.Body[i], wantOld[i])
		}
	}
	wantNew := []Point{{10, 0}, {20, 0}}
	if len(next.Body) != len(wantNew) {
		t.Fatalf("body len=%d want=%d", len(next.Body), len(wantNew))
	}
	for i := range wantNew {
		if next.Body[i] != wantNew[i] {
			t.Fatalf("body[%d]=%v want=%v", i, next.Body[i], wantNew[i])
		}
	}
}

func TestWithMove_EachDirection(t *testing.T) {
	start := &World{Board: NewBoard(10), Body: []Point{{40, 50}, {50, 50}}}
	want := map[Direction]Point{
		Up:    {50, 40},
		Down:  {50, 60},
		Left:  {40, 50},
		Right: {60, 50},
	}
	for d, head := range want {
		got := start.WithMove(d).Head()
		if got != head {
			t.Fatalf("move %s head=%v want=%v", d, got, head)
		}
	}
}

func TestWithGrowth_RealisedOnNextMove(t *testing.T) {
	w := &World{Board: NewBoard(10), Body: InitialBody(10)}
	grown := w.WithGrowth()
	if len(grown.Body) != 2 {
		t.Fatalf("growth should be deferred, body len=%d", len(grown.Body))
	}
	if w.PendingGrowth {
		t.Fatalf("WithGrowth mutated receiver")
	}

	moved := grown.WithMove(Right)
	if len(moved.Body) != 3 {
		t.Fatalf("body len after growth move=%d want=3", len(moved.Body))
	}
	if moved.PendingGrowth {
		t.Fatalf("growth not consumed")
	}
	if moved.Body[0] != (Point{0, 0}) {
		t.Fatalf("tail=%v want (0,0)", moved.Body[0])
	}

	again := moved.WithMove(Right)
	if len(again.Body) != 3 {
		t.Fatalf("length should stay 3, got %d", len(again.Body))
	}
}

func TestRandomFood_CellAligned(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, cs := range []int{5, 10, 20, 25} {
		b := NewBoard(cs)
		for i := 0; i < 500; i++ {
			p := RandomFood(rng, b)
			if p.X%cs != 0 || p.Y%cs != 0 {
				t.Fatalf("cell=%d food %v not aligned", cs, p)
			}
			if !b.Contains(p) {
				t.Fatalf("cell=%d food %v off board", cs, p)
			}
		}
	}
}

func TestRandomFood_CoversGrid(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	b := NewBoard(25)
	seen := map[Point]bool{}
	for i := 0; i < 2000; i++ {
		seen[RandomFood(rng, b)] = true
	}
	if len(seen) != 16 {
		t.Fatalf("saw %d distinct cells, want 16", len(seen))
	}
}

func TestEatFood(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	w := &World{Board: NewBoard(10), Body: []Point{{0, 0}, {10, 0}}, Food: Point{X: 10, Y: 0}}

	out, ate := EatFood(w, rng)
	if !ate {
		t.Fatalf("expected food to be eaten")
	}
	if !out.PendingGrowth {
		t.Fatalf("expected pending growth")
	}
	if out.Food.X%10 != 0 || out.Food.Y%10 != 0 {
		t.Fatalf("food %v not cell aligned", out.Food)
	}
	if w.PendingGrowth || w.Food != (Point{X: 10, Y: 0}) {
		t.Fatalf("EatFood mutated input")
	}

	w.Food = Point{X: 90, Y: 90}
	same, ate := EatFood(w, rng)
	if ate || same != w {
		t.Fatalf("no food under head should be a no-op")
	}
}

func TestCellNormalization(t *testing.T) {
	cases := []struct {
		p    Point
		want Point
	}{
		{Point{0, 0}, Point{0, 0}},
		{Point{90, 30}, Point{9, 3}},
		{Point{100, 0}, Point{10, 0}},
		{Point{-10, 0}, Point{-1, 0}},
	}
	for _, c := range cases {
		if got := c.p.Cell(10); got != c.want {
			t.Fatalf("Cell(%v)=%v want %v", c.p, got, c.want)
		}
	}
}

func TestSnapshotIsIndependent(t *testing.T) {
	w := &World{Board: NewBoard(10), Body: InitialBody(10), Food: Point{X: 20, Y: 20}}
	s := w.Snapshot(Right)
	w.Body[0] = Point{X: 99, Y: 99}
	if s.Body[0] != (Point{0, 0}) {
		t.Fatalf("snapshot shares body storage with world")
	}
	if s.Score() != 0 {
		t.Fatalf("score=%d want 0", s.Score())
	}
	if s.Head() != (Point{10, 0}) {
		t.Fatalf("head=%v", s.Head())
	}
}

func TestScore_CountsPendingGrowth(t *testing.T) {
	w := &World{Board: NewBoard(10), Body: InitialBody(10), Food: Point{X: 20, Y: 0}}
	moved := w.WithMove(Right)
	ate, ok := EatFood(moved, rand.New(rand.NewSource(1)))
	if !ok {
		t.Fatalf("head %v not on food %v", moved.Head(), moved.Food)
	}
	if len(ate.Body) != 2 || ate.Score() != 1 {
		t.Fatalf("body=%d score=%d want 2/1", len(ate.Body), ate.Score())
	}
	if s := ate.Snapshot(Right); s.Score() != 1 {
		t.Fatalf("snapshot score=%d want 1", s.Score())
	}
	grown := ate.WithMove(Down)
	if len(grown.Body) != 3 || grown.Score() != 1 {
		t.Fatalf("after growth body=%d score=%d want 3/1", len(grown.Body), grown.Score())
	}
}

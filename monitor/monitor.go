// Package monitor is a terminal view of the running simulation.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/logrusorgru/aurora"

	"github.com/chris-hoertnagl/deep-rl/episode"
	"github.com/chris-hoertnagl/deep-rl/game"
)

// maxBoardCells is the widest field drawn; finer grids only show the header.
const maxBoardCells = 50

const recentEpisodes = 8

// Monitor buffers reports for the view. Feed never blocks, so a slow terminal
// cannot stall the simulation.
type Monitor struct {
	updates chan episode.Report
	dropped atomic.Int64
	colors  bool

	done     chan struct{}
	stopOnce sync.Once
}

func New(buffer int, colors bool) *Monitor {
	if buffer <= 0 {
		buffer = 64
	}
	return &Monitor{
		updates: make(chan episode.Report, buffer),
		colors:  colors,
		done:    make(chan struct{}),
	}
}

// Feed queues r, dropping it when the view is behind.
func (m *Monitor) Feed(r episode.Report) {
	select {
	case m.updates <- r:
	default:
		m.dropped.Add(1)
	}
}

func (m *Monitor) Dropped() int64 { return m.dropped.Load() }

// Run shows the view until the user quits or ctx is done. A Monitor runs at
// most once.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.stop()
	p := tea.NewProgram(m.model(), tea.WithContext(ctx), tea.WithAltScreen())
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// stop releases a command still waiting for the next report.
func (m *Monitor) stop() {
	m.stopOnce.Do(func() { close(m.done) })
}

func (m *Monitor) model() model {
	return model{updates: m.updates, done: m.done, au: aurora.NewAurora(m.colors)}
}

type model struct {
	updates chan episode.Report
	done    <-chan struct{}
	au      aurora.Aurora

	last    episode.Report
	seen    bool
	reports int
	recent  []string
	ended   string
}

func waitForUpdate(updates <-chan episode.Report, done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		select {
		case r := <-updates:
			return r
		case <-done:
			return nil
		}
	}
}

func (m model) Init() tea.Cmd {
	return waitForUpdate(m.updates, m.done)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case episode.Report:
		m.last = msg
		m.seen = true
		m.reports++
		// A DONE episode is republished on every action until reset; log it once.
		if msg.Done && m.ended != msg.EpisodeID {
			m.ended = msg.EpisodeID
			line := fmt.Sprintf("episode %d: score %d after %d steps", msg.Episode, msg.Score(), msg.Step)
			m.recent = append([]string{line}, m.recent...)
			if len(m.recent) > recentEpisodes {
				m.recent = m.recent[:recentEpisodes]
			}
		}
		return m, waitForUpdate(m.updates, m.done)
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	if !m.seen {
		b.WriteString("Waiting for the first action...\n\nPress q to quit.\n")
		return b.String()
	}

	snap := m.last.Snapshot
	cs := snap.Board.CellSize
	food := snap.Food.Cell(cs)
	head := snap.Head().Cell(cs)

	fmt.Fprintf(&b, "%s: %d %d  %s: %d %d\n", m.label("Food"), food.X, food.Y, m.label("Head"), head.X, head.Y)
	fmt.Fprintf(&b, "%s: %d  %s: %d  %s: %d\n",
		m.label("Episode"), m.last.Episode, m.label("HighScore"), m.last.HighScore, m.label("Score"), m.last.Score())
	fmt.Fprintf(&b, "%s  step %d  heading %s\n\n", m.status(), m.last.Step, snap.Direction)

	if snap.Board.FieldSize() <= maxBoardCells {
		b.WriteString(renderBoard(snap))
	} else {
		b.WriteString(m.au.Red("The field is larger than the viewing area").String())
		b.WriteString("\n")
	}

	if len(m.recent) > 0 {
		b.WriteString("\nRecent episodes:\n")
		for _, l := range m.recent {
			b.WriteString(l)
			b.WriteString("\n")
		}
	}
	b.WriteString("\nPress q to quit.\n")
	return b.String()
}

func (m model) label(name string) string {
	return m.au.Colorize(name, aurora.GreenFg).String()
}

func (m model) status() string {
	if m.last.Done {
		return m.au.Colorize(episode.Done.String(), aurora.RedFg).String()
	}
	return m.au.Colorize(episode.Running.String(), aurora.CyanFg).String()
}

// renderBoard draws one character per cell: H head, o body, * food.
func renderBoard(s game.Snapshot) string {
	n := s.Board.FieldSize()
	cs := s.Board.CellSize
	grid := make([][]byte, n)
	for y := range grid {
		grid[y] = []byte(strings.Repeat(".", n))
	}
	put := func(p game.Point, c byte) {
		if p.X >= 0 && p.X < n && p.Y >= 0 && p.Y < n {
			grid[p.Y][p.X] = c
		}
	}
	put(s.Food.Cell(cs), '*')
	for _, p := range s.Body {
		put(p.Cell(cs), 'o')
	}
	if len(s.Body) > 0 {
		put(s.Head().Cell(cs), 'H')
	}

	var b strings.Builder
	for _, row := range grid {
		b.Write(row)
		b.WriteByte('\n')
	}
	return b.String()
}

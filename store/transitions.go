package store

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"

	"github.com/chris-hoertnagl/deep-rl/episode"
)

// TransitionRow is one processed action, stored for offline training.
//
// Positions are cell-normalized. Head/Food/Body describe the state the action
// was taken in; NextHead is where the head went, which is off the board or
// inside the body when Done is set. Reward is the score after the action.
type TransitionRow struct {
	EpisodeID  string  `parquet:"episode_id,dict"`
	Episode    int32   `parquet:"episode"`
	Step       int32   `parquet:"step"`
	Requested  string  `parquet:"requested,dict"`
	Direction  string  `parquet:"direction,dict"`
	FieldSize  int32   `parquet:"field_size"`
	HeadX      int32   `parquet:"head_x"`
	HeadY      int32   `parquet:"head_y"`
	FoodX      int32   `parquet:"food_x"`
	FoodY      int32   `parquet:"food_y"`
	BodyX      []int32 `parquet:"body_x"`
	BodyY      []int32 `parquet:"body_y"`
	NextHeadX  int32   `parquet:"next_head_x"`
	NextHeadY  int32   `parquet:"next_head_y"`
	Reward     int32   `parquet:"reward"`
	Ate        bool    `parquet:"ate"`
	Done       bool    `parquet:"done"`
	Cause      string  `parquet:"cause,dict"`
	RecordedAt int64   `parquet:"recorded_at_ns"`
}

// NewTransitionRow flattens a controller transition.
func NewTransitionRow(t episode.Transition, at time.Time) TransitionRow {
	cs := t.Before.Board.CellSize
	head := t.Before.Head().Cell(cs)
	food := t.Before.Food.Cell(cs)
	next := t.After.Head().Cell(cs)

	bx := make([]int32, len(t.Before.Body))
	by := make([]int32, len(t.Before.Body))
	for i, p := range t.Before.Body {
		c := p.Cell(cs)
		bx[i] = int32(c.X)
		by[i] = int32(c.Y)
	}

	reward := t.After.Score()
	if t.Done {
		reward = t.Before.Score()
	}

	return TransitionRow{
		EpisodeID:  t.EpisodeID,
		Episode:    int32(t.Episode),
		Step:       int32(t.Step),
		Requested:  string(t.Requested),
		Direction:  string(t.Direction),
		FieldSize:  int32(t.Before.Board.FieldSize()),
		HeadX:      int32(head.X),
		HeadY:      int32(head.Y),
		FoodX:      int32(food.X),
		FoodY:      int32(food.Y),
		BodyX:      bx,
		BodyY:      by,
		NextHeadX:  int32(next.X),
		NextHeadY:  int32(next.Y),
		Reward:     int32(reward),
		Ate:        t.Ate,
		Done:       t.Done,
		Cause:      t.Cause,
		RecordedAt: at.UnixNano(),
	}
}

// batch is a single parquet file being written under tmp/.
type batch struct {
	tmpPath string
	outPath string
	file    *os.File
	writer  *parquet.GenericWriter[TransitionRow]
	rows    int
}

// TransitionWriter records transitions into rolling parquet batches.
// A batch is written to <dir>/tmp and renamed into <dir> once finalized, so
// readers never see a half-written file.
//
// It implements episode.Recorder. Write errors are logged and the failing
// batch is abandoned; the simulation is never blocked on disk problems.
type TransitionWriter struct {
	mu sync.Mutex

	outDir  string
	tmpDir  string
	maxRows int
	logger  *slog.Logger
	now     func() time.Time

	cur      *batch
	seq      int
	files    []string
	episodes int
}

// NewTransitionWriter prepares dir for batches of at most maxRows rows.
func NewTransitionWriter(dir string, maxRows int, logger *slog.Logger) (*TransitionWriter, error) {
	if dir == "" {
		return nil, fmt.Errorf("outDir is required")
	}
	if maxRows <= 0 {
		maxRows = 10000
	}
	if logger == nil {
		logger = slog.Default()
	}

	absOut, err := filepath.Abs(dir)
	if err != nil {
		absOut = dir
	}
	tmpDir := filepath.Join(absOut, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("create tmp dir: %w", err)
	}

	return &TransitionWriter{
		outDir:  absOut,
		tmpDir:  tmpDir,
		maxRows: maxRows,
		logger:  logger,
		now:     time.Now,
	}, nil
}

func (w *TransitionWriter) open() error {
	w.seq++
	name := fmt.Sprintf("transitions_%d_%04d.parquet", w.now().UnixNano(), w.seq)
	tmpPath := filepath.Join(w.tmpDir, name)

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open tmp parquet: %w", err)
	}

	pw := parquet.NewGenericWriter[TransitionRow](
		f,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
	)
	pw.SetKeyValueMetadata("schema", "snake_transition_v1")

	w.cur = &batch{
		tmpPath: tmpPath,
		outPath: filepath.Join(w.outDir, name),
		file:    f,
		writer:  pw,
	}
	return nil
}

// OnTransition appends one row, rotating the batch when it is full.
func (w *TransitionWriter) OnTransition(t episode.Transition) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cur == nil {
		if err := w.open(); err != nil {
			w.logger.Error("transition batch open failed", "err", err)
			return
		}
	}

	row := NewTransitionRow(t, w.now())
	if _, err := w.cur.writer.Write([]TransitionRow{row}); err != nil {
		w.logger.Error("transition write failed", "path", w.cur.tmpPath, "err", err)
		w.abandonLocked()
		return
	}
	w.cur.rows++

	if w.cur.rows >= w.maxRows {
		if _, err := w.finalizeLocked(); err != nil {
			w.logger.Error("transition batch finalize failed", "err", err)
		}
	}
}

// OnEpisodeEnd flushes buffered rows into a row group.
func (w *TransitionWriter) OnEpisodeEnd(s episode.Summary) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.episodes++
	if w.cur == nil {
		return
	}
	if err := w.cur.writer.Flush(); err != nil {
		w.logger.Error("transition flush failed", "episode", s.Episode, "err", err)
		w.abandonLocked()
	}
}

// finalizeLocked closes the current batch and moves it out of tmp/.
// An empty batch is removed and "" is returned.
func (w *TransitionWriter) finalizeLocked() (string, error) {
	b := w.cur
	if b == nil {
		return "", nil
	}
	w.cur = nil

	closeErr := b.writer.Close()
	_ = b.file.Sync()
	fileErr := b.file.Close()
	if closeErr != nil {
		return "", fmt.Errorf("close parquet writer: %w", closeErr)
	}
	if fileErr != nil {
		return "", fmt.Errorf("close parquet file: %w", fileErr)
	}

	if b.rows == 0 {
		_ = os.Remove(b.tmpPath)
		return "", nil
	}
	if err := os.Rename(b.tmpPath, b.outPath); err != nil {
		return "", fmt.Errorf("rename parquet: %w", err)
	}
	w.files = append(w.files, b.outPath)
	w.logger.Info("transition batch written", "path", b.outPath, "rows", b.rows)
	return b.outPath, nil
}

func (w *TransitionWriter) abandonLocked() {
	if w.cur == nil {
		return
	}
	_ = w.cur.file.Close()
	_ = os.Remove(w.cur.tmpPath)
	w.cur = nil
}

// Files lists the finalized batch paths in write order.
func (w *TransitionWriter) Files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.files))
	copy(out, w.files)
	return out
}

// Close finalizes the open batch, if any.
func (w *TransitionWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.finalizeLocked()
	w.logger.Info("transition writer closed", "files", len(w.files), "episodes", w.episodes)
	return err
}

// ReadTransitions loads every row of a finalized batch.
func ReadTransitions(path string) ([]TransitionRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet %s: %w", path, err)
	}

	reader := parquet.NewGenericReader[TransitionRow](pf)
	defer reader.Close()

	rows := make([]TransitionRow, 0, reader.NumRows())
	for {
		// Fresh buffer each round: the reader may reuse slice fields.
		buf := make([]TransitionRow, 256)
		n, err := reader.Read(buf)
		rows = append(rows, buf[:n]...)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read parquet %s: %w", path, err)
		}
		if n == 0 {
			break
		}
	}
	return rows, nil
}

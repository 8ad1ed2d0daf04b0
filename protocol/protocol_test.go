package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/chris-hoertnagl/deep-rl/episode"
	"github.com/chris-hoertnagl/deep-rl/game"
	"github.com/chris-hoertnagl/deep-rl/transport"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newController(body []game.Point, food game.Point) *episode.Controller {
	board := game.NewBoard(10)
	return episode.New(board,
		episode.WithRand(rand.New(rand.NewSource(9))),
		episode.WithLogger(quietLogger()),
		episode.WithInitialWorld(&game.World{Board: board, Body: body, Food: food}),
	)
}

type stateLog struct {
	raw []string
}

func (s *stateLog) handler(_ string, payload []byte) {
	s.raw = append(s.raw, string(payload))
}

func (s *stateLog) decoded(t *testing.T, i int) StatePayload {
	t.Helper()
	if i >= len(s.raw) {
		t.Fatalf("only %d states published, want index %d", len(s.raw), i)
	}
	var p StatePayload
	if err := json.Unmarshal([]byte(s.raw[i]), &p); err != nil {
		t.Fatalf("state %d: %v", i, err)
	}
	return p
}

func setup(t *testing.T, ctrl *episode.Controller, publishOnReset bool) (*transport.Memory, *stateLog, *Adapter) {
	t.Helper()
	bus := transport.NewMemory()
	states := &stateLog{}
	bus.Subscribe("rl/state", states.handler)
	a := NewAdapter(bus, ctrl, AdapterConfig{
		Topics:         DefaultTopics(),
		PublishOnReset: publishOnReset,
		Logger:         quietLogger(),
	})
	if err := a.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	return bus, states, a
}

func TestEncodeState_WireFormat(t *testing.T) {
	board := game.NewBoard(10)
	r := episode.Report{
		Snapshot: game.Snapshot{
			Board:     board,
			Body:      []game.Point{{X: 10, Y: 0}, {X: 20, Y: 0}, {X: 30, Y: 0}},
			Food:      game.Point{X: 70, Y: 40},
			Direction: game.Right,
		},
	}
	data, err := EncodeState(r)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, k := range []string{"rewardIndicators", "observation", "done"} {
		if _, ok := raw[k]; !ok {
			t.Fatalf("missing key %q in %s", k, data)
		}
	}
	obs := raw["observation"].(map[string]any)
	for _, k := range []string{"field_size", "snake_dots", "food_x", "food_y", "head_x", "head_y", "direction"} {
		if _, ok := obs[k]; !ok {
			t.Fatalf("missing observation key %q in %s", k, data)
		}
	}

	p := NewStatePayload(r)
	if p.RewardIndicators.Length != 1 {
		t.Fatalf("length=%d want 1", p.RewardIndicators.Length)
	}
	o := p.Observation
	if o.FieldSize != 10 || o.FoodX != 7 || o.FoodY != 4 || o.HeadX != 3 || o.HeadY != 0 {
		t.Fatalf("observation=%+v", o)
	}
	if o.SnakeDots[2] != [2]int{30, 0} {
		t.Fatalf("snake_dots should stay raw, got %v", o.SnakeDots)
	}
	if o.Direction != "RIGHT" {
		t.Fatalf("direction=%q", o.Direction)
	}
}

func TestDecodeState_RejectsEmpty(t *testing.T) {
	if _, err := DecodeState([]byte(`{}`)); err == nil {
		t.Fatalf("empty observation accepted")
	}
	if _, err := DecodeState([]byte(`not json`)); err == nil {
		t.Fatalf("garbage accepted")
	}
}

func TestAdapter_StartState(t *testing.T) {
	bus, states, _ := setup(t, newController(game.InitialBody(10), game.Point{X: 50, Y: 50}), true)

	bus.Publish("rl/action", []byte("right"))
	p := states.decoded(t, 0)

	want := [][2]int{{10, 0}, {20, 0}}
	if len(p.Observation.SnakeDots) != 2 || p.Observation.SnakeDots[0] != want[0] || p.Observation.SnakeDots[1] != want[1] {
		t.Fatalf("snake_dots=%v want %v", p.Observation.SnakeDots, want)
	}
	if p.Done || p.RewardIndicators.Length != 0 {
		t.Fatalf("payload=%+v", p)
	}
}

func TestAdapter_DeathReportsPreMoveState(t *testing.T) {
	bus, states, _ := setup(t, newController([]game.Point{{X: 80, Y: 0}, {X: 90, Y: 0}}, game.Point{X: 0, Y: 90}), true)

	bus.Publish("rl/action", []byte("RIGHT"))
	p := states.decoded(t, 0)
	if !p.Done {
		t.Fatalf("expected done")
	}
	if p.Observation.HeadX != 9 || p.Observation.HeadY != 0 {
		t.Fatalf("head=(%d,%d) want (9,0)", p.Observation.HeadX, p.Observation.HeadY)
	}
	if last := p.Observation.SnakeDots[len(p.Observation.SnakeDots)-1]; last != [2]int{90, 0} {
		t.Fatalf("last dot=%v want [90 0]", last)
	}

	// Further actions before a reset replay the terminal frame.
	bus.Publish("rl/action", []byte("DOWN"))
	again := states.decoded(t, 1)
	if !again.Done || again.Observation.HeadX != 9 {
		t.Fatalf("replay=%+v", again)
	}
}

func TestAdapter_OneObservationPerAction(t *testing.T) {
	bus, states, a := setup(t, newController([]game.Point{{X: 40, Y: 40}, {X: 50, Y: 40}}, game.Point{X: 0, Y: 90}), false)

	for _, tok := range []string{"UP", "bogus", "left", "", "DOWN"} {
		bus.Publish("rl/action", []byte(tok))
	}
	if len(states.raw) != 5 {
		t.Fatalf("published %d states, want 5", len(states.raw))
	}
	if p := states.decoded(t, 1); p.Observation.Direction != "UP" {
		t.Fatalf("bogus token changed direction to %s", p.Observation.Direction)
	}
	if published, failed := a.Counts(); published != 5 || failed != 0 {
		t.Fatalf("counts=%d/%d", published, failed)
	}
}

func TestAdapter_ResetPublishesFreshState(t *testing.T) {
	ctrl := newController([]game.Point{{X: 80, Y: 0}, {X: 90, Y: 0}}, game.Point{X: 0, Y: 90})
	bus, states, _ := setup(t, ctrl, true)

	bus.Publish("rl/action", []byte("RIGHT"))
	bus.Publish("rl/reset", []byte("reset"))
	if len(states.raw) != 2 {
		t.Fatalf("published %d states, want 2", len(states.raw))
	}
	p := states.decoded(t, 1)
	if p.Done {
		t.Fatalf("reset observation marked done")
	}
	if p.Observation.HeadX != 1 || p.Observation.HeadY != 0 || p.RewardIndicators.Length != 0 {
		t.Fatalf("reset observation=%+v", p)
	}
	if st := ctrl.Stats(); st.Episode != 1 {
		t.Fatalf("episode=%d want 1", st.Episode)
	}
}

func TestAdapter_ResetWithoutPublish(t *testing.T) {
	bus, states, _ := setup(t, newController(game.InitialBody(10), game.Point{X: 50, Y: 50}), false)

	bus.Publish("rl/reset", []byte("anything"))
	if len(states.raw) != 0 {
		t.Fatalf("reset alone published %d states", len(states.raw))
	}
	bus.Publish("rl/action", []byte("DOWN"))
	if len(states.raw) != 1 {
		t.Fatalf("published %d states, want 1", len(states.raw))
	}
}

type failingBus struct {
	*transport.Memory
	fail bool
}

func (b *failingBus) Publish(topic string, payload []byte) error {
	if b.fail && topic == "rl/state" {
		return errors.New("broker unavailable")
	}
	return b.Memory.Publish(topic, payload)
}

func TestAdapter_PublishFailureIsNotFatal(t *testing.T) {
	bus := &failingBus{Memory: transport.NewMemory(), fail: true}
	ctrl := newController(game.InitialBody(10), game.Point{X: 50, Y: 50})
	var reports []episode.Report
	a := NewAdapter(bus, ctrl, AdapterConfig{
		Topics:   DefaultTopics(),
		Logger:   quietLogger(),
		OnReport: func(r episode.Report) { reports = append(reports, r) },
	})
	if err := a.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	a.HandleMessage("rl/action", []byte("RIGHT"))
	bus.fail = false
	a.HandleMessage("rl/action", []byte("RIGHT"))

	if published, failed := a.Counts(); published != 1 || failed != 1 {
		t.Fatalf("counts=%d/%d want 1/1", published, failed)
	}
	if len(reports) != 2 || reports[1].Snapshot.Head() != (game.Point{X: 30, Y: 0}) {
		t.Fatalf("simulation did not progress past the failed publish: %+v", reports)
	}
}

func TestTopics_Validate(t *testing.T) {
	if err := DefaultTopics().Validate(); err != nil {
		t.Fatalf("default topics: %v", err)
	}
	if err := (Topics{State: "a", Action: "a", Reset: "b"}).Validate(); err == nil {
		t.Fatalf("duplicate topics accepted")
	}
	if err := (Topics{State: "a", Action: "b"}).Validate(); err == nil {
		t.Fatalf("missing reset topic accepted")
	}
}

func TestEnv_EpisodeOverMemoryBus(t *testing.T) {
	bus := transport.NewMemory()
	ctrl := newController([]game.Point{{X: 60, Y: 0}, {X: 70, Y: 0}}, game.Point{X: 0, Y: 90})
	a := NewAdapter(bus, ctrl, AdapterConfig{Topics: DefaultTopics(), PublishOnReset: true, Logger: quietLogger()})
	if err := a.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	env, err := NewEnv(bus, DefaultTopics(), quietLogger())
	if err != nil {
		t.Fatalf("env: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var last StatePayload
	for i := 0; i < 10; i++ {
		last, err = env.Step(ctx, game.Right)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if last.Done {
			break
		}
	}
	if !last.Done {
		t.Fatalf("expected the wall within 10 steps")
	}

	obs, err := env.Reset(ctx)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if obs.HeadX != 1 || obs.HeadY != 0 {
		t.Fatalf("reset head=(%d,%d)", obs.HeadX, obs.HeadY)
	}
}

func TestEnv_StepHonoursContext(t *testing.T) {
	bus := transport.NewMemory() // nothing answers
	env, err := NewEnv(bus, DefaultTopics(), quietLogger())
	if err != nil {
		t.Fatalf("env: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := env.Step(ctx, game.Up); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v want deadline exceeded", err)
	}
}

package protocol

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/chris-hoertnagl/deep-rl/episode"
	"github.com/chris-hoertnagl/deep-rl/transport"
)

// Topics names the three logical channels.
type Topics struct {
	State  string
	Action string
	Reset  string
}

// DefaultTopics are rl/state, rl/action and rl/reset.
func DefaultTopics() Topics {
	return Topics{State: "rl/state", Action: "rl/action", Reset: "rl/reset"}
}

func (t Topics) Validate() error {
	if t.State == "" || t.Action == "" || t.Reset == "" {
		return fmt.Errorf("topics: state, action and reset are all required")
	}
	if t.Action == t.Reset || t.Action == t.State || t.Reset == t.State {
		return fmt.Errorf("topics: state, action and reset must differ")
	}
	return nil
}

// AdapterConfig tunes the adapter.
type AdapterConfig struct {
	Topics Topics
	// PublishOnReset flushes the reset's armed report right away so a
	// controller blocked on reset gets its first observation.
	PublishOnReset bool
	// OnReport, when set, sees every report after it was published.
	OnReport func(episode.Report)
	Logger   *slog.Logger
}

// Adapter feeds bus messages into a Controller and publishes the resulting
// observations. Handling one message and publishing its observation happen
// under one lock, so observations leave in the order commands were processed.
type Adapter struct {
	mu   sync.Mutex
	bus  transport.Bus
	ctrl *episode.Controller
	cfg  AdapterConfig
	log  *slog.Logger

	published uint64
	failed    uint64
}

func NewAdapter(bus transport.Bus, ctrl *episode.Controller, cfg AdapterConfig) *Adapter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{bus: bus, ctrl: ctrl, cfg: cfg, log: logger}
}

// Start subscribes to the action and reset topics.
func (a *Adapter) Start() error {
	if err := a.cfg.Topics.Validate(); err != nil {
		return err
	}
	if err := a.bus.Subscribe(a.cfg.Topics.Action, a.HandleMessage); err != nil {
		return fmt.Errorf("subscribe %s: %w", a.cfg.Topics.Action, err)
	}
	if err := a.bus.Subscribe(a.cfg.Topics.Reset, a.HandleMessage); err != nil {
		return fmt.Errorf("subscribe %s: %w", a.cfg.Topics.Reset, err)
	}
	a.log.Info("protocol adapter started",
		"action_topic", a.cfg.Topics.Action,
		"reset_topic", a.cfg.Topics.Reset,
		"state_topic", a.cfg.Topics.State,
	)
	return nil
}

// HandleMessage processes one inbound message to completion.
func (a *Adapter) HandleMessage(topic string, payload []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch topic {
	case a.cfg.Topics.Action:
		dir, ok := DecodeAction(payload)
		if !ok {
			a.log.Debug("unrecognised action token, keeping heading", "payload", string(payload))
		}
		a.publishLocked(a.ctrl.Act(dir))
	case a.cfg.Topics.Reset:
		a.ctrl.Reset()
		if !a.cfg.PublishOnReset {
			return
		}
		if r, ok := a.ctrl.Flush(); ok {
			a.publishLocked(r)
		}
	default:
		a.log.Debug("message on unmapped topic", "topic", topic)
	}
}

func (a *Adapter) publishLocked(r episode.Report) {
	data, err := EncodeState(r)
	if err != nil {
		a.failed++
		a.log.Error("encode observation failed", "err", err)
		return
	}
	if err := a.bus.Publish(a.cfg.Topics.State, data); err != nil {
		a.failed++
		a.log.Warn("publish observation failed", "topic", a.cfg.Topics.State, "err", err)
	} else {
		a.published++
	}
	if a.cfg.OnReport != nil {
		a.cfg.OnReport(r)
	}
}

// Counts returns how many observations were published and how many failed.
func (a *Adapter) Counts() (published, failed uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.published, a.failed
}

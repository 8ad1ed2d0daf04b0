// Command randomagent plays a running snakesim with uniformly random actions.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/integrii/flaggy"

	"github.com/chris-hoertnagl/deep-rl/agent"
	"github.com/chris-hoertnagl/deep-rl/config"
	"github.com/chris-hoertnagl/deep-rl/logging"
	"github.com/chris-hoertnagl/deep-rl/protocol"
	"github.com/chris-hoertnagl/deep-rl/transport"
)

func main() {
	cfg := config.FromEnv()
	episodes := 10
	maxSteps := 1000
	var seed int64

	flaggy.SetName("randomagent")
	flaggy.SetDescription("Reference controller: random actions against snakesim")
	flaggy.DefaultParser.ShowHelpOnUnexpected = true
	cfg.BindCommon(flaggy.DefaultParser)
	cfg.BindAgent(flaggy.DefaultParser)
	flaggy.Int(&episodes, "n", "episodes", "Episodes to play (0 plays until interrupted)")
	flaggy.Int(&maxSteps, "m", "max-steps", "Step cap per episode")
	flaggy.Int64(&seed, "s", "seed", "Random seed (0 picks one from the clock)")
	flaggy.Parse()

	if cfg.Transport.Kind == config.TransportMemory {
		flaggy.ShowHelpAndExit("the memory transport only exists inside snakesim; use snakesim --self-play")
	}
	if err := cfg.Validate(); err != nil {
		flaggy.ShowHelpAndExit(err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, episodes, maxSteps, seed); err != nil {
		fmt.Fprintf(os.Stderr, "randomagent: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, episodes, maxSteps int, seed int64) error {
	level, _ := logging.ParseLevel(cfg.Log.Level)
	logger, err := logging.New(cfg.Log.Format, level, os.Stderr)
	if err != nil {
		return err
	}

	var bus transport.Bus
	switch cfg.Transport.Kind {
	case config.TransportMQTT:
		clientID := cfg.Transport.ClientID
		if clientID == "" {
			clientID = "randomagent-" + uuid.New().String()[:8]
		}
		bus, err = transport.DialMQTT(ctx, transport.MQTTConfig{
			BrokerURL:      cfg.Transport.BrokerURL,
			ClientID:       clientID,
			QoS:            byte(cfg.Transport.QoS),
			ConnectTimeout: cfg.Transport.ConnectTimeout,
			PublishTimeout: cfg.Transport.PublishTimeout,
			Logger:         logger.With("component", "mqtt"),
		})
	case config.TransportHub:
		dialCtx, cancel := context.WithTimeout(ctx, cfg.Transport.ConnectTimeout)
		bus, err = transport.DialHub(dialCtx, cfg.Transport.HubURL, logger.With("component", "hub"))
		cancel()
	default:
		err = fmt.Errorf("unsupported transport %q", cfg.Transport.Kind)
	}
	if err != nil {
		return err
	}
	defer bus.Close()

	env, err := protocol.NewEnv(bus, cfg.Topics, logger.With("component", "env"))
	if err != nil {
		return err
	}

	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	a := agent.NewRandom(env, rand.New(rand.NewSource(seed)), maxSteps, logger)
	logger.Info("randomagent starting", "transport", cfg.Transport.Kind, "episodes", episodes, "seed", seed)

	results, err := a.Run(ctx, episodes)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	best, total := 0, 0
	for _, r := range results {
		total += r.Score
		if r.Score > best {
			best = r.Score
		}
	}
	mean := 0.0
	if len(results) > 0 {
		mean = float64(total) / float64(len(results))
	}
	logger.Info("randomagent finished", "episodes", len(results), "best_score", best, "mean_score", mean)
	return nil
}

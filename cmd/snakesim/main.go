// Command snakesim runs the snake environment behind a pub/sub transport.
// A controller publishes actions and resets and receives one observation back
// for each.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/integrii/flaggy"

	"github.com/chris-hoertnagl/deep-rl/agent"
	"github.com/chris-hoertnagl/deep-rl/api"
	"github.com/chris-hoertnagl/deep-rl/config"
	"github.com/chris-hoertnagl/deep-rl/episode"
	"github.com/chris-hoertnagl/deep-rl/game"
	"github.com/chris-hoertnagl/deep-rl/logging"
	"github.com/chris-hoertnagl/deep-rl/monitor"
	"github.com/chris-hoertnagl/deep-rl/protocol"
	"github.com/chris-hoertnagl/deep-rl/store"
	"github.com/chris-hoertnagl/deep-rl/transport"
)

func main() {
	cfg := config.FromEnv()
	var selfPlay int

	flaggy.SetName("snakesim")
	flaggy.SetDescription("Grid snake environment driven over MQTT or a websocket hub")
	flaggy.DefaultParser.ShowHelpOnUnexpected = true
	cfg.BindCommon(flaggy.DefaultParser)
	cfg.BindSimulator(flaggy.DefaultParser)
	flaggy.Int(&selfPlay, "", "self-play", "With the memory transport, play this many random episodes in-process")
	flaggy.Parse()

	if err := cfg.Validate(); err != nil {
		flaggy.ShowHelpAndExit(err.Error())
	}
	if selfPlay > 0 && (cfg.Transport.Kind != config.TransportMemory || !cfg.Game.PublishOnReset) {
		flaggy.ShowHelpAndExit("--self-play needs the memory transport with reset publishing")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, selfPlay); err != nil {
		fmt.Fprintf(os.Stderr, "snakesim: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, selfPlay int) error {
	level, _ := logging.ParseLevel(cfg.Log.Level)
	var logOut io.Writer = os.Stderr
	if cfg.TUI {
		// The monitor owns the terminal.
		logOut = io.Discard
	}
	logger, err := logging.New(cfg.Log.Format, level, logOut)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	bus, hub, release, err := openBus(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer release()

	opts := []episode.Option{
		episode.WithLogger(logger.With("component", "episode")),
		episode.WithRand(rand.New(rand.NewSource(time.Now().UnixNano()))),
	}
	var writer *store.TransitionWriter
	if cfg.Record.Enabled {
		writer, err = store.NewTransitionWriter(cfg.Record.Dir, cfg.Record.MaxRows, logger.With("component", "recorder"))
		if err != nil {
			return fmt.Errorf("transition writer: %w", err)
		}
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Error("close transition writer", "err", err)
			}
		}()
		opts = append(opts, episode.WithRecorder(writer))
	}
	ctrl := episode.New(game.NewBoard(cfg.Game.CellSize), opts...)

	var mon *monitor.Monitor
	adapterCfg := protocol.AdapterConfig{
		Topics:         cfg.Topics,
		PublishOnReset: cfg.Game.PublishOnReset,
		Logger:         logger.With("component", "adapter"),
	}
	if cfg.TUI {
		mon = monitor.New(256, true)
		adapterCfg.OnReport = mon.Feed
	}
	adapter := protocol.NewAdapter(bus, ctrl, adapterCfg)
	if err := adapter.Start(); err != nil {
		return err
	}

	if hub != nil || cfg.API {
		mux := http.NewServeMux()
		if hub != nil {
			mux.Handle(cfg.Transport.Path, hub)
		}
		if cfg.API {
			src := api.Sources{Counts: adapter.Counts}
			if hub != nil {
				src.HubClients = hub.Clients
			}
			if writer != nil {
				src.Recordings = writer.Files
			}
			api.NewServer(ctrl, src).RegisterRoutes(mux)
		}
		stopHTTP := serveHTTP(cfg.Transport.ListenAddr, mux, logger.With("component", "http"))
		defer stopHTTP()
	}

	logger.Info("snakesim ready",
		"transport", cfg.Transport.Kind,
		"field_size", game.NewBoard(cfg.Game.CellSize).FieldSize(),
		"publish_on_reset", cfg.Game.PublishOnReset,
		"record", cfg.Record.Enabled,
	)

	errc := make(chan error, 2)
	if cfg.Transport.Kind == config.TransportMemory && selfPlay == 0 {
		logger.Warn("memory transport without --self-play: nothing can reach the simulator")
	}
	if selfPlay > 0 {
		go func() {
			errc <- selfPlayLoop(ctx, bus, cfg.Topics, selfPlay, logger)
		}()
	}

	if mon != nil {
		go func() {
			errc <- mon.Run(ctx)
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errc:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}

	published, failed := adapter.Counts()
	st := ctrl.Stats()
	logger.Info("snakesim stopped",
		"episodes", st.Episode,
		"high_score", st.HighScore,
		"published", published,
		"publish_failures", failed,
	)
	return nil
}

// openBus builds the configured transport. hub is set for the hub transport
// and still has to be mounted on an HTTP server. The returned func releases
// the bus.
func openBus(ctx context.Context, cfg config.Config, logger *slog.Logger) (bus transport.Bus, hub *transport.Hub, release func(), err error) {
	switch cfg.Transport.Kind {
	case config.TransportMQTT:
		b, err := transport.DialMQTT(ctx, transport.MQTTConfig{
			BrokerURL:      cfg.Transport.BrokerURL,
			ClientID:       cfg.Transport.ClientID,
			QoS:            byte(cfg.Transport.QoS),
			ConnectTimeout: cfg.Transport.ConnectTimeout,
			PublishTimeout: cfg.Transport.PublishTimeout,
			Logger:         logger.With("component", "mqtt"),
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return b, nil, func() { b.Close() }, nil

	case config.TransportHub:
		h := transport.NewHub(logger.With("component", "hub"))
		return h, h, func() { h.Close() }, nil

	case config.TransportMemory:
		m := transport.NewMemory()
		return m, nil, func() { m.Close() }, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport.Kind)
}

// serveHTTP starts the listener for the hub and the status API. The returned
// func shuts it down.
func serveHTTP(addr string, mux *http.ServeMux, logger *slog.Logger) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "err", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("http shutdown", "err", err)
		}
	}
}

func selfPlayLoop(ctx context.Context, bus transport.Bus, topics protocol.Topics, episodes int, logger *slog.Logger) error {
	env, err := protocol.NewEnv(bus, topics, logger.With("component", "env"))
	if err != nil {
		return err
	}
	a := agent.NewRandom(env, rand.New(rand.NewSource(time.Now().UnixNano())), 10000, logger.With("component", "agent"))
	_, err = a.Run(ctx, episodes)
	return err
}

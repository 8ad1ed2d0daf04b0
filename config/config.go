// Package config holds the settings shared by the simulator and the reference
// agent. Values come from Default, then SNAKE_* environment variables, then
// command line flags.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/integrii/flaggy"

	"github.com/chris-hoertnagl/deep-rl/game"
	"github.com/chris-hoertnagl/deep-rl/logging"
	"github.com/chris-hoertnagl/deep-rl/protocol"
)

const (
	TransportMQTT   = "mqtt"
	TransportHub    = "hub"
	TransportMemory = "memory"
)

type Transport struct {
	Kind           string
	BrokerURL      string
	ClientID       string
	QoS            int
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	// ListenAddr and Path are where the simulator serves the websocket hub.
	// The status API shares ListenAddr.
	ListenAddr string
	Path       string
	// HubURL is what clients dial to reach the hub.
	HubURL string
}

type Game struct {
	CellSize       int
	PublishOnReset bool
}

type Record struct {
	Enabled bool
	Dir     string
	MaxRows int
}

type Log struct {
	Format string
	Level  string
}

type Config struct {
	Transport Transport
	Topics    protocol.Topics
	Game      Game
	Record    Record
	Log       Log
	// TUI turns on the terminal monitor.
	TUI bool
	// API serves /api/stats and /api/state on Transport.ListenAddr.
	API bool
}

func Default() Config {
	return Config{
		Transport: Transport{
			Kind:           TransportMQTT,
			BrokerURL:      "ws://127.0.0.1:8883",
			QoS:            0,
			ConnectTimeout: 10 * time.Second,
			PublishTimeout: 5 * time.Second,
			ListenAddr:     ":8884",
			Path:           "/bus",
			HubURL:         "ws://127.0.0.1:8884/bus",
		},
		Topics: protocol.DefaultTopics(),
		Game: Game{
			CellSize:       game.DefaultCellSize,
			PublishOnReset: true,
		},
		Record: Record{
			Dir:     "transitions",
			MaxRows: 10000,
		},
		Log: Log{
			Format: logging.FormatText,
			Level:  "info",
		},
	}
}

// FromEnv returns Default with SNAKE_* overrides applied.
func FromEnv() Config {
	c := Default()
	c.ApplyEnv()
	return c
}

// ApplyEnv overrides fields whose SNAKE_* variable is set. Unparseable values
// are ignored.
func (c *Config) ApplyEnv() {
	t := &c.Transport
	t.Kind = getEnvOrDefault("SNAKE_TRANSPORT", t.Kind)
	t.BrokerURL = getEnvOrDefault("SNAKE_BROKER_URL", t.BrokerURL)
	t.ClientID = getEnvOrDefault("SNAKE_CLIENT_ID", t.ClientID)
	t.QoS = getEnvIntOrDefault("SNAKE_QOS", t.QoS)
	t.ConnectTimeout = getEnvDurationOrDefault("SNAKE_CONNECT_TIMEOUT", t.ConnectTimeout)
	t.PublishTimeout = getEnvDurationOrDefault("SNAKE_PUBLISH_TIMEOUT", t.PublishTimeout)
	t.ListenAddr = getEnvOrDefault("SNAKE_LISTEN_ADDR", t.ListenAddr)
	t.Path = getEnvOrDefault("SNAKE_HUB_PATH", t.Path)
	t.HubURL = getEnvOrDefault("SNAKE_HUB_URL", t.HubURL)

	c.Topics.State = getEnvOrDefault("SNAKE_STATE_TOPIC", c.Topics.State)
	c.Topics.Action = getEnvOrDefault("SNAKE_ACTION_TOPIC", c.Topics.Action)
	c.Topics.Reset = getEnvOrDefault("SNAKE_RESET_TOPIC", c.Topics.Reset)

	c.Game.CellSize = getEnvIntOrDefault("SNAKE_CELL_SIZE", c.Game.CellSize)
	c.Game.PublishOnReset = getEnvBoolOrDefault("SNAKE_PUBLISH_ON_RESET", c.Game.PublishOnReset)

	c.Record.Enabled = getEnvBoolOrDefault("SNAKE_RECORD", c.Record.Enabled)
	c.Record.Dir = getEnvOrDefault("SNAKE_RECORD_DIR", c.Record.Dir)
	c.Record.MaxRows = getEnvIntOrDefault("SNAKE_RECORD_MAX_ROWS", c.Record.MaxRows)

	c.Log.Format = getEnvOrDefault("SNAKE_LOG_FORMAT", c.Log.Format)
	c.Log.Level = getEnvOrDefault("SNAKE_LOG_LEVEL", c.Log.Level)

	c.TUI = getEnvBoolOrDefault("SNAKE_TUI", c.TUI)
	c.API = getEnvBoolOrDefault("SNAKE_API", c.API)
}

// BindCommon registers the flags both binaries understand. Flags write
// straight into c, so whatever c holds when Parse runs is the default.
func (c *Config) BindCommon(p *flaggy.Parser) {
	p.String(&c.Transport.Kind, "t", "transport", "Message transport ["+strings.Join([]string{TransportMQTT, TransportHub, TransportMemory}, "|")+"]")
	p.String(&c.Transport.BrokerURL, "b", "broker", "MQTT broker URL, e.g. ws://127.0.0.1:8883 or tcp://localhost:1883")
	p.String(&c.Transport.ClientID, "", "client-id", "MQTT client id (random when empty)")
	p.Int(&c.Transport.QoS, "", "qos", "MQTT QoS for publish and subscribe (0-2)")
	p.Duration(&c.Transport.ConnectTimeout, "", "connect-timeout", "Broker connect timeout")
	p.String(&c.Topics.State, "", "state-topic", "Topic observations are published on")
	p.String(&c.Topics.Action, "", "action-topic", "Topic actions arrive on")
	p.String(&c.Topics.Reset, "", "reset-topic", "Topic resets arrive on")
	p.String(&c.Log.Format, "", "log-format", "Log format [text|json|pretty]")
	p.String(&c.Log.Level, "l", "log-level", "Log level [debug|info|warn|error]")
}

// BindSimulator adds the flags only the simulator uses.
func (c *Config) BindSimulator(p *flaggy.Parser) {
	p.String(&c.Transport.ListenAddr, "", "listen", "Address the websocket hub listens on")
	p.String(&c.Transport.Path, "", "hub-path", "HTTP path of the websocket hub")
	p.Int(&c.Game.CellSize, "c", "cell-size", "Cell size in board units; must divide 100")
	p.Bool(&c.Game.PublishOnReset, "", "publish-on-reset", "Publish the fresh observation right after a reset")
	p.Bool(&c.Record.Enabled, "r", "record", "Record transitions to parquet")
	p.String(&c.Record.Dir, "", "record-dir", "Directory for transition batches")
	p.Int(&c.Record.MaxRows, "", "record-max-rows", "Rows per transition batch file")
	p.Bool(&c.TUI, "", "tui", "Show the terminal monitor")
	p.Bool(&c.API, "", "api", "Serve the JSON status API on the listen address")
}

// BindAgent adds the flags only a client of the simulator uses.
func (c *Config) BindAgent(p *flaggy.Parser) {
	p.String(&c.Transport.HubURL, "", "hub-url", "Websocket hub URL to dial when the transport is hub")
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	switch c.Transport.Kind {
	case TransportMQTT:
		if c.Transport.BrokerURL == "" {
			return fmt.Errorf("config: broker url is required for the mqtt transport")
		}
	case TransportHub:
		if c.Transport.Path == "" || !strings.HasPrefix(c.Transport.Path, "/") {
			return fmt.Errorf("config: hub path %q must start with /", c.Transport.Path)
		}
	case TransportMemory:
	default:
		return fmt.Errorf("config: unknown transport %q", c.Transport.Kind)
	}
	if c.Transport.QoS < 0 || c.Transport.QoS > 2 {
		return fmt.Errorf("config: qos %d out of range 0-2", c.Transport.QoS)
	}
	if err := c.Topics.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cs := c.Game.CellSize; cs <= 0 || game.BoardSize%cs != 0 {
		return fmt.Errorf("config: cell size %d must divide the board size %d", cs, game.BoardSize)
	}
	if c.Record.Enabled && c.Record.Dir == "" {
		return fmt.Errorf("config: record dir is required when recording")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case logging.FormatText, logging.FormatJSON, logging.FormatPretty:
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	return nil
}

// Environment variable helpers
func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		var i int
		if _, err := fmt.Sscanf(val, "%d", &i); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1" || val == "yes"
	}
	return defaultVal
}

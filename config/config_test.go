package config

import (
	"testing"
	"time"

	"github.com/integrii/flaggy"
)

func TestDefault_Valid(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if c.Transport.BrokerURL != "ws://127.0.0.1:8883" {
		t.Fatalf("broker=%s", c.Transport.BrokerURL)
	}
	if c.Topics.State != "rl/state" || c.Topics.Action != "rl/action" || c.Topics.Reset != "rl/reset" {
		t.Fatalf("topics=%+v", c.Topics)
	}
	if c.Game.CellSize != 10 || !c.Game.PublishOnReset {
		t.Fatalf("game=%+v", c.Game)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("SNAKE_TRANSPORT", "hub")
	t.Setenv("SNAKE_CELL_SIZE", "20")
	t.Setenv("SNAKE_PUBLISH_ON_RESET", "false")
	t.Setenv("SNAKE_CONNECT_TIMEOUT", "3s")
	t.Setenv("SNAKE_RECORD_MAX_ROWS", "not-a-number")
	t.Setenv("SNAKE_ACTION_TOPIC", "agent/action")

	c := FromEnv()
	if c.Transport.Kind != TransportHub || c.Game.CellSize != 20 || c.Game.PublishOnReset {
		t.Fatalf("config=%+v", c)
	}
	if c.Transport.ConnectTimeout != 3*time.Second {
		t.Fatalf("connect timeout=%s", c.Transport.ConnectTimeout)
	}
	if c.Record.MaxRows != Default().Record.MaxRows {
		t.Fatalf("bad int should keep default, got %d", c.Record.MaxRows)
	}
	if c.Topics.Action != "agent/action" || c.Topics.State != "rl/state" {
		t.Fatalf("topics=%+v", c.Topics)
	}
}

func TestFlags_OverrideEnv(t *testing.T) {
	t.Setenv("SNAKE_CELL_SIZE", "20")
	t.Setenv("SNAKE_LOG_LEVEL", "debug")

	c := FromEnv()
	p := flaggy.NewParser("snakesim")
	c.BindCommon(p)
	c.BindSimulator(p)
	if err := p.ParseArgs([]string{"--cell-size", "25", "-t", "memory", "--record"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Game.CellSize != 25 {
		t.Fatalf("cell size=%d want 25", c.Game.CellSize)
	}
	if c.Transport.Kind != TransportMemory || !c.Record.Enabled {
		t.Fatalf("config=%+v", c)
	}
	if c.Log.Level != "debug" {
		t.Fatalf("env value lost without a flag: %s", c.Log.Level)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidate_Rejects(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*Config)
	}{
		{"cell size not dividing board", func(c *Config) { c.Game.CellSize = 30 }},
		{"zero cell size", func(c *Config) { c.Game.CellSize = 0 }},
		{"unknown transport", func(c *Config) { c.Transport.Kind = "carrier-pigeon" }},
		{"mqtt without broker", func(c *Config) { c.Transport.BrokerURL = "" }},
		{"hub path", func(c *Config) { c.Transport.Kind = TransportHub; c.Transport.Path = "bus" }},
		{"qos", func(c *Config) { c.Transport.QoS = 3 }},
		{"same topics", func(c *Config) { c.Topics.Reset = c.Topics.Action }},
		{"record without dir", func(c *Config) { c.Record.Enabled = true; c.Record.Dir = "" }},
		{"log level", func(c *Config) { c.Log.Level = "chatty" }},
		{"log format", func(c *Config) { c.Log.Format = "yaml" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			tc.mod(&c)
			if err := c.Validate(); err == nil {
				t.Fatalf("accepted %+v", c)
			}
		})
	}
}

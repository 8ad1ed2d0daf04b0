package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// MQTTConfig holds MQTT client configuration.
type MQTTConfig struct {
	BrokerURL      string // e.g. ws://127.0.0.1:8883 or tcp://host:1883
	ClientID       string // generated when empty
	QoS            byte
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	Logger         *slog.Logger
}

// DefaultMQTTConfig matches the broker the browser game connected to.
func DefaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		BrokerURL:      "ws://127.0.0.1:8883",
		QoS:            0,
		ConnectTimeout: 10 * time.Second,
		PublishTimeout: 5 * time.Second,
	}
}

// MQTT is a Bus backed by an MQTT broker. Subscriptions are replayed after
// every reconnect. Publish never waits for the broker: completion errors are
// logged from a background goroutine.
type MQTT struct {
	client mqtt.Client
	cfg    MQTTConfig
	logger *slog.Logger
	subs   subscriptions
	closed atomic.Bool
}

// DialMQTT connects to the broker, giving up when ctx is done or the connect
// timeout elapses.
func DialMQTT(ctx context.Context, cfg MQTTConfig) (*MQTT, error) {
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("mqtt: broker url is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "snakesim-" + uuid.New().String()[:8]
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := &MQTT{cfg: cfg, logger: logger.With("broker", cfg.BrokerURL, "client_id", cfg.ClientID)}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetOnConnectHandler(b.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			b.logger.Warn("mqtt connection lost", "err", err)
		}).
		SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
			b.logger.Info("mqtt reconnecting")
		})
	b.client = mqtt.NewClient(opts)

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	token := b.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return nil, fmt.Errorf("mqtt connect %s: %w", cfg.BrokerURL, err)
		}
	case <-dialCtx.Done():
		b.client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.BrokerURL, dialCtx.Err())
	}
	return b, nil
}

func (b *MQTT) onConnect(c mqtt.Client) {
	b.logger.Info("mqtt connected")
	for _, topic := range b.subs.topics() {
		b.subscribeRemote(c, topic)
	}
}

func (b *MQTT) subscribeRemote(c mqtt.Client, topic string) mqtt.Token {
	token := c.Subscribe(topic, b.cfg.QoS, func(_ mqtt.Client, m mqtt.Message) {
		b.subs.dispatch(m.Topic(), m.Payload())
	})
	go func() {
		if !token.WaitTimeout(b.cfg.PublishTimeout) {
			b.logger.Warn("mqtt subscribe timed out", "topic", topic)
			return
		}
		if err := token.Error(); err != nil {
			b.logger.Warn("mqtt subscribe failed", "topic", topic, "err", err)
		}
	}()
	return token
}

func (b *MQTT) Publish(topic string, payload []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	token := b.client.Publish(topic, b.cfg.QoS, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	default:
	}
	go func() {
		if !token.WaitTimeout(b.cfg.PublishTimeout) {
			b.logger.Warn("mqtt publish timed out", "topic", topic)
			return
		}
		if err := token.Error(); err != nil {
			b.logger.Warn("mqtt publish failed", "topic", topic, "err", err)
		}
	}()
	return nil
}

// Subscribe registers h and subscribes on the broker. The broker
// acknowledgement is awaited in the background.
func (b *MQTT) Subscribe(topic string, h Handler) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if err := b.subs.add(topic, h); err != nil {
		return err
	}
	if b.client.IsConnectionOpen() {
		b.subscribeRemote(b.client, topic)
	}
	return nil
}

func (b *MQTT) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.client.Disconnect(250)
	return nil
}

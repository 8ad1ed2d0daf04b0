package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Frame is the JSON envelope exchanged over a hub websocket. Payload is
// base64 on the wire so arbitrary bytes survive the trip.
type Frame struct {
	Type    string `json:"type"` // "subscribe" | "publish"
	Topic   string `json:"topic"`
	Payload []byte `json:"payload,omitempty"`
}

const (
	FrameSubscribe = "subscribe"
	FramePublish   = "publish"
)

const (
	hubSendBuffer   = 64
	hubWriteTimeout = 5 * time.Second
)

// Hub is a minimal websocket pub/sub router. In-process subscribers register
// with Subscribe; remote peers connect to ServeHTTP and send Frames. Every
// publish, local or remote, reaches every subscriber of the topic.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader
	local    subscriptions

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
	closed  bool
}

type hubClient struct {
	conn   *websocket.Conn
	send   chan []byte
	topics map[string]bool // guarded by Hub.mu
	once   sync.Once
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[*hubClient]struct{}),
	}
}

// ServeHTTP upgrades the request and serves frames until the peer leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c := &hubClient{
		conn:   conn,
		send:   make(chan []byte, hubSendBuffer),
		topics: make(map[string]bool),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "hub closed"))
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.logger.Info("hub client connected", "remote", r.RemoteAddr)
	go h.writePump(c)
	h.readPump(c)
	h.logger.Info("hub client disconnected", "remote", r.RemoteAddr)
}

func (h *Hub) readPump(c *hubClient) {
	defer h.drop(c)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			h.logger.Debug("discarding malformed frame", "err", err)
			continue
		}
		switch f.Type {
		case FrameSubscribe:
			if f.Topic == "" {
				continue
			}
			h.mu.Lock()
			c.topics[f.Topic] = true
			h.mu.Unlock()
		case FramePublish:
			if f.Topic == "" {
				continue
			}
			h.route(f.Topic, f.Payload)
		default:
			h.logger.Debug("discarding frame with unknown type", "type", f.Type)
		}
	}
}

func (h *Hub) writePump(c *hubClient) {
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.drop(c)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) drop(c *hubClient) {
	c.once.Do(func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		close(c.send)
		c.conn.Close()
	})
}

func (h *Hub) route(topic string, payload []byte) {
	h.local.dispatch(topic, payload)

	data, err := json.Marshal(Frame{Type: FramePublish, Topic: topic, Payload: payload})
	if err != nil {
		h.logger.Warn("encode frame failed", "topic", topic, "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.topics[topic] {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("hub client lagging, frame dropped", "topic", topic)
		}
	}
}

func (h *Hub) Publish(topic string, payload []byte) error {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	h.route(topic, payload)
	return nil
}

func (h *Hub) Subscribe(topic string, handler Handler) error {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	return h.local.add(topic, handler)
}

// Close disconnects every client. The HTTP server is owned by the caller.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	clients := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.drop(c)
	}
	return nil
}

// Clients returns the number of connected peers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Subscribers returns the number of remote peers subscribed to topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.clients {
		if c.topics[topic] {
			n++
		}
	}
	return n
}

// WSClient is the remote side of a Hub.
type WSClient struct {
	conn   *websocket.Conn
	logger *slog.Logger
	subs   subscriptions

	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

// DialHub connects to a hub endpoint such as ws://127.0.0.1:8884/bus.
func DialHub(ctx context.Context, url string, logger *slog.Logger) (*WSClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial hub %s: %w", url, err)
	}
	c := &WSClient{conn: conn, logger: logger.With("hub", url), done: make(chan struct{})}
	go c.readLoop()
	return c, nil
}

func (c *WSClient) readLoop() {
	defer c.shutdown()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn("hub connection closed", "err", err)
			}
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil || f.Type != FramePublish {
			continue
		}
		c.subs.dispatch(f.Topic, f.Payload)
	}
}

func (c *WSClient) write(f Frame) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (c *WSClient) Publish(topic string, payload []byte) error {
	return c.write(Frame{Type: FramePublish, Topic: topic, Payload: payload})
}

func (c *WSClient) Subscribe(topic string, h Handler) error {
	if err := c.subs.add(topic, h); err != nil {
		return err
	}
	return c.write(Frame{Type: FrameSubscribe, Topic: topic})
}

func (c *WSClient) shutdown() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *WSClient) Close() error {
	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.shutdown()
	return nil
}

// Done is closed once the connection is gone.
func (c *WSClient) Done() <-chan struct{} {
	return c.done
}

// Package whatsapp implements the WhatsApp channel adapter as a WebSocket
// client of an external bridge process (spec §1/§6 places WhatsApp's own
// pairing/encryption/wire-protocol concerns out of scope for the core —
// the bridge owns that, the organizer only speaks its small JSON
// protocol over one long-lived connection).
package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zapista/organizer/internal/bus"
)

// Config points at the bridge process.
type Config struct {
	BridgeURL string `yaml:"bridge_url"` // e.g. "ws://localhost:3001"
	AuthToken string `yaml:"auth_token"`
}

// frame is the bridge's wire shape in both directions.
type frame struct {
	Type      string `json:"type"` // "message" | "reaction" | "send" | "react"
	ID        string `json:"id,omitempty"`
	From      string `json:"from,omitempty"`
	FromName  string `json:"from_name,omitempty"`
	ChatID    string `json:"chat_id,omitempty"`
	Content   string `json:"content,omitempty"`
	ReplyTo   string `json:"reply_to,omitempty"`
	Emoji     string `json:"emoji,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Remove    bool   `json:"remove,omitempty"`
	AtUnixMS  int64  `json:"at_ms,omitempty"`
}

// Client implements bus.Channel and bus.ReactionChannel against the
// bridge's WebSocket endpoint.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	messages  chan *bus.IncomingMessage
	connected atomic.Bool
	lastMsg   atomic.Value // time.Time
	errCount  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		cfg:      cfg,
		logger:   logger.With("component", "whatsapp"),
		messages: make(chan *bus.IncomingMessage, 256),
	}
}

func (c *Client) Name() string { return "whatsapp" }

// Connect dials the bridge and starts the read pump with reconnect backoff.
func (c *Client) Connect(ctx context.Context) error {
	if c.cfg.BridgeURL == "" {
		return fmt.Errorf("whatsapp: bridge_url is required")
	}
	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.dial(); err != nil {
		return err
	}

	c.wg.Add(1)
	go c.readPump()
	return nil
}

func (c *Client) dial() error {
	header := map[string][]string{}
	if c.cfg.AuthToken != "" {
		header["Authorization"] = []string{"Bearer " + c.cfg.AuthToken}
	}
	conn, _, err := websocket.DefaultDialer.Dial(c.cfg.BridgeURL, header)
	if err != nil {
		return fmt.Errorf("whatsapp: dial bridge: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)
	c.errCount.Store(0)
	return nil
}

func (c *Client) Disconnect() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.connected.Store(false)
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()
	return nil
}

func (c *Client) readPump() {
	defer c.wg.Done()
	backoff := time.Second
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			if err := c.redial(backoff); err != nil {
				return
			}
			continue
		}

		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			c.errCount.Add(1)
			c.connected.Store(false)
			c.logger.Warn("whatsapp: read error, reconnecting", "error", err)
			c.mu.Lock()
			c.conn = nil
			c.mu.Unlock()
			if err := c.redial(backoff); err != nil {
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		c.handleFrame(f)
	}
}

func (c *Client) redial(backoff time.Duration) error {
	select {
	case <-c.ctx.Done():
		return c.ctx.Err()
	case <-time.After(backoff):
	}
	if err := c.dial(); err != nil {
		c.errCount.Add(1)
		c.logger.Warn("whatsapp: redial failed", "error", err)
	}
	return nil
}

func (c *Client) handleFrame(f frame) {
	switch f.Type {
	case "message":
		c.lastMsg.Store(time.Now())
		msg := &bus.IncomingMessage{
			ID:        f.ID,
			Channel:   "whatsapp",
			From:      f.From,
			FromName:  f.FromName,
			ChatID:    f.ChatID,
			Type:      bus.MessageText,
			Content:   f.Content,
			Timestamp: time.UnixMilli(f.AtUnixMS),
			ReplyTo:   f.ReplyTo,
		}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now()
		}
		select {
		case c.messages <- msg:
		case <-c.ctx.Done():
		}
	case "reaction":
		c.lastMsg.Store(time.Now())
		msg := &bus.IncomingMessage{
			ID:        f.ID,
			Channel:   "whatsapp",
			From:      f.From,
			ChatID:    f.ChatID,
			Type:      bus.MessageReaction,
			Timestamp: time.Now(),
			Reaction: &bus.ReactionInfo{
				Emoji:     f.Emoji,
				MessageID: f.MessageID,
				Remove:    f.Remove,
			},
		}
		select {
		case c.messages <- msg:
		case <-c.ctx.Done():
		}
	default:
		c.logger.Debug("whatsapp: unhandled frame type", "type", f.Type)
	}
}

func (c *Client) Send(ctx context.Context, to string, message *bus.OutgoingMessage) error {
	return c.writeJSON(frame{
		Type:    "send",
		ChatID:  to,
		Content: message.Content,
		ReplyTo: message.ReplyTo,
	})
}

func (c *Client) SendReaction(ctx context.Context, chatID, messageID, emoji string) error {
	return c.writeJSON(frame{
		Type:      "react",
		ChatID:    chatID,
		MessageID: messageID,
		Emoji:     emoji,
	})
}

func (c *Client) writeJSON(f frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("whatsapp: not connected")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return conn.WriteJSON(f)
}

func (c *Client) Receive() <-chan *bus.IncomingMessage { return c.messages }

func (c *Client) IsConnected() bool { return c.connected.Load() }

func (c *Client) Health() bus.HealthStatus {
	var lastAt time.Time
	if v := c.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return bus.HealthStatus{
		Connected:     c.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(c.errCount.Load()),
	}
}

var _ bus.ReactionChannel = (*Client)(nil)

// MarshalReaction is a convenience for tests asserting on the wire shape.
func MarshalReaction(emoji, messageID, chatID string) ([]byte, error) {
	return json.Marshal(frame{Type: "react", ChatID: chatID, MessageID: messageID, Emoji: emoji})
}

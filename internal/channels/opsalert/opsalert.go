// Package opsalert implements the ops/diagnostics alert channel: a
// one-way Discord notifier for circuit-breaker trips and painpoint
// registrations. It is not a second user-facing tenant — it never
// receives commands, only emits.
package opsalert

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/zapista/organizer/internal/bus"
)

// Config points the notifier at one Discord channel.
type Config struct {
	Token     string `yaml:"token"`
	ChannelID string `yaml:"channel_id"`
}

// Notifier implements bus.Channel with a Receive() that never yields
// anything — operators read alerts in Discord directly, the organizer
// never routes a reply to them.
type Notifier struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session

	messages  chan *bus.IncomingMessage
	connected atomic.Bool
	lastMsg   atomic.Value // time.Time
	errCount  atomic.Int64
}

func New(cfg Config, logger *slog.Logger) *Notifier {
	return &Notifier{
		cfg:      cfg,
		logger:   logger.With("component", "opsalert"),
		messages: make(chan *bus.IncomingMessage),
	}
}

func (n *Notifier) Name() string { return "opsalert" }

func (n *Notifier) Connect(ctx context.Context) error {
	if n.cfg.Token == "" || n.cfg.ChannelID == "" {
		return fmt.Errorf("opsalert: token and channel_id are required")
	}
	session, err := discordgo.New("Bot " + n.cfg.Token)
	if err != nil {
		return fmt.Errorf("opsalert: creating session: %w", err)
	}
	if err := session.Open(); err != nil {
		return fmt.Errorf("opsalert: opening gateway: %w", err)
	}
	n.session = session
	n.connected.Store(true)
	return nil
}

func (n *Notifier) Disconnect() error {
	if n.session != nil {
		_ = n.session.Close()
	}
	n.connected.Store(false)
	return nil
}

// Send posts content to the configured ops channel; `to` is ignored since
// this notifier only ever has one destination.
func (n *Notifier) Send(ctx context.Context, to string, message *bus.OutgoingMessage) error {
	if n.session == nil {
		return fmt.Errorf("opsalert: not connected")
	}
	_, err := n.session.ChannelMessageSend(n.cfg.ChannelID, message.Content)
	if err != nil {
		n.errCount.Add(1)
		return err
	}
	n.lastMsg.Store(time.Now())
	return nil
}

// Alert posts text to the configured ops channel directly rather than going
// through bus.Manager.Send, since ops alerts never originate from a chat
// turn. No package in this repository calls it.
func (n *Notifier) Alert(ctx context.Context, text string) error {
	return n.Send(ctx, n.cfg.ChannelID, &bus.OutgoingMessage{Content: text})
}

func (n *Notifier) Receive() <-chan *bus.IncomingMessage { return n.messages }

func (n *Notifier) IsConnected() bool { return n.connected.Load() }

func (n *Notifier) Health() bus.HealthStatus {
	var lastAt time.Time
	if v := n.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return bus.HealthStatus{
		Connected:     n.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(n.errCount.Load()),
	}
}

var _ bus.Channel = (*Notifier)(nil)

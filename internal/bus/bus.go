// Package bus implements the Message Bus (spec's C1): a single
// aggregation point for every channel adapter's inbound stream, and the
// outbound dispatch surface the rest of the system publishes through.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// MessageType tags IncomingMessage.Type. The organizer only ever needs
// text and reaction messages — the emoji-driven snooze/complete handlers
// of the router read Reaction, everything else is plain text.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageReaction MessageType = "reaction"
)

// IncomingMessage is one message received from any channel, normalized to
// the shape the router and agent loop operate on.
type IncomingMessage struct {
	ID        string
	Channel   string
	From      string
	FromName  string
	ChatID    string
	Type      MessageType
	Content   string
	Timestamp time.Time
	ReplyTo   string
	Reaction  *ReactionInfo
}

// ReactionInfo carries an emoji reaction to a prior message — the bridge
// for the ⏰ (snooze) / 👍 (complete) reactive handlers spec §4.4 names.
type ReactionInfo struct {
	Emoji     string
	MessageID string
	Remove    bool
}

// OutgoingMessage is one message to deliver through a channel.
type OutgoingMessage struct {
	Content string
	ReplyTo string
}

// HealthStatus is a channel's self-reported health, for a /health route to
// surface.
type HealthStatus struct {
	Connected     bool
	LastMessageAt time.Time
	ErrorCount    int
	Details       map[string]any
}

// Channel is the contract every transport adapter implements —
// internal/channels/whatsapp and internal/channels/opsalert.
type Channel interface {
	Name() string
	Connect(ctx context.Context) error
	Disconnect() error
	Send(ctx context.Context, to string, msg *OutgoingMessage) error
	Receive() <-chan *IncomingMessage
	IsConnected() bool
	Health() HealthStatus
}

// ReactionChannel is implemented by channels that can surface emoji
// reactions as their own event (WhatsApp does; the ops-alert Discord
// channel does not need to).
type ReactionChannel interface {
	Channel
	SendReaction(ctx context.Context, chatID, messageID, emoji string) error
}

// Manager aggregates every registered Channel's inbound stream into one
// queue and exposes a single outbound Publish/Send surface keyed by
// channel name — internal/scheduler.Outbound and internal/tools'
// `message` tool both depend on nothing more than this.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]Channel
	messages chan *IncomingMessage
	logger   *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	listenWg sync.WaitGroup
}

func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		channels: make(map[string]Channel),
		messages: make(chan *IncomingMessage, 256),
		logger:   logger.With("component", "bus"),
	}
}

// Register adds a channel. Must be called before Start.
func (m *Manager) Register(ch Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.channels[ch.Name()]; exists {
		return fmt.Errorf("bus: channel %q already registered", ch.Name())
	}
	m.channels[ch.Name()] = ch
	return nil
}

// Start connects every registered channel and begins draining their
// inbound streams into Messages(). A channel that fails to connect is
// logged and skipped rather than aborting the others.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.mu.RLock()
	snapshot := make(map[string]Channel, len(m.channels))
	for k, v := range m.channels {
		snapshot[k] = v
	}
	m.mu.RUnlock()

	connected := 0
	for name, ch := range snapshot {
		if err := ch.Connect(m.ctx); err != nil {
			m.logger.Error("channel connect failed", "channel", name, "error", err)
			continue
		}
		connected++
		m.listenWg.Add(1)
		go func(c Channel) {
			defer m.listenWg.Done()
			m.drain(c)
		}(ch)
	}
	if connected == 0 && len(snapshot) > 0 {
		return fmt.Errorf("bus: no channel connected successfully")
	}
	return nil
}

func (m *Manager) drain(ch Channel) {
	incoming := ch.Receive()
	for {
		select {
		case msg, ok := <-incoming:
			if !ok {
				return
			}
			select {
			case m.messages <- msg:
			case <-m.ctx.Done():
				return
			}
		case <-m.ctx.Done():
			return
		}
	}
}

// Stop disconnects every channel and waits for their drain goroutines to
// exit before closing the aggregated stream.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.RLock()
	for name, ch := range m.channels {
		if err := ch.Disconnect(); err != nil {
			m.logger.Error("channel disconnect error", "channel", name, "error", err)
		}
	}
	m.mu.RUnlock()
	m.listenWg.Wait()
	close(m.messages)
}

// Messages returns the aggregated inbound stream.
func (m *Manager) Messages() <-chan *IncomingMessage {
	return m.messages
}

// Publish sends plain text to one chat on one channel. Implements
// internal/scheduler.Outbound.
func (m *Manager) Publish(ctx context.Context, channel, chatID, text string) error {
	return m.Send(ctx, channel, chatID, &OutgoingMessage{Content: text})
}

// Send delivers msg through the named channel.
func (m *Manager) Send(ctx context.Context, channel, to string, msg *OutgoingMessage) error {
	m.mu.RLock()
	ch, ok := m.channels[channel]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("bus: channel %q not registered", channel)
	}
	if !ch.IsConnected() {
		return fmt.Errorf("bus: channel %q disconnected", channel)
	}
	return ch.Send(ctx, to, msg)
}

// HealthAll reports every registered channel's health, for /health.
func (m *Manager) HealthAll() map[string]HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]HealthStatus, len(m.channels))
	for name, ch := range m.channels {
		out[name] = ch.Health()
	}
	return out
}

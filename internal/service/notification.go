package service

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Event is a pipeline notification: an order changed state, a trade
// executed, or a position moved.
type Event struct {
	Type    string    `json:"type"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

// Event types published by the pipeline.
const (
	EventOrderCreated    = "order_created"
	EventOrderRejected   = "order_rejected"
	EventOrderFilled     = "order_filled"
	EventOrderPartial    = "order_partially_filled"
	EventOrderCancelled  = "order_cancelled"
	EventOrderExpired    = "order_expired"
	EventOrderUpdated    = "order_updated"
	EventTradeExecuted   = "trade_executed"
	EventPositionChanged = "position_changed"
	EventRiskHalt        = "risk_halt"
)

// Channel delivers events to one destination.
type Channel interface {
	Name() string
	Send(e Event) error
}

// NotificationService fans events out to its channels. A failing or
// panicking channel is logged and skipped; delivery is best-effort and never
// blocks the trading pipeline's correctness.
type NotificationService struct {
	log *slog.Logger

	mu       sync.RWMutex
	channels []Channel
}

// NewNotificationService creates the service with no channels.
func NewNotificationService(log *slog.Logger) *NotificationService {
	return &NotificationService{log: log.With("component", "notifications")}
}

// AddChannel registers a delivery channel.
func (s *NotificationService) AddChannel(c Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = append(s.channels, c)
}

// Publish sends the event to every channel.
func (s *NotificationService) Publish(e Event) {
	s.mu.RLock()
	channels := make([]Channel, len(s.channels))
	copy(channels, s.channels)
	s.mu.RUnlock()

	for _, c := range channels {
		s.send(c, e)
	}
}

func (s *NotificationService) send(c Channel, e Event) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("notification channel panicked", "channel", c.Name(), "panic", r)
		}
	}()
	if err := c.Send(e); err != nil {
		s.log.Warn("notification delivery failed", "channel", c.Name(), "type", e.Type, "error", err)
	}
}

// LogChannel writes events to the structured log.
type LogChannel struct {
	Log *slog.Logger
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Send(e Event) error {
	c.Log.Info("event", "type", e.Type, "at", e.At, "payload", e.Payload)
	return nil
}

// Broadcaster is the piece of the websocket hub the channel needs.
type Broadcaster interface {
	Broadcast(payload []byte)
}

// WebsocketChannel pushes events to websocket subscribers as JSON.
type WebsocketChannel struct {
	Hub Broadcaster
}

func (c *WebsocketChannel) Name() string { return "websocket" }

func (c *WebsocketChannel) Send(e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	c.Hub.Broadcast(payload)
	return nil
}

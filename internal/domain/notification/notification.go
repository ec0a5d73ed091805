package notification

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Stream event names pushed to subscribers of a trade.
const (
	EventTradeUpdated = "trade.updated"
	EventTimeline     = "trade.timeline"
	EventHeartbeat    = "heartbeat"
)

// TradeGroup is the fan-out group of one trade session.
func TradeGroup(sessionID uuid.UUID) string {
	return "trade:" + sessionID.String()
}

// SSEClient represents an active SSE connection
type SSEClient struct {
	ClientID    string
	UserID      string
	Groups      []string
	ConnectedAt time.Time
	MessageChan chan *SSEMessage
}

// NewSSEClient creates a client with a buffered outbox.
func NewSSEClient(userID string, groups []string, buffer int) *SSEClient {
	if buffer <= 0 {
		buffer = 32
	}
	return &SSEClient{
		ClientID:    uuid.NewString(),
		UserID:      userID,
		Groups:      groups,
		ConnectedAt: time.Now().UTC(),
		MessageChan: make(chan *SSEMessage, buffer),
	}
}

// Close closes the client's message channel
func (c *SSEClient) Close() {
	close(c.MessageChan)
}

// SSEMessage represents a message to be sent via SSE
type SSEMessage struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewSSEMessage marshals data into a message.
func NewSSEMessage(event string, data interface{}) (*SSEMessage, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &SSEMessage{
		ID:        uuid.NewString(),
		Event:     event,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

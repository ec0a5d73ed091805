package sse

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/escrow-hub/escrow-hub/internal/domain/notification"
)

// Hub manages SSE clients, indexed by the groups they follow.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]*notification.SSEClient
	groups    map[string]map[string]*notification.SSEClient
	heartbeat time.Duration
	logger    zerolog.Logger
	done      chan struct{}
	stopOnce  sync.Once
}

func NewHub(heartbeat time.Duration, logger zerolog.Logger) *Hub {
	return &Hub{
		clients:   make(map[string]*notification.SSEClient),
		groups:    make(map[string]map[string]*notification.SSEClient),
		heartbeat: heartbeat,
		logger:    logger.With().Str("component", "sse_hub").Logger(),
		done:      make(chan struct{}),
	}
}

func (h *Hub) Register(client *notification.SSEClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ClientID] = client
	for _, g := range client.Groups {
		members := h.groups[g]
		if members == nil {
			members = make(map[string]*notification.SSEClient)
			h.groups[g] = members
		}
		members[client.ClientID] = client
	}
}

func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(clientID)
}

func (h *Hub) removeLocked(clientID string) {
	c, ok := h.clients[clientID]
	if !ok {
		return
	}
	for _, g := range c.Groups {
		delete(h.groups[g], clientID)
		if len(h.groups[g]) == 0 {
			delete(h.groups, g)
		}
	}
	delete(h.clients, clientID)
	c.Close()
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastToGroup returns the number of clients that accepted the message.
// Clients with a full buffer miss it.
func (h *Hub) BroadcastToGroup(group string, message *notification.SSEMessage) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for _, c := range h.groups[group] {
		if trySend(c, message) {
			sent++
		} else {
			h.logger.Warn().Str("client_id", c.ClientID).Str("group", group).Msg("sse client buffer full, message dropped")
		}
	}
	return sent
}

// Start sends heartbeats until ctx ends or Stop is called.
func (h *Hub) Start(ctx context.Context) {
	if h.heartbeat <= 0 {
		return
	}
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			msg, err := notification.NewSSEMessage(notification.EventHeartbeat, map[string]int64{"ts": time.Now().Unix()})
			if err != nil {
				continue
			}
			h.mu.RLock()
			for _, c := range h.clients {
				trySend(c, msg)
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.clients {
		h.removeLocked(id)
	}
}

func trySend(c *notification.SSEClient, msg *notification.SSEMessage) bool {
	select {
	case c.MessageChan <- msg:
		return true
	default:
		return false
	}
}

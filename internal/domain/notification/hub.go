package notification

import "context"

// SSEHub fans messages out to connected stream clients. Publishers never
// block on slow clients.
type SSEHub interface {
	Register(client *SSEClient)
	Unregister(clientID string)
	ClientCount() int
	BroadcastToGroup(group string, message *SSEMessage) int
	Start(ctx context.Context)
	Stop()
}

package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/escrow-hub/escrow-hub/internal/domain/notification"
)

// MockSSEHub is a mock implementation of notification.SSEHub
type MockSSEHub struct {
	mock.Mock
}

func (m *MockSSEHub) Register(client *notification.SSEClient) {
	m.Called(client)
}

func (m *MockSSEHub) Unregister(clientID string) {
	m.Called(clientID)
}

func (m *MockSSEHub) ClientCount() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockSSEHub) BroadcastToGroup(group string, message *notification.SSEMessage) int {
	args := m.Called(group, message)
	return args.Int(0)
}

func (m *MockSSEHub) Start(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockSSEHub) Stop() {
	m.Called()
}

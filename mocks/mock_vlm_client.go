package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"medcoder/internal/port"
)

// MockVLMClient is a mock implementation of port.VLMClient.
type MockVLMClient struct {
	mock.Mock
}

func (m *MockVLMClient) Submit(ctx context.Context, input port.SubmitInput) (string, error) {
	args := m.Called(ctx, input)
	return args.String(0), args.Error(1)
}

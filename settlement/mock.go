package settlement

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockExecutor mocks the SettlementExecutor interface
type MockExecutor struct {
	mock.Mock
}

// NewMockExecutor creates a new mock settlement executor
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{}
}

// Send mocks the Send method
func (m *MockExecutor) Send(ctx context.Context, source, destination string, amount float64, memo, idempotencyRef string) (string, error) {
	args := m.Called(source, destination, amount, memo, idempotencyRef)
	return args.String(0), args.Error(1)
}

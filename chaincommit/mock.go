package chaincommit

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"

	"github.com/civitas-pay/payroll-provisioning-backend/interfaces"
)

// MockCommitter mocks the RunCommitter interface
type MockCommitter struct {
	mock.Mock
}

// Commit mocks the Commit method
func (m *MockCommitter) Commit(ctx context.Context, run interfaces.RunCommit) (string, error) {
	args := m.Called(run)
	return args.String(0), args.Error(1)
}

// MockVerifier mocks the ProofVerifier interface
type MockVerifier struct {
	mock.Mock
}

// Verify mocks the Verify method
func (m *MockVerifier) Verify(ctx context.Context, proof json.RawMessage, publicSignals []string, declaredTotal string) (bool, error) {
	args := m.Called(publicSignals, declaredTotal)
	return args.Bool(0), args.Error(1)
}

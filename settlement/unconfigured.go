package settlement

import (
	"context"
	"fmt"

	"github.com/civitas-pay/payroll-provisioning-backend/interfaces"
)

// UnconfiguredExecutor stands in when no wallet RPC is configured. Every
// settlement attempt fails as a configuration error and the voucher
// stays issued.
type UnconfiguredExecutor struct{}

// Send always refuses.
func (UnconfiguredExecutor) Send(ctx context.Context, source, destination string, amount float64, memo, idempotencyRef string) (string, error) {
	return "", fmt.Errorf("%w: no settlement executor configured", interfaces.ErrConfiguration)
}

// Package voucher implements the payment voucher state machine and the
// single-use credential-download vouchers.
package voucher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/civitas-pay/payroll-provisioning-backend/interfaces"
	"github.com/civitas-pay/payroll-provisioning-backend/metrics"
)

// DefaultSettlementTimeout bounds a single settlement attempt. The
// executor itself may poll; the bound covers the whole attempt.
const DefaultSettlementTimeout = 90 * time.Second

// shieldedPrefixes are the accepted destination address prefixes.
// Transparent addresses would leak amounts and are refused up front.
var shieldedPrefixes = []string{"zs", "ztestsapling"}

// Lifecycle drives payment vouchers from issued to redeemed. Redemption
// settles at most once: a per-voucher claim lock keeps concurrent calls
// from reaching the executor twice, and the store's check-and-set update
// keeps crashed or raced claims from committing twice.
type Lifecycle struct {
	store    interfaces.IdentityStore
	executor interfaces.SettlementExecutor
	source   string
	timeout  time.Duration
	log      *slog.Logger

	claims sync.Map // voucher id -> struct{}
}

// LifecycleConfig configures a Lifecycle.
type LifecycleConfig struct {
	Store    interfaces.IdentityStore
	Executor interfaces.SettlementExecutor

	// SourceAccount is the funding account settlements are paid from.
	SourceAccount string

	// SettlementTimeout defaults to DefaultSettlementTimeout.
	SettlementTimeout time.Duration

	Log *slog.Logger
}

// NewLifecycle wires a payment voucher lifecycle.
func NewLifecycle(cfg LifecycleConfig) (*Lifecycle, error) {
	if cfg.Store == nil || cfg.Executor == nil {
		return nil, fmt.Errorf("%w: lifecycle requires a store and an executor", interfaces.ErrConfiguration)
	}
	if cfg.SourceAccount == "" {
		return nil, fmt.Errorf("%w: settlement source account not set", interfaces.ErrConfiguration)
	}
	timeout := cfg.SettlementTimeout
	if timeout <= 0 {
		timeout = DefaultSettlementTimeout
	}
	return &Lifecycle{
		store:    cfg.Store,
		executor: cfg.Executor,
		source:   cfg.SourceAccount,
		timeout:  timeout,
		log:      cfg.Log,
	}, nil
}

// ShieldedAddress reports whether the destination is an accepted
// shielded address.
func ShieldedAddress(addr string) bool {
	for _, prefix := range shieldedPrefixes {
		if strings.HasPrefix(addr, prefix) {
			return true
		}
	}
	return false
}

// Redeem settles the identity's voucher to the destination address and
// marks it redeemed. The voucher id doubles as the executor's idempotency
// reference, so even a retried send cannot pay twice. A voucher already
// redeemed, or currently being redeemed by another call, yields
// ErrConflict without touching the executor. On executor failure the
// voucher stays issued and may be retried.
func (l *Lifecycle) Redeem(ctx context.Context, identityID interfaces.IdentityID, voucherID, destination, memo string) (*interfaces.PaymentVoucher, error) {
	if !ShieldedAddress(destination) {
		return nil, fmt.Errorf("%w: destination is not a shielded address", interfaces.ErrValidation)
	}

	if _, raced := l.claims.LoadOrStore(voucherID, struct{}{}); raced {
		return nil, fmt.Errorf("%w: voucher settlement already in progress", interfaces.ErrConflict)
	}
	defer l.claims.Delete(voucherID)

	record, err := l.store.Get(ctx, identityID)
	if err != nil {
		return nil, err
	}
	target := record.Voucher(voucherID)
	if target == nil {
		return nil, fmt.Errorf("%w: voucher %s", interfaces.ErrNotFound, voucherID)
	}
	if target.Status != interfaces.VoucherIssued {
		return nil, fmt.Errorf("%w: voucher already redeemed", interfaces.ErrConflict)
	}

	if memo == "" {
		memo = target.Memo
	}

	sendCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	txid, err := l.executor.Send(sendCtx, l.source, destination, target.Amount, memo, "voucher:"+voucherID)
	if err != nil {
		metrics.SettlementsFailed.Inc()
		l.log.Error("Settlement failed, voucher stays issued",
			"err", err,
			slog.String("voucherID", voucherID),
			slog.String("identityID", identityID.String()))
		return nil, fmt.Errorf("%w: %v", interfaces.ErrSettlementFailed, err)
	}

	updated, err := l.store.Update(ctx, identityID, func(r *interfaces.IdentityRecord) error {
		v := r.Voucher(voucherID)
		if v == nil {
			return fmt.Errorf("%w: voucher %s", interfaces.ErrNotFound, voucherID)
		}
		if v.Status != interfaces.VoucherIssued {
			return fmt.Errorf("%w: voucher already redeemed", interfaces.ErrConflict)
		}
		now := time.Now().UTC()
		v.Status = interfaces.VoucherRedeemed
		v.SettlementTxID = txid
		v.UpdatedAt = &now
		r.UpdatedAt = now
		return nil
	})
	if err != nil {
		// Funds moved but the flip did not persist. The txid is logged so
		// an operator can reconcile; the idempotency reference makes a
		// retried send a no-op on the payment side.
		l.log.Error("Settled but failed to persist voucher state",
			"err", err,
			slog.String("voucherID", voucherID),
			slog.String("txid", txid))
		return nil, err
	}

	metrics.SettlementsSucceeded.Inc()
	l.log.Info("Voucher settled",
		slog.String("voucherID", voucherID),
		slog.String("identityID", identityID.String()),
		slog.String("txid", txid))

	return updated.Voucher(voucherID), nil
}

// SettleRun redeems every issued voucher of a payroll run to each
// identity's stored wallet address. Identities without a shielded wallet
// address are skipped and reported. Used by the employer-side batch
// settlement endpoint.
func (l *Lifecycle) SettleRun(ctx context.Context, runID string) (settled []string, skipped []string, err error) {
	records, err := l.store.List(ctx)
	if err != nil {
		return nil, nil, err
	}

	for _, record := range records {
		for i := range record.Vouchers {
			v := record.Vouchers[i]
			if v.Status != interfaces.VoucherIssued {
				continue
			}
			if runID != "" && v.RunID != runID {
				continue
			}
			if !ShieldedAddress(record.Profile.WalletAddress) {
				skipped = append(skipped, v.VoucherID)
				continue
			}
			if _, err := l.Redeem(ctx, record.ID, v.VoucherID, record.Profile.WalletAddress, v.Memo); err != nil {
				l.log.Warn("Batch settlement item failed",
					"err", err, slog.String("voucherID", v.VoucherID))
				skipped = append(skipped, v.VoucherID)
				continue
			}
			settled = append(settled, v.VoucherID)
		}
	}
	return settled, skipped, nil
}

// Package settlement talks to a Zcash node to move shielded funds for
// voucher redemptions.
package settlement

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/civitas-pay/payroll-provisioning-backend/interfaces"
)

// pollInterval is how often an async send operation is re-checked.
const pollInterval = 2 * time.Second

// ZcashExecutor settles vouchers through a zcashd wallet's JSON-RPC
// interface using z_sendmany plus z_getoperationstatus polling.
type ZcashExecutor struct {
	rpcURL  string
	rpcUser string
	rpcPass string
	client  *http.Client
	log     *slog.Logger
}

// ZcashConfig configures a ZcashExecutor.
type ZcashConfig struct {
	RPCURL  string
	RPCUser string
	RPCPass string
	Log     *slog.Logger
}

// NewZcashExecutor wires a settlement executor against a zcashd node.
func NewZcashExecutor(cfg ZcashConfig) (*ZcashExecutor, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("%w: zcash rpc url not set", interfaces.ErrConfiguration)
	}
	return &ZcashExecutor{
		rpcURL:  cfg.RPCURL,
		rpcUser: cfg.RPCUser,
		rpcPass: cfg.RPCPass,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     cfg.Log,
	}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type operationStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Result struct {
		TxID string `json:"txid"`
	} `json:"result"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Send pays amount from source to destination. The idempotency reference
// rides along as the shielded output's memo, so the payment stays
// attributable to its voucher on-chain. Send blocks until the wallet
// reports the operation finished or ctx expires.
func (z *ZcashExecutor) Send(ctx context.Context, source, destination string, amount float64, memo, idempotencyRef string) (string, error) {
	noteMemo := idempotencyRef
	if memo != "" {
		noteMemo = idempotencyRef + " " + memo
	}

	outputs := []map[string]any{{
		"address": destination,
		"amount":  amount,
		"memo":    hex.EncodeToString([]byte(noteMemo)),
	}}

	var opid string
	if err := z.call(ctx, "z_sendmany", []any{source, outputs, 1}, &opid); err != nil {
		return "", err
	}
	z.log.Debug("Settlement operation submitted",
		slog.String("opid", opid), slog.String("ref", idempotencyRef))

	return z.awaitOperation(ctx, opid)
}

func (z *ZcashExecutor) awaitOperation(ctx context.Context, opid string) (string, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		var statuses []operationStatus
		if err := z.call(ctx, "z_getoperationstatus", []any{[]string{opid}}, &statuses); err != nil {
			return "", err
		}
		for _, st := range statuses {
			if st.ID != opid {
				continue
			}
			switch st.Status {
			case "success":
				return st.Result.TxID, nil
			case "failed", "cancelled":
				return "", fmt.Errorf("operation %s %s: %s", opid, st.Status, st.Error.Message)
			}
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("waiting for operation %s: %w", opid, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (z *ZcashExecutor) call(ctx context.Context, method string, params []any, result any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "1.0", ID: "payroll", Method: method, Params: params})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, z.rpcURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if z.rpcUser != "" {
		req.SetBasicAuth(z.rpcUser, z.rpcPass)
	}

	resp, err := z.client.Do(req)
	if err != nil {
		return fmt.Errorf("zcash rpc %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("zcash rpc %s: %w", method, err)
	}

	var parsed rpcResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("zcash rpc %s: malformed response: %w", method, err)
	}
	if parsed.Error != nil {
		return fmt.Errorf("zcash rpc %s: %s (code %d)", method, parsed.Error.Message, parsed.Error.Code)
	}
	if result != nil {
		if err := json.Unmarshal(parsed.Result, result); err != nil {
			return fmt.Errorf("zcash rpc %s: malformed result: %w", method, err)
		}
	}
	return nil
}

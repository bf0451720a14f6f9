// Package chaincommit records accepted payroll roots on an Ethereum
// chain so runs become externally auditable.
package chaincommit

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/civitas-pay/payroll-provisioning-backend/interfaces"
)

// commitGasLimit covers a plain calldata-carrying transfer.
const commitGasLimit = 120_000

// EthereumCommitter anchors a payroll root in transaction calldata
// addressed at a fixed registry address. The root is opaque; nothing
// on-chain interprets it.
type EthereumCommitter struct {
	client   *ethclient.Client
	key      *ecdsa.PrivateKey
	from     common.Address
	registry common.Address
	chainID  *big.Int
	log      *slog.Logger
}

// CommitterConfig configures an EthereumCommitter.
type CommitterConfig struct {
	RPCURL        string
	PrivateKeyHex string
	RegistryAddr  string
	Log           *slog.Logger
}

// NewEthereumCommitter dials the chain and validates the signing key.
func NewEthereumCommitter(ctx context.Context, cfg CommitterConfig) (*EthereumCommitter, error) {
	if cfg.RPCURL == "" || cfg.PrivateKeyHex == "" || cfg.RegistryAddr == "" {
		return nil, fmt.Errorf("%w: chain committer requires rpc url, key, and registry address", interfaces.ErrConfiguration)
	}

	key, err := crypto.HexToECDSA(cfg.PrivateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed committer key: %v", interfaces.ErrConfiguration, err)
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial chain rpc: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query chain id: %w", err)
	}

	return &EthereumCommitter{
		client:   client,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		registry: common.HexToAddress(cfg.RegistryAddr),
		chainID:  chainID,
		log:      cfg.Log,
	}, nil
}

// commitRecord is the calldata payload. Proof material stays off-chain;
// only the run id, the root, and the declared total are anchored.
type commitRecord struct {
	RunID       string `json:"run_id"`
	PayrollRoot string `json:"payroll_root"`
	TotalAmount string `json:"total_amount"`
}

// Commit anchors the run's payroll root and returns the transaction hash.
func (c *EthereumCommitter) Commit(ctx context.Context, run interfaces.RunCommit) (string, error) {
	if run.PayrollRoot == "" {
		return "", fmt.Errorf("%w: empty payroll root", interfaces.ErrValidation)
	}

	data, err := json.Marshal(commitRecord{
		RunID:       run.RunID,
		PayrollRoot: run.PayrollRoot,
		TotalAmount: run.TotalAmount,
	})
	if err != nil {
		return "", err
	}

	nonce, err := c.client.PendingNonceAt(ctx, c.from)
	if err != nil {
		return "", fmt.Errorf("failed to fetch nonce: %w", err)
	}
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch gas price: %w", err)
	}

	tx := types.NewTransaction(nonce, c.registry, big.NewInt(0), commitGasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign commit transaction: %w", err)
	}

	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("failed to send commit transaction: %w", err)
	}

	txHash := signed.Hash().Hex()
	c.log.Info("Payroll root committed",
		slog.String("runID", run.RunID),
		slog.String("root", run.PayrollRoot),
		slog.String("txHash", txHash))
	return txHash, nil
}

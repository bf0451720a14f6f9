package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	vault "github.com/hashicorp/vault/api"

	"github.com/civitas-pay/payroll-provisioning-backend/interfaces"
)

// vaultBlob stores the identity document in a HashiCorp Vault KV v2
// secret. The document lives under a single key so Vault's versioning
// doubles as a write history of the store.
type vaultBlob struct {
	client    *vault.Client
	mountPath string
	dataPath  string
}

// NewVaultStore opens an identity store backed by Vault.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - token: Vault token with read/write access to the mount
//   - mountPath: KV v2 mount (e.g. "secret")
//   - dataPath: path within the mount (e.g. "payroll/identities")
func NewVaultStore(address, token, mountPath, dataPath string, log *slog.Logger) (*DocumentStore, error) {
	config := vault.DefaultConfig()
	config.Address = address
	config.Timeout = 30 * time.Second

	client, err := vault.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Vault client: %v", interfaces.ErrConfiguration, err)
	}
	client.SetToken(token)

	blob := &vaultBlob{
		client:    client,
		mountPath: strings.Trim(mountPath, "/"),
		dataPath:  strings.Trim(dataPath, "/"),
	}
	return newDocumentStore(context.Background(), blob, log)
}

func (b *vaultBlob) secretPath() string {
	return fmt.Sprintf("%s/data/%s", b.mountPath, b.dataPath)
}

func (b *vaultBlob) Load(ctx context.Context) ([]byte, error) {
	secret, err := b.client.Logical().ReadWithContext(ctx, b.secretPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read from Vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, errNoDocument
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, errNoDocument
	}
	document, ok := data["document"].(string)
	if !ok {
		return nil, errNoDocument
	}
	return []byte(document), nil
}

func (b *vaultBlob) Save(ctx context.Context, data []byte) error {
	_, err := b.client.Logical().WriteWithContext(ctx, b.secretPath(), map[string]interface{}{
		"data": map[string]interface{}{
			"document": string(data),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to write to Vault: %w", err)
	}
	return nil
}

func (b *vaultBlob) Name() string {
	return fmt.Sprintf("vault-%s", b.dataPath)
}

package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/civitas-pay/payroll-provisioning-backend/interfaces"
)

// fileBlob stores the identity document as a single JSON file on the
// local filesystem. Writes go through a temp file and rename so a crash
// mid-write never leaves a partial document behind.
type fileBlob struct {
	path string
}

// NewFileStore opens (or creates) a flat-file identity store at path.
func NewFileStore(path string, log *slog.Logger) (*DocumentStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed to create store directory: %v", interfaces.ErrConfiguration, err)
	}
	return newDocumentStore(context.Background(), &fileBlob{path: path}, log)
}

func (b *fileBlob) Load(ctx context.Context) ([]byte, error) {
	raw, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return nil, errNoDocument
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", b.path, err)
	}
	return raw, nil
}

func (b *fileBlob) Save(ctx context.Context, data []byte) error {
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", b.path, err)
	}
	return nil
}

func (b *fileBlob) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.path))
}

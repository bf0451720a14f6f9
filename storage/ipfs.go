package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	shell "github.com/ipfs/go-ipfs-api"

	"github.com/civitas-pay/payroll-provisioning-backend/interfaces"
)

// IPFSArchive stores encrypted credential bundles in IPFS. Bundles never
// change while the identity's nonce is unchanged, so content addressing
// fits: re-archiving the same bundle yields the same CID.
type IPFSArchive struct {
	shell *shell.Shell
	log   *slog.Logger
}

// NewIPFSArchive creates an archive talking to the IPFS API at apiAddr
// (e.g. "localhost:5001" or a multiaddr).
func NewIPFSArchive(apiAddr string, log *slog.Logger) *IPFSArchive {
	return &IPFSArchive{shell: shell.NewShell(apiAddr), log: log}
}

// Archive adds the serialized credential file and returns its CID. Only
// ciphertext leaves the process; archiving discloses nothing the
// credential download endpoint would not.
func (a *IPFSArchive) Archive(ctx context.Context, file interfaces.CredentialFile) (string, error) {
	raw, err := json.Marshal(file)
	if err != nil {
		return "", fmt.Errorf("failed to serialize credential file: %w", err)
	}

	cid, err := a.shell.Add(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("failed to archive credential bundle: %w", err)
	}

	a.log.Debug("Archived credential bundle",
		slog.String("identityID", file.IdentityID.String()),
		slog.String("cid", cid))
	return cid, nil
}

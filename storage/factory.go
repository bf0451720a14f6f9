package storage

import (
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/civitas-pay/payroll-provisioning-backend/interfaces"
)

// StoreFactory creates identity stores from location URIs.
type StoreFactory struct {
	log *slog.Logger
}

// NewStoreFactory creates a factory instance.
func NewStoreFactory(log *slog.Logger) *StoreFactory {
	return &StoreFactory{log: log}
}

// StoreFor creates an identity store from a location URI.
//
// Supported schemes:
//   - memory:// - in-memory store, lost on restart
//   - file:///path/to/identities.json - local flat-file store
//   - s3://accessKey:secretKey@bucket/key?region=...&endpoint=... - S3 object
//   - vault://token@host:port/mount/path?tls=false - Vault KV v2 secret
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func (f *StoreFactory) StoreFor(locationURI string) (interfaces.IdentityStore, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid store URI: %v", interfaces.ErrConfiguration, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(u.Path, f.log)
	case "s3":
		return f.createS3Store(u)
	case "vault":
		return f.createVaultStore(u)
	default:
		return nil, fmt.Errorf("%w: unsupported store scheme: %s", interfaces.ErrConfiguration, u.Scheme)
	}
}

func (f *StoreFactory) createS3Store(u *url.URL) (interfaces.IdentityStore, error) {
	accessKey := u.User.Username()
	secretKey, _ := u.User.Password()
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("%w: s3 store requires credentials in URI", interfaces.ErrConfiguration)
	}

	region := u.Query().Get("region")
	if region == "" {
		region = "us-east-1"
	}
	key := strings.TrimPrefix(u.Path, "/")
	if key == "" {
		key = "identities.json"
	}

	return NewS3Store(u.Host, key, region, u.Query().Get("endpoint"), accessKey, secretKey, f.log)
}

func (f *StoreFactory) createVaultStore(u *url.URL) (interfaces.IdentityStore, error) {
	token := u.User.Username()
	if token == "" {
		return nil, fmt.Errorf("%w: vault store requires a token in URI", interfaces.ErrConfiguration)
	}

	scheme := "https"
	if u.Query().Get("tls") == "false" {
		scheme = "http"
	}
	address := fmt.Sprintf("%s://%s", scheme, u.Host)

	trimmed := strings.Trim(u.Path, "/")
	mount, dataPath := trimmed, "payroll/identities"
	if i := strings.Index(trimmed, "/"); i > 0 {
		mount, dataPath = trimmed[:i], trimmed[i+1:]
	}
	if mount == "" {
		return nil, fmt.Errorf("%w: vault store URI missing mount path", interfaces.ErrConfiguration)
	}

	return NewVaultStore(address, token, mount, path.Clean(dataPath), f.log)
}

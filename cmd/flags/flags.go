// Package flags holds the CLI flag definitions and the logger/server
// setup shared by the payroll binaries.
package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/civitas-pay/payroll-provisioning-backend/api"
	"github.com/civitas-pay/payroll-provisioning-backend/common"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String(LogServiceFlag.Name)

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *api.HTTPServerConfig {
	metricsAddr := cCtx.String(MetricsAddrFlag.Name)
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &api.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		// Must exceed the settlement timeout so redeem responses can wait
		// out the wallet polling.
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  90 * time.Second,
	}
}

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}

var StoreFlag = &cli.StringFlag{
	Name:  "store",
	Value: "memory://",
	Usage: "identity store URI (memory://, file://path, s3://KEY:SECRET@bucket/key, vault://TOKEN@host:port/mount/path)",
}

var OrgIDFlag = &cli.StringFlag{
	Name:  "org-id",
	Value: "org_default",
	Usage: "organization id stamped into provisioned credentials",
}

var SessionSecretFlag = &cli.StringFlag{
	Name:    "session-secret",
	Usage:   "hex-encoded session signing secret, at least 32 bytes",
	EnvVars: []string{"PAYROLL_SESSION_SECRET"},
}

var SessionShareFlag = &cli.StringSliceFlag{
	Name:  "session-secret-share",
	Usage: "hex-encoded Shamir share of the session signing secret; pass a quorum of shares instead of the secret itself",
}

var ZcashRPCFlag = &cli.StringFlag{
	Name:  "zcash-rpc",
	Usage: "zcashd wallet JSON-RPC url; settlement is disabled when unset",
}

var ZcashUserFlag = &cli.StringFlag{
	Name:  "zcash-rpc-user",
	Usage: "zcashd JSON-RPC username",
}

var ZcashPassFlag = &cli.StringFlag{
	Name:    "zcash-rpc-pass",
	Usage:   "zcashd JSON-RPC password",
	EnvVars: []string{"PAYROLL_ZCASH_RPC_PASS"},
}

var SourceAccountFlag = &cli.StringFlag{
	Name:  "source-account",
	Usage: "shielded account settlements are paid from",
}

var EthRPCFlag = &cli.StringFlag{
	Name:  "eth-rpc",
	Usage: "Ethereum JSON-RPC url for payroll-root commits; commits are disabled when unset",
}

var CommitterKeyFlag = &cli.StringFlag{
	Name:    "committer-key",
	Usage:   "hex private key signing payroll-root commit transactions",
	EnvVars: []string{"PAYROLL_COMMITTER_KEY"},
}

var RegistryAddrFlag = &cli.StringFlag{
	Name:  "registry-addr",
	Usage: "address payroll-root commit transactions are sent to",
}

var IPFSAddrFlag = &cli.StringFlag{
	Name:  "ipfs-addr",
	Usage: "IPFS API address for credential-bundle archival; archival is disabled when unset",
}

var DemoSeedFlag = &cli.BoolFlag{
	Name:  "seed-demo",
	Value: false,
	Usage: "provision the fixed demo identities at startup (development only)",
}

var SecureCookieFlag = &cli.BoolFlag{
	Name:  "secure-cookies",
	Value: false,
	Usage: "mark session cookies Secure (behind TLS)",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}
var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: common.PackageName,
	Usage: "add 'service' tag to logs",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}

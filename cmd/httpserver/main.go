package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/civitas-pay/payroll-provisioning-backend/api/authhandler"
	"github.com/civitas-pay/payroll-provisioning-backend/api/payrollhandler"
	"github.com/civitas-pay/payroll-provisioning-backend/chaincommit"
	"github.com/civitas-pay/payroll-provisioning-backend/cmd/flags"
	"github.com/civitas-pay/payroll-provisioning-backend/httpserver"
	"github.com/civitas-pay/payroll-provisioning-backend/identity"
	"github.com/civitas-pay/payroll-provisioning-backend/interfaces"
	"github.com/civitas-pay/payroll-provisioning-backend/secrets"
	"github.com/civitas-pay/payroll-provisioning-backend/session"
	"github.com/civitas-pay/payroll-provisioning-backend/settlement"
	"github.com/civitas-pay/payroll-provisioning-backend/storage"
	"github.com/civitas-pay/payroll-provisioning-backend/voucher"
)

func main() {
	app := &cli.App{
		Name:  "payroll-server",
		Usage: "Serve the payroll identity, credential, and voucher settlement API",
		Flags: append([]cli.Flag{
			flags.ListenAddrFlag,
			flags.StoreFlag,
			flags.OrgIDFlag,
			flags.SessionSecretFlag,
			flags.SessionShareFlag,
			flags.ZcashRPCFlag,
			flags.ZcashUserFlag,
			flags.ZcashPassFlag,
			flags.SourceAccountFlag,
			flags.EthRPCFlag,
			flags.CommitterKeyFlag,
			flags.RegistryAddrFlag,
			flags.IPFSAddrFlag,
			flags.DemoSeedFlag,
			flags.SecureCookieFlag,
		}, flags.CommonFlags...),
		Action: runServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runServer(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	ctx := context.Background()

	masterSecret, err := secrets.Bootstrap(
		cCtx.String(flags.SessionSecretFlag.Name),
		cCtx.StringSlice(flags.SessionShareFlag.Name))
	if err != nil {
		logger.Error("Failed to bootstrap master secret", "err", err)
		return err
	}
	sessions, err := session.New(masterSecret, 0)
	if err != nil {
		return err
	}

	storeFactory := storage.NewStoreFactory(logger)
	store, err := storeFactory.StoreFor(cCtx.String(flags.StoreFlag.Name))
	if err != nil {
		logger.Error("Failed to open identity store", "err", err)
		return err
	}

	var archive interfaces.BundleArchive
	if ipfsAddr := cCtx.String(flags.IPFSAddrFlag.Name); ipfsAddr != "" {
		archive = storage.NewIPFSArchive(ipfsAddr, logger)
	}

	engine := identity.New(store, archive, logger)
	if cCtx.Bool(flags.DemoSeedFlag.Name) {
		if err := engine.SeedDemo(ctx, cCtx.String(flags.OrgIDFlag.Name)); err != nil {
			logger.Error("Failed to seed demo identities", "err", err)
			return err
		}
	}

	var executor interfaces.SettlementExecutor
	if zcashRPC := cCtx.String(flags.ZcashRPCFlag.Name); zcashRPC != "" {
		executor, err = settlement.NewZcashExecutor(settlement.ZcashConfig{
			RPCURL:  zcashRPC,
			RPCUser: cCtx.String(flags.ZcashUserFlag.Name),
			RPCPass: cCtx.String(flags.ZcashPassFlag.Name),
			Log:     logger,
		})
		if err != nil {
			return err
		}
	} else {
		logger.Warn("No zcash rpc configured, settlement requests will fail")
		executor = settlement.UnconfiguredExecutor{}
	}

	lifecycle, err := voucher.NewLifecycle(voucher.LifecycleConfig{
		Store:         store,
		Executor:      executor,
		SourceAccount: sourceAccountOrDefault(cCtx),
		Log:           logger,
	})
	if err != nil {
		return err
	}

	var committer interfaces.RunCommitter
	var verifier interfaces.ProofVerifier
	if ethRPC := cCtx.String(flags.EthRPCFlag.Name); ethRPC != "" {
		committer, err = chaincommit.NewEthereumCommitter(ctx, chaincommit.CommitterConfig{
			RPCURL:        ethRPC,
			PrivateKeyHex: cCtx.String(flags.CommitterKeyFlag.Name),
			RegistryAddr:  cCtx.String(flags.RegistryAddrFlag.Name),
			Log:           logger,
		})
		if err != nil {
			logger.Error("Failed to set up chain committer", "err", err)
			return err
		}
		verifier = chaincommit.NewStructuralVerifier(logger)
	}

	auth := authhandler.NewHandler(engine, sessions, cCtx.Bool(flags.SecureCookieFlag.Name), logger)
	payroll := payrollhandler.NewHandler(payrollhandler.Config{
		Engine:    engine,
		Lifecycle: lifecycle,
		Issuer:    voucher.NewCredentialIssuer(store, 0, logger),
		Committer: committer,
		Verifier:  verifier,
		OrgID:     cCtx.String(flags.OrgIDFlag.Name),
		Log:       logger,
	})

	cfg := flags.ConfigureServer(cCtx, logger, cCtx.String(flags.ListenAddrFlag.Name))
	srv, err := httpserver.New(cfg, auth, payroll)
	if err != nil {
		logger.Error("Failed to create HTTP server", "err", err)
		return err
	}

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	srv.RunInBackground()
	<-exit

	srv.Shutdown()
	return nil
}

func sourceAccountOrDefault(cCtx *cli.Context) string {
	if source := cCtx.String(flags.SourceAccountFlag.Name); source != "" {
		return source
	}
	// Lifecycle construction requires a source; keep a sentinel so a
	// server without settlement config still starts for auth-only use.
	return "zs1unconfigured"
}

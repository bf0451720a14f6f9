// The provision command runs a provisioning batch from a JSON seed file
// and prints the single-disclosure material. It can also split a fresh
// master secret into Shamir shares for the server's session signing key.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/civitas-pay/payroll-provisioning-backend/cmd/flags"
	"github.com/civitas-pay/payroll-provisioning-backend/identity"
	"github.com/civitas-pay/payroll-provisioning-backend/interfaces"
	"github.com/civitas-pay/payroll-provisioning-backend/secrets"
	"github.com/civitas-pay/payroll-provisioning-backend/storage"
)

var seedsFileFlag = &cli.StringFlag{
	Name:  "seeds",
	Usage: "JSON file with an array of provisioning seeds",
}

var runIDFlag = &cli.StringFlag{
	Name:  "run-id",
	Usage: "payroll run id stamped on the issued vouchers; generated when unset",
}

var splitSecretFlag = &cli.BoolFlag{
	Name:  "split-secret",
	Usage: "generate a master secret and print Shamir shares instead of provisioning",
}

var sharesFlag = &cli.IntFlag{
	Name:  "shares",
	Value: 5,
	Usage: "number of Shamir shares to generate",
}

var thresholdFlag = &cli.IntFlag{
	Name:  "threshold",
	Value: 3,
	Usage: "shares required to reconstruct the master secret",
}

func main() {
	app := &cli.App{
		Name:  "payroll-provision",
		Usage: "Provision payroll identities in batch",
		Flags: append([]cli.Flag{
			flags.StoreFlag,
			flags.OrgIDFlag,
			flags.IPFSAddrFlag,
			seedsFileFlag,
			runIDFlag,
			splitSecretFlag,
			sharesFlag,
			thresholdFlag,
		}, flags.CommonFlags...),
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	if cCtx.Bool(splitSecretFlag.Name) {
		return splitSecret(cCtx)
	}

	seedsPath := cCtx.String(seedsFileFlag.Name)
	if seedsPath == "" {
		return fmt.Errorf("%w: --seeds is required", interfaces.ErrConfiguration)
	}
	raw, err := os.ReadFile(seedsPath)
	if err != nil {
		return fmt.Errorf("failed to read seeds file: %w", err)
	}
	var seeds []interfaces.Seed
	if err := json.Unmarshal(raw, &seeds); err != nil {
		return fmt.Errorf("%w: malformed seeds file: %v", interfaces.ErrValidation, err)
	}

	store, err := storage.NewStoreFactory(logger).StoreFor(cCtx.String(flags.StoreFlag.Name))
	if err != nil {
		return err
	}

	var archive interfaces.BundleArchive
	if ipfsAddr := cCtx.String(flags.IPFSAddrFlag.Name); ipfsAddr != "" {
		archive = storage.NewIPFSArchive(ipfsAddr, logger)
	}

	runID := cCtx.String(runIDFlag.Name)
	if runID == "" {
		runID = "run_" + uuid.NewString()
	}

	engine := identity.New(store, archive, logger)
	_, outputs, err := engine.Provision(context.Background(), seeds, cCtx.String(flags.OrgIDFlag.Name), runID)
	if err != nil {
		return err
	}

	// The only disclosure of passwords and nonces. Deliver out-of-band
	// and discard.
	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")
	return out.Encode(map[string]any{
		"run_id":      runID,
		"provisioned": outputs,
	})
}

func splitSecret(cCtx *cli.Context) error {
	secret, err := secrets.GenerateMaster()
	if err != nil {
		return err
	}
	shares, err := secrets.Split(secret, cCtx.Int(sharesFlag.Name), cCtx.Int(thresholdFlag.Name))
	if err != nil {
		return err
	}

	fmt.Printf("master secret (store nowhere): %s\n", hex.EncodeToString(secret))
	for i, share := range shares {
		fmt.Printf("share %d: %s\n", i+1, hex.EncodeToString(share))
	}
	return nil
}

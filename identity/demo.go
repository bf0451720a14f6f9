package identity

import (
	"context"
	"errors"

	"github.com/civitas-pay/payroll-provisioning-backend/interfaces"
)

// demoSeeds are the fixed development identities. Their credentials are
// deterministic, so a local frontend can log in without running a
// provisioning batch first. Never enable demo seeding in production.
var demoSeeds = []interfaces.Seed{
	{
		IdentityID: "00000000-0000-4000-8000-000000000001",
		Username:   "acme_payroll",
		Name:       "Acme Payroll Desk",
		Role:       interfaces.RoleEmployer,
		Password:   "employer-demo-pass",
		Nonce:      "1111111111111111111111111111111111111111111111111111111111111111",
	},
	{
		IdentityID: "00000000-0000-4000-8000-000000000002",
		Username:   "alice",
		Name:       "Alice Example",
		Role:       interfaces.RoleEmployee,
		Amount:     4.2,
		Password:   "employee-demo-pass",
		Nonce:      "2222222222222222222222222222222222222222222222222222222222222222",
	},
	{
		IdentityID: "00000000-0000-4000-8000-000000000003",
		Username:   "audit_desk",
		Name:       "Audit Desk",
		Role:       interfaces.RoleAuditor,
		Password:   "auditor-demo-pass",
		Nonce:      "3333333333333333333333333333333333333333333333333333333333333333",
	},
}

// SeedDemo provisions the fixed demo identities, skipping any that are
// already present so repeated startups stay idempotent.
func (e *Engine) SeedDemo(ctx context.Context, orgID string) error {
	for i := range demoSeeds {
		_, _, err := e.Provision(ctx, demoSeeds[i:i+1], orgID, "run_demo")
		if err != nil {
			if errors.Is(err, interfaces.ErrAlreadyExists) {
				continue
			}
			return err
		}
	}
	e.log.Info("Demo identities seeded", "orgID", orgID)
	return nil
}

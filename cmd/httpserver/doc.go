// Package main (cmd/httpserver) runs the payroll provisioning server.
//
// The server exposes the authentication surface (password login,
// proof-of-possession login, session introspection), the payroll surface
// (batch provisioning, voucher listing and redemption, credential-voucher
// issuance and download, employer settlement, payroll-root commits), and
// health/metrics endpoints.
//
// The session signing secret is bootstrapped either from a hex flag or
// from a quorum of Shamir shares, so no single operator needs to hold
// the complete secret. The identity store is selected by URI: memory://
// for development, file:// for single-node deployments, s3:// or
// vault:// for managed backends.
//
// Settlement requires a zcashd wallet RPC; payroll-root commits require
// an Ethereum RPC plus a funded committer key. Both are optional; the
// corresponding endpoints refuse cleanly when unconfigured.
//
// Example usage:
//
//	payroll-server \
//	  --listen-addr 127.0.0.1:8080 \
//	  --store file:///var/lib/payroll/identities.json \
//	  --session-secret $(openssl rand -hex 32) \
//	  --zcash-rpc http://127.0.0.1:8232 \
//	  --source-account zs1treasury... \
//	  --org-id org_acme
//
// The server drains gracefully: GET /drain flips readiness, the drain
// period lets load balancers react, and SIGINT/SIGTERM shuts both
// listeners down.
package main

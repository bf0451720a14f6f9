// Package common holds shared service metadata and logger setup used by
// every binary in the repository.
package common

// Version is set at build time via -ldflags.
var Version = "dev"

// PackageName identifies this service in logs and metrics.
const PackageName = "payroll-provisioning-backend"

// Package interfaces defines the domain types, store contract, and
// collaborator contracts shared by every component of the payroll
// provisioning backend.
//
// The package is import-free within the repository so that any package can
// depend on it without cycles. It contains:
//
//   - Identity records, payment vouchers, credential-download vouchers,
//     and their state enums.
//   - The IdentityStore contract, whose atomic Update underpins the
//     at-most-once settlement guarantees.
//   - Narrow interfaces for the external collaborators: the settlement
//     executor, the run committer, the proof verifier, and the
//     credential-bundle archive.
//   - The sentinel error taxonomy mapped onto HTTP statuses by the API
//     handlers.
package interfaces

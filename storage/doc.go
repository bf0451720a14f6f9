// Package storage provides the identity store backends and the
// credential-bundle archive.
//
// All identity stores implement interfaces.IdentityStore. The reference
// backends hold the record set in memory and write the whole document
// through to a blob backend (local file, S3 object, or Vault secret) on
// every mutation, serialized by one lock. That global serialization is
// what makes the voucher state machines' check-and-set transitions
// atomic; see the interfaces package for the contract.
//
// Backends are selected from a location URI via StoreFactory:
//
//	memory://
//	file:///var/lib/payroll/identities.json
//	s3://KEY:SECRET@bucket/identities.json?region=eu-west-1
//	vault://TOKEN@vault.example.com:8200/secret/payroll/identities
//
// The package also contains IPFSArchive, which pins immutable encrypted
// credential bundles to IPFS at provisioning time.
package storage

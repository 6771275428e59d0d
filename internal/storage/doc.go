// Package storage provides the BBolt database interface for credvault.
//
// Database structure uses two top-level buckets:
//   - config: format version, timestamps, vault ID (unencrypted)
//   - users: one nested bucket per account holding salt, password verifier,
//     KDF cost, timestamps and the sealed login table
//
// Only the login table is encrypted. Salt, verifier and cost must be readable
// before the password has been checked.
//
// BBolt provides ACID transactions, file locking, and corruption detection.
package storage

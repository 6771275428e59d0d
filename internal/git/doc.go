// Package git provides git integration status checks for credvault.
//
// Checks performed:
//   - Whether the vault database is tracked by git (optional, it is encrypted)
//   - Whether plaintext export files are tracked by git (should not be)
//   - Whether plaintext export files are in .gitignore (should be)
package git

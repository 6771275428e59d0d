// Package core provides the credvault account and login operations.
//
// A Vault owns one database file:
//   - Init: create an empty vault
//   - Register: add an account; its login table is sealed under the account password
//   - Login: check the password against the stored verifier and open a Session
//   - Status, Compact, vault ID lookups: no password required
//
// A Session keeps the password in a memguard enclave and re-derives keys for every
// read or write of the login table:
//   - Logins/FindLogin/AddLogin/UpdateLogin/RemoveLogin
//   - ChangePassword: new salt, new verifier, table re-sealed in one transaction
//   - Migrate: re-seal a table written with an older envelope version
//   - Export/Import/Diff: tab-separated text files inside the working directory
//
// Import conflicts support multiple strategies:
//   - Keep the vault's login
//   - Use the imported login
//   - Edit merged (opens $EDITOR with git-style conflict markers)
//   - Keep both (stores the import under "site (imported)")
package core

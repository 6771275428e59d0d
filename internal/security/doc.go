// Package security confines the plaintext files credvault reads and writes, exports
// and imports, to the working directory.
package security

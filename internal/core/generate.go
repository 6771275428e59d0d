package core

import (
	"fmt"
	"strings"

	"github.com/tyler-smith/go-bip39"
)

// DefaultPassphraseWords is the length of generated passphrases
const DefaultPassphraseWords = 12

// GeneratePassphrase returns words random BIP-39 English words joined by sep.
// words must be 12, 15, 18, 21 or 24; each step of 3 words adds 32 bits of entropy.
func GeneratePassphrase(words int, sep string) (string, error) {
	if words < 12 || words > 24 || words%3 != 0 {
		return "", fmt.Errorf("passphrase length must be 12, 15, 18, 21 or 24 words, got %d", words)
	}

	entropy, err := bip39.NewEntropy(words / 3 * 32)
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}
	defer clear(entropy)

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("failed to encode passphrase: %w", err)
	}
	if sep == " " {
		return mnemonic, nil
	}
	return strings.Join(strings.Fields(mnemonic), sep), nil
}

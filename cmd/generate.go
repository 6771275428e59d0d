package cmd

import (
	"fmt"
	"os"

	"github.com/illarion/credvault/internal/core"
)

// Generate prints a random BIP-39 passphrase
func Generate(words int, sep string) {
	phrase, err := core.GeneratePassphrase(words, sep)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	fmt.Println(phrase)
}

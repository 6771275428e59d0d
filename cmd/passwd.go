package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/illarion/credvault/internal/core"
	"github.com/illarion/credvault/internal/crypto"
	"github.com/illarion/credvault/internal/keyring"
)

// Passwd changes the password of the current account
func Passwd(ctx context.Context, opts Options) {
	app := Setup(opts)
	defer app.Close()

	s, _ := app.Login(ctx, false)
	defer s.Close()

	// Get new password
	newPassword, err := core.ReadPasswordConfirm("New password: ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	defer crypto.ClearBytes(newPassword)

	// Change password (consumes its copy)
	if err := s.ChangePassword(ctx, bytes.Clone(newPassword)); err != nil {
		HandleError(err)
	}

	// Always try to update keyring if vault ID exists
	// This handles both updating existing entry and cases where keyring was unavailable before
	if vaultID, err := app.Vault.GetVaultID(); err == nil && vaultID != "" {
		if keyring.HasPassword(vaultID, s.User()) {
			if err := keyring.SavePassword(vaultID, s.User(), newPassword); err == nil {
				fmt.Println("Keyring updated with new password")
			}
		}
	}

	// Compact database after rewriting the account
	if err := app.Vault.Compact(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: compaction failed: %s\n", err)
	}

	fmt.Println("password changed successfully")
}

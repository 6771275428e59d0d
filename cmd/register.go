package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/illarion/credvault/internal/crypto"
	"github.com/illarion/credvault/internal/keyring"
)

// Register creates an account protected by its own password
func Register(ctx context.Context, opts Options) {
	if opts.User == "" {
		fmt.Fprintf(os.Stderr, "Error: register requires --user\n")
		os.Exit(1)
	}

	app := Setup(opts)
	defer app.Close()

	password, err := GetNewPassword(fmt.Sprintf("New password for %s: ", opts.User))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	defer crypto.ClearBytes(password)

	// Register consumes its copy
	if err := app.Vault.Register(ctx, opts.User, bytes.Clone(password)); err != nil {
		HandleError(err)
	}
	fmt.Printf("Registered %s\n", opts.User)

	vaultID, err := app.Vault.GetOrCreateVaultID()
	if err == nil {
		OfferToSavePassword(vaultID, opts.User, password)
	}
}

// Unregister deletes an account and every login stored under it
func Unregister(ctx context.Context, opts Options, force bool) {
	app := Setup(opts)
	defer app.Close()

	user := app.User()
	if !force && !confirm(fmt.Sprintf("Delete account %s and all of its logins? [y/N]: ", user)) {
		fmt.Println("Aborted")
		return
	}

	password := GetPasswordOrExit(fmt.Sprintf("Password for %s: ", user))
	if err := app.Vault.DeleteUser(ctx, user, password); err != nil {
		HandleError(err)
	}

	if vaultID, err := app.Vault.GetVaultID(); err == nil {
		if err := keyring.DeletePassword(vaultID, user); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to remove keyring entry: %s\n", err)
		}
	}

	if err := app.Vault.Compact(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: compaction failed: %s\n", err)
	}
	fmt.Printf("Deleted account %s\n", user)
}

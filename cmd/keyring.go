package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/illarion/credvault/internal/crypto"
	"github.com/illarion/credvault/internal/keyring"
)

// KeyringSave saves the current account's password to the OS keyring
func KeyringSave(ctx context.Context, opts Options) {
	app := Setup(opts)
	defer app.Close()

	user := app.User()

	// Prompt for password
	password, _, err := GetPassword(fmt.Sprintf("Password for %s: ", user))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	defer crypto.ClearBytes(password)

	// Verify password is correct (consumes its copy)
	check := make([]byte, len(password))
	copy(check, password)
	if err := app.Vault.VerifyPassword(ctx, user, check); err != nil {
		HandleError(err)
	}

	// Get vault ID (create if not exists)
	vaultID, err := app.Vault.GetOrCreateVaultID()
	if err != nil {
		HandleError(err)
	}

	// Save to keyring
	if err := keyring.SavePassword(vaultID, user, password); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to save to keyring: %s\n", err)
		os.Exit(1)
	}

	fmt.Println("Password saved to keyring")
}

// KeyringDelete removes the current account's password from the OS keyring
func KeyringDelete(_ context.Context, opts Options) {
	app := Setup(opts)
	defer app.Close()

	vaultID, err := app.Vault.GetVaultID()
	if err != nil || !keyring.HasPassword(vaultID, app.User()) {
		fmt.Println("No password stored in keyring")
		return
	}

	if err := keyring.DeletePassword(vaultID, app.User()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to remove from keyring: %s\n", err)
		os.Exit(1)
	}

	fmt.Println("Password removed from keyring")
}

// KeyringStatus checks if a password is stored in the keyring for each account
func KeyringStatus(_ context.Context, opts Options) {
	app := Setup(opts)
	defer app.Close()

	vaultID, err := app.Vault.GetVaultID()
	if err != nil {
		fmt.Println("Password: not stored")
		return
	}

	users := []string{opts.User}
	if opts.User == "" {
		if users, err = app.Vault.Users(); err != nil {
			HandleError(err)
		}
	}
	for _, user := range users {
		if keyring.HasPassword(vaultID, user) {
			fmt.Printf("%s: stored in keyring\n", user)
		} else {
			fmt.Printf("%s: not stored\n", user)
		}
	}
}

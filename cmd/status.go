package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/illarion/credvault/internal/git"
)

// Status shows the state of the vault. It does not require a password.
func Status(ctx context.Context, opts Options) {
	app := Setup(opts)
	defer app.Close()

	// Check if the vault exists
	if _, err := os.Stat(app.Vault.Path()); err != nil {
		if os.IsNotExist(err) {
			fmt.Printf("No vault found at %s\n", app.Vault.Path())
			fmt.Println("Run 'credvault init' to create one")
		} else {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
		return
	}

	status, err := app.Vault.Status(ctx)
	if err != nil {
		HandleError(err)
	}

	fmt.Printf("Vault: %s\n", status.Path)
	if status.VaultID != "" {
		fmt.Printf("  ID:            %s\n", status.VaultID)
	}
	fmt.Printf("  Created:       %s\n", formatTime(status.Created))
	fmt.Printf("  Last modified: %s\n", formatTime(status.LastModified))
	fmt.Printf("  Encryption:    %s (%s)\n", status.Algorithm, status.Version)
	if app.Config.Source != "" {
		fmt.Printf("  Config:        %s\n", app.Config.Source)
	}

	fmt.Printf("\nAccounts: %d\n", len(status.Users))
	for _, u := range status.Users {
		marker := " "
		if u.Format != status.Version.String() && u.Format != "empty" {
			marker = "!"
		}
		fmt.Printf("  %s %-20s format %-7s kdf %s  modified %s\n",
			marker, u.Name, u.Format, u.Cost, formatTime(u.Modified))
	}
	for _, u := range status.Users {
		if u.Format != status.Version.String() && u.Format != "empty" {
			fmt.Println("\n  ! stored in an older format (run: credvault migrate --user <name>)")
			break
		}
	}

	fmt.Print(git.FormatGitStatus(status.GitStatus))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Local().Format(time.RFC3339)
}

package cmd

import (
	"context"
	"fmt"
	"os"
)

// Remove deletes logins from the current account
func Remove(ctx context.Context, opts Options, refs []string) {
	if len(refs) == 0 {
		fmt.Fprintf(os.Stderr, "Error: rm requires at least one login argument\n")
		fmt.Fprintf(os.Stderr, "Usage: credvault rm <login> [login...]\n")
		os.Exit(1)
	}

	app := Setup(opts)
	defer app.Close()

	s, _ := app.Login(ctx, false)
	defer s.Close()

	for _, ref := range refs {
		removed, err := s.RemoveLogin(ctx, ref)
		if err != nil {
			HandleError(err)
		}
		fmt.Printf("removed: %s (%s)\n", removed.Site, shortID(removed.ID))
	}

	// Compact database to reclaim space
	if err := app.Vault.Compact(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: compaction failed: %s\n", err)
	}
}

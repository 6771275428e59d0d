package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/illarion/credvault/internal/crypto"
)

// Migrate re-seals the current account's logins with the latest envelope format
func Migrate(ctx context.Context, opts Options) {
	app := Setup(opts)
	defer app.Close()

	s, _ := app.Login(ctx, false)
	defer s.Close()

	from, err := s.Migrate(ctx)
	if err != nil {
		HandleError(err)
	}

	if from == crypto.LatestVersion {
		fmt.Printf("%s: already %s\n", s.User(), crypto.LatestVersion)
		return
	}
	if err := app.Vault.Compact(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: compaction failed: %s\n", err)
	}
	fmt.Printf("%s: migrated %s -> %s\n", s.User(), versionName(from), crypto.LatestVersion)
}

func versionName(v crypto.Version) string {
	if !v.Valid() {
		return "empty"
	}
	return v.String()
}

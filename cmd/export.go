package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/illarion/credvault/internal/core"
)

// Export writes the current account's logins, unencrypted, to a file in the working
// directory
func Export(ctx context.Context, opts Options, path string, force bool) {
	if path == "" {
		fmt.Fprintf(os.Stderr, "Error: export requires a file argument\n")
		fmt.Fprintf(os.Stderr, "Usage: credvault export [--force] <file>\n")
		os.Exit(1)
	}

	if _, err := os.Stat(path); err == nil && !force {
		if !confirm(fmt.Sprintf("%s exists. Overwrite? [y/N]: ", path)) {
			fmt.Println("Aborted")
			return
		}
	}

	app := Setup(opts)
	defer app.Close()

	s, _ := app.Login(ctx, false)
	defer s.Close()

	n, err := s.Export(ctx, path)
	if err != nil {
		HandleError(err)
	}

	fmt.Printf("exported: %d logins to %s\n", n, path)
	fmt.Fprintf(os.Stderr, "warning: %s holds passwords in clear text; delete it when done\n", path)
	if status, err := app.Vault.Status(ctx); err == nil && status.GitStatus != nil {
		for _, f := range status.GitStatus.UnignoredExports {
			if f == path {
				fmt.Fprintf(os.Stderr, "warning: %s is not ignored by git\n", path)
			}
		}
	}
}

// Import merges an export file into the current account
func Import(ctx context.Context, opts Options, path string, strategy core.MergeStrategy) {
	if path == "" {
		fmt.Fprintf(os.Stderr, "Error: import requires a file argument\n")
		fmt.Fprintf(os.Stderr, "Usage: credvault import [--strategy ask|keep-local|use-import|keep-both|abort] <file>\n")
		os.Exit(1)
	}

	app := Setup(opts)
	defer app.Close()

	s, _ := app.Login(ctx, false)
	defer s.Close()

	result, err := s.Import(ctx, path, strategy)
	if err != nil {
		HandleError(err)
	}

	// Print summary
	if len(result.Added) > 0 {
		fmt.Printf("added: %d logins\n", len(result.Added))
	}
	if len(result.Updated) > 0 {
		fmt.Printf("updated: %d logins\n", len(result.Updated))
	}
	if len(result.Unchanged) > 0 {
		fmt.Printf("unchanged: %d logins\n", len(result.Unchanged))
	}
	if len(result.Skipped) > 0 {
		fmt.Printf("skipped: %d logins\n", len(result.Skipped))
		for _, label := range result.Skipped {
			fmt.Printf("  - %s\n", label)
		}
	}
}

// ParseImportFlags turns the import shortcuts and --strategy into one strategy.
// The shortcuts are mutually exclusive.
func ParseImportFlags(strategy string, force, keepLocal, keepBoth bool) (core.MergeStrategy, error) {
	if boolToInt(force)+boolToInt(keepLocal)+boolToInt(keepBoth) > 1 {
		return core.StrategyAsk, fmt.Errorf("--force, --keep-local, and --keep-both are mutually exclusive")
	}
	switch {
	case force:
		return core.StrategyUseImport, nil
	case keepLocal:
		return core.StrategyKeepLocal, nil
	case keepBoth:
		return core.StrategyKeepBoth, nil
	}
	return core.ParseStrategy(strategy)
}

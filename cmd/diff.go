package cmd

import (
	"context"
	"fmt"
	"os"
)

// Diff compares the current account's logins with an export file
func Diff(ctx context.Context, opts Options, path string) {
	if path == "" {
		fmt.Fprintf(os.Stderr, "Error: diff requires a file argument\n")
		fmt.Fprintf(os.Stderr, "Usage: credvault diff <file>\n")
		os.Exit(1)
	}

	app := Setup(opts)
	defer app.Close()

	s, _ := app.Login(ctx, false)
	defer s.Close()

	diff, err := s.Diff(ctx, path)
	if err != nil {
		HandleError(err)
	}
	if diff == "" {
		fmt.Printf("%s matches the vault\n", path)
		return
	}
	fmt.Print(diff)
}

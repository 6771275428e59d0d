package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/atotto/clipboard"
)

// Get prints the password of one login, or copies it to the clipboard
func Get(ctx context.Context, opts Options, ref string, toClipboard bool) {
	if ref == "" {
		fmt.Fprintf(os.Stderr, "Error: get requires a login\n")
		fmt.Fprintf(os.Stderr, "Usage: credvault get [--copy] <login>\n")
		os.Exit(1)
	}

	app := Setup(opts)
	defer app.Close()

	s, _ := app.Login(ctx, true)
	defer s.Close()

	l, err := s.FindLogin(ctx, ref)
	if err != nil {
		HandleError(err)
	}

	if !toClipboard {
		fmt.Println(l.Password)
		return
	}

	if clipboard.Unsupported {
		fmt.Fprintf(os.Stderr, "Error: no clipboard available on this system\n")
		os.Exit(1)
	}
	if err := clipboard.WriteAll(l.Password); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to copy to clipboard: %s\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Password for %s copied to clipboard\n", l.Site)
}

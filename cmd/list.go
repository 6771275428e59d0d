package cmd

import (
	"context"
	"fmt"
	"strings"
)

// List shows the logins of the current account, optionally filtered by query
func List(ctx context.Context, opts Options, query string, showPasswords bool) {
	app := Setup(opts)
	defer app.Close()

	s, _ := app.Login(ctx, true)
	defer s.Close()

	logins, err := s.Logins(ctx, query)
	if err != nil {
		HandleError(err)
	}

	if len(logins) == 0 {
		if query != "" {
			fmt.Printf("No logins matching %q\n", query)
		} else {
			fmt.Println("No logins stored")
		}
		return
	}

	for _, l := range logins {
		username := l.Username
		if username == "" {
			username = "-"
		}
		line := fmt.Sprintf("  %s  %-32s %s", shortID(l.ID), l.Site, username)
		if showPasswords {
			line += "  " + l.Password
		}
		if l.Notes != "" {
			line += "  # " + strings.ReplaceAll(l.Notes, "\n", " ")
		}
		fmt.Println(line)
	}
	fmt.Printf("\n%d login(s)\n", len(logins))
}

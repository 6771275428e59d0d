package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/illarion/credvault/internal/core"
	"github.com/illarion/credvault/internal/crypto"
	"github.com/illarion/credvault/internal/storage"
)

// LoginFields carries login attributes given on the command line. Nil fields are
// left unchanged by Edit.
type LoginFields struct {
	Site     *string
	Username *string
	Notes    *string
	Password bool // prompt for a new password
	Generate bool
	Words    int
}

// loginPassword prompts for a login password or generates a passphrase
func loginPassword(fields LoginFields) (string, error) {
	if fields.Generate {
		phrase, err := core.GeneratePassphrase(fields.Words, "-")
		if err != nil {
			return "", err
		}
		return phrase, nil
	}

	password, err := core.ReadPasswordConfirm("Login password: ")
	if err != nil {
		return "", err
	}
	defer crypto.ClearBytes(password)
	return string(password), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Add stores a new login for the current account
func Add(ctx context.Context, opts Options, fields LoginFields) {
	if deref(fields.Site) == "" {
		fmt.Fprintf(os.Stderr, "Error: add requires a site\n")
		fmt.Fprintf(os.Stderr, "Usage: credvault add [--username <name>] [--notes <text>] [--generate] <site>\n")
		os.Exit(1)
	}

	app := Setup(opts)
	defer app.Close()

	s, _ := app.Login(ctx, true)
	defer s.Close()

	password, err := loginPassword(fields)
	if err != nil {
		HandleError(err)
	}

	added, err := s.AddLogin(ctx, storage.Login{
		Site:     deref(fields.Site),
		Username: deref(fields.Username),
		Password: password,
		Notes:    deref(fields.Notes),
	})
	if err != nil {
		HandleError(err)
	}

	fmt.Printf("added: %s (%s)\n", added.Site, shortID(added.ID))
	if fields.Generate {
		fmt.Printf("password: %s\n", password)
	}
}

// Edit changes the login ref resolves to
func Edit(ctx context.Context, opts Options, ref string, fields LoginFields) {
	if ref == "" {
		fmt.Fprintf(os.Stderr, "Error: edit requires a login\n")
		fmt.Fprintf(os.Stderr, "Usage: credvault edit [--site <site>] [--username <name>] [--notes <text>] [--password|--generate] <login>\n")
		os.Exit(1)
	}

	app := Setup(opts)
	defer app.Close()

	s, _ := app.Login(ctx, false)
	defer s.Close()

	l, err := s.FindLogin(ctx, ref)
	if err != nil {
		HandleError(err)
	}

	if fields.Site != nil {
		l.Site = *fields.Site
	}
	if fields.Username != nil {
		l.Username = *fields.Username
	}
	if fields.Notes != nil {
		l.Notes = *fields.Notes
	}
	if fields.Password || fields.Generate {
		password, err := loginPassword(fields)
		if err != nil {
			HandleError(err)
		}
		l.Password = password
	}

	if err := s.UpdateLogin(ctx, *l); err != nil {
		HandleError(err)
	}

	fmt.Printf("updated: %s (%s)\n", l.Site, shortID(l.ID))
	if fields.Generate {
		fmt.Printf("password: %s\n", l.Password)
	}
}

// shortID is the ID prefix shown in listings
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

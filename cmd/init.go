package cmd

import (
	"context"
	"fmt"
	"path/filepath"
)

// Init creates a new, empty vault file
func Init(_ context.Context, opts Options) {
	app := Setup(opts)
	defer app.Close()

	if err := app.Vault.Init(); err != nil {
		HandleError(err)
	}

	fmt.Printf("Initialized %s\n", filepath.Base(app.Vault.Path()))
	fmt.Println("Run 'credvault register --user <name>' to create an account")
}

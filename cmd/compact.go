package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/illarion/credvault/internal/core"
)

// Compact compacts the vault database to reclaim unused space
func Compact(_ context.Context, opts Options) {
	app := Setup(opts)
	defer app.Close()

	// Get file size before
	info, err := os.Stat(app.Vault.Path())
	if err != nil {
		if os.IsNotExist(err) {
			HandleError(core.ErrNotInitialized)
		}
		HandleError(err)
	}
	sizeBefore := info.Size()

	if err := app.Vault.Compact(); err != nil {
		HandleError(err)
	}

	// Get file size after
	info, err = os.Stat(app.Vault.Path())
	if err != nil {
		HandleError(err)
	}
	sizeAfter := info.Size()

	fmt.Printf("Compacted: %s -> %s\n", formatSize(sizeBefore), formatSize(sizeAfter))
}

// formatSize formats a file size in human-readable form
func formatSize(size int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case size >= GB:
		return fmt.Sprintf("%.1f GB", float64(size)/GB)
	case size >= MB:
		return fmt.Sprintf("%.1f MB", float64(size)/MB)
	case size >= KB:
		return fmt.Sprintf("%.1f KB", float64(size)/KB)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}

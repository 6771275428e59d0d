package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrPathEscapes   = errors.New("path escapes working directory")
	ErrAbsolutePath  = errors.New("absolute paths are not allowed")
	ErrEmptyPath     = errors.New("empty path not allowed")
	ErrProtectedPath = errors.New("path is protected")
)

// PathValidator confines export and import files to one directory using os.Root.
// Protected paths, such as the vault database, can be read but never overwritten.
type PathValidator struct {
	root      *os.Root
	rootPath  string
	protected map[string]bool
}

// New creates a PathValidator for dir. protected lists paths relative to dir that
// WriteFileInRoot must refuse.
func New(dir string, protected ...string) (*PathValidator, error) {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	root, err := os.OpenRoot(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open root directory: %w", err)
	}

	pv := &PathValidator{
		root:      root,
		rootPath:  absPath,
		protected: make(map[string]bool, len(protected)),
	}
	for _, p := range protected {
		if norm, err := pv.ValidateAndNormalize(p); err == nil {
			pv.protected[norm] = true
		}
	}
	return pv, nil
}

// Close releases the root directory handle
func (pv *PathValidator) Close() error {
	if pv.root != nil {
		return pv.root.Close()
	}
	return nil
}

// ValidateAndNormalize validates a user-provided path and returns it relative to the
// root with forward slashes. It rejects:
//   - Empty paths
//   - Absolute paths
//   - Paths that escape the root (using ..)
//   - Windows reserved names (CON, NUL, etc.)
func (pv *PathValidator) ValidateAndNormalize(userPath string) (string, error) {
	if userPath == "" {
		return "", ErrEmptyPath
	}

	platformPath := filepath.FromSlash(userPath)
	if !filepath.IsLocal(platformPath) {
		if filepath.IsAbs(platformPath) {
			return "", fmt.Errorf("%w: %s", ErrAbsolutePath, userPath)
		}
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, userPath)
	}

	cleanPath := filepath.Clean(platformPath)
	relPath, err := filepath.Rel(pv.rootPath, filepath.Join(pv.rootPath, cleanPath))
	if err != nil {
		return "", fmt.Errorf("failed to compute relative path: %w", err)
	}
	if strings.HasPrefix(relPath, "..") || filepath.IsAbs(relPath) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, userPath)
	}

	return filepath.ToSlash(relPath), nil
}

// WriteFileInRoot replaces path with data. The content goes to a temporary file that
// is renamed over path, so readers never see a partial file and the result always has
// perm, even when path existed with wider permissions.
func (pv *PathValidator) WriteFileInRoot(path string, data []byte, perm os.FileMode) error {
	norm, err := pv.ValidateAndNormalize(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	if pv.protected[norm] {
		return fmt.Errorf("%w: %s", ErrProtectedPath, norm)
	}
	target := filepath.FromSlash(norm)

	suffix := make([]byte, 6)
	if _, err := rand.Read(suffix); err != nil {
		return fmt.Errorf("failed to name temp file: %w", err)
	}
	tmp := filepath.Join(filepath.Dir(target), "."+filepath.Base(target)+".tmp-"+hex.EncodeToString(suffix))

	f, err := pv.root.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		pv.root.Remove(tmp)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		pv.root.Remove(tmp)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		pv.root.Remove(tmp)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := pv.root.Rename(tmp, target); err != nil {
		pv.root.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", norm, err)
	}
	return nil
}

// ReadFileInRoot reads a file inside the root
func (pv *PathValidator) ReadFileInRoot(path string) ([]byte, error) {
	norm, err := pv.ValidateAndNormalize(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	return pv.root.ReadFile(filepath.FromSlash(norm))
}

// StatInRoot stats a file inside the root
func (pv *PathValidator) StatInRoot(path string) (os.FileInfo, error) {
	norm, err := pv.ValidateAndNormalize(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	return pv.root.Stat(filepath.FromSlash(norm))
}

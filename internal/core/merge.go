package core

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
	"golang.org/x/term"

	"github.com/illarion/credvault/internal/crypto"
	"github.com/illarion/credvault/internal/storage"
)

const (
	BinarySampleSize   = 8192 // Bytes to sample for text/binary detection
	BinaryThresholdPct = 10   // Max % non-printable chars for text files
	MaxImportCopies    = 100  // Max numbered "(imported N)" sites
)

// MergeStrategy defines how to handle login conflicts during import
type MergeStrategy int

const (
	StrategyAsk       MergeStrategy = iota // Ask user for each conflict
	StrategyKeepLocal                      // Always keep the vault's login
	StrategyUseImport                      // Always take the imported login
	StrategyKeepBoth                       // Keep both, storing the import under a renamed site
	StrategyAbort                          // Abort on any conflict
)

func (s MergeStrategy) String() string {
	switch s {
	case StrategyKeepLocal:
		return "keep-local"
	case StrategyUseImport:
		return "use-import"
	case StrategyKeepBoth:
		return "keep-both"
	case StrategyAbort:
		return "abort"
	default:
		return "ask"
	}
}

// ParseStrategy maps a command line name to a MergeStrategy
func ParseStrategy(name string) (MergeStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "ask":
		return StrategyAsk, nil
	case "keep-local", "local":
		return StrategyKeepLocal, nil
	case "use-import", "import":
		return StrategyUseImport, nil
	case "keep-both", "both":
		return StrategyKeepBoth, nil
	case "abort":
		return StrategyAbort, nil
	default:
		return StrategyAsk, fmt.Errorf("unknown merge strategy %q", name)
	}
}

// ConflictResolution defines the user's choice for a specific conflict
type ConflictResolution int

const (
	ResolutionKeepLocal ConflictResolution = iota
	ResolutionUseImport
	ResolutionEditMerged
	ResolutionKeepBoth
	ResolutionSkip
)

// ConflictResult contains the resolution and optionally the merged login
type ConflictResult struct {
	Resolution ConflictResolution
	Merged     *storage.Login // Populated when Resolution == ResolutionEditMerged
}

// DetectFileType determines if data is likely text.
//
// Detection heuristic (in order):
//  1. Null bytes present → binary
//  2. Invalid UTF-8 → binary
//  3. >10% non-printable control chars → binary
func DetectFileType(data []byte) bool {
	if len(data) == 0 {
		return true
	}

	if bytes.IndexByte(data, 0) != -1 {
		return false
	}

	sampleSize := BinarySampleSize
	if len(data) < sampleSize {
		sampleSize = len(data)
	}
	sample := data[:sampleSize]

	if !utf8.Valid(sample) {
		return false
	}

	nonPrintable := 0
	for _, b := range sample {
		// Allow common whitespace: space, tab, newline, carriage return
		if b < 32 && b != 9 && b != 10 && b != 13 {
			nonPrintable++
		}
		if b == 127 {
			nonPrintable++
		}
	}

	threshold := len(sample) * BinaryThresholdPct / 100
	return nonPrintable <= threshold
}

// CompareFiles checks if two contents are identical (based on SHA-256 hash)
func CompareFiles(a, b []byte) bool {
	ha := sha256.Sum256(a)
	hb := sha256.Sum256(b)
	return bytes.Equal(ha[:], hb[:])
}

// sameSecret reports whether two logins carry the same password and notes
func sameSecret(a, b storage.Login) bool {
	return crypto.ConstantTimeCompare([]byte(a.Password), []byte(b.Password)) && a.Notes == b.Notes
}

// HandleConflict resolves an import record that collides with a stored login
func HandleConflict(local, incoming storage.Login, strategy MergeStrategy) (*ConflictResult, error) {
	label := loginLabel(local)
	switch strategy {
	case StrategyKeepLocal:
		return &ConflictResult{Resolution: ResolutionKeepLocal}, nil
	case StrategyUseImport:
		return &ConflictResult{Resolution: ResolutionUseImport}, nil
	case StrategyKeepBoth:
		return &ConflictResult{Resolution: ResolutionKeepBoth}, nil
	case StrategyAbort:
		return &ConflictResult{Resolution: ResolutionSkip}, fmt.Errorf("conflict detected for %s (aborting)", label)
	}

	fmt.Printf("\nwarning: conflict detected: %s\n", label)
	if local.Password != incoming.Password {
		fmt.Printf("   Password differs from the vault\n")
	}
	if local.Notes != incoming.Notes {
		fmt.Printf("   Notes differ from the vault\n")
	}
	fmt.Printf("\nOptions:\n")
	fmt.Printf("  [l] Keep vault version\n")
	fmt.Printf("  [i] Use imported version\n")
	fmt.Printf("  [e] Edit merged (opens in $EDITOR)\n")
	fmt.Printf("  [b] Keep both (store import as a separate site)\n")
	fmt.Printf("  [x] Skip this login\n")

	for {
		fmt.Printf("\nYour choice: ")
		choice, err := readChoice()
		if err != nil {
			return &ConflictResult{Resolution: ResolutionSkip}, err
		}

		switch choice {
		case "l":
			return &ConflictResult{Resolution: ResolutionKeepLocal}, nil
		case "i":
			return &ConflictResult{Resolution: ResolutionUseImport}, nil
		case "e":
			merged, err := handleEditMerge(local, incoming)
			if err != nil {
				fmt.Printf("Error during merge: %v\n", err)
				continue
			}
			return &ConflictResult{Resolution: ResolutionEditMerged, Merged: merged}, nil
		case "b":
			return &ConflictResult{Resolution: ResolutionKeepBoth}, nil
		case "x":
			return &ConflictResult{Resolution: ResolutionSkip}, nil
		default:
			fmt.Printf("Invalid choice. Please enter l, i, e, b, x\n")
		}
	}
}

func loginLabel(l storage.Login) string {
	if l.Username == "" {
		return l.Site
	}
	return fmt.Sprintf("%s (%s)", l.Site, l.Username)
}

// readChoice reads a single character choice from the terminal
func readChoice() (string, error) {
	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		// Not a terminal
		var input string
		_, err := fmt.Scanln(&input)
		if err != nil {
			return "", err
		}
		return strings.ToLower(strings.TrimSpace(input)), nil
	}
	defer func() { _ = term.Restore(int(os.Stdin.Fd()), oldState) }()

	buf := make([]byte, 1)
	_, err = os.Stdin.Read(buf)
	if err != nil {
		return "", err
	}

	choice := strings.ToLower(string(buf[0]))
	fmt.Printf("%s\n", choice)
	return choice, nil
}

// getEditor returns the editor to use, checking environment variables with fallback
func getEditor() string {
	if editor := os.Getenv("VISUAL"); editor != "" {
		return editor
	}
	if editor := os.Getenv("EDITOR"); editor != "" {
		return editor
	}
	if runtime.GOOS == "windows" {
		return "notepad"
	}
	return "vi"
}

// loginBlock renders a login one field per line, the form used for edit merges
func loginBlock(l storage.Login) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "site: %s\n", escapeField(l.Site))
	fmt.Fprintf(&buf, "username: %s\n", escapeField(l.Username))
	fmt.Fprintf(&buf, "password: %s\n", escapeField(l.Password))
	fmt.Fprintf(&buf, "notes: %s\n", escapeField(l.Notes))
	return buf.Bytes()
}

// parseLoginBlock reads the output of loginBlock after the user edited it
func parseLoginBlock(data []byte) (*storage.Login, error) {
	var l storage.Login
	seen := make(map[string]bool)
	for n, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("line %d: expected \"field: value\"", n+1)
		}
		value, err := unescapeField(strings.TrimPrefix(value, " "))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n+1, err)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		switch key {
		case "site":
			l.Site = value
		case "username":
			l.Username = value
		case "password":
			l.Password = value
		case "notes":
			l.Notes = value
		default:
			return nil, fmt.Errorf("line %d: unknown field %q", n+1, key)
		}
		seen[key] = true
	}
	if !seen["site"] || strings.TrimSpace(l.Site) == "" {
		return nil, ErrSiteRequired
	}
	return &l, nil
}

// createLineDiff creates a line-level diff with conflict markers only around differences.
// Common lines appear once; differing sections are wrapped in git-style markers.
func createLineDiff(localData, importData []byte) []byte {
	dmp := diffmatchpatch.New()

	a, b, lineArray := dmp.DiffLinesToChars(string(localData), string(importData))
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	return buildConflictFromDiffs(diffs)
}

// buildConflictFromDiffs converts diff output to conflict-marked content.
// Equal sections pass through unchanged, while delete/insert pairs become conflict hunks.
func buildConflictFromDiffs(diffs []diffmatchpatch.Diff) []byte {
	var buf bytes.Buffer

	i := 0
	for i < len(diffs) {
		d := diffs[i]

		switch d.Type {
		case diffmatchpatch.DiffEqual:
			buf.WriteString(d.Text)
			i++

		case diffmatchpatch.DiffDelete, diffmatchpatch.DiffInsert:
			buf.WriteString("<<<<<<< vault\n")
			for i < len(diffs) && diffs[i].Type == diffmatchpatch.DiffDelete {
				writeLines(&buf, diffs[i].Text)
				i++
			}

			buf.WriteString("=======\n")
			for i < len(diffs) && diffs[i].Type == diffmatchpatch.DiffInsert {
				writeLines(&buf, diffs[i].Text)
				i++
			}

			buf.WriteString(">>>>>>> import\n")
		}
	}

	return buf.Bytes()
}

func writeLines(buf *bytes.Buffer, text string) {
	buf.WriteString(text)
	if len(text) > 0 && text[len(text)-1] != '\n' {
		buf.WriteByte('\n')
	}
}

// createConflictFile writes both versions of a login, with conflict markers, to a
// private temporary file.
func createConflictFile(local, incoming storage.Login) (*os.File, error) {
	tmpFile, err := os.CreateTemp("", "credvault-merge-*.txt")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	if err := os.Chmod(tmpFile.Name(), FilePermSecure); err != nil {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return nil, fmt.Errorf("failed to set temp file permissions: %w", err)
	}

	localData := loginBlock(local)
	importData := loginBlock(incoming)
	content := createLineDiff(localData, importData)
	defer crypto.ClearBytes(localData)
	defer crypto.ClearBytes(importData)
	defer crypto.ClearBytes(content)

	if _, err := tmpFile.Write(content); err != nil {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return nil, fmt.Errorf("failed to write conflict content: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpFile.Name())
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}

	return tmpFile, nil
}

// invokeEditor opens the configured editor and waits for the user to finish
func invokeEditor(filename string) error {
	editor := getEditor()

	if _, err := exec.LookPath(editor); err != nil {
		return fmt.Errorf("editor '%s' not found: %w\nPlease set VISUAL or EDITOR environment variable", editor, err)
	}

	cmd := exec.Command(editor, filename)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return fmt.Errorf("editor exited with code %d", exitErr.ExitCode())
	}
	return err
}

// handleEditMerge orchestrates the editor-based merge workflow
func handleEditMerge(local, incoming storage.Login) (*storage.Login, error) {
	tmpFile, err := createConflictFile(local, incoming)
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmpFile.Name())

	fmt.Printf("\nopening editor for merge...\n")

	if err := invokeEditor(tmpFile.Name()); err != nil {
		return nil, err
	}

	mergedData, err := os.ReadFile(tmpFile.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to read edited file: %w", err)
	}
	defer crypto.ClearBytes(mergedData)

	if hasConflictMarkers(mergedData) {
		return nil, fmt.Errorf("conflict markers still present")
	}

	return parseLoginBlock(mergedData)
}

// hasConflictMarkers checks if content still contains unresolved conflict markers
func hasConflictMarkers(data []byte) bool {
	return bytes.Contains(data, []byte("<<<<<<<")) ||
		bytes.Contains(data, []byte("=======")) ||
		bytes.Contains(data, []byte(">>>>>>>"))
}

// GenerateUnifiedDiff generates a unified diff between the vault export and a file.
// Returns an empty string if they are identical.
func GenerateUnifiedDiff(path string, vaultData, localData []byte) (string, error) {
	if CompareFiles(vaultData, localData) {
		return "", nil
	}

	if !DetectFileType(vaultData) || !DetectFileType(localData) {
		return fmt.Sprintf("Binary file %s differs from the vault\n", path), nil
	}

	dmp := diffmatchpatch.New()

	vaultStr, localStr := string(vaultData), string(localData)
	a, b, lineArray := dmp.DiffLinesToChars(vaultStr, localStr)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	patches := dmp.PatchMake(vaultStr, diffs)
	if len(patches) == 0 {
		return "", nil
	}

	var result strings.Builder
	result.WriteString("--- vault\n")
	result.WriteString(fmt.Sprintf("+++ %s\n", path))
	result.WriteString(dmp.PatchToText(patches))

	return result.String(), nil
}

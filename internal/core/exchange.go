package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/illarion/credvault/internal/crypto"
	"github.com/illarion/credvault/internal/storage"
)

// ExportHeader is the first line of every export file
const ExportHeader = "# credvault export: site\tusername\tpassword\tnotes"

// maxExportScan bounds the files findExports reads
const maxExportScan = 1 << 20

var ErrNotText = errors.New("file is not a text export")

// ImportResult contains the results of an import
type ImportResult struct {
	Added     []string
	Updated   []string
	Unchanged []string
	Skipped   []string
}

// escapeField makes a value safe for one tab-separated field. A leading '#' is
// escaped so the line is not read back as a comment.
func escapeField(s string) string {
	if !strings.ContainsAny(s, "\\\t\n\r") && !strings.HasPrefix(s, "#") {
		return s
	}
	var b strings.Builder
	if strings.HasPrefix(s, "#") {
		b.WriteString(`\#`)
		s = s[1:]
	}
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\t':
			b.WriteString(`\t`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func unescapeField(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		if i+1 == len(s) {
			return "", fmt.Errorf("dangling escape")
		}
		i++
		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case 't':
			b.WriteByte('\t')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case '#':
			b.WriteByte('#')
		default:
			return "", fmt.Errorf("unknown escape \\%c", s[i])
		}
	}
	return b.String(), nil
}

// FormatExport renders logins as export lines, sorted by site and username
func FormatExport(logins []storage.Login) []byte {
	table := &storage.LoginTable{Logins: logins}

	var buf bytes.Buffer
	buf.WriteString(ExportHeader)
	buf.WriteByte('\n')
	for _, l := range table.Search("") {
		buf.WriteString(escapeField(l.Site))
		buf.WriteByte('\t')
		buf.WriteString(escapeField(l.Username))
		buf.WriteByte('\t')
		buf.WriteString(escapeField(l.Password))
		buf.WriteByte('\t')
		buf.WriteString(escapeField(l.Notes))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// ParseExport reads export lines. Blank lines and lines starting with '#' are ignored;
// the notes field may be omitted.
func ParseExport(data []byte) ([]storage.Login, error) {
	if !DetectFileType(data) {
		return nil, ErrNotText
	}

	var out []storage.Login
	for n, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) < 3 || len(fields) > 4 {
			return nil, fmt.Errorf("line %d: expected 3 or 4 tab-separated fields, got %d", n+1, len(fields))
		}
		for i := range fields {
			v, err := unescapeField(fields[i])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", n+1, err)
			}
			fields[i] = v
		}

		l := storage.Login{Site: fields[0], Username: fields[1], Password: fields[2]}
		if len(fields) == 4 {
			l.Notes = fields[3]
		}
		if strings.TrimSpace(l.Site) == "" {
			return nil, fmt.Errorf("line %d: %w", n+1, ErrSiteRequired)
		}
		out = append(out, l)
	}
	return out, nil
}

// exportData decrypts the table and renders it
func (s *Session) exportData(ctx context.Context) ([]byte, int, error) {
	var data []byte
	var count int
	err := s.view(ctx, func(t *storage.LoginTable) error {
		data = FormatExport(t.Logins)
		count = len(t.Logins)
		return nil
	})
	return data, count, err
}

// Export writes every login, in clear text, to path inside the working directory.
// It returns the number of logins written.
func (s *Session) Export(ctx context.Context, path string) (int, error) {
	data, count, err := s.exportData(ctx)
	if err != nil {
		return 0, err
	}
	defer crypto.ClearBytes(data)

	if err := s.vault.validator.WriteFileInRoot(path, data, FilePermSecure); err != nil {
		return 0, fmt.Errorf("failed to write export: %w", err)
	}
	s.vault.logger.Info("logins exported", "user", s.user, "count", count)
	return count, nil
}

// Import merges the export file at path into the vault. Conflicting logins, same site
// and username with a different password or notes, are resolved by strategy. Nothing
// is written if the import fails or is aborted.
func (s *Session) Import(ctx context.Context, path string, strategy MergeStrategy) (*ImportResult, error) {
	data, err := s.vault.validator.ReadFileInRoot(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read import file: %w", err)
	}
	defer crypto.ClearBytes(data)

	records, err := ParseExport(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	result := &ImportResult{}
	err = s.mutate(ctx, func(t *storage.LoginTable) error {
		for _, rec := range records {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := mergeRecord(t, rec, strategy, result); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.vault.logger.Info("logins imported", "user", s.user, "added", len(result.Added), "updated", len(result.Updated))
	return result, nil
}

func mergeRecord(t *storage.LoginTable, rec storage.Login, strategy MergeStrategy, result *ImportResult) error {
	label := loginLabel(rec)
	existing := t.FindBySiteUser(rec.Site, rec.Username)
	if existing == nil {
		t.Add(rec)
		result.Added = append(result.Added, label)
		return nil
	}
	if sameSecret(*existing, rec) {
		result.Unchanged = append(result.Unchanged, label)
		return nil
	}

	res, err := HandleConflict(*existing, rec, strategy)
	if err != nil {
		return err
	}

	switch res.Resolution {
	case ResolutionKeepLocal, ResolutionSkip:
		result.Skipped = append(result.Skipped, label)
	case ResolutionUseImport:
		rec.ID = existing.ID
		t.Update(rec)
		result.Updated = append(result.Updated, label)
	case ResolutionEditMerged:
		merged := *res.Merged
		if other := t.FindBySiteUser(merged.Site, merged.Username); other != nil && other.ID != existing.ID {
			return fmt.Errorf("%w: %s", ErrLoginExists, loginLabel(merged))
		}
		merged.ID = existing.ID
		t.Update(merged)
		result.Updated = append(result.Updated, loginLabel(merged))
	case ResolutionKeepBoth:
		site, err := importedSite(t, rec)
		if err != nil {
			return err
		}
		rec.Site = site
		t.Add(rec)
		result.Added = append(result.Added, loginLabel(rec))
	}
	return nil
}

// importedSite finds a free "site (imported N)" name for a kept-both record
func importedSite(t *storage.LoginTable, rec storage.Login) (string, error) {
	site := rec.Site + " (imported)"
	for n := 2; t.FindBySiteUser(site, rec.Username) != nil; n++ {
		if n > MaxImportCopies {
			return "", fmt.Errorf("too many imported copies of %s", loginLabel(rec))
		}
		site = fmt.Sprintf("%s (imported %d)", rec.Site, n)
	}
	return site, nil
}

// Diff compares the vault's export with the export file at path. It returns an empty
// string when they match.
func (s *Session) Diff(ctx context.Context, path string) (string, error) {
	local, err := s.vault.validator.ReadFileInRoot(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	defer crypto.ClearBytes(local)

	vaultData, _, err := s.exportData(ctx)
	if err != nil {
		return "", err
	}
	defer crypto.ClearBytes(vaultData)

	return GenerateUnifiedDiff(path, vaultData, local)
}

// findExports lists files at the top of the working directory that start with
// ExportHeader
func (v *Vault) findExports() []string {
	entries, err := os.ReadDir(v.workDir)
	if err != nil {
		return nil
	}

	var out []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := v.validator.StatInRoot(e.Name())
		if err != nil || info.Size() > maxExportScan {
			continue
		}
		data, err := v.validator.ReadFileInRoot(e.Name())
		if err != nil {
			continue
		}
		if bytes.HasPrefix(data, []byte(ExportHeader)) {
			out = append(out, e.Name())
		}
		crypto.ClearBytes(data)
	}
	return out
}

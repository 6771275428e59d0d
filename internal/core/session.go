package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/illarion/credvault/internal/crypto"
	"github.com/illarion/credvault/internal/storage"
)

var (
	ErrLoginExists    = errors.New("login already exists")
	ErrAmbiguousLogin = errors.New("more than one login matches")
	ErrSiteRequired   = errors.New("site required")
)

// Session is an authenticated account. The password stays sealed in a memguard
// enclave between operations and is opened only for the duration of one engine call.
type Session struct {
	vault  *Vault
	user   string
	params crypto.KeyParams

	mu       sync.Mutex
	password *memguard.Enclave
}

// newSession seals password into an enclave. memguard wipes the source slice.
func newSession(v *Vault, acc *storage.Account, password []byte) *Session {
	return &Session{
		vault:    v,
		user:     acc.Name,
		params:   crypto.KeyParams{Salt: acc.Salt, Cost: acc.Cost},
		password: memguard.NewEnclave(password),
	}
}

// User returns the account name
func (s *Session) User() string {
	return s.user
}

// Close forgets the session password
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.password = nil
}

// secret returns a copy of the session password for one consuming engine call
func (s *Session) secret() ([]byte, error) {
	if s.password == nil {
		return nil, ErrSessionClosed
	}
	buf, err := s.password.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open session key: %w", err)
	}
	defer buf.Destroy()
	return bytes.Clone(buf.Bytes()), nil
}

// load reads and decrypts the account's login table
func (s *Session) load(ctx context.Context, db *storage.Storage) (*storage.LoginTable, crypto.Version, error) {
	sealed, err := db.GetLogins(s.user)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read login table: %w", err)
	}
	password, err := s.secret()
	if err != nil {
		return nil, 0, err
	}

	ctx, cancel := s.vault.engineContext(ctx)
	defer cancel()
	return s.vault.openTable(ctx, password, s.params, sealed)
}

// store seals table with the latest envelope version and writes it back
func (s *Session) store(ctx context.Context, db *storage.Storage, table *storage.LoginTable) error {
	password, err := s.secret()
	if err != nil {
		return err
	}

	ectx, cancel := s.vault.engineContext(ctx)
	defer cancel()
	sealed, err := s.vault.sealTable(ectx, password, s.params, table)
	if err != nil {
		return err
	}

	if err := db.StoreLogins(s.user, sealed); err != nil {
		return fmt.Errorf("failed to store login table: %w", err)
	}
	return db.UpdateModified()
}

// view runs fn over the decrypted table
func (s *Session) view(ctx context.Context, fn func(*storage.LoginTable) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.vault.open()
	if err != nil {
		return err
	}
	defer db.Close()

	table, _, err := s.load(ctx, db)
	if err != nil {
		return err
	}
	defer wipeTable(table)
	return fn(table)
}

// mutate runs fn over the decrypted table and re-seals it, all under one open
// database so concurrent processes cannot interleave.
func (s *Session) mutate(ctx context.Context, fn func(*storage.LoginTable) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.vault.open()
	if err != nil {
		return err
	}
	defer db.Close()

	table, _, err := s.load(ctx, db)
	if err != nil {
		return err
	}
	defer wipeTable(table)

	if err := fn(table); err != nil {
		return err
	}
	return s.store(ctx, db, table)
}

// wipeTable drops references to decrypted passwords. Go strings are immutable, so
// this only shortens their reachable lifetime.
func wipeTable(t *storage.LoginTable) {
	for i := range t.Logins {
		t.Logins[i].Password = ""
	}
}

// Logins returns the logins whose site or username contains query, sorted by site.
func (s *Session) Logins(ctx context.Context, query string) ([]storage.Login, error) {
	var out []storage.Login
	err := s.view(ctx, func(t *storage.LoginTable) error {
		out = copyLogins(t.Search(query))
		return nil
	})
	return out, err
}

// FindLogin resolves ref as an ID, an unambiguous ID prefix, or a site name.
func (s *Session) FindLogin(ctx context.Context, ref string) (*storage.Login, error) {
	var out *storage.Login
	err := s.view(ctx, func(t *storage.LoginTable) error {
		l, err := resolveLogin(t, ref)
		if err != nil {
			return err
		}
		found := *l
		out = &found
		return nil
	})
	return out, err
}

// copyLogins detaches results from the table so wipeTable does not clear them
func copyLogins(in []storage.Login) []storage.Login {
	out := make([]storage.Login, len(in))
	copy(out, in)
	return out
}

func resolveLogin(t *storage.LoginTable, ref string) (*storage.Login, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrLoginNotFound
	}
	if l := t.Find(ref); l != nil {
		return l, nil
	}

	var match *storage.Login
	for i := range t.Logins {
		if strings.EqualFold(t.Logins[i].Site, ref) {
			if match != nil {
				return nil, fmt.Errorf("%w: %s", ErrAmbiguousLogin, ref)
			}
			match = &t.Logins[i]
		}
	}
	if match == nil {
		return nil, fmt.Errorf("%w: %s", ErrLoginNotFound, ref)
	}
	return match, nil
}

func validateLogin(l storage.Login) error {
	if strings.TrimSpace(l.Site) == "" {
		return ErrSiteRequired
	}
	return nil
}

// AddLogin stores a new login. Site and username together must be unique.
func (s *Session) AddLogin(ctx context.Context, l storage.Login) (storage.Login, error) {
	if err := validateLogin(l); err != nil {
		return storage.Login{}, err
	}
	l.ID = ""

	var added storage.Login
	err := s.mutate(ctx, func(t *storage.LoginTable) error {
		if t.FindBySiteUser(l.Site, l.Username) != nil {
			return fmt.Errorf("%w: %s (%s)", ErrLoginExists, l.Site, l.Username)
		}
		added = t.Add(l)
		return nil
	})
	return added, err
}

// UpdateLogin replaces the login with the same ID
func (s *Session) UpdateLogin(ctx context.Context, l storage.Login) error {
	if err := validateLogin(l); err != nil {
		return err
	}
	return s.mutate(ctx, func(t *storage.LoginTable) error {
		if other := t.FindBySiteUser(l.Site, l.Username); other != nil && other.ID != l.ID {
			return fmt.Errorf("%w: %s (%s)", ErrLoginExists, l.Site, l.Username)
		}
		if !t.Update(l) {
			return fmt.Errorf("%w: %s", ErrLoginNotFound, l.ID)
		}
		return nil
	})
}

// RemoveLogin deletes the login ref resolves to and returns it
func (s *Session) RemoveLogin(ctx context.Context, ref string) (storage.Login, error) {
	var removed storage.Login
	err := s.mutate(ctx, func(t *storage.LoginTable) error {
		l, err := resolveLogin(t, ref)
		if err != nil {
			return err
		}
		removed = *l
		removed.Password = ""
		t.Remove(l.ID)
		return nil
	})
	return removed, err
}

// ChangePassword re-keys the account: a new salt, a new verifier and the login table
// re-sealed under the new password, written in one transaction. newPassword is consumed.
func (s *Session) ChangePassword(ctx context.Context, newPassword []byte) error {
	defer crypto.ClearBytes(newPassword)
	if len(newPassword) == 0 {
		return ErrPasswordRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.vault.open()
	if err != nil {
		return err
	}
	defer db.Close()

	table, _, err := s.load(ctx, db)
	if err != nil {
		return err
	}
	defer wipeTable(table)

	salt, err := crypto.GenerateSalt()
	if err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	params := crypto.KeyParams{Salt: salt, Cost: s.vault.opts.Cost}

	enclave := memguard.NewEnclave(bytes.Clone(newPassword))
	hash, sealed, err := s.vault.credentials(ctx, newPassword, params, table)
	if err != nil {
		return err
	}

	if err := db.UpdateCredentials(s.user, salt, hash, params.Cost, sealed); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}
	if err := db.UpdateModified(); err != nil {
		return fmt.Errorf("failed to update modification time: %w", err)
	}

	s.params = params
	s.password = enclave
	s.vault.logger.Info("password changed", "user", s.user)
	return nil
}

// Migrate re-seals a login table stored with an older envelope version. It returns the
// version the table was read with; nothing is written when that is already the latest.
func (s *Session) Migrate(ctx context.Context) (crypto.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.vault.open()
	if err != nil {
		return 0, err
	}
	defer db.Close()

	table, version, err := s.load(ctx, db)
	if err != nil {
		return 0, err
	}
	defer wipeTable(table)

	if version == crypto.LatestVersion {
		return version, nil
	}
	if err := s.store(ctx, db, table); err != nil {
		return version, err
	}
	s.vault.logger.Info("login table migrated", "user", s.user, "from", version.String(), "to", crypto.LatestVersion.String())
	return version, nil
}

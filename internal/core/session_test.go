package core

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/illarion/credvault/internal/crypto"
	"github.com/illarion/credvault/internal/storage"
)

func TestSessionLogins(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t, Options{})
	register(t, v, "alice", "pw")
	s := login(t, v, "alice", "pw")

	gh, err := s.AddLogin(ctx, storage.Login{Site: "github.com", Username: "alice", Password: "gh-secret"})
	if err != nil {
		t.Fatalf("Failed to add login: %v", err)
	}
	if gh.ID == "" {
		t.Fatal("Added login should have an ID")
	}
	if _, err := s.AddLogin(ctx, storage.Login{Site: "example.com", Username: "a", Password: "x", Notes: "first"}); err != nil {
		t.Fatalf("Failed to add login: %v", err)
	}

	if _, err := s.AddLogin(ctx, storage.Login{Site: "GitHub.com", Username: "ALICE", Password: "dup"}); !errors.Is(err, ErrLoginExists) {
		t.Errorf("Expected ErrLoginExists, got %v", err)
	}
	if _, err := s.AddLogin(ctx, storage.Login{Site: "  ", Password: "x"}); !errors.Is(err, ErrSiteRequired) {
		t.Errorf("Expected ErrSiteRequired, got %v", err)
	}

	all, err := s.Logins(ctx, "")
	if err != nil {
		t.Fatalf("Failed to list logins: %v", err)
	}
	if len(all) != 2 || all[0].Site != "example.com" || all[1].Site != "github.com" {
		t.Fatalf("Unexpected logins: %+v", all)
	}
	if all[1].Password != "gh-secret" {
		t.Errorf("Listed password = %q, want gh-secret", all[1].Password)
	}

	found, err := s.FindLogin(ctx, gh.ID[:8])
	if err != nil {
		t.Fatalf("Failed to find login by ID prefix: %v", err)
	}
	if found.ID != gh.ID {
		t.Errorf("FindLogin by prefix returned %s, want %s", found.ID, gh.ID)
	}
	if _, err := s.FindLogin(ctx, "GITHUB.COM"); err != nil {
		t.Errorf("Failed to find login by site: %v", err)
	}
	if _, err := s.FindLogin(ctx, "nowhere"); !errors.Is(err, ErrLoginNotFound) {
		t.Errorf("Expected ErrLoginNotFound, got %v", err)
	}

	found.Password = "rotated"
	if err := s.UpdateLogin(ctx, *found); err != nil {
		t.Fatalf("Failed to update login: %v", err)
	}

	removed, err := s.RemoveLogin(ctx, "example.com")
	if err != nil {
		t.Fatalf("Failed to remove login: %v", err)
	}
	if removed.Site != "example.com" || removed.Password != "" {
		t.Errorf("Unexpected removed login: %+v", removed)
	}

	// A fresh session reads what the first one wrote
	s2 := login(t, v, "alice", "pw")
	all, err = s2.Logins(ctx, "git")
	if err != nil {
		t.Fatalf("Failed to list logins: %v", err)
	}
	if len(all) != 1 || all[0].Password != "rotated" {
		t.Fatalf("Unexpected logins after reopen: %+v", all)
	}
	if !all[0].Created.Equal(gh.Created) {
		t.Errorf("Update should keep the creation time")
	}
}

func TestSessionAmbiguousSite(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t, Options{})
	register(t, v, "alice", "pw")
	s := login(t, v, "alice", "pw")

	for _, user := range []string{"work", "home"} {
		if _, err := s.AddLogin(ctx, storage.Login{Site: "mail.example.com", Username: user, Password: user}); err != nil {
			t.Fatalf("Failed to add login: %v", err)
		}
	}
	if _, err := s.FindLogin(ctx, "mail.example.com"); !errors.Is(err, ErrAmbiguousLogin) {
		t.Errorf("Expected ErrAmbiguousLogin, got %v", err)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t, Options{})
	register(t, v, "alice", "pw")
	register(t, v, "bob", "pw")

	alice := login(t, v, "alice", "pw")
	if _, err := alice.AddLogin(ctx, storage.Login{Site: "a.example", Password: "x"}); err != nil {
		t.Fatalf("Failed to add login: %v", err)
	}

	bob := login(t, v, "bob", "pw")
	logins, err := bob.Logins(ctx, "")
	if err != nil {
		t.Fatalf("Failed to list logins: %v", err)
	}
	if len(logins) != 0 {
		t.Errorf("Bob should not see alice's logins: %+v", logins)
	}
}

func TestSessionClosed(t *testing.T) {
	v := newTestVault(t, Options{})
	register(t, v, "alice", "pw")
	s := login(t, v, "alice", "pw")

	s.Close()
	if _, err := s.Logins(context.Background(), ""); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t, Options{})
	register(t, v, "alice", "old-password")
	s := login(t, v, "alice", "old-password")

	if _, err := s.AddLogin(ctx, storage.Login{Site: "example.com", Password: "kept"}); err != nil {
		t.Fatalf("Failed to add login: %v", err)
	}
	before, err := v.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}

	newPassword := []byte("new-password")
	if err := s.ChangePassword(ctx, newPassword); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}
	for _, b := range newPassword {
		if b != 0 {
			t.Fatal("ChangePassword should wipe the new password")
		}
	}

	// The open session keeps working under the new password
	if _, err := s.Logins(ctx, ""); err != nil {
		t.Fatalf("Session should survive a password change: %v", err)
	}

	if _, err := v.Login(ctx, "alice", []byte("old-password")); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("Old password should be rejected, got %v", err)
	}
	s2 := login(t, v, "alice", "new-password")
	logins, err := s2.Logins(ctx, "")
	if err != nil {
		t.Fatalf("Failed to list logins: %v", err)
	}
	if len(logins) != 1 || logins[0].Password != "kept" {
		t.Errorf("Logins should survive a password change: %+v", logins)
	}

	after, err := v.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if before.Users[0].Salt == after.Users[0].Salt {
		t.Error("ChangePassword should generate a new salt")
	}
	if err := s.ChangePassword(ctx, nil); !errors.Is(err, ErrPasswordRequired) {
		t.Errorf("Expected ErrPasswordRequired, got %v", err)
	}
}

// storeLegacyTable replaces alice's sealed table with an untagged envelope of version ver
func storeLegacyTable(t *testing.T, v *Vault, user, password string, ver crypto.Version, logins []storage.Login) {
	t.Helper()
	db, err := storage.Open(v.Path())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	acc, err := db.GetUser(user)
	if err != nil {
		t.Fatalf("Failed to read account: %v", err)
	}
	table := storage.NewLoginTable()
	for _, l := range logins {
		table.Add(l)
	}
	data, err := json.Marshal(table)
	if err != nil {
		t.Fatalf("Failed to marshal table: %v", err)
	}

	params := crypto.KeyParams{Salt: acc.Salt, Cost: acc.Cost}
	raw, err := crypto.NewService().Encrypt(context.Background(), ver, []byte(password), params, data)
	if err != nil {
		t.Fatalf("Failed to encrypt legacy table: %v", err)
	}
	if err := db.StoreLogins(user, raw); err != nil {
		t.Fatalf("Failed to store legacy table: %v", err)
	}
}

func TestMigrateLegacyTables(t *testing.T) {
	for _, ver := range []crypto.Version{crypto.V1, crypto.V2} {
		t.Run(ver.String(), func(t *testing.T) {
			ctx := context.Background()
			v := newTestVault(t, Options{})
			register(t, v, "alice", "pw")
			storeLegacyTable(t, v, "alice", "pw", ver, []storage.Login{{Site: "old.example", Password: "legacy"}})

			s := login(t, v, "alice", "pw")
			logins, err := s.Logins(ctx, "")
			if err != nil {
				t.Fatalf("Failed to read legacy table: %v", err)
			}
			if len(logins) != 1 || logins[0].Password != "legacy" {
				t.Fatalf("Unexpected legacy logins: %+v", logins)
			}

			from, err := s.Migrate(ctx)
			if err != nil {
				t.Fatalf("Migrate failed: %v", err)
			}
			if from != ver {
				t.Errorf("Migrate reported %v, want %v", from, ver)
			}

			status, err := v.Status(ctx)
			if err != nil {
				t.Fatalf("Status failed: %v", err)
			}
			if status.Users[0].Format != crypto.LatestVersion.String() {
				t.Errorf("Format after migrate = %q", status.Users[0].Format)
			}

			from, err = s.Migrate(ctx)
			if err != nil {
				t.Fatalf("Second migrate failed: %v", err)
			}
			if from != crypto.LatestVersion {
				t.Errorf("Second migrate reported %v, want %v", from, crypto.LatestVersion)
			}
		})
	}
}

func TestCorruptedTable(t *testing.T) {
	v := newTestVault(t, Options{})
	register(t, v, "alice", "pw")

	db, err := storage.Open(v.Path())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	sealed, err := db.GetLogins("alice")
	if err != nil {
		t.Fatalf("Failed to read table: %v", err)
	}
	sealed[len(sealed)/2] ^= 0x01
	if err := db.StoreLogins("alice", sealed); err != nil {
		t.Fatalf("Failed to store table: %v", err)
	}
	db.Close()

	s := login(t, v, "alice", "pw")
	if _, err := s.Logins(context.Background(), ""); !errors.Is(err, crypto.ErrAuthFailed) {
		t.Errorf("Expected ErrAuthFailed, got %v", err)
	}
}

package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/illarion/credvault/internal/crypto"
	"github.com/illarion/credvault/internal/git"
	"github.com/illarion/credvault/internal/security"
	"github.com/illarion/credvault/internal/storage"
)

const (
	DefaultVaultFile = ".credvault"
	FilePermSecure   = 0600 // File: owner rw only
	MaxUserNameLen   = 64
)

var (
	ErrNotInitialized   = errors.New("credvault not initialized")
	ErrAlreadyExists    = errors.New("credvault already exists")
	ErrWrongPassword    = errors.New("wrong password")
	ErrPasswordRequired = errors.New("password required")
	ErrInvalidUser      = errors.New("invalid user name")
	ErrThrottled        = errors.New("too many login attempts, try again later")
	ErrLoginNotFound    = errors.New("login not found")
	ErrSessionClosed    = errors.New("session closed")
)

// LoginObserver receives login outcomes. internal/metrics implements it.
type LoginObserver interface {
	ObserveLogin(result string)
}

// Login outcomes passed to LoginObserver.
const (
	loginOK        = "ok"
	loginDenied    = "denied"
	loginThrottled = "throttled"
)

// Options tunes a Vault. Zero values fall back to defaults.
type Options struct {
	// Cost is used for accounts registered or re-keyed through this Vault.
	Cost crypto.Cost
	// DeriveTimeout bounds every engine call. Zero disables the deadline.
	DeriveTimeout time.Duration
	// LoginsPerMinute and LoginBurst throttle failed password attempts per account.
	// Failures are stored in the database and count across processes. A non-positive
	// rate disables throttling.
	LoginsPerMinute float64
	LoginBurst      int
	Logins          LoginObserver
	Logger          *slog.Logger
}

// Vault manages the accounts stored in one database file
type Vault struct {
	path      string
	workDir   string
	svc       *crypto.Service
	opts      Options
	throttle  *loginThrottle
	logger    *slog.Logger
	validator *security.PathValidator
}

// New creates a Vault for the database at vaultPath. A relative vaultPath is resolved
// against workDir, which also confines export and import files.
func New(workDir, vaultPath string, svc *crypto.Service, opts Options) (*Vault, error) {
	if vaultPath == "" {
		vaultPath = DefaultVaultFile
	}
	if !filepath.IsAbs(vaultPath) {
		vaultPath = filepath.Join(absDir(workDir), vaultPath)
	}
	if opts.Cost == (crypto.Cost{}) {
		opts.Cost = crypto.DefaultCost()
	}
	if err := opts.Cost.Validate(); err != nil {
		return nil, fmt.Errorf("invalid KDF cost: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	root := absDir(workDir)
	var protected []string
	if rel, err := filepath.Rel(root, vaultPath); err == nil && filepath.IsLocal(rel) {
		protected = append(protected, rel)
	}
	validator, err := security.New(root, protected...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize path validator: %w", err)
	}

	return &Vault{
		path:      vaultPath,
		workDir:   root,
		svc:       svc,
		opts:      opts,
		throttle:  newLoginThrottle(opts.LoginsPerMinute/60, opts.LoginBurst),
		logger:    opts.Logger,
		validator: validator,
	}, nil
}

func absDir(dir string) string {
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return dir
}

// Close releases resources held by the Vault
func (v *Vault) Close() error {
	if v.validator != nil {
		return v.validator.Close()
	}
	return nil
}

// Path returns the database file path
func (v *Vault) Path() string {
	return v.path
}

// open opens the database of an initialized vault
func (v *Vault) open() (*storage.Storage, error) {
	if _, err := os.Stat(v.path); err != nil {
		return nil, ErrNotInitialized
	}
	db, err := storage.Open(v.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	initialized, err := db.IsInitialized()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read database: %w", err)
	}
	if !initialized {
		db.Close()
		return nil, ErrNotInitialized
	}
	return db, nil
}

// engineContext applies the configured derivation deadline
func (v *Vault) engineContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if v.opts.DeriveTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, v.opts.DeriveTimeout)
}

func (v *Vault) observeLogin(result string) {
	if v.opts.Logins != nil {
		v.opts.Logins.ObserveLogin(result)
	}
}

// ValidateUserName rejects names that cannot be stored or exported
func ValidateUserName(name string) error {
	if name == "" || len(name) > MaxUserNameLen {
		return fmt.Errorf("%w: %q", ErrInvalidUser, name)
	}
	if strings.TrimSpace(name) != name || strings.ContainsAny(name, "/\t\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidUser, name)
	}
	return nil
}

// Init creates a new, empty vault database
func (v *Vault) Init() error {
	if _, err := os.Stat(v.path); err == nil {
		return ErrAlreadyExists
	}

	db, err := storage.Open(v.path)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer db.Close()

	if err := db.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	if _, err := db.GetOrCreateVaultID(); err != nil {
		return fmt.Errorf("failed to create vault ID: %w", err)
	}
	return nil
}

// Register creates an account protected by password and seals an empty login table
// for it. The password is consumed.
func (v *Vault) Register(ctx context.Context, user string, password []byte) error {
	defer crypto.ClearBytes(password)
	if err := ValidateUserName(user); err != nil {
		return err
	}
	if len(password) == 0 {
		return ErrPasswordRequired
	}

	db, err := v.open()
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.GetUser(user); err == nil {
		return fmt.Errorf("%w: %s", storage.ErrUserExists, user)
	} else if !errors.Is(err, storage.ErrUserNotFound) {
		return fmt.Errorf("failed to read account: %w", err)
	}

	salt, err := crypto.GenerateSalt()
	if err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	params := crypto.KeyParams{Salt: salt, Cost: v.opts.Cost}

	hash, sealed, err := v.credentials(ctx, password, params, storage.NewLoginTable())
	if err != nil {
		return err
	}

	acc := storage.Account{Name: user, Salt: salt, Hash: hash, Cost: v.opts.Cost}
	if err := db.CreateUser(acc, sealed); err != nil {
		return fmt.Errorf("failed to store account: %w", err)
	}
	if err := db.UpdateModified(); err != nil {
		return fmt.Errorf("failed to update modification time: %w", err)
	}
	v.logger.Info("account registered", "user", user, "cost", v.opts.Cost.String())
	return nil
}

// credentials derives the login verifier and seals table under the same password.
// The password is consumed.
func (v *Vault) credentials(ctx context.Context, password []byte, params crypto.KeyParams, table *storage.LoginTable) (hash, sealed []byte, err error) {
	defer crypto.ClearBytes(password)

	ectx, cancel := v.engineContext(ctx)
	defer cancel()

	hash, err = v.svc.PasswordHash(ectx, bytes.Clone(password), params)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to derive password hash: %w", err)
	}
	sealed, err = v.sealTable(ectx, bytes.Clone(password), params, table)
	if err != nil {
		return nil, nil, err
	}
	return hash, sealed, nil
}

// sealTable encodes and seals a login table. The password is consumed.
func (v *Vault) sealTable(ctx context.Context, password []byte, params crypto.KeyParams, table *storage.LoginTable) ([]byte, error) {
	data, err := json.Marshal(table)
	if err != nil {
		crypto.ClearBytes(password)
		return nil, fmt.Errorf("failed to marshal login table: %w", err)
	}
	defer crypto.ClearBytes(data)

	sealed, err := v.svc.Seal(ctx, password, params, data)
	if err != nil {
		return nil, fmt.Errorf("failed to seal login table: %w", err)
	}
	return sealed, nil
}

// openTable decrypts a sealed login table and reports the envelope version it was
// stored with. The password is consumed.
func (v *Vault) openTable(ctx context.Context, password []byte, params crypto.KeyParams, sealed []byte) (*storage.LoginTable, crypto.Version, error) {
	if sealed == nil {
		crypto.ClearBytes(password)
		return storage.NewLoginTable(), 0, nil
	}

	data, version, err := v.svc.Open(ctx, password, params, sealed)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open login table: %w", err)
	}
	defer crypto.ClearBytes(data)

	var table storage.LoginTable
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, 0, fmt.Errorf("failed to unmarshal login table: %w", err)
	}
	if table.Logins == nil {
		table.Logins = make([]storage.Login, 0)
	}
	return &table, version, nil
}

// Login checks password against the account's stored verifier and opens a session.
// A wrong password is recorded with the account; once the recent failures use up the
// throttle budget, attempts fail with ErrThrottled before the password is checked.
// A successful login clears the failures. The password is consumed.
func (v *Vault) Login(ctx context.Context, user string, password []byte) (*Session, error) {
	defer crypto.ClearBytes(password)
	if len(password) == 0 {
		return nil, ErrPasswordRequired
	}

	acc, err := v.account(user)
	if err != nil {
		return nil, err
	}
	if !v.throttle.Allow(acc.Failures, time.Now()) {
		v.observeLogin(loginThrottled)
		v.logger.Warn("login throttled", "user", user, "failures", len(acc.Failures))
		return nil, ErrThrottled
	}

	ectx, cancel := v.engineContext(ctx)
	defer cancel()

	params := crypto.KeyParams{Salt: acc.Salt, Cost: acc.Cost}
	ok, err := v.svc.VerifyPassword(ectx, bytes.Clone(password), params, acc.Hash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		v.observeLogin(loginDenied)
		v.logger.Warn("login denied", "user", user)
		if err := v.recordFailure(user); err != nil {
			v.logger.Error("failed to record login failure", "user", user, "error", err)
		}
		return nil, ErrWrongPassword
	}
	v.observeLogin(loginOK)
	if len(acc.Failures) > 0 {
		if err := v.clearFailures(user); err != nil {
			v.logger.Error("failed to clear login failures", "user", user, "error", err)
		}
	}

	return newSession(v, acc, password), nil
}

// VerifyPassword checks the password of user without opening a session.
// The password is consumed.
func (v *Vault) VerifyPassword(ctx context.Context, user string, password []byte) error {
	s, err := v.Login(ctx, user, password)
	if err != nil {
		return err
	}
	s.Close()
	return nil
}

// account reads an account record
func (v *Vault) account(user string) (*storage.Account, error) {
	db, err := v.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	acc, err := db.GetUser(user)
	if err != nil {
		return nil, fmt.Errorf("failed to read account: %w", err)
	}
	return acc, nil
}

// recordFailure stores a failed login for the throttle. Nothing is stored when
// throttling is off.
func (v *Vault) recordFailure(user string) error {
	if v.throttle == nil {
		return nil
	}
	db, err := v.open()
	if err != nil {
		return err
	}
	defer db.Close()

	now := time.Now()
	return db.RecordLoginFailure(user, now, now.Add(-v.throttle.Window()), maxLoginFailures)
}

func (v *Vault) clearFailures(user string) error {
	db, err := v.open()
	if err != nil {
		return err
	}
	defer db.Close()
	return db.ClearLoginFailures(user)
}

// Users lists registered account names
func (v *Vault) Users() ([]string, error) {
	db, err := v.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return db.ListUsers()
}

// DeleteUser removes an account after checking its password.
// The password is consumed.
func (v *Vault) DeleteUser(ctx context.Context, user string, password []byte) error {
	if err := v.VerifyPassword(ctx, user, password); err != nil {
		return err
	}

	db, err := v.open()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.DeleteUser(user); err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return db.UpdateModified()
}

// UserStatus describes one account without decrypting anything
type UserStatus struct {
	Name     string
	Created  time.Time
	Modified time.Time
	Cost     crypto.Cost
	Salt     string // Base64
	Format   string // envelope version of the sealed login table
}

// StatusInfo contains vault status information
type StatusInfo struct {
	Path         string
	VaultID      string
	Created      time.Time
	LastModified time.Time
	Algorithm    string
	Version      crypto.Version
	Users        []UserStatus
	GitStatus    *git.GitStatus
}

// Status returns the current status (no password required)
func (v *Vault) Status(ctx context.Context) (*StatusInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	db, err := v.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	// Timestamps and ID are informational
	lastModified, _ := db.GetModified()
	created, _ := db.GetCreated()
	vaultID, _ := db.GetVaultID()

	status := &StatusInfo{
		Path:         v.path,
		VaultID:      vaultID,
		Created:      created,
		LastModified: lastModified,
		Algorithm:    "Argon2id + XChaCha20-Poly1305 over AES-256-CBC + HMAC-SHA-512",
		Version:      crypto.LatestVersion,
		Users:        make([]UserStatus, 0),
	}

	names, err := db.ListUsers()
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		acc, err := db.GetUser(name)
		if err != nil {
			continue
		}
		sealed, err := db.GetLogins(name)
		if err != nil {
			sealed = nil
		}
		status.Users = append(status.Users, UserStatus{
			Name:     acc.Name,
			Created:  acc.Created,
			Modified: acc.Modified,
			Cost:     acc.Cost,
			Salt:     crypto.EncodeText(acc.Salt),
			Format:   envelopeFormat(sealed),
		})
	}

	if rel, err := filepath.Rel(v.workDir, v.path); err == nil && filepath.IsLocal(rel) {
		gitStatus, err := git.CheckGitIntegration(v.workDir, filepath.ToSlash(rel), v.findExports())
		if err == nil && gitStatus.IsRepo {
			status.GitStatus = gitStatus
		}
	}

	return status, nil
}

// envelopeFormat guesses the version of a sealed blob from its shape alone
func envelopeFormat(sealed []byte) string {
	if len(sealed) == 0 {
		return "empty"
	}
	if env, err := crypto.ParseTagged(sealed); err == nil {
		return env.Version.String()
	}
	return "legacy"
}

// Compact compacts the database to reclaim unused space.
func (v *Vault) Compact() error {
	db, err := v.open()
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Compact()
}

// GetVaultID retrieves the vault ID from storage
func (v *Vault) GetVaultID() (string, error) {
	db, err := v.open()
	if err != nil {
		return "", err
	}
	defer db.Close()
	return db.GetVaultID()
}

// GetOrCreateVaultID retrieves existing vault ID or generates a new one
func (v *Vault) GetOrCreateVaultID() (string, error) {
	db, err := v.open()
	if err != nil {
		return "", err
	}
	defer db.Close()
	return db.GetOrCreateVaultID()
}

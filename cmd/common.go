package cmd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/illarion/credvault/internal/config"
	"github.com/illarion/credvault/internal/core"
	"github.com/illarion/credvault/internal/crypto"
	"github.com/illarion/credvault/internal/keyring"
	"github.com/illarion/credvault/internal/logging"
	"github.com/illarion/credvault/internal/metrics"
	"github.com/illarion/credvault/internal/security"
	"github.com/illarion/credvault/internal/storage"
)

// Options holds the flags every command accepts
type Options struct {
	ConfigPath string
	User       string
}

// App bundles the vault and its collaborators for one command run
type App struct {
	Config  config.Config
	Vault   *core.Vault
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	user string
}

// PasswordSource tells where a password came from
type PasswordSource int

const (
	SourceEnv PasswordSource = iota
	SourceKeyring
	SourcePrompt
)

// Setup loads configuration, installs the logger and prepares the vault.
// It exits on error.
func Setup(opts Options) *App {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	m := metrics.New()
	svc := crypto.NewService(
		crypto.WithLogger(logger),
		crypto.WithObserver(m),
		crypto.WithDeriver(crypto.Argon2id{MaxMemoryKiB: cfg.KDF.MaxMemoryKiB}),
	)

	vault, err := core.New(".", cfg.VaultPath, svc, core.Options{
		Cost:            cfg.Cost(),
		DeriveTimeout:   cfg.DeriveTimeout,
		LoginsPerMinute: cfg.Login.AttemptsPerMinute,
		LoginBurst:      cfg.Login.Burst,
		Logins:          m,
		Logger:          logger,
	})
	if err != nil {
		HandleError(err)
	}
	if cfg.Source != "" {
		logger.Debug("config loaded", "path", cfg.Source)
	}

	user := opts.User
	if user == "" {
		user = cfg.DefaultUser
	}
	return &App{Config: cfg, Vault: vault, Metrics: m, Logger: logger, user: user}
}

// Close writes the metrics textfile, when configured, and releases the vault
func (a *App) Close() {
	if a.Config.MetricsFile != "" {
		if err := a.Metrics.WriteTextfile(a.Config.MetricsFile); err != nil {
			a.Logger.Warn("metrics not written", "path", a.Config.MetricsFile, "error", err)
		}
	}
	a.Vault.Close()
}

// User returns the account a command acts on: --user, then default_user, then the
// only registered account
func (a *App) User() string {
	if a.user != "" {
		return a.user
	}

	users, err := a.Vault.Users()
	if err != nil {
		HandleError(err)
	}
	switch len(users) {
	case 1:
		a.user = users[0]
		return a.user
	case 0:
		fmt.Fprintf(os.Stderr, "Error: no accounts registered\n")
		fmt.Fprintf(os.Stderr, "Run 'credvault register --user <name>' first\n")
	default:
		fmt.Fprintf(os.Stderr, "Error: %d accounts registered, choose one with --user\n", len(users))
	}
	os.Exit(1)
	return ""
}

// GetPassword retrieves password from environment or prompts user
// The caller is responsible for calling crypto.ClearBytes on the returned password
func GetPassword(prompt string) ([]byte, PasswordSource, error) {
	if password := core.GetPasswordFromEnv(); password != nil {
		return password, SourceEnv, nil
	}

	password, err := core.ReadPassword(prompt)
	if err != nil {
		return nil, SourcePrompt, err
	}
	return password, SourcePrompt, nil
}

// GetPasswordOrExit is like GetPassword but exits on error
func GetPasswordOrExit(prompt string) []byte {
	password, _, err := GetPassword(prompt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	return password
}

// GetNewPassword retrieves a password for a new account or a password change.
// Checks environment variable first, then prompts with confirmation
func GetNewPassword(prompt string) ([]byte, error) {
	if password := core.GetPasswordFromEnv(); password != nil {
		return password, nil
	}
	return core.ReadPasswordConfirm(prompt)
}

// Login opens a session for the command's account. The password is taken from
// CREDVAULT_PASSWORD, then the OS keyring, then a prompt. A keyring entry that no
// longer matches falls through to the prompt. With offerSave a prompted password may
// be stored in the keyring afterwards.
func (a *App) Login(ctx context.Context, offerSave bool) (*core.Session, PasswordSource) {
	user := a.User()
	vaultID, _ := a.Vault.GetVaultID()

	if password := core.GetPasswordFromEnv(); password != nil {
		s, err := a.Vault.Login(ctx, user, password)
		if err != nil {
			HandleError(err)
		}
		return s, SourceEnv
	}

	if vaultID != "" {
		if password, err := keyring.GetPassword(vaultID, user); err == nil {
			s, err := a.Vault.Login(ctx, user, password)
			if err == nil {
				return s, SourceKeyring
			}
			if !errors.Is(err, core.ErrWrongPassword) {
				HandleError(err)
			}
			fmt.Fprintf(os.Stderr, "Password in keyring is out of date\n")
		}
	}

	password, err := core.ReadPassword(fmt.Sprintf("Password for %s: ", user))
	if err != nil {
		HandleError(err)
	}

	var keep []byte
	if offerSave && vaultID != "" {
		keep = bytes.Clone(password)
		defer crypto.ClearBytes(keep)
	}

	s, err := a.Vault.Login(ctx, user, password)
	if err != nil {
		crypto.ClearBytes(keep)
		HandleError(err)
	}
	if keep != nil {
		OfferToSavePassword(vaultID, user, keep)
	}
	return s, SourcePrompt
}

// OfferToSavePassword asks whether to keep a prompted password in the OS keyring.
// It does nothing when stdin is not a terminal.
func OfferToSavePassword(vaultID, user string, password []byte) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return
	}

	if !confirm("Save password to keyring? [y/N]: ") {
		return
	}

	if err := keyring.SavePassword(vaultID, user, password); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to save to keyring: %s\n", err)
		return
	}
	fmt.Fprintln(os.Stderr, "Password saved to keyring")
}

// confirm asks a yes/no question on stderr. Anything but y or yes is a no.
func confirm(prompt string) bool {
	fmt.Fprint(os.Stderr, prompt)
	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// HandleError prints err with a hint for the common cases and exits
func HandleError(err error) {
	for _, line := range describeError(err) {
		fmt.Fprintln(os.Stderr, line)
	}
	os.Exit(1)
}

// describeError renders err as the lines HandleError prints
func describeError(err error) []string {
	switch {
	case errors.Is(err, core.ErrNotInitialized):
		return []string{"Error: credvault not initialized", "Run 'credvault init' first"}
	case errors.Is(err, core.ErrAlreadyExists):
		return []string{"Error: vault already exists in this directory", "Use 'credvault status' to see current state"}
	case errors.Is(err, core.ErrWrongPassword):
		return []string{"Error: wrong password"}
	case errors.Is(err, core.ErrThrottled):
		return []string{"Error: " + core.ErrThrottled.Error()}
	case errors.Is(err, storage.ErrUserNotFound):
		return []string{"Error: " + err.Error(), "Use 'credvault status' to list accounts"}
	case errors.Is(err, crypto.ErrAuthFailed):
		return []string{"Error: authentication failed: wrong password or corrupted data"}
	case errors.Is(err, crypto.ErrAborted), errors.Is(err, context.Canceled):
		return []string{"Error: operation aborted"}
	case crypto.KindOf(err).Retryable():
		return []string{"Error: " + err.Error(), "Lower kdf.memory_kib or raise kdf.max_memory_kib, then retry"}
	case errors.Is(err, security.ErrPathEscapes), errors.Is(err, security.ErrAbsolutePath):
		return []string{"Error: " + err.Error(), "Export and import files must be inside the current directory"}
	default:
		return []string{"Error: " + err.Error()}
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

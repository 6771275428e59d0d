package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/illarion/credvault/cmd"
	"github.com/illarion/credvault/internal/core"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		runInit(ctx, os.Args[2:])
	case "register":
		runRegister(ctx, os.Args[2:])
	case "unregister":
		runUnregister(ctx, os.Args[2:])
	case "add":
		runAdd(ctx, os.Args[2:])
	case "edit":
		runEdit(ctx, os.Args[2:])
	case "list", "ls":
		runList(ctx, os.Args[2:])
	case "get":
		runGet(ctx, os.Args[2:])
	case "rm":
		runRm(ctx, os.Args[2:])
	case "passwd":
		runPasswd(ctx, os.Args[2:])
	case "export":
		runExport(ctx, os.Args[2:])
	case "import":
		runImport(ctx, os.Args[2:])
	case "diff":
		runDiff(ctx, os.Args[2:])
	case "migrate":
		runMigrate(ctx, os.Args[2:])
	case "status":
		runStatus(ctx, os.Args[2:])
	case "compact":
		runCompact(ctx, os.Args[2:])
	case "keyring":
		runKeyring(ctx, os.Args[2:])
	case "generate":
		runGenerate(ctx, os.Args[2:])
	case "completion":
		runCompletion(ctx, os.Args[2:])
	case "help", "-h", "--help":
		if len(os.Args) <= 2 {
			printUsage()
			return
		}
		printCommandHelp(os.Args[2])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// commonFlags registers --config and --user on fs
func commonFlags(fs *flag.FlagSet) *cmd.Options {
	opts := &cmd.Options{}
	fs.StringVar(&opts.ConfigPath, "config", "", "Config file (default: $CREDVAULT_CONFIG or ./credvault.yaml)")
	fs.StringVar(&opts.User, "user", "", "Account name (default: default_user or the only account)")
	return opts
}

func parse(fs *flag.FlagSet, args []string) {
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func runInit(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	opts := commonFlags(fs)
	parse(fs, args)

	cmd.Init(ctx, *opts)
}

func runRegister(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	opts := commonFlags(fs)
	parse(fs, args)

	cmd.Register(ctx, *opts)
}

func runUnregister(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("unregister", flag.ExitOnError)
	opts := commonFlags(fs)
	force := fs.Bool("force", false, "Delete without confirmation")
	parse(fs, args)

	cmd.Unregister(ctx, *opts, *force)
}

func runAdd(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	opts := commonFlags(fs)
	username := fs.String("username", "", "Login username")
	notes := fs.String("notes", "", "Free-form notes")
	generate := fs.Bool("generate", false, "Generate a passphrase instead of prompting")
	words := fs.Int("words", core.DefaultPassphraseWords, "Generated passphrase length in words")
	parse(fs, args)

	site := fs.Arg(0)
	cmd.Add(ctx, *opts, cmd.LoginFields{
		Site:     &site,
		Username: username,
		Notes:    notes,
		Generate: *generate,
		Words:    *words,
	})
}

func runEdit(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("edit", flag.ExitOnError)
	opts := commonFlags(fs)
	site := fs.String("site", "", "New site")
	username := fs.String("username", "", "New username")
	notes := fs.String("notes", "", "New notes")
	password := fs.Bool("password", false, "Prompt for a new password")
	generate := fs.Bool("generate", false, "Generate a new passphrase")
	words := fs.Int("words", core.DefaultPassphraseWords, "Generated passphrase length in words")
	parse(fs, args)

	// Only flags given on the command line change the login
	fields := cmd.LoginFields{Password: *password, Generate: *generate, Words: *words}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "site":
			fields.Site = site
		case "username":
			fields.Username = username
		case "notes":
			fields.Notes = notes
		}
	})

	cmd.Edit(ctx, *opts, fs.Arg(0), fields)
}

func runList(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	opts := commonFlags(fs)
	show := fs.Bool("show", false, "Show passwords")
	parse(fs, args)

	cmd.List(ctx, *opts, fs.Arg(0), *show)
}

func runGet(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	opts := commonFlags(fs)
	copyShort := fs.Bool("c", false, "Copy the password to the clipboard")
	copyLong := fs.Bool("copy", false, "Copy the password to the clipboard")
	parse(fs, args)

	cmd.Get(ctx, *opts, fs.Arg(0), *copyShort || *copyLong)
}

func runRm(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("rm", flag.ExitOnError)
	opts := commonFlags(fs)
	parse(fs, args)

	cmd.Remove(ctx, *opts, fs.Args())
}

func runPasswd(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("passwd", flag.ExitOnError)
	opts := commonFlags(fs)
	parse(fs, args)

	cmd.Passwd(ctx, *opts)
}

func runExport(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	opts := commonFlags(fs)
	force := fs.Bool("force", false, "Overwrite an existing file without asking")
	parse(fs, args)

	cmd.Export(ctx, *opts, fs.Arg(0), *force)
}

func runImport(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	opts := commonFlags(fs)
	strategyName := fs.String("strategy", "ask", "Conflict strategy: ask, keep-local, use-import, keep-both, abort")
	force := fs.Bool("force", false, "Take the imported login on every conflict")
	keepLocal := fs.Bool("keep-local", false, "Keep the vault login on every conflict")
	keepBoth := fs.Bool("keep-both", false, "Keep both, renaming the imported site")
	parse(fs, args)

	strategy, err := cmd.ParseImportFlags(*strategyName, *force, *keepLocal, *keepBoth)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	cmd.Import(ctx, *opts, fs.Arg(0), strategy)
}

func runDiff(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("diff", flag.ExitOnError)
	opts := commonFlags(fs)
	parse(fs, args)

	cmd.Diff(ctx, *opts, fs.Arg(0))
}

func runMigrate(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	opts := commonFlags(fs)
	parse(fs, args)

	cmd.Migrate(ctx, *opts)
}

func runStatus(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	opts := commonFlags(fs)
	parse(fs, args)

	cmd.Status(ctx, *opts)
}

func runCompact(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("compact", flag.ExitOnError)
	opts := commonFlags(fs)
	parse(fs, args)

	cmd.Compact(ctx, *opts)
}

func runKeyring(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: credvault keyring <save|delete|status> [--user <name>]")
		os.Exit(1)
	}

	fs := flag.NewFlagSet("keyring "+args[0], flag.ExitOnError)
	opts := commonFlags(fs)
	parse(fs, args[1:])

	switch args[0] {
	case "save":
		cmd.KeyringSave(ctx, *opts)
	case "delete":
		cmd.KeyringDelete(ctx, *opts)
	case "status":
		cmd.KeyringStatus(ctx, *opts)
	default:
		fmt.Fprintf(os.Stderr, "Unknown keyring command: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "Usage: credvault keyring <save|delete|status> [--user <name>]")
		os.Exit(1)
	}
}

func runGenerate(_ context.Context, args []string) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	words := fs.Int("words", core.DefaultPassphraseWords, "Passphrase length: 12, 15, 18, 21 or 24 words")
	sep := fs.String("sep", "-", "Word separator")
	parse(fs, args)

	cmd.Generate(*words, *sep)
}

func runCompletion(_ context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: credvault completion <bash|zsh|fish>")
		os.Exit(1)
	}
	cmd.Completion(args[0])
}

func printUsage() {
	fmt.Println("credvault - Multi-user password vault in a single file")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  credvault <command> [--config <file>] [--user <name>] [arguments]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init        Create a .credvault vault in current directory")
	fmt.Println("  register    Create an account with its own password")
	fmt.Println("  unregister  Delete an account and all of its logins")
	fmt.Println("  add         Store a new login")
	fmt.Println("  edit        Change a stored login")
	fmt.Println("  list, ls    List stored logins")
	fmt.Println("  get         Print or copy the password of a login")
	fmt.Println("  rm          Remove logins")
	fmt.Println("  passwd      Change account password")
	fmt.Println("  export      Write logins to a plain text file")
	fmt.Println("  import      Merge logins from an export file")
	fmt.Println("  diff        Compare logins with an export file")
	fmt.Println("  migrate     Re-encrypt logins in the latest format")
	fmt.Println("  status      Show vault status")
	fmt.Println("  compact     Compact vault to reclaim disk space")
	fmt.Println("  keyring     Manage passwords in the OS keyring")
	fmt.Println("  generate    Generate a random passphrase")
	fmt.Println("  completion  Generate shell completions")
	fmt.Println("  help        Show help for a command")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  credvault init                          # Create new vault")
	fmt.Println("  credvault register --user alice         # Create an account")
	fmt.Println("  credvault add --generate github.com     # Store a login with a new passphrase")
	fmt.Println("  credvault get --copy github.com         # Copy its password")
	fmt.Println()
	fmt.Println("Use 'credvault help <command>' for more information about a command.")
}

func printCommandHelp(command string) {
	switch command {
	case "init":
		fmt.Println("credvault init")
		fmt.Println()
		fmt.Println("Creates an empty .credvault vault file in the current directory.")
		fmt.Println("The vault path can be changed with vault_path in credvault.yaml")
		fmt.Println("or $CREDVAULT_VAULT. Accounts are added with 'credvault register'.")
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  credvault init                   # Create new vault")
	case "register":
		fmt.Println("credvault register --user <name>")
		fmt.Println()
		fmt.Println("Creates an account. Every account has its own password and its own")
		fmt.Println("encrypted set of logins; accounts cannot read each other's logins.")
		fmt.Println("The password is not stored anywhere - you must remember it.")
		fmt.Println()
		fmt.Println("Example:")
		fmt.Println("  credvault register --user alice")
	case "unregister":
		fmt.Println("credvault unregister [--force] [--user <name>]")
		fmt.Println()
		fmt.Println("Deletes an account and every login stored under it.")
		fmt.Println("Requires the account password.")
		fmt.Println()
		fmt.Println("Flags:")
		fmt.Println("  --force    Delete without confirmation")
	case "add":
		fmt.Println("credvault add [--username <name>] [--notes <text>] [--generate [--words N]] <site>")
		fmt.Println()
		fmt.Println("Stores a new login. Site and username together must be unique.")
		fmt.Println("Prompts for the login password unless --generate is given.")
		fmt.Println()
		fmt.Println("Flags:")
		fmt.Println("  --username   Login username")
		fmt.Println("  --notes      Free-form notes")
		fmt.Println("  --generate   Generate a BIP-39 passphrase and print it")
		fmt.Println("  --words      Passphrase length: 12, 15, 18, 21 or 24 (default 12)")
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  credvault add --username alice github.com")
		fmt.Println("  credvault add --generate --words 24 example.com")
	case "edit":
		fmt.Println("credvault edit [--site <site>] [--username <name>] [--notes <text>] [--password|--generate] <login>")
		fmt.Println()
		fmt.Println("Changes a stored login. Only the given fields change.")
		fmt.Println("A login is named by its ID, an ID prefix, or its site.")
		fmt.Println()
		fmt.Println("Example:")
		fmt.Println("  credvault edit --generate github.com")
	case "list", "ls":
		fmt.Println("credvault list [--show] [query]")
		fmt.Println()
		fmt.Println("Lists logins whose site or username contains query, sorted by site.")
		fmt.Println("Passwords are hidden unless --show is given.")
	case "get":
		fmt.Println("credvault get [-c|--copy] <login>")
		fmt.Println()
		fmt.Println("Prints the password of a login, or copies it to the clipboard.")
		fmt.Println("A login is named by its ID, an ID prefix, or its site.")
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  credvault get github.com")
		fmt.Println("  credvault get --copy 3f2a9c1e")
	case "rm":
		fmt.Println("credvault rm <login> [login...]")
		fmt.Println()
		fmt.Println("Removes logins. The vault is compacted afterwards.")
	case "passwd":
		fmt.Println("credvault passwd [--user <name>]")
		fmt.Println()
		fmt.Println("Changes the account password.")
		fmt.Println("Requires both the current and new passwords.")
		fmt.Println("Re-encrypts all logins with a new salt.")
		fmt.Println()
		fmt.Println("Example:")
		fmt.Println("  credvault passwd")
	case "export":
		fmt.Println("credvault export [--force] <file>")
		fmt.Println()
		fmt.Println("Writes all logins of the account to a tab-separated text file")
		fmt.Println("inside the current directory. The file is NOT encrypted.")
		fmt.Println()
		fmt.Println("Flags:")
		fmt.Println("  --force    Overwrite an existing file without asking")
	case "import":
		fmt.Println("credvault import [--strategy <name>|--force|--keep-local|--keep-both] <file>")
		fmt.Println()
		fmt.Println("Merges an export file into the account.")
		fmt.Println("A login with the same site and username but a different password")
		fmt.Println("or notes is a conflict.")
		fmt.Println()
		fmt.Println("Flags:")
		fmt.Println("  --strategy    ask, keep-local, use-import, keep-both or abort")
		fmt.Println("  --force       Same as --strategy use-import")
		fmt.Println("  --keep-local  Same as --strategy keep-local")
		fmt.Println("  --keep-both   Same as --strategy keep-both")
		fmt.Println()
		fmt.Println("Interactive mode (default):")
		fmt.Println("  [l] Keep vault login")
		fmt.Println("  [i] Use imported login")
		fmt.Println("  [e] Edit merged (opens in $EDITOR)")
		fmt.Println("  [b] Keep both (imported login saved as 'site (imported)')")
		fmt.Println("  [x] Skip this login")
	case "diff":
		fmt.Println("credvault diff <file>")
		fmt.Println()
		fmt.Println("Shows a unified diff between the account's logins and an export file.")
	case "migrate":
		fmt.Println("credvault migrate [--user <name>]")
		fmt.Println()
		fmt.Println("Re-encrypts logins stored in an older format with the latest one.")
		fmt.Println("'credvault status' marks accounts that need it.")
	case "status":
		fmt.Println("credvault status")
		fmt.Println()
		fmt.Println("Shows vault status including:")
		fmt.Println("  - Vault ID and timestamps")
		fmt.Println("  - Encryption details")
		fmt.Println("  - Accounts, their KDF cost and storage format")
		fmt.Println("  - Git tracking of the vault and of plain text exports")
		fmt.Println()
		fmt.Println("Does not require a password.")
	case "compact":
		fmt.Println("credvault compact")
		fmt.Println()
		fmt.Println("Compacts the vault database to reclaim unused disk space.")
		fmt.Println("This is automatically done after 'rm', 'passwd' and 'unregister',")
		fmt.Println("but can be run manually if needed.")
		fmt.Println()
		fmt.Println("Does not require a password.")
	case "keyring":
		fmt.Println("credvault keyring <save|delete|status> [--user <name>]")
		fmt.Println()
		fmt.Println("Manages account passwords in the OS keyring.")
		fmt.Println("A saved password is used instead of prompting.")
	case "generate":
		fmt.Println("credvault generate [--words N] [--sep <separator>]")
		fmt.Println()
		fmt.Println("Prints a random BIP-39 passphrase. Each 3 words add 32 bits.")
		fmt.Println()
		fmt.Println("Example:")
		fmt.Println("  credvault generate --words 18 --sep ' '")
	case "completion":
		fmt.Println("credvault completion <bash|zsh|fish>")
		fmt.Println()
		fmt.Println("Outputs shell completion script for the specified shell.")
		fmt.Println()
		fmt.Println("Setup:")
		fmt.Println("  # Bash - add to ~/.bashrc")
		fmt.Println("  eval \"$(credvault completion bash)\"")
		fmt.Println()
		fmt.Println("  # Zsh - add to ~/.zshrc")
		fmt.Println("  eval \"$(credvault completion zsh)\"")
		fmt.Println()
		fmt.Println("  # Fish - add to ~/.config/fish/config.fish")
		fmt.Println("  credvault completion fish | source")
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
	}
}

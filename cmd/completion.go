package cmd

import (
	"fmt"
	"os"
)

// Completion outputs shell completion scripts
func Completion(shell string) {
	switch shell {
	case "bash":
		fmt.Print(bashCompletion)
	case "zsh":
		fmt.Print(zshCompletion)
	case "fish":
		fmt.Print(fishCompletion)
	default:
		fmt.Fprintf(os.Stderr, "Unknown shell: %s\nSupported: bash, zsh, fish\n", shell)
		os.Exit(1)
	}
}

const bashCompletion = `_credvault() {
    local cur prev words cword
    _init_completion || return

    local commands="init register unregister add edit list ls get rm passwd export import diff migrate status compact keyring generate help completion"
    local common="--config --user"

    if [[ $cword -eq 1 ]]; then
        COMPREPLY=($(compgen -W "$commands" -- "$cur"))
        return
    fi

    case "$prev" in
        --config)
            _filedir yaml
            return
            ;;
        --user)
            local users
            users=$(credvault status 2>/dev/null | awk '/^Accounts:/{f=1;next} f&&NF>=3{print ($1=="!")?$2:$1}')
            COMPREPLY=($(compgen -W "$users" -- "$cur"))
            return
            ;;
        --strategy)
            COMPREPLY=($(compgen -W "ask keep-local use-import keep-both abort" -- "$cur"))
            return
            ;;
    esac

    local cmd="${words[1]}"
    case "$cmd" in
        add)
            COMPREPLY=($(compgen -W "$common --username --notes --generate --words" -- "$cur"))
            ;;
        edit)
            COMPREPLY=($(compgen -W "$common --site --username --notes --password --generate --words" -- "$cur"))
            ;;
        list|ls)
            COMPREPLY=($(compgen -W "$common --show" -- "$cur"))
            ;;
        get)
            COMPREPLY=($(compgen -W "$common --copy" -- "$cur"))
            ;;
        unregister)
            COMPREPLY=($(compgen -W "$common --force" -- "$cur"))
            ;;
        export)
            if [[ "$cur" == -* ]]; then
                COMPREPLY=($(compgen -W "$common --force" -- "$cur"))
            else
                _filedir
            fi
            ;;
        import)
            if [[ "$cur" == -* ]]; then
                COMPREPLY=($(compgen -W "$common --strategy --force --keep-local --keep-both" -- "$cur"))
            else
                _filedir
            fi
            ;;
        diff)
            if [[ "$cur" == -* ]]; then
                COMPREPLY=($(compgen -W "$common" -- "$cur"))
            else
                _filedir
            fi
            ;;
        keyring)
            COMPREPLY=($(compgen -W "save delete status" -- "$cur"))
            ;;
        generate)
            COMPREPLY=($(compgen -W "--words --sep" -- "$cur"))
            ;;
        help)
            COMPREPLY=($(compgen -W "$commands" -- "$cur"))
            ;;
        completion)
            COMPREPLY=($(compgen -W "bash zsh fish" -- "$cur"))
            ;;
        *)
            COMPREPLY=($(compgen -W "$common" -- "$cur"))
            ;;
    esac
}

complete -F _credvault credvault
`

const zshCompletion = `#compdef credvault

_credvault() {
    local -a commands
    commands=(
        'init:Create a .credvault vault in current directory'
        'register:Create an account'
        'unregister:Delete an account and its logins'
        'add:Store a new login'
        'edit:Change a stored login'
        'list:List stored logins'
        'ls:List stored logins'
        'get:Print or copy a login password'
        'rm:Remove logins'
        'passwd:Change account password'
        'export:Write logins to a plain text file'
        'import:Merge logins from an export file'
        'diff:Compare logins with an export file'
        'migrate:Re-encrypt logins in the latest format'
        'status:Show vault status'
        'compact:Compact vault to reclaim disk space'
        'keyring:Manage password in OS keyring'
        'generate:Generate a random passphrase'
        'help:Show help for a command'
        'completion:Generate shell completions'
    )

    local -a common
    common=(
        '--config[Config file]:config file:_files'
        '--user[Account name]:account:'
    )

    _arguments -C \
        '1: :->command' \
        '*: :->args'

    case "$state" in
        command)
            _describe -t commands 'credvault commands' commands
            ;;
        args)
            case "${words[2]}" in
                add)
                    _arguments $common \
                        '--username[Login username]:username:' \
                        '--notes[Login notes]:notes:' \
                        '--generate[Generate a passphrase]' \
                        '--words[Passphrase length]:words:(12 15 18 21 24)' \
                        '*:site:'
                    ;;
                edit)
                    _arguments $common \
                        '--site[New site]:site:' \
                        '--username[New username]:username:' \
                        '--notes[New notes]:notes:' \
                        '--password[Prompt for a new password]' \
                        '--generate[Generate a new passphrase]' \
                        '--words[Passphrase length]:words:(12 15 18 21 24)' \
                        '*:login:'
                    ;;
                list|ls)
                    _arguments $common '--show[Show passwords]' '*:query:'
                    ;;
                get)
                    _arguments $common '--copy[Copy to clipboard]' '*:login:'
                    ;;
                export)
                    _arguments $common '--force[Overwrite without asking]' '*:file:_files'
                    ;;
                import)
                    _arguments $common \
                        '--strategy[Conflict strategy]:strategy:(ask keep-local use-import keep-both abort)' \
                        '--force[Take imported logins on conflict]' \
                        '--keep-local[Keep vault logins on conflict]' \
                        '--keep-both[Keep both on conflict]' \
                        '*:file:_files'
                    ;;
                diff)
                    _arguments $common '*:file:_files'
                    ;;
                keyring)
                    _values 'subcommand' save delete status
                    ;;
                generate)
                    _arguments '--words[Passphrase length]:words:(12 15 18 21 24)' '--sep[Word separator]:separator:'
                    ;;
                help)
                    _describe -t commands 'credvault commands' commands
                    ;;
                completion)
                    _values 'shell' bash zsh fish
                    ;;
                *)
                    _arguments $common
                    ;;
            esac
            ;;
    esac
}

_credvault "$@"
`

const fishCompletion = `# credvault fish completions

set -l commands init register unregister add edit list ls get rm passwd export import diff migrate status compact keyring generate help completion

complete -c credvault -f

# Commands
complete -c credvault -n "not __fish_seen_subcommand_from $commands" -a init -d 'Create a .credvault vault'
complete -c credvault -n "not __fish_seen_subcommand_from $commands" -a register -d 'Create an account'
complete -c credvault -n "not __fish_seen_subcommand_from $commands" -a unregister -d 'Delete an account'
complete -c credvault -n "not __fish_seen_subcommand_from $commands" -a add -d 'Store a new login'
complete -c credvault -n "not __fish_seen_subcommand_from $commands" -a edit -d 'Change a stored login'
complete -c credvault -n "not __fish_seen_subcommand_from $commands" -a list -d 'List stored logins'
complete -c credvault -n "not __fish_seen_subcommand_from $commands" -a ls -d 'List stored logins'
complete -c credvault -n "not __fish_seen_subcommand_from $commands" -a get -d 'Print or copy a password'
complete -c credvault -n "not __fish_seen_subcommand_from $commands" -a rm -d 'Remove logins'
complete -c credvault -n "not __fish_seen_subcommand_from $commands" -a passwd -d 'Change account password'
complete -c credvault -n "not __fish_seen_subcommand_from $commands" -a export -d 'Write logins to a file'
complete -c credvault -n "not __fish_seen_subcommand_from $commands" -a import -d 'Merge logins from a file'
complete -c credvault -n "not __fish_seen_subcommand_from $commands" -a diff -d 'Compare with an export file'
complete -c credvault -n "not __fish_seen_subcommand_from $commands" -a migrate -d 'Re-encrypt in latest format'
complete -c credvault -n "not __fish_seen_subcommand_from $commands" -a status -d 'Show vault status'
complete -c credvault -n "not __fish_seen_subcommand_from $commands" -a compact -d 'Compact vault'
complete -c credvault -n "not __fish_seen_subcommand_from $commands" -a keyring -d 'Manage password in OS keyring'
complete -c credvault -n "not __fish_seen_subcommand_from $commands" -a generate -d 'Generate a passphrase'
complete -c credvault -n "not __fish_seen_subcommand_from $commands" -a help -d 'Show help'
complete -c credvault -n "not __fish_seen_subcommand_from $commands" -a completion -d 'Generate completions'

# Common flags
complete -c credvault -n "__fish_seen_subcommand_from $commands" -l config -r -F -d 'Config file'
complete -c credvault -n "__fish_seen_subcommand_from $commands" -l user -r -d 'Account name'

# add and edit flags
complete -c credvault -n "__fish_seen_subcommand_from add edit" -l username -r -d 'Login username'
complete -c credvault -n "__fish_seen_subcommand_from add edit" -l notes -r -d 'Login notes'
complete -c credvault -n "__fish_seen_subcommand_from add edit" -l generate -d 'Generate a passphrase'
complete -c credvault -n "__fish_seen_subcommand_from add edit generate" -l words -r -a "12 15 18 21 24" -d 'Passphrase length'
complete -c credvault -n "__fish_seen_subcommand_from edit" -l site -r -d 'New site'
complete -c credvault -n "__fish_seen_subcommand_from edit" -l password -d 'Prompt for a new password'

# list, get and unregister flags
complete -c credvault -n "__fish_seen_subcommand_from list ls" -l show -d 'Show passwords'
complete -c credvault -n "__fish_seen_subcommand_from get" -l copy -d 'Copy to clipboard'
complete -c credvault -n "__fish_seen_subcommand_from unregister export" -l force -d 'Do not ask'

# import flags and files
complete -c credvault -n "__fish_seen_subcommand_from import" -l strategy -r -a "ask keep-local use-import keep-both abort" -d 'Conflict strategy'
complete -c credvault -n "__fish_seen_subcommand_from import" -l force -d 'Take imported logins'
complete -c credvault -n "__fish_seen_subcommand_from import" -l keep-local -d 'Keep vault logins'
complete -c credvault -n "__fish_seen_subcommand_from import" -l keep-both -d 'Keep both'
complete -c credvault -n "__fish_seen_subcommand_from export import diff" -F

# generate flags
complete -c credvault -n "__fish_seen_subcommand_from generate" -l sep -r -d 'Word separator'

# keyring subcommands
complete -c credvault -n "__fish_seen_subcommand_from keyring" -a "save delete status"

# help completions
complete -c credvault -n "__fish_seen_subcommand_from help" -a "$commands"

# completion completions
complete -c credvault -n "__fish_seen_subcommand_from completion" -a "bash zsh fish"
`

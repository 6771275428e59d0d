package git

import (
	"fmt"
	"os/exec"
	"strings"
)

// GitStatus contains git integration status information
type GitStatus struct {
	IsRepo           bool
	VaultFile        string
	VaultTracked     bool
	TrackedExports   []string // Plaintext exports tracked by git (bad)
	UntrackedExports []string // Plaintext exports not tracked by git
	UnignoredExports []string // Plaintext exports not in .gitignore (warning)
}

// IsGitRepo checks if the working directory is inside a git repository
func IsGitRepo(workDir string) bool {
	cmd := exec.Command("git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = workDir
	return cmd.Run() == nil
}

// IsTracked checks if a file is tracked by git
func IsTracked(workDir, path string) bool {
	cmd := exec.Command("git", "ls-files", "--", path)
	cmd.Dir = workDir
	output, err := cmd.Output()
	if err != nil {
		return false
	}
	return len(strings.TrimSpace(string(output))) > 0
}

// IsIgnored checks if a file is ignored by git (handles all .gitignore files)
func IsIgnored(workDir, path string) bool {
	cmd := exec.Command("git", "check-ignore", "-q", "--", path)
	cmd.Dir = workDir
	// git check-ignore returns exit code 0 if file is ignored
	return cmd.Run() == nil
}

// CheckGitIntegration reports how the vault file and any plaintext export files in
// workDir relate to git. Paths are relative to workDir.
func CheckGitIntegration(workDir, vaultFile string, exports []string) (*GitStatus, error) {
	status := &GitStatus{VaultFile: vaultFile}

	if !IsGitRepo(workDir) {
		return status, nil
	}
	status.IsRepo = true
	status.VaultTracked = IsTracked(workDir, vaultFile)

	for _, file := range exports {
		if IsTracked(workDir, file) {
			status.TrackedExports = append(status.TrackedExports, file)
		} else {
			status.UntrackedExports = append(status.UntrackedExports, file)
		}
		if !IsIgnored(workDir, file) {
			status.UnignoredExports = append(status.UnignoredExports, file)
		}
	}

	return status, nil
}

// FormatGitStatus formats git status for display
func FormatGitStatus(status *GitStatus) string {
	if status == nil || !status.IsRepo {
		return ""
	}

	var result strings.Builder
	result.WriteString("\nGit Integration:\n")

	if status.VaultTracked {
		result.WriteString(fmt.Sprintf("   ok: %s is tracked by git (contents are encrypted)\n", status.VaultFile))
	} else {
		result.WriteString(fmt.Sprintf("   info: %s not tracked (run: git add %s to version it)\n", status.VaultFile, status.VaultFile))
	}

	if len(status.TrackedExports) > 0 {
		result.WriteString(fmt.Sprintf("   error: %d plaintext export(s) tracked by git:\n", len(status.TrackedExports)))
		for _, file := range status.TrackedExports {
			result.WriteString(fmt.Sprintf("      - %s (run: git rm --cached %s)\n", file, file))
		}
	} else if len(status.UntrackedExports) > 0 {
		result.WriteString("   ok: no plaintext exports tracked by git\n")
	}

	trackedSet := make(map[string]bool, len(status.TrackedExports))
	for _, f := range status.TrackedExports {
		trackedSet[f] = true
	}
	for _, file := range status.UnignoredExports {
		if !trackedSet[file] {
			result.WriteString(fmt.Sprintf("   warning: %s not in .gitignore (add it, or delete the export)\n", file))
		}
	}

	return result.String()
}

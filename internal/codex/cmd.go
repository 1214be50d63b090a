package codex

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// RunMode selects between starting a fresh conversation and resuming one.
const (
	RunModeNew      = "new"
	RunModeContinue = "continue"
)

// CommandSpec describes one codex CLI invocation.
type CommandSpec struct {
	Bin             string
	SandboxMode     string
	ApprovalPolicy  string
	WorkDir         string
	Model           string
	ReasoningEffort string
	ThreadID        string // resume target, used only for RunModeContinue
	RunMode         string
	Prompt          string
}

// Argv builds the full argument vector.
//
// Inside a git repository the gitdir is added as a writable dir; outside one
// the repo check is skipped so codex does not refuse to start. Prompts that
// begin with a dash are guarded by an end-of-options marker.
func (s CommandSpec) Argv() []string {
	argv := []string{
		s.Bin, "exec", "--json",
		"--sandbox", s.SandboxMode,
		"-c", fmt.Sprintf("approval_policy=%s", s.ApprovalPolicy),
	}

	if gitDir := DetectGitDir(s.WorkDir); gitDir == "" {
		argv = append(argv, "--skip-git-repo-check")
	} else {
		argv = append(argv, "--add-dir", gitDir)
	}

	argv = append(argv, "-C", s.WorkDir)
	argv = append(argv, "--model", s.Model)
	argv = append(argv, "-c", fmt.Sprintf("model_reasoning_effort=%s", s.ReasoningEffort))

	if s.RunMode == RunModeContinue && s.ThreadID != "" {
		argv = append(argv, "resume", s.ThreadID)
	}
	if strings.HasPrefix(strings.TrimLeft(s.Prompt, " \t"), "-") {
		argv = append(argv, "--")
	}
	return append(argv, s.Prompt)
}

// DetectGitDir resolves the git directory governing workDir, or "" when the
// path is not inside a repository. A .git directory is used as-is; a .git
// file ("gitdir: …" indirection, used by worktrees and submodules) is
// dereferenced; in every other case git itself is asked.
func DetectGitDir(workDir string) string {
	dotGit := filepath.Join(workDir, ".git")
	if info, err := os.Stat(dotGit); err == nil {
		if info.IsDir() {
			if abs, err := filepath.Abs(dotGit); err == nil {
				return abs
			}
			return ""
		}
		if target := derefGitFile(dotGit, workDir); target != "" {
			return target
		}
	}

	out, err := exec.Command("git", "-C", workDir, "rev-parse", "--git-dir").Output()
	if err != nil {
		return ""
	}
	resolved := strings.TrimSpace(string(out))
	if resolved == "" {
		return ""
	}
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(workDir, resolved)
	}
	if abs, err := filepath.Abs(resolved); err == nil {
		return abs
	}
	return ""
}

// derefGitFile resolves a "gitdir: …" indirection file. It returns "" when
// the file is unreadable, malformed or points at a path that does not exist,
// so the caller can fall back to git.
func derefGitFile(path, workDir string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	line := strings.TrimSpace(string(data))
	if !strings.HasPrefix(line, "gitdir:") {
		return ""
	}
	target := strings.TrimSpace(strings.TrimPrefix(line, "gitdir:"))
	if target == "" {
		return ""
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(workDir, target)
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return ""
	}
	if _, err := os.Stat(abs); err != nil {
		return ""
	}
	return abs
}

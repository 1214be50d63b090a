package codex

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseSpec(workDir string) CommandSpec {
	return CommandSpec{
		Bin:             "codex",
		SandboxMode:     "workspace-write",
		ApprovalPolicy:  "never",
		WorkDir:         workDir,
		Model:           "gpt-5.2",
		ReasoningEffort: "high",
		RunMode:         RunModeNew,
		Prompt:          "hello",
	}
}

// TestCommandSpec_ArgvOutsideGitRepo skips the repo check when the working
// directory is not under git.
func TestCommandSpec_ArgvOutsideGitRepo(t *testing.T) {
	dir := t.TempDir()
	argv := baseSpec(dir).Argv()

	assert.Equal(t, []string{
		"codex", "exec", "--json",
		"--sandbox", "workspace-write",
		"-c", "approval_policy=never",
		"--skip-git-repo-check",
		"-C", dir,
		"--model", "gpt-5.2",
		"-c", "model_reasoning_effort=high",
		"hello",
	}, argv)
}

// TestCommandSpec_ArgvInsideGitRepo adds the git directory as writable.
func TestCommandSpec_ArgvInsideGitRepo(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))

	argv := baseSpec(dir).Argv()
	assert.Contains(t, argv, "--add-dir")
	assert.NotContains(t, argv, "--skip-git-repo-check")

	for i, a := range argv {
		if a == "--add-dir" {
			assert.Equal(t, filepath.Join(dir, ".git"), argv[i+1])
		}
	}
}

// TestCommandSpec_ArgvResume appends the resume subcommand only for continue
// runs that have a thread id.
func TestCommandSpec_ArgvResume(t *testing.T) {
	dir := t.TempDir()

	spec := baseSpec(dir)
	spec.RunMode = RunModeContinue
	spec.ThreadID = sampleUUID
	argv := spec.Argv()
	require.GreaterOrEqual(t, len(argv), 3)
	assert.Equal(t, "resume", argv[len(argv)-3])
	assert.Equal(t, sampleUUID, argv[len(argv)-2])
	assert.Equal(t, "hello", argv[len(argv)-1])

	spec.ThreadID = ""
	assert.NotContains(t, spec.Argv(), "resume")

	spec.RunMode = RunModeNew
	spec.ThreadID = sampleUUID
	assert.NotContains(t, spec.Argv(), "resume")
}

// TestCommandSpec_ArgvDashPromptGuard protects prompts that look like flags.
func TestCommandSpec_ArgvDashPromptGuard(t *testing.T) {
	dir := t.TempDir()
	spec := baseSpec(dir)
	spec.Prompt = "--help me understand this"

	argv := spec.Argv()
	require.GreaterOrEqual(t, len(argv), 2)
	assert.Equal(t, "--", argv[len(argv)-2])
	assert.Equal(t, spec.Prompt, argv[len(argv)-1])
}

// TestDetectGitDir covers the plain directory and the worktree indirection.
func TestDetectGitDir(t *testing.T) {
	t.Run("plain .git directory", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))
		assert.Equal(t, filepath.Join(dir, ".git"), DetectGitDir(dir))
	})

	t.Run("gitdir file indirection", func(t *testing.T) {
		root := t.TempDir()
		real := filepath.Join(root, "real-git")
		require.NoError(t, os.Mkdir(real, 0o755))
		work := filepath.Join(root, "wt")
		require.NoError(t, os.Mkdir(work, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(work, ".git"),
			[]byte("gitdir: ../real-git\n"), 0o644))

		assert.Equal(t, real, DetectGitDir(work))
	})

	t.Run("malformed gitdir file", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".git"),
			[]byte("something else"), 0o644))
		assert.Empty(t, DetectGitDir(dir))
	})

	t.Run("dangling gitdir file", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".git"),
			[]byte("gitdir: ./does-not-exist\n"), 0o644))
		assert.Empty(t, DetectGitDir(dir))
	})

	t.Run("resolved by git from a subdirectory", func(t *testing.T) {
		if _, err := exec.LookPath("git"); err != nil {
			t.Skip("git not available")
		}
		root := t.TempDir()
		gitDir := filepath.Join(root, ".git")
		require.NoError(t, os.MkdirAll(filepath.Join(gitDir, "objects"), 0o755))
		require.NoError(t, os.MkdirAll(filepath.Join(gitDir, "refs"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(gitDir, "HEAD"),
			[]byte("ref: refs/heads/main\n"), 0o644))
		sub := filepath.Join(root, "sub")
		require.NoError(t, os.Mkdir(sub, 0o755))

		got := DetectGitDir(sub)
		require.NotEmpty(t, got)
		want, err := filepath.EvalSymlinks(gitDir)
		require.NoError(t, err)
		resolved, err := filepath.EvalSymlinks(got)
		require.NoError(t, err)
		assert.Equal(t, want, resolved)
	})
}

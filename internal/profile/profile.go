// Package profile holds the runtime configuration of the bot process.
package profile

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	// RuntimeDirName is the directory that holds all mutable state of an
	// installation, created under the working directory of the process.
	RuntimeDirName = ".vibes"

	StateFileName = "vibe_state.json"
	LogDirName    = "vibe_logs"
	BotLogName    = "vibe_bot.log"
)

// Sandbox modes accepted by the codex CLI.
const (
	SandboxReadOnly         = "read-only"
	SandboxWorkspaceWrite   = "workspace-write"
	SandboxDangerFullAccess = "danger-full-access"
)

// Approval policies accepted by the codex CLI.
const (
	ApprovalUntrusted = "untrusted"
	ApprovalOnFailure = "on-failure"
	ApprovalOnRequest = "on-request"
	ApprovalNever     = "never"
)

const (
	DefaultModel           = "gpt-5.2"
	DefaultReasoningEffort = "high"
)

// ReasoningEfforts lists the accepted model reasoning effort tags.
var ReasoningEfforts = []string{"low", "medium", "high", "xhigh"}

// Profile is the resolved configuration of a bot instance.
type Profile struct {
	Token                  string // Telegram bot token
	AdminID                int64  // fixed owner user id, 0 means first-contact capture
	RuntimeDir             string // absolute path of the runtime directory
	CodexBin               string // codex CLI binary, resolved via PATH when bare
	SandboxMode            string
	ApprovalPolicy         string
	MaxAttachmentMB        int  // 0 means unlimited
	DeleteMessagesInGroups bool // delete user messages in group chats
	DebugAddr              string
	Version                string

	// runtimeOverridden is set when the runtime directory came from a flag
	// or env var; legacy-layout migration is skipped in that case.
	runtimeOverridden bool
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func envFlag(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// FromEnv fills unset fields from the process environment.
func (p *Profile) FromEnv() {
	if p.Token == "" {
		p.Token = getEnvOrDefault("VIBES_TOKEN", os.Getenv("TELEGRAM_BOT_TOKEN"))
	}
	if p.AdminID == 0 {
		if raw := os.Getenv("VIBES_ADMIN_ID"); raw != "" {
			if id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil {
				p.AdminID = id
			} else {
				slog.Warn("profile: ignoring malformed VIBES_ADMIN_ID", "value", raw)
			}
		}
	}
	if p.RuntimeDir == "" {
		p.RuntimeDir = os.Getenv("VIBES_RUNTIME_DIR")
		p.runtimeOverridden = p.RuntimeDir != ""
	} else {
		p.runtimeOverridden = true
	}
	if p.CodexBin == "" {
		p.CodexBin = getEnvOrDefault("VIBES_CODEX_BIN", "codex")
	}
	if p.SandboxMode == "" {
		p.SandboxMode = getEnvOrDefault("VIBES_CODEX_SANDBOX", SandboxWorkspaceWrite)
	}
	if p.ApprovalPolicy == "" {
		p.ApprovalPolicy = getEnvOrDefault("VIBES_CODEX_APPROVAL_POLICY", ApprovalNever)
	}
	if p.MaxAttachmentMB == 0 {
		p.MaxAttachmentMB = getEnvOrDefaultInt("VIBES_MAX_ATTACHMENT_MB", 0)
	}
	if !p.DeleteMessagesInGroups {
		p.DeleteMessagesInGroups = envFlag("VIBES_DELETE_MESSAGES_IN_GROUPS")
	}
	if p.DebugAddr == "" {
		p.DebugAddr = os.Getenv("VIBES_DEBUG_ADDR")
	}
}

// Validate normalizes and checks the profile. Unknown sandbox or approval
// values fall back to their defaults with a warning rather than failing
// startup.
func (p *Profile) Validate() error {
	if p.Token == "" {
		return errors.New("telegram bot token is required (VIBES_TOKEN or --token)")
	}

	switch p.SandboxMode {
	case SandboxReadOnly, SandboxWorkspaceWrite, SandboxDangerFullAccess:
	default:
		slog.Warn("profile: unknown sandbox mode, using default",
			"value", p.SandboxMode, "default", SandboxWorkspaceWrite)
		p.SandboxMode = SandboxWorkspaceWrite
	}

	switch p.ApprovalPolicy {
	case ApprovalUntrusted, ApprovalOnFailure, ApprovalOnRequest, ApprovalNever:
	default:
		slog.Warn("profile: unknown approval policy, using default",
			"value", p.ApprovalPolicy, "default", ApprovalNever)
		p.ApprovalPolicy = ApprovalNever
	}

	if p.RuntimeDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return errors.Wrap(err, "unable to resolve working directory")
		}
		p.RuntimeDir = filepath.Join(wd, RuntimeDirName)
	}
	if !filepath.IsAbs(p.RuntimeDir) {
		abs, err := filepath.Abs(p.RuntimeDir)
		if err != nil {
			return errors.Wrapf(err, "unable to resolve runtime directory %s", p.RuntimeDir)
		}
		p.RuntimeDir = abs
	}
	p.RuntimeDir = strings.TrimRight(p.RuntimeDir, "\\/")

	return nil
}

// StatePath returns the path of the persistent state document.
func (p *Profile) StatePath() string {
	return filepath.Join(p.RuntimeDir, StateFileName)
}

// LogDir returns the directory that holds per-run log files.
func (p *Profile) LogDir() string {
	return filepath.Join(p.RuntimeDir, LogDirName)
}

// BotLogPath returns the path of the plain-text operational log.
func (p *Profile) BotLogPath() string {
	return filepath.Join(p.RuntimeDir, BotLogName)
}

// LegacyLogDir returns the pre-RuntimeDir location of the log directory.
// Persisted log paths under it are rewritten on state load.
func (p *Profile) LegacyLogDir() string {
	return filepath.Join(filepath.Dir(p.RuntimeDir), LogDirName)
}

// PrepareRuntime creates the runtime directory tree and performs a one-shot
// best-effort migration from the legacy flat layout (state file and logs
// living next to the runtime directory instead of inside it). Migration is
// skipped when the runtime directory was overridden by the caller.
func (p *Profile) PrepareRuntime() error {
	if err := os.MkdirAll(p.RuntimeDir, 0o755); err != nil {
		return errors.Wrapf(err, "unable to create runtime directory %s", p.RuntimeDir)
	}
	if !p.runtimeOverridden {
		p.migrateLegacyLayout()
	}
	if err := os.MkdirAll(p.LogDir(), 0o755); err != nil {
		return errors.Wrapf(err, "unable to create log directory %s", p.LogDir())
	}
	return nil
}

func (p *Profile) migrateLegacyLayout() {
	parent := filepath.Dir(p.RuntimeDir)
	moves := []struct{ from, to string }{
		{filepath.Join(parent, StateFileName), p.StatePath()},
		{filepath.Join(parent, LogDirName), p.LogDir()},
		{filepath.Join(parent, BotLogName), p.BotLogPath()},
	}
	for _, m := range moves {
		if _, err := os.Stat(m.from); err != nil {
			continue
		}
		if _, err := os.Stat(m.to); err == nil {
			continue // never overwrite current layout
		}
		if err := os.Rename(m.from, m.to); err != nil {
			slog.Warn("profile: legacy layout migration failed",
				"from", m.from, "to", m.to, "error", err)
			continue
		}
		slog.Info("profile: migrated legacy file", "from", m.from, "to", m.to)
	}
}

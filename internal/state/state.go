// Package state persists the session registry, panel bindings, owner id and
// path presets as a single versioned JSON document.
package state

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Version is the schema marker written into every snapshot.
const Version = 4

// Session status values.
const (
	StatusIdle    = "idle"
	StatusRunning = "running"
	StatusError   = "error"
	StatusStopped = "stopped"
)

// Last-result values.
const (
	ResultNever   = "never"
	ResultSuccess = "success"
	ResultError   = "error"
	ResultStopped = "stopped"
)

// SessionRecord is the persisted portion of a session.
type SessionRecord struct {
	Path            string  `json:"path"`
	ThreadID        string  `json:"thread_id,omitempty"`
	Model           string  `json:"model"`
	ReasoningEffort string  `json:"reasoning_effort"`
	Status          string  `json:"status"`
	LastResult      string  `json:"last_result"`
	CreatedAt       string  `json:"created_at"`
	LastActive      string  `json:"last_active,omitempty"`
	LastStdoutLog   string  `json:"last_stdout_log,omitempty"`
	LastStderrLog   string  `json:"last_stderr_log,omitempty"`
	LastRunDuration float64 `json:"last_run_duration_s,omitempty"`
	PendingDelete   bool    `json:"pending_delete,omitempty"`
}

// Snapshot is the full persistent state of an installation.
type Snapshot struct {
	Version     int                       `json:"version"`
	OwnerID     *int64                    `json:"owner_id"`
	Sessions    map[string]*SessionRecord `json:"sessions"`
	PanelByChat map[string]int            `json:"panel_by_chat"`
	PathPresets []string                  `json:"path_presets"`
}

// NewSnapshot returns an empty snapshot with all containers allocated.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Version:     Version,
		Sessions:    map[string]*SessionRecord{},
		PanelByChat: map[string]int{},
		PathPresets: []string{},
	}
}

// Store serializes snapshots to a single file. All writes are guarded by one
// mutex so the on-disk document reflects a totally ordered sequence of saves.
type Store struct {
	mu           sync.Mutex
	path         string
	logDir       string
	legacyLogDir string
}

// NewStore creates a store writing to path. Persisted log paths found under
// legacyLogDir are rewritten under logDir on load; pass an empty legacyLogDir
// to disable rewriting.
func NewStore(path, logDir, legacyLogDir string) *Store {
	return &Store{path: path, logDir: logDir, legacyLogDir: legacyLogDir}
}

// Path returns the location of the state document.
func (s *Store) Path() string { return s.path }

// Save writes the snapshot atomically: marshal, write to a temp file in the
// same directory, rename over the destination.
func (s *Store) Save(snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap.Version = Version
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal state")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create state directory %s", dir)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create temp state file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "write temp state file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "close temp state file")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "rename state file to %s", s.path)
	}
	return nil
}

// Load reads and heals the persisted snapshot. A missing or unreadable file
// yields an empty snapshot: the installation is treated as fresh. Malformed
// session records are skipped, unknown fields are ignored, and any session
// persisted as "running" is healed to "idle" since runs never survive a
// process restart.
func (s *Store) Load() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := NewSnapshot()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("state: unreadable state file, starting fresh", "path", s.path, "error", err)
		}
		return snap
	}

	var raw struct {
		Version     int                        `json:"version"`
		OwnerID     *int64                     `json:"owner_id"`
		Sessions    map[string]json.RawMessage `json:"sessions"`
		PanelByChat map[string]int             `json:"panel_by_chat"`
		PathPresets []string                   `json:"path_presets"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		slog.Warn("state: malformed state file, starting fresh", "path", s.path, "error", err)
		return snap
	}

	snap.OwnerID = raw.OwnerID
	if raw.PanelByChat != nil {
		snap.PanelByChat = raw.PanelByChat
	}
	for _, p := range raw.PathPresets {
		if p != "" {
			snap.PathPresets = append(snap.PathPresets, p)
		}
	}
	for name, body := range raw.Sessions {
		rec := s.parseSession(body)
		if rec == nil {
			slog.Warn("state: skipping malformed session record", "session", name)
			continue
		}
		snap.Sessions[name] = rec
	}
	return snap
}

// parseSession decodes one session record tolerantly, honoring the fallback
// field names older versions used.
func (s *Store) parseSession(body json.RawMessage) *SessionRecord {
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil
	}
	str := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := fields[k].(string); ok && v != "" {
				return v
			}
		}
		return ""
	}

	rec := &SessionRecord{
		Path:            str("path"),
		ThreadID:        str("thread_id", "session_id"),
		Model:           str("model"),
		ReasoningEffort: str("reasoning_effort", "model_reasoning_effort"),
		Status:          str("status"),
		LastResult:      str("last_result"),
		CreatedAt:       str("created_at"),
		LastActive:      str("last_active"),
		LastStdoutLog:   str("last_stdout_log"),
		LastStderrLog:   str("last_stderr_log"),
	}
	if rec.Path == "" {
		return nil
	}
	if v, ok := fields["last_run_duration_s"].(float64); ok {
		rec.LastRunDuration = v
	}
	if v, ok := fields["pending_delete"].(bool); ok {
		rec.PendingDelete = v
	}
	if rec.Status == "" || rec.Status == StatusRunning {
		rec.Status = StatusIdle
	}
	if rec.LastResult == "" {
		rec.LastResult = ResultNever
	}
	rec.LastStdoutLog = s.rewriteLegacyPath(rec.LastStdoutLog)
	rec.LastStderrLog = s.rewriteLegacyPath(rec.LastStderrLog)
	return rec
}

func (s *Store) rewriteLegacyPath(p string) string {
	if p == "" || s.legacyLogDir == "" || s.logDir == "" {
		return p
	}
	prefix := s.legacyLogDir + string(filepath.Separator)
	if strings.HasPrefix(p, prefix) {
		return filepath.Join(s.logDir, strings.TrimPrefix(p, prefix))
	}
	return p
}

// Package session owns the session registry and the per-run subprocess
// lifecycle: spawning the codex CLI in its own process group, reading its
// pipes into the stream and log files, stop escalation, and the attach map
// that keeps at most one live writer per remote message.
package session

import (
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/hrygo/vibes/internal/state"
	"github.com/hrygo/vibes/internal/telegram"
)

// StderrTailLines bounds the in-memory stderr ring kept for diagnostics.
const StderrTailLines = 80

// Session is a named, persistent work context bound to a working directory.
// The embedded record is the persisted portion; Run is the live execution,
// nil when idle. All fields are guarded by the owning Registry's mutex.
type Session struct {
	Name string
	state.SessionRecord
	Run *Run
}

// Run is a single active execution of the codex CLI.
type Run struct {
	Cmd        *exec.Cmd
	Stream     *telegram.Stream
	StdoutLog  string
	StderrLog  string
	StderrTail *TailBuffer
	StartedAt  time.Time

	// LastCmd deduplicates consecutive command_execution events.
	LastCmd       string
	StopRequested bool
	Paused        bool

	// done is closed once the child has been waited on.
	done chan struct{}
}

// Finished reports whether the child process has exited and been reaped.
func (r *Run) Finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Active reports a live, unfinished run.
func (s *Session) Active() bool {
	return s.Run != nil && !s.Run.Finished()
}

// Busy reports a live run or a starting one that has reserved the session
// but not yet spawned its process. The status flips to running under the
// registry lock before the spawn, so Busy is the one-run-per-session gate.
func (s *Session) Busy() bool {
	return s.Active() || s.Status == state.StatusRunning
}

// TailBuffer is a bounded ring of recent lines, safe for concurrent use.
type TailBuffer struct {
	mu    sync.Mutex
	lines []string
	max   int
}

// NewTailBuffer creates a ring keeping the last max lines.
func NewTailBuffer(max int) *TailBuffer {
	return &TailBuffer{max: max}
}

// Add appends a line, evicting the oldest once full.
func (b *TailBuffer) Add(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
	if len(b.lines) > b.max {
		b.lines = b.lines[len(b.lines)-b.max:]
	}
}

// Lines returns a copy of the buffered lines.
func (b *TailBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

// Info is an immutable snapshot of a session for rendering.
type Info struct {
	Name            string
	Path            string
	Model           string
	ReasoningEffort string
	Status          string
	LastResult      string
	CreatedAt       string
	LastActive      string
	LastStdoutLog   string
	LastStderrLog   string
	LastRunDuration float64
	PendingDelete   bool
	HasThread       bool

	Running    bool
	Paused     bool
	StartedAt  time.Time
	StderrTail []string
}

func snapshotInfo(s *Session) Info {
	info := Info{
		Name:            s.Name,
		Path:            s.Path,
		Model:           s.Model,
		ReasoningEffort: s.ReasoningEffort,
		Status:          s.Status,
		LastResult:      s.LastResult,
		CreatedAt:       s.CreatedAt,
		LastActive:      s.LastActive,
		LastStdoutLog:   s.LastStdoutLog,
		LastStderrLog:   s.LastStderrLog,
		LastRunDuration: s.LastRunDuration,
		PendingDelete:   s.PendingDelete,
		HasThread:       s.ThreadID != "",
	}
	if s.Run != nil {
		info.Running = s.Active()
		info.Paused = s.Run.Paused
		info.StartedAt = s.Run.StartedAt
		if s.Run.StderrTail != nil {
			info.StderrTail = s.Run.StderrTail.Lines()
		}
	}
	return info
}

// FormatDuration renders a duration as "Xm Ys".
func FormatDuration(d time.Duration) string {
	seconds := int(d.Seconds())
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
}

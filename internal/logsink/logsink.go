// Package logsink provides append-only per-run log files with lazy opening
// and tail-reading helpers for preview rendering.
package logsink

import (
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// reopenBackoff is the minimum interval between open attempts after a failure.
const reopenBackoff = 5 * time.Second

// Sink is a best-effort line-oriented append file. The file is opened on
// first write; an open failure is retried no more than once every 5 seconds
// and never propagates to the caller.
type Sink struct {
	mu          sync.Mutex
	path        string
	file        *os.File
	lastAttempt time.Time
}

// New creates a sink for path without touching the filesystem.
func New(path string) *Sink {
	return &Sink{path: path}
}

// Path returns the sink's file path.
func (s *Sink) Path() string { return s.path }

// WriteLine appends one line, sanitized to valid UTF-8. Write errors close
// the handle so the next write retries the open.
func (s *Sink) WriteLine(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		now := time.Now()
		if !s.lastAttempt.IsZero() && now.Sub(s.lastAttempt) < reopenBackoff {
			return
		}
		s.lastAttempt = now
		f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			slog.Warn("logsink: open failed", "path", s.path, "error", err)
			return
		}
		s.file = f
	}

	if _, err := s.file.WriteString(strings.ToValidUTF8(line, "�") + "\n"); err != nil {
		slog.Warn("logsink: write failed", "path", s.path, "error", err)
		s.file.Close()
		s.file = nil
	}
}

// Close releases the underlying file handle, if open.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
}

// TailBytes reads the last maxBytes of the file decoded as UTF-8 text with
// invalid bytes replaced. Returns "" when the file cannot be read.
func TailBytes(path string, maxBytes int64) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ""
	}
	size := info.Size()
	offset := int64(0)
	if size > maxBytes {
		offset = size - maxBytes
	}
	buf := make([]byte, size-offset)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return ""
	}
	return strings.ToValidUTF8(string(buf), "�")
}

// TailLines returns the last n lines of text, dropping a trailing empty line
// produced by a final newline.
func TailLines(text string, n int) []string {
	if text == "" || n <= 0 {
		return nil
	}
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

package session

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// MaxSessionNameLen bounds accepted session names.
const MaxSessionNameLen = 64

var sessionNameRe = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// SafeSessionName validates and normalizes a session name, returning "" when
// the name is unacceptable.
func SafeSessionName(raw string) string {
	name := strings.TrimSpace(raw)
	if name == "" || len(name) > MaxSessionNameLen {
		return ""
	}
	if !sessionNameRe.MatchString(name) {
		return ""
	}
	return name
}

// SafeResolvePath expands and absolutizes a user-supplied path without
// requiring it to exist.
func SafeResolvePath(raw string) (string, error) {
	p := strings.TrimSpace(raw)
	if p == "" {
		return "", errors.New("Empty path.")
	}
	if strings.ContainsRune(p, 0) {
		return "", errors.New("Invalid path: contains NUL byte.")
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.Wrap(err, "resolve home directory")
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", errors.Wrapf(err, "resolve path %q", raw)
	}
	return filepath.Clean(abs), nil
}

// CanCreateDirectory reports whether path could be created with mkdir -p,
// by walking up to the nearest existing ancestor and checking it is a
// writable directory.
func CanCreateDirectory(path string) bool {
	current := filepath.Clean(path)
	for {
		if fi, err := os.Stat(current); err == nil {
			if !fi.IsDir() {
				return false
			}
			return dirWritable(current)
		}
		parent := filepath.Dir(current)
		if parent == current {
			return false
		}
		current = parent
	}
}

// dirWritable probes write access by creating and removing a temp file.
func dirWritable(dir string) bool {
	f, err := os.CreateTemp(dir, ".vibes-probe-")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}

// ShortenPath compacts a long path for button labels, keeping the last two
// components when they fit.
func ShortenPath(path string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = 34
	}
	if len(path) <= maxLen {
		return path
	}
	parts := strings.Split(strings.TrimRight(path, string(filepath.Separator)), string(filepath.Separator))
	if len(parts) >= 2 {
		tail := filepath.Join(parts[len(parts)-2], parts[len(parts)-1])
		candidate := "…/" + tail
		if len(candidate) <= maxLen {
			return candidate
		}
	}
	tail := path[len(path)-(maxLen-1):]
	return "…" + tail
}

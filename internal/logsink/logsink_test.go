package logsink

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSink_WriteLine opens lazily and appends newline-terminated lines.
func TestSink_WriteLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.jsonl")
	s := New(path)
	assert.Equal(t, path, s.Path())
	assert.NoFileExists(t, path)

	s.WriteLine(`{"type":"text"}`)
	s.WriteLine("second")
	s.Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"type\":\"text\"}\nsecond\n", string(data))
}

// TestSink_SanitizesInvalidUTF8 replaces broken bytes instead of writing
// them through.
func TestSink_SanitizesInvalidUTF8(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.jsonl")
	s := New(path)
	s.WriteLine("ok\xffbad")
	s.Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ok�bad\n", string(data))
}

// TestSink_OpenFailureIsSilent never propagates filesystem errors.
func TestSink_OpenFailureIsSilent(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "missing", "run.jsonl"))
	s.WriteLine("dropped")
	s.Close()
}

// TestTailBytes reads at most the requested suffix of the file.
func TestTailBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	assert.Equal(t, "0123456789", TailBytes(path, 100))
	assert.Equal(t, "56789", TailBytes(path, 5))
	assert.Empty(t, TailBytes(filepath.Join(t.TempDir(), "nope"), 100))
}

// TestTailLines keeps the last n lines, ignoring the trailing newline.
func TestTailLines(t *testing.T) {
	text := "a\nb\nc\n"
	assert.Equal(t, []string{"a", "b", "c"}, TailLines(text, 10))
	assert.Equal(t, []string{"b", "c"}, TailLines(text, 2))
	assert.Nil(t, TailLines("", 5))
	assert.Nil(t, TailLines(text, 0))

	noTrailing := strings.TrimSuffix(text, "\n")
	assert.Equal(t, []string{"a", "b", "c"}, TailLines(noTrailing, 10))
}

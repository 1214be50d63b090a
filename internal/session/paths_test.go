package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSafeSessionName accepts the safe character set and rejects the rest.
func TestSafeSessionName(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"simple", "my-session", "my-session"},
		{"dots and underscores", "a.b_c", "a.b_c"},
		{"trimmed", "  padded  ", "padded"},
		{"empty", "", ""},
		{"spaces inside", "two words", ""},
		{"slash", "a/b", ""},
		{"unicode", "sessïon", ""},
		{"too long", strings.Repeat("a", MaxSessionNameLen+1), ""},
		{"max length", strings.Repeat("a", MaxSessionNameLen), strings.Repeat("a", MaxSessionNameLen)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SafeSessionName(tt.raw))
		})
	}
}

// TestSafeResolvePath covers rejection, home expansion and absolutization.
func TestSafeResolvePath(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, err := SafeResolvePath("   ")
		require.Error(t, err)
		assert.Equal(t, "Empty path.", err.Error())
	})

	t.Run("nul byte", func(t *testing.T) {
		_, err := SafeResolvePath("a\x00b")
		require.Error(t, err)
		assert.Equal(t, "Invalid path: contains NUL byte.", err.Error())
	})

	t.Run("tilde expansion", func(t *testing.T) {
		home, err := os.UserHomeDir()
		require.NoError(t, err)

		got, err := SafeResolvePath("~/projects")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, "projects"), got)

		got, err = SafeResolvePath("~")
		require.NoError(t, err)
		assert.Equal(t, home, got)
	})

	t.Run("relative becomes absolute", func(t *testing.T) {
		got, err := SafeResolvePath("some/dir")
		require.NoError(t, err)
		assert.True(t, filepath.IsAbs(got))
		assert.True(t, strings.HasSuffix(got, filepath.Join("some", "dir")))
	})

	t.Run("cleans dot segments", func(t *testing.T) {
		got, err := SafeResolvePath("/tmp/a/../b")
		require.NoError(t, err)
		assert.Equal(t, filepath.Clean("/tmp/b"), got)
	})
}

// TestCanCreateDirectory walks up to the nearest existing ancestor.
func TestCanCreateDirectory(t *testing.T) {
	root := t.TempDir()

	assert.True(t, CanCreateDirectory(filepath.Join(root, "a", "b", "c")))
	assert.True(t, CanCreateDirectory(root))

	file := filepath.Join(root, "plain.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	assert.False(t, CanCreateDirectory(file))
	assert.False(t, CanCreateDirectory(filepath.Join(file, "sub")))
}

// TestShortenPath keeps the last two components when they fit.
func TestShortenPath(t *testing.T) {
	assert.Equal(t, "/short", ShortenPath("/short", 34))

	long := "/home/user/projects/deeply/nested/workdir"
	got := ShortenPath(long, 34)
	assert.Equal(t, "…/nested/workdir", got)

	tiny := ShortenPath(long, 12)
	assert.True(t, strings.HasPrefix(tiny, "…"))
	assert.True(t, strings.HasSuffix(tiny, "workdir"))
}

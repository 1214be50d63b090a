package bot

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLog(t *testing.T, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// TestExtractLastAgentMessage picks the most recent agent text, in either
// event shape.
func TestExtractLastAgentMessage(t *testing.T) {
	t.Run("top-level agent_message", func(t *testing.T) {
		path := writeLog(t, "run.jsonl",
			`{"type":"agent_message","text":"first answer"}`,
			`{"type":"tool_use","command":"ls"}`,
			`{"type":"agent_message","text":"final answer"}`,
		)
		assert.Equal(t, "final answer", extractLastAgentMessage(path, uiPreviewMaxChars))
	})

	t.Run("item assistant_message", func(t *testing.T) {
		path := writeLog(t, "run.jsonl",
			`{"type":"item.completed","item":{"type":"assistant_message","text":"from item"}}`,
		)
		assert.Equal(t, "from item", extractLastAgentMessage(path, uiPreviewMaxChars))
	})

	t.Run("no agent message", func(t *testing.T) {
		path := writeLog(t, "run.jsonl",
			`{"type":"tool_use","command":"ls"}`,
			`not json at all`,
		)
		assert.Empty(t, extractLastAgentMessage(path, uiPreviewMaxChars))
	})

	t.Run("missing file", func(t *testing.T) {
		assert.Empty(t, extractLastAgentMessage(filepath.Join(t.TempDir(), "nope.jsonl"), uiPreviewMaxChars))
		assert.Empty(t, extractLastAgentMessage("", uiPreviewMaxChars))
	})
}

// TestPreviewFromStdoutLog re-renders events the way the live stream does.
func TestPreviewFromStdoutLog(t *testing.T) {
	t.Run("command shown once with exit code", func(t *testing.T) {
		path := writeLog(t, "run.jsonl",
			`{"type":"item.started","item":{"type":"command_execution","command":"go build ./..."}}`,
			`{"type":"item.completed","item":{"type":"command_execution","command":"go build ./...","aggregated_output":"ok","exit_code":0}}`,
		)
		out := previewFromStdoutLog(path, uiPreviewMaxChars)
		assert.Equal(t, 1, strings.Count(out, "$ go build ./..."))
		assert.Contains(t, out, "ok")
		assert.Contains(t, out, "(exit_code: 0)")
	})

	t.Run("reasoning skipped", func(t *testing.T) {
		path := writeLog(t, "run.jsonl",
			`{"type":"item.completed","item":{"type":"reasoning","text":"thinking hard"}}`,
			`{"type":"text","delta":"visible output"}`,
		)
		out := previewFromStdoutLog(path, uiPreviewMaxChars)
		assert.NotContains(t, out, "thinking hard")
		assert.Contains(t, out, "visible output")
	})

	t.Run("agent message framed", func(t *testing.T) {
		path := writeLog(t, "run.jsonl",
			`{"type":"agent_message","text":"done here"}`,
		)
		assert.Contains(t, previewFromStdoutLog(path, uiPreviewMaxChars), "done here")
	})

	t.Run("non-json lines pass through", func(t *testing.T) {
		path := writeLog(t, "run.jsonl", `plain stderr-ish line`)
		assert.Contains(t, previewFromStdoutLog(path, uiPreviewMaxChars), "plain stderr-ish line")
	})

	t.Run("empty and missing", func(t *testing.T) {
		assert.Empty(t, previewFromStdoutLog("", uiPreviewMaxChars))
		assert.Empty(t, previewFromStdoutLog(filepath.Join(t.TempDir(), "nope.jsonl"), uiPreviewMaxChars))
	})
}

// TestPreviewFromStderrLog keeps the final lines under the size cap.
func TestPreviewFromStderrLog(t *testing.T) {
	lines := make([]string, 0, 60)
	for i := 0; i < 60; i++ {
		lines = append(lines, "err line")
	}
	lines = append(lines, "LAST")
	path := writeLog(t, "run.stderr.txt", lines...)

	out := previewFromStderrLog(path, uiPreviewMaxChars)
	assert.Contains(t, out, "LAST")
	assert.LessOrEqual(t, len(out), uiPreviewMaxChars+len("\n…(truncated)…\n"))

	assert.Empty(t, previewFromStderrLog("", uiPreviewMaxChars))
}

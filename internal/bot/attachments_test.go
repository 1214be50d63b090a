package bot

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSanitizeAttachmentBasename keeps remote filenames inside the session
// directory.
func TestSanitizeAttachmentBasename(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "report.pdf", "report.pdf"},
		{"traversal", "../../etc/passwd", ".._.._etc_passwd"},
		{"backslashes", `..\..\boot.ini`, ".._.._boot.ini"},
		{"nul bytes", "a\x00b.txt", "ab.txt"},
		{"control chars", "a\tb\nc.txt", "a_b_c.txt"},
		{"empty", "", "file"},
		{"dot", ".", "file"},
		{"dotdot", "..", "file"},
		{"whitespace only", "   ", "file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeAttachmentBasename(tt.in))
		})
	}
}

// TestSanitizeAttachmentBasename_Truncation keeps the extension when cutting
// an oversized name.
func TestSanitizeAttachmentBasename_Truncation(t *testing.T) {
	long := strings.Repeat("a", 300) + ".tar.gz"
	got := sanitizeAttachmentBasename(long)
	assert.Equal(t, maxDownloadedFilenameLen, len(got))
	assert.True(t, strings.HasSuffix(got, ".gz"))

	noExt := strings.Repeat("b", 300)
	got = sanitizeAttachmentBasename(noExt)
	assert.Equal(t, maxDownloadedFilenameLen, len(got))

	wide := strings.Repeat("世", 100) + ".txt"
	got = sanitizeAttachmentBasename(wide)
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), maxDownloadedFilenameLen)
	assert.True(t, strings.HasSuffix(got, ".txt"))

	wideNoExt := strings.Repeat("界", 100)
	got = sanitizeAttachmentBasename(wideNoExt)
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), maxDownloadedFilenameLen)
}

// TestPickUniqueDestPath suffixes a counter on collisions.
func TestPickUniqueDestPath(t *testing.T) {
	dir := t.TempDir()

	first := pickUniqueDestPath(dir, "notes.txt")
	assert.Equal(t, filepath.Join(dir, "notes.txt"), first)
	require.NoError(t, os.WriteFile(first, nil, 0o644))

	second := pickUniqueDestPath(dir, "notes.txt")
	assert.Equal(t, filepath.Join(dir, "notes_2.txt"), second)
	require.NoError(t, os.WriteFile(second, nil, 0o644))

	third := pickUniqueDestPath(dir, "notes.txt")
	assert.Equal(t, filepath.Join(dir, "notes_3.txt"), third)

	bare := pickUniqueDestPath(dir, "README")
	assert.Equal(t, filepath.Join(dir, "README"), bare)
}

// TestExtractAttachments_Photo picks the largest rendition of the size
// ladder.
func TestExtractAttachments_Photo(t *testing.T) {
	msg := &tgbotapi.Message{Photo: []tgbotapi.PhotoSize{
		{FileID: "small", FileUniqueID: "u1", FileSize: 100},
		{FileID: "big", FileUniqueID: "u2", FileSize: 9000},
	}}

	refs := extractAttachments(msg)
	require.Len(t, refs, 1)
	assert.Equal(t, "big", refs[0].FileID)
	assert.Equal(t, "photo_u2", refs[0].DefaultStem)
	assert.Equal(t, int64(9000), refs[0].FileSize)
}

// TestExtractAttachments_Document keeps the sender's filename as preferred.
func TestExtractAttachments_Document(t *testing.T) {
	msg := &tgbotapi.Message{Document: &tgbotapi.Document{
		FileID:       "f1",
		FileUniqueID: "u1",
		FileName:     " report.pdf ",
		FileSize:     1234,
	}}

	refs := extractAttachments(msg)
	require.Len(t, refs, 1)
	assert.Equal(t, "report.pdf", refs[0].PreferredName)
	assert.Equal(t, "document_u1", refs[0].DefaultStem)
}

// TestExtractAttachments_Voice has no filename, only the hint stem.
func TestExtractAttachments_Voice(t *testing.T) {
	msg := &tgbotapi.Message{Voice: &tgbotapi.Voice{FileID: "f1", FileUniqueID: "u1"}}

	refs := extractAttachments(msg)
	require.Len(t, refs, 1)
	assert.Empty(t, refs[0].PreferredName)
	assert.Equal(t, "voice_u1", refs[0].DefaultStem)
}

// TestExtractAttachments_None ignores plain text messages.
func TestExtractAttachments_None(t *testing.T) {
	assert.Empty(t, extractAttachments(&tgbotapi.Message{Text: "hello"}))
}

// TestBuildPromptWithFiles lists saved files sorted and deduplicated.
func TestBuildPromptWithFiles(t *testing.T) {
	prompt := buildPromptWithFiles("please review", []string{"b.txt", "a.txt", "b.txt", " "})
	assert.Contains(t, prompt, "- a.txt\n- b.txt")
	assert.Contains(t, prompt, "User message:\nplease review")
	assert.NotContains(t, prompt, "(none)")

	idxA := strings.Index(prompt, "- a.txt")
	idxB := strings.Index(prompt, "- b.txt")
	assert.Less(t, idxA, idxB)
}

// TestBuildPromptWithFiles_NoText instructs the model to look inside the
// files.
func TestBuildPromptWithFiles_NoText(t *testing.T) {
	prompt := buildPromptWithFiles("   ", []string{"task.pdf"})
	assert.Contains(t, prompt, "- task.pdf")
	assert.NotContains(t, prompt, "User message:")
	assert.Contains(t, prompt, "no accompanying text")
}

// TestBuildPromptWithFiles_Empty renders the placeholder list.
func TestBuildPromptWithFiles_Empty(t *testing.T) {
	prompt := buildPromptWithFiles("hi", nil)
	assert.Contains(t, prompt, "- (none)")
}

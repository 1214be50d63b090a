package bot

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
)

// maxDownloadedFilenameLen bounds saved attachment basenames.
const maxDownloadedFilenameLen = 180

// attachmentRef describes one downloadable file found in a message.
type attachmentRef struct {
	FileID        string
	FileUniqueID  string
	PreferredName string
	DefaultStem   string
	FileSize      int64
}

// sanitizeAttachmentBasename strips path separators and control characters
// so a remote filename cannot escape the session directory.
func sanitizeAttachmentBasename(name string) string {
	base := strings.TrimSpace(strings.ReplaceAll(name, "\x00", ""))
	base = strings.ReplaceAll(base, "/", "_")
	base = strings.ReplaceAll(base, "\\", "_")
	var b strings.Builder
	for _, ch := range base {
		if ch < ' ' || ch == 0x7f {
			b.WriteRune('_')
		} else {
			b.WriteRune(ch)
		}
	}
	base = strings.TrimSpace(b.String())
	if base == "" || base == "." || base == ".." {
		return "file"
	}

	if len(base) > maxDownloadedFilenameLen {
		suffix := filepath.Ext(base)
		if suffix != "" && len(suffix) < maxDownloadedFilenameLen {
			keep := maxDownloadedFilenameLen - len(suffix)
			stem := strings.TrimSuffix(base, suffix)
			base = truncateAtRune(stem, keep) + suffix
		} else {
			base = truncateAtRune(base, maxDownloadedFilenameLen)
		}
	}
	return base
}

// truncateAtRune cuts s to at most n bytes without splitting a rune.
func truncateAtRune(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// pickUniqueDestPath finds a free destination under destDir, suffixing with a
// counter and finally a timestamp on pathological collision counts.
func pickUniqueDestPath(destDir, basename string) string {
	safe := sanitizeAttachmentBasename(basename)
	cand := filepath.Join(destDir, safe)
	if _, err := os.Stat(cand); os.IsNotExist(err) {
		return cand
	}

	suffix := filepath.Ext(safe)
	stem := strings.TrimSuffix(safe, suffix)
	if stem == "" {
		stem = "file"
	}
	for i := 2; i < 10000; i++ {
		cand := filepath.Join(destDir, fmt.Sprintf("%s_%d%s", stem, i, suffix))
		if _, err := os.Stat(cand); os.IsNotExist(err) {
			return cand
		}
	}
	ts := time.Now().UTC().Format("20060102_150405")
	return filepath.Join(destDir, fmt.Sprintf("%s_%s%s", stem, ts, suffix))
}

// extractAttachments pulls the downloadable attachment out of a message.
// Photos arrive as a size ladder; the largest rendition wins.
func extractAttachments(msg *tgbotapi.Message) []attachmentRef {
	if len(msg.Photo) > 0 {
		best := msg.Photo[len(msg.Photo)-1]
		if best.FileID == "" {
			return nil
		}
		stem := "photo_" + firstNonEmpty(best.FileUniqueID, best.FileID)
		return []attachmentRef{{
			FileID:       best.FileID,
			FileUniqueID: best.FileUniqueID,
			DefaultStem:  stem,
			FileSize:     int64(best.FileSize),
		}}
	}

	type candidate struct {
		hint     string
		fileID   string
		uniqueID string
		name     string
		size     int64
	}
	var cand *candidate
	switch {
	case msg.Document != nil:
		cand = &candidate{"document", msg.Document.FileID, msg.Document.FileUniqueID, msg.Document.FileName, int64(msg.Document.FileSize)}
	case msg.Audio != nil:
		cand = &candidate{"audio", msg.Audio.FileID, msg.Audio.FileUniqueID, msg.Audio.FileName, int64(msg.Audio.FileSize)}
	case msg.Video != nil:
		cand = &candidate{"video", msg.Video.FileID, msg.Video.FileUniqueID, msg.Video.FileName, int64(msg.Video.FileSize)}
	case msg.Voice != nil:
		cand = &candidate{"voice", msg.Voice.FileID, msg.Voice.FileUniqueID, "", int64(msg.Voice.FileSize)}
	case msg.VideoNote != nil:
		cand = &candidate{"video_note", msg.VideoNote.FileID, msg.VideoNote.FileUniqueID, "", int64(msg.VideoNote.FileSize)}
	case msg.Animation != nil:
		cand = &candidate{"animation", msg.Animation.FileID, msg.Animation.FileUniqueID, msg.Animation.FileName, int64(msg.Animation.FileSize)}
	case msg.Sticker != nil:
		cand = &candidate{"sticker", msg.Sticker.FileID, msg.Sticker.FileUniqueID, "", int64(msg.Sticker.FileSize)}
	}
	if cand == nil || cand.fileID == "" {
		return nil
	}
	return []attachmentRef{{
		FileID:        cand.fileID,
		FileUniqueID:  cand.uniqueID,
		PreferredName: strings.TrimSpace(cand.name),
		DefaultStem:   cand.hint + "_" + firstNonEmpty(cand.uniqueID, cand.fileID),
		FileSize:      cand.size,
	}}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// downloadAttachments saves a message's attachments into the session's
// working directory. It returns the saved basenames and an optional
// user-facing notice about skipped oversized files.
func (s *Shell) downloadAttachments(msg *tgbotapi.Message, sessionRoot string) ([]string, string, error) {
	if fi, err := os.Stat(sessionRoot); err != nil || !fi.IsDir() {
		return nil, "", errors.Errorf("Session directory not found: %s", sessionRoot)
	}

	refs := extractAttachments(msg)
	if len(refs) == 0 {
		return nil, "", nil
	}

	var maxBytes int64
	if s.profile.MaxAttachmentMB > 0 {
		maxBytes = int64(s.profile.MaxAttachmentMB) * 1024 * 1024
	}

	var saved, skipped []string
	for _, ref := range refs {
		if maxBytes > 0 && ref.FileSize > maxBytes {
			label := ref.PreferredName
			if label == "" {
				label = fmt.Sprintf("%s (id:%s)", ref.DefaultStem, ref.FileID)
			}
			skipped = append(skipped, label)
			continue
		}

		file, err := s.bot.GetFile(ref.FileID)
		if err != nil {
			return saved, "", err
		}
		suffix := filepath.Ext(file.FilePath)

		preferred := ref.PreferredName
		if preferred == "" {
			preferred = ref.DefaultStem + suffix
		}
		destPath := pickUniqueDestPath(sessionRoot, preferred)
		if err := s.bot.DownloadTo(file, destPath); err != nil {
			return saved, "", err
		}
		saved = append(saved, filepath.Base(destPath))
	}

	notice := ""
	if len(skipped) > 0 && maxBytes > 0 {
		view := strings.Join(skipped[:min(6, len(skipped))], ", ")
		more := ""
		if len(skipped) > 6 {
			more = fmt.Sprintf(" (+%d more)", len(skipped)-6)
		}
		notice = fmt.Sprintf("Attachment too large (limit: %d MB). Skipped: %s%s",
			s.profile.MaxAttachmentMB, view, more)
	}
	return saved, notice, nil
}

// buildPromptWithFiles synthesizes the prompt sent to the CLI when the user
// message carried attachments.
func buildPromptWithFiles(userText string, filenames []string) string {
	seen := map[string]bool{}
	var names []string
	for _, n := range filenames {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		names = append(names, n)
	}
	sort.Strings(names)

	fileList := "- (none)"
	if len(names) > 0 {
		var b strings.Builder
		for i, n := range names {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString("- " + n)
		}
		fileList = b.String()
	}

	head := "Files downloaded from Telegram were saved in the root of this session's working directory.\n" +
		"Take note of them and list their names in your reply:\n" + fileList

	userText = strings.TrimSpace(userText)
	if userText != "" {
		return head + "\n\nUser message:\n" + userText
	}
	return head + "\n\nThere is no accompanying text from the user.\n" +
		"If the task or prompt is inside these files (text, PDF, images, etc.), extract it and follow it."
}

package render

import "strings"

const (
	// MaxMessageLength is Telegram's hard per-message limit.
	MaxMessageLength = 4096
	// SafeLimit leaves margin for markdown overhead and the emoji postfix.
	SafeLimit = 3800
)

// ChunkText splits text into pieces no longer than limit, preferring newline
// boundaries, then spaces, then a hard split.
func ChunkText(text string, limit int) []string {
	if limit <= 0 {
		limit = SafeLimit
	}
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	remaining := text
	for len(remaining) > 0 {
		if len(remaining) <= limit {
			chunks = append(chunks, remaining)
			break
		}

		splitAt := strings.LastIndex(remaining[:limit], "\n")
		if splitAt < limit/2 {
			splitAt = strings.LastIndex(remaining[:limit], " ")
		}
		if splitAt < limit*3/10 {
			splitAt = limit
		}

		chunks = append(chunks, remaining[:splitAt])
		remaining = strings.TrimLeft(remaining[splitAt:], " \n")
	}
	return chunks
}

// PostfixEmoji appends the session's marker so output from different sessions
// is distinguishable in one chat.
func PostfixEmoji(text, emoji string) string {
	if emoji == "" {
		return text
	}
	return text + " " + emoji
}

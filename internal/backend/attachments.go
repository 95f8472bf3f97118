package backend

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/agentrelay/internal/types"
)

var textExtensions = map[string]bool{
	".ts": true, ".tsx": true, ".js": true, ".jsx": true, ".py": true,
	".md": true, ".json": true, ".yaml": true, ".yml": true, ".toml": true,
	".xml": true, ".html": true, ".css": true, ".sh": true, ".bash": true,
	".txt": true, ".log": true, ".csv": true, ".sql": true, ".rs": true,
	".go": true, ".java": true, ".c": true, ".cpp": true, ".h": true,
	".hpp": true, ".rb": true, ".php": true,
}

func isTextDocument(att types.Attachment) bool {
	if att.Kind != types.AttachmentDocument {
		return false
	}
	if strings.HasPrefix(att.MimeType, "text/") {
		return true
	}
	return textExtensions[strings.ToLower(filepath.Ext(att.Filename))]
}

func isHTML(att types.Attachment) bool {
	return att.MimeType == "text/html" || strings.EqualFold(filepath.Ext(att.Filename), ".html")
}

func renderAttachment(att types.Attachment) string {
	if att.Kind == types.AttachmentImage {
		encoded := base64.StdEncoding.EncodeToString(att.Data)
		return fmt.Sprintf("[Image attached as base64: data:%s;base64,%s]", att.MimeType, encoded)
	}

	filename := att.Filename
	if filename == "" {
		filename = "document"
	}

	if isHTML(att) {
		// HTML pages are noisy as raw markup; hand the backend markdown instead.
		md, err := htmltomarkdown.ConvertString(string(att.Data))
		if err == nil {
			return fmt.Sprintf("File: %s (converted from HTML)\n```\n%s\n```", filename, md)
		}
		slog.Debug("html to markdown conversion failed", "filename", filename, "error", err)
	}

	if isTextDocument(att) {
		return fmt.Sprintf("File: %s\n```\n%s\n```", filename, string(att.Data))
	}

	return fmt.Sprintf("[Binary document attached: %s, %d bytes, type: %s]", filename, len(att.Data), att.MimeType)
}

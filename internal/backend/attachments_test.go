package backend

import (
	"strings"
	"testing"

	"github.com/user/agentrelay/internal/types"
)

func TestBuildPromptWithoutAttachments(t *testing.T) {
	if got := BuildPrompt("hello", nil); got != "hello" {
		t.Errorf("got %q", got)
	}
}

func TestBuildPromptInlinesTextDocument(t *testing.T) {
	att := types.Attachment{
		Kind:     types.AttachmentDocument,
		Data:     []byte("package main"),
		MimeType: "text/plain",
		Filename: "main.go",
	}
	got := BuildPrompt("review this", []types.Attachment{att})

	if !strings.Contains(got, "main.go") {
		t.Error("missing filename")
	}
	if !strings.Contains(got, "package main") {
		t.Error("missing file content")
	}
	// The user's prompt comes after the attachments.
	if !strings.HasSuffix(got, "review this") {
		t.Errorf("prompt not last: %q", got)
	}
}

func TestBuildPromptEncodesImages(t *testing.T) {
	att := types.Attachment{
		Kind:     types.AttachmentImage,
		Data:     []byte{0xFF, 0xD8, 0xFF},
		MimeType: "image/jpeg",
		Filename: "photo.jpg",
	}
	got := BuildPrompt("what is this", []types.Attachment{att})
	if !strings.Contains(got, "data:image/jpeg;base64,") {
		t.Errorf("missing data uri: %q", got)
	}
}

func TestBuildPromptConvertsHTML(t *testing.T) {
	att := types.Attachment{
		Kind:     types.AttachmentDocument,
		Data:     []byte("<h1>Title</h1><p>Body text</p>"),
		MimeType: "text/html",
		Filename: "page.html",
	}
	got := BuildPrompt("summarize", []types.Attachment{att})
	if !strings.Contains(got, "Title") || !strings.Contains(got, "Body text") {
		t.Errorf("html content lost: %q", got)
	}
	if strings.Contains(got, "<h1>") {
		t.Errorf("html tags survived conversion: %q", got)
	}
}

func TestIsTextDocument(t *testing.T) {
	tests := []struct {
		filename string
		mime     string
		want     bool
	}{
		{"notes.txt", "text/plain", true},
		{"main.go", "application/octet-stream", true},
		{"data.bin", "application/octet-stream", false},
		{"script.PY", "", true},
	}
	for _, tt := range tests {
		att := types.Attachment{Kind: types.AttachmentDocument, Filename: tt.filename, MimeType: tt.mime}
		if got := isTextDocument(att); got != tt.want {
			t.Errorf("isTextDocument(%q, %q) = %v, want %v", tt.filename, tt.mime, got, tt.want)
		}
	}
}

func TestValidMode(t *testing.T) {
	tests := []struct {
		kind types.BackendKind
		mode string
		want bool
	}{
		{types.BackendClaude, "plan", true},
		{types.BackendClaude, "dontAsk", true},
		{types.BackendClaude, "workspace-write", false},
		{types.BackendCodex, "workspace-write", true},
		{types.BackendCodex, "danger", true},
		{types.BackendCodex, "acceptEdits", false},
	}
	for _, tt := range tests {
		if got := ValidMode(tt.kind, tt.mode); got != tt.want {
			t.Errorf("ValidMode(%s, %q) = %v, want %v", tt.kind, tt.mode, got, tt.want)
		}
	}
}

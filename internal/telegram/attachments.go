package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/agentrelay/internal/types"
)

// maxAttachmentBytes caps downloads; Telegram bots cannot fetch files over
// 20 MB anyway.
const maxAttachmentBytes = 20 << 20

// handleAttachmentMessage downloads photos and documents from a message and
// forwards them to the active session alongside the caption.
func (a *Adapter) handleAttachmentMessage(ctx context.Context, msg *tgbotapi.Message) {
	session, err := a.activeSession(ctx, msg.From.ID)
	if err != nil {
		a.reply(msg.Chat.ID, "No active session. Use /new to create one.")
		return
	}

	var attachments []types.Attachment

	if len(msg.Photo) > 0 {
		// Telegram sends multiple resolutions; the last is the largest.
		photo := msg.Photo[len(msg.Photo)-1]
		att, err := a.downloadAttachment(ctx, photo.FileID, types.AttachmentImage, "photo.jpg", "image/jpeg")
		if err != nil {
			slog.Error("photo download failed", "error", err)
			a.reply(msg.Chat.ID, "Failed to download the photo.")
			return
		}
		attachments = append(attachments, att)
	}

	if doc := msg.Document; doc != nil {
		name := doc.FileName
		if name == "" {
			name = "document"
		}
		att, err := a.downloadAttachment(ctx, doc.FileID, types.AttachmentDocument, name, doc.MimeType)
		if err != nil {
			slog.Error("document download failed", "file_name", name, "error", err)
			a.reply(msg.Chat.ID, "Failed to download the file.")
			return
		}
		attachments = append(attachments, att)
	}

	if len(attachments) == 0 {
		return
	}

	text := msg.Caption
	if text == "" {
		text = fmt.Sprintf("Review this file: %s", attachments[0].Filename)
	}

	a.sendSessionMessage(ctx, msg.Chat.ID, session, text, attachments)
}

func (a *Adapter) downloadAttachment(ctx context.Context, fileID string, kind types.AttachmentKind, filename, mimeType string) (types.Attachment, error) {
	url, err := a.bot.GetFileDirectURL(fileID)
	if err != nil {
		return types.Attachment{}, fmt.Errorf("resolve file url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return types.Attachment{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return types.Attachment{}, fmt.Errorf("fetch file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.Attachment{}, fmt.Errorf("fetch file: unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes+1))
	if err != nil {
		return types.Attachment{}, fmt.Errorf("read file: %w", err)
	}
	if len(data) > maxAttachmentBytes {
		return types.Attachment{}, fmt.Errorf("file %s exceeds %d bytes", filename, maxAttachmentBytes)
	}

	return types.Attachment{
		Kind:     kind,
		Data:     data,
		MimeType: mimeType,
		Filename: filename,
	}, nil
}

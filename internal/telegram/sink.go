package telegram

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/agentrelay/internal/render"
)

// ChatSink adapts one Telegram chat to the render.Sink capability set.
type ChatSink struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

func NewChatSink(bot *tgbotapi.BotAPI, chatID int64) *ChatSink {
	return &ChatSink{bot: bot, chatID: chatID}
}

var _ render.Sink = (*ChatSink)(nil)

func (s *ChatSink) SendMessage(text string, opts render.MessageOptions) (int, error) {
	msg := tgbotapi.NewMessage(s.chatID, text)
	msg.DisableNotification = opts.Silent
	if opts.Markdown {
		msg.ParseMode = tgbotapi.ModeMarkdown
	}
	sent, err := s.bot.Send(msg)
	if err != nil {
		return 0, wrapSendError(err)
	}
	return sent.MessageID, nil
}

func (s *ChatSink) EditMessage(messageID int, text string, opts render.MessageOptions) error {
	edit := tgbotapi.NewEditMessageText(s.chatID, messageID, text)
	if opts.Markdown {
		edit.ParseMode = tgbotapi.ModeMarkdown
	}
	if _, err := s.bot.Send(edit); err != nil {
		return wrapSendError(err)
	}
	return nil
}

func (s *ChatSink) SendDocument(data []byte, filename, caption string) error {
	doc := tgbotapi.NewDocument(s.chatID, tgbotapi.FileBytes{Name: filename, Bytes: data})
	doc.Caption = caption
	_, err := s.bot.Send(doc)
	return err
}

// wrapSendError maps Telegram's unchanged-content rejection to the sentinel
// renderers ignore.
func wrapSendError(err error) error {
	if strings.Contains(err.Error(), "message is not modified") {
		return render.ErrNotModified
	}
	return err
}

// Package telegram bridges Telegram chats to backend sessions: inbound
// commands and text, outbound rendering, and the plan-approval keyboard.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/agentrelay/internal/backend"
	"github.com/user/agentrelay/internal/queue"
	"github.com/user/agentrelay/internal/render"
	"github.com/user/agentrelay/internal/router"
	"github.com/user/agentrelay/internal/types"
)

// Adapter owns the bot connection and implements router.Notifier.
type Adapter struct {
	bot      *tgbotapi.BotAPI
	sessions types.SessionStore
	history  types.HistoryStore
	queues   *queue.Registry
	backends *backend.Registry
	tracker  *router.Tracker
	router   *router.Router
	allowed  map[int64]bool

	mu    sync.Mutex
	chats map[int64]int64 // userID → chatID, learned from inbound traffic
}

// New creates a Telegram adapter. allowedUsers restricts who may talk to the
// bot; empty means anyone.
func New(token string, sessions types.SessionStore, history types.HistoryStore, queues *queue.Registry, backends *backend.Registry, tracker *router.Tracker, allowedUsers []int64) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	allowed := make(map[int64]bool, len(allowedUsers))
	for _, id := range allowedUsers {
		allowed[id] = true
	}
	return &Adapter{
		bot:      bot,
		sessions: sessions,
		history:  history,
		queues:   queues,
		backends: backends,
		tracker:  tracker,
		allowed:  allowed,
		chats:    make(map[int64]int64),
	}, nil
}

// SetRouter wires the event router after construction; the adapter and
// router reference each other.
func (a *Adapter) SetRouter(r *router.Router) {
	a.router = r
}

// SinkFor returns a sink bound to the user's chat. Before the user has sent
// anything there is no chat to deliver to; the sink falls back to the user id
// as chat id, which is correct for private chats.
func (a *Adapter) SinkFor(userID int64) render.Sink {
	a.mu.Lock()
	chatID, ok := a.chats[userID]
	a.mu.Unlock()
	if !ok {
		chatID = userID
	}
	return NewChatSink(a.bot, chatID)
}

// PromptPlanApproval presents the approval keyboard for a proposed plan.
func (a *Adapter) PromptPlanApproval(userID int64, session *types.Session) {
	text := render.PostfixEmoji("📋 The agent proposed a plan and is waiting for your decision.", session.Emoji)
	msg := tgbotapi.NewMessage(a.chatID(userID), text)
	msg.ReplyMarkup = planKeyboard(session.ID)
	if _, err := a.bot.Send(msg); err != nil {
		slog.Error("failed to send plan approval prompt", "user_id", userID, "error", err)
	}
}

func (a *Adapter) chatID(userID int64) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if chatID, ok := a.chats[userID]; ok {
		return chatID
	}
	return userID
}

func (a *Adapter) rememberChat(userID, chatID int64) {
	a.mu.Lock()
	a.chats[userID] = chatID
	a.mu.Unlock()
}

// Start begins long-polling for updates until ctx is cancelled.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			a.handleUpdate(ctx, update)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

func (a *Adapter) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		from := update.CallbackQuery.From
		if from == nil || !a.authorized(from.ID) {
			return
		}
		if update.CallbackQuery.Message != nil {
			a.rememberChat(from.ID, update.CallbackQuery.Message.Chat.ID)
		}
		a.handleCallback(ctx, update.CallbackQuery)

	case update.Message != nil:
		msg := update.Message
		if msg.From == nil || !a.authorized(msg.From.ID) {
			return
		}
		a.rememberChat(msg.From.ID, msg.Chat.ID)

		switch {
		case msg.IsCommand():
			a.handleCommand(ctx, msg)
		case len(msg.Photo) > 0 || msg.Document != nil:
			a.handleAttachmentMessage(ctx, msg)
		case msg.Text != "":
			a.handleText(ctx, msg)
		}
	}
}

func (a *Adapter) authorized(userID int64) bool {
	return len(a.allowed) == 0 || a.allowed[userID]
}

// activeSession resolves the user's current session, falling back to their
// oldest session when none is marked active yet.
func (a *Adapter) activeSession(ctx context.Context, userID int64) (*types.Session, error) {
	if id := a.tracker.Active(userID); id != "" {
		return a.sessions.Get(ctx, id)
	}
	sessions, err := a.sessions.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("no sessions for user %d", userID)
	}
	a.tracker.SetActive(userID, sessions[0].ID)
	return sessions[0], nil
}

func (a *Adapter) handleText(ctx context.Context, msg *tgbotapi.Message) {
	if len(msg.Text) > 0 && msg.Text[0] == '!' {
		a.reply(msg.Chat.ID, "Shell execution is not available here.")
		return
	}

	session, err := a.activeSession(ctx, msg.From.ID)
	if err != nil {
		a.reply(msg.Chat.ID, "No active session. Use /new to create one.")
		return
	}

	a.sendSessionMessage(ctx, msg.Chat.ID, session, msg.Text, nil)
}

func (a *Adapter) reply(chatID int64, text string) {
	for _, part := range render.ChunkText(text, render.SafeLimit) {
		m := tgbotapi.NewMessage(chatID, part)
		if _, err := a.bot.Send(m); err != nil {
			slog.Warn("send reply failed", "error", err)
		}
	}
}

func (a *Adapter) replyMarkdown(chatID int64, text string) {
	m := tgbotapi.NewMessage(chatID, text)
	m.ParseMode = tgbotapi.ModeMarkdown
	if _, err := a.bot.Send(m); err != nil {
		// Retry without markdown if formatting is rejected.
		m.ParseMode = ""
		if _, err := a.bot.Send(m); err != nil {
			slog.Warn("send reply failed", "error", err)
		}
	}
}

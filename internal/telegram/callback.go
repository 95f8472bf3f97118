package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/agentrelay/internal/backend"
	"github.com/user/agentrelay/internal/render"
	"github.com/user/agentrelay/internal/router"
	"github.com/user/agentrelay/internal/types"
)

// handleCallback dispatches inline-keyboard presses. Callback data is
// "action:payload", with plan decisions carrying an extra segment:
// "plan:<action>:<sessionID>".
func (a *Adapter) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	// Acknowledge immediately so the client stops its spinner.
	if _, err := a.bot.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		slog.Debug("callback ack failed", "error", err)
	}

	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	userID := cb.From.ID

	action, payload, ok := strings.Cut(cb.Data, ":")
	if !ok {
		return
	}

	switch action {
	case "switch":
		a.switchSession(ctx, chatID, userID, types.SessionID(payload))

	case "mode":
		a.setMode(ctx, chatID, userID, payload)

	case "plan":
		planAction, sessionID, ok := strings.Cut(payload, ":")
		if !ok {
			return
		}
		a.resolvePlan(ctx, chatID, types.SessionID(sessionID), router.PlanAction(planAction))
	}
}

// switchSession makes the session active and replays anything it buffered
// while in the background.
func (a *Adapter) switchSession(ctx context.Context, chatID, userID int64, id types.SessionID) {
	session, err := a.sessions.Get(ctx, id)
	if err != nil {
		a.reply(chatID, "That session no longer exists.")
		return
	}
	a.tracker.SetActive(userID, session.ID)
	a.reply(chatID, fmt.Sprintf("%s Switched to %q (%s, %s)", session.Emoji, session.Name, session.Backend, session.Status))

	replayBuffered(NewChatSink(a.bot, chatID), a.tracker.Drain(session.ID))
}

// replayBuffered re-sends output withheld while the session was in the
// background, preserving each message's silent flag so output buffered under
// smart notifications does not ping on switch.
func replayBuffered(sink render.Sink, buffered []types.BufferedMessage) {
	for _, msg := range buffered {
		if _, err := sink.SendMessage(msg.Text, render.MessageOptions{Silent: msg.Silent}); err != nil {
			slog.Error("failed to replay buffered output", "error", err)
		}
	}
}

func (a *Adapter) setMode(ctx context.Context, chatID, userID int64, mode string) {
	session, err := a.activeSession(ctx, userID)
	if err != nil {
		a.reply(chatID, "No active session.")
		return
	}
	if !backend.ValidMode(session.Backend, mode) {
		a.reply(chatID, fmt.Sprintf("Mode %q is not valid for %s.", mode, session.Backend))
		return
	}
	session.Mode = mode
	if err := a.sessions.Update(ctx, session); err != nil {
		a.reply(chatID, "Failed to set mode.")
		return
	}
	a.reply(chatID, fmt.Sprintf("%s Mode: %s", session.Emoji, mode))
}

// resolvePlan applies a plan-approval decision. A non-empty instruction from
// the router means the agent should be resumed with it.
func (a *Adapter) resolvePlan(ctx context.Context, chatID int64, id types.SessionID, action router.PlanAction) {
	session, err := a.sessions.Get(ctx, id)
	if err != nil {
		a.reply(chatID, "That session no longer exists.")
		return
	}

	instruction, err := a.router.ResolvePlan(ctx, session, action)
	if err != nil {
		a.reply(chatID, "No plan is awaiting a decision for that session.")
		return
	}

	switch action {
	case router.PlanRequestChanges:
		a.reply(chatID, "Send your requested changes as a regular message.")
	case router.PlanAbort:
		a.reply(chatID, fmt.Sprintf("%s Plan rejected.", session.Emoji))
	default:
		a.reply(chatID, fmt.Sprintf("%s Plan approved, executing in %s mode.", session.Emoji, session.Mode))
	}

	if instruction != "" {
		a.sendSessionMessage(ctx, chatID, session, instruction, nil)
	}
}

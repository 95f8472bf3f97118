package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/agentrelay/internal/render"
	"github.com/user/agentrelay/internal/types"
)

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	userID := msg.From.ID
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start":
		a.reply(chatID, "Hello! I relay your messages to coding agents. Use /new to create a session.")

	case "new":
		a.cmdNew(ctx, chatID, userID, args)

	case "sessions":
		a.cmdSessions(ctx, chatID, userID)

	case "switch":
		a.cmdSwitchPrompt(ctx, chatID, userID)

	case "rename":
		a.cmdRename(ctx, chatID, userID, args)

	case "delete":
		a.cmdDelete(ctx, chatID, userID)

	case "status":
		a.cmdStatus(ctx, chatID, userID)

	case "cancel":
		a.cmdCancel(ctx, chatID, userID)

	case "mode":
		a.cmdMode(ctx, chatID, userID)

	case "cd":
		a.cmdCd(ctx, chatID, userID, args)

	case "history":
		a.cmdHistory(ctx, chatID, userID, args)

	case "search":
		a.cmdSearch(ctx, chatID, userID, args)

	case "costs":
		a.cmdCosts(ctx, chatID, userID)

	case "settings":
		a.cmdSettings(ctx, chatID, userID, args)

	default:
		a.reply(chatID, "Unknown command. Available: /new, /sessions, /switch, /rename, /delete, /status, /cancel, /mode, /cd, /history, /search, /costs")
	}
}

// cmdNew creates a session: /new <name> [claude|codex]
func (a *Adapter) cmdNew(ctx context.Context, chatID, userID int64, args string) {
	name := "session"
	kind := types.BackendClaude
	if args != "" {
		fields := strings.Fields(args)
		name = fields[0]
		if len(fields) > 1 {
			switch types.BackendKind(fields[1]) {
			case types.BackendClaude, types.BackendCodex:
				kind = types.BackendKind(fields[1])
			default:
				a.reply(chatID, fmt.Sprintf("Unknown backend %q. Use claude or codex.", fields[1]))
				return
			}
		}
	}

	settings, err := a.sessions.Settings(ctx, userID)
	if err != nil {
		a.reply(chatID, "Failed to load settings.")
		return
	}
	cwd := settings.DefaultDir
	if cwd == "~" || cwd == "" {
		cwd = os.Getenv("HOME")
	}
	mode := settings.DefaultMode
	if kind == types.BackendCodex {
		mode = "workspace-write"
	}

	b, err := a.backends.Get(kind)
	if err != nil {
		slog.Error("backend lookup failed", "backend", kind, "error", err)
		a.reply(chatID, "Failed to create session.")
		return
	}
	trackingID := b.StartSession(cwd)

	session, err := a.sessions.Create(ctx, userID, types.SessionID(trackingID), name, cwd, kind, mode)
	if err != nil {
		slog.Error("create session failed", "user_id", userID, "error", err)
		a.reply(chatID, "Failed to create session.")
		return
	}
	a.tracker.SetActive(userID, session.ID)
	a.reply(chatID, fmt.Sprintf("%s Created %s session %q in %s", session.Emoji, session.Backend, session.Name, session.Cwd))
}

func (a *Adapter) cmdSessions(ctx context.Context, chatID, userID int64) {
	sessions, err := a.sessions.ListByUser(ctx, userID)
	if err != nil || len(sessions) == 0 {
		a.reply(chatID, "No sessions. Use /new to create one.")
		return
	}
	active := a.tracker.Active(userID)
	var b strings.Builder
	for _, s := range sessions {
		marker := "  "
		if s.ID == active {
			marker = "▶ "
		}
		fmt.Fprintf(&b, "%s%s %s — %s, %s, %s\n", marker, s.Emoji, s.Name, s.Backend, s.Status, s.Mode)
	}
	a.reply(chatID, b.String())
}

func (a *Adapter) cmdSwitchPrompt(ctx context.Context, chatID, userID int64) {
	sessions, err := a.sessions.ListByUser(ctx, userID)
	if err != nil || len(sessions) == 0 {
		a.reply(chatID, "No sessions. Use /new to create one.")
		return
	}
	m := tgbotapi.NewMessage(chatID, "Switch to:")
	m.ReplyMarkup = sessionKeyboard(sessions, "switch")
	if _, err := a.bot.Send(m); err != nil {
		slog.Warn("send switch keyboard failed", "error", err)
	}
}

func (a *Adapter) cmdRename(ctx context.Context, chatID, userID int64, args string) {
	if args == "" {
		a.reply(chatID, "Usage: /rename <name>")
		return
	}
	session, err := a.activeSession(ctx, userID)
	if err != nil {
		a.reply(chatID, "No active session.")
		return
	}
	session.Name = args
	if err := a.sessions.Update(ctx, session); err != nil {
		a.reply(chatID, "Rename failed.")
		return
	}
	a.reply(chatID, fmt.Sprintf("%s Renamed to %q", session.Emoji, args))
}

func (a *Adapter) cmdDelete(ctx context.Context, chatID, userID int64) {
	session, err := a.activeSession(ctx, userID)
	if err != nil {
		a.reply(chatID, "No active session.")
		return
	}

	a.destroySession(ctx, session)

	remaining, _ := a.sessions.ListByUser(ctx, userID)
	if len(remaining) > 0 {
		a.tracker.SetActive(userID, remaining[0].ID)
		a.reply(chatID, fmt.Sprintf("Deleted. Now on %s %s.", remaining[0].Emoji, remaining[0].Name))
	} else {
		a.tracker.ClearActive(userID)
		a.reply(chatID, "Deleted. No sessions left; use /new.")
	}
}

// destroySession tears down all per-session state across components.
func (a *Adapter) destroySession(ctx context.Context, session *types.Session) {
	if b, err := a.backends.Get(session.Backend); err == nil {
		b.DestroySession(string(session.ID))
	}
	a.queues.Destroy(session.ID)
	a.router.DestroySession(session.ID)
	a.tracker.Forget(session.ID)
	if err := a.history.DeleteSession(ctx, session.ID); err != nil {
		slog.Error("delete session history failed", "session_id", session.ID, "error", err)
	}
	if err := a.sessions.Delete(ctx, session.ID); err != nil {
		slog.Error("delete session failed", "session_id", session.ID, "error", err)
	}
}

func (a *Adapter) cmdStatus(ctx context.Context, chatID, userID int64) {
	session, err := a.activeSession(ctx, userID)
	if err != nil {
		a.reply(chatID, "No active session.")
		return
	}
	depth := a.queues.Get(session.ID).Depth()
	a.replyMarkdown(chatID, fmt.Sprintf("%s *%s*\nBackend: %s\nDirectory: `%s`\nStatus: %s\nMode: %s\nQueued: %d",
		session.Emoji, session.Name, session.Backend, session.Cwd, session.Status, session.Mode, depth))
}

// cmdCancel drains the queue, aborts the in-flight turn, and resets status.
func (a *Adapter) cmdCancel(ctx context.Context, chatID, userID int64) {
	session, err := a.activeSession(ctx, userID)
	if err != nil {
		a.reply(chatID, "No active session.")
		return
	}

	q := a.queues.Get(session.ID)
	drained := q.Clear()

	if b, err := a.backends.Get(session.Backend); err == nil {
		b.Abort(string(session.ID))
	}
	q.SetProcessing(false)
	q.SetCurrentTurnID(0)

	session.Status = types.StatusIdle
	if err := a.sessions.Update(ctx, session); err != nil {
		slog.Error("failed to reset session on cancel", "session_id", session.ID, "error", err)
	}

	a.reply(chatID, render.PostfixEmoji(fmt.Sprintf("Cancelled. %d queued messages cleared.", len(drained)), session.Emoji))
}

func (a *Adapter) cmdMode(ctx context.Context, chatID, userID int64) {
	session, err := a.activeSession(ctx, userID)
	if err != nil {
		a.reply(chatID, "No active session.")
		return
	}
	m := tgbotapi.NewMessage(chatID, fmt.Sprintf("Mode for %s %s:", session.Emoji, session.Name))
	m.ReplyMarkup = modeKeyboard(session)
	if _, err := a.bot.Send(m); err != nil {
		slog.Warn("send mode keyboard failed", "error", err)
	}
}

func (a *Adapter) cmdCd(ctx context.Context, chatID, userID int64, args string) {
	if args == "" {
		a.reply(chatID, "Usage: /cd <path>")
		return
	}
	session, err := a.activeSession(ctx, userID)
	if err != nil {
		a.reply(chatID, "No active session.")
		return
	}
	path := filepath.Clean(args)
	if strings.HasPrefix(path, "~") {
		path = filepath.Join(os.Getenv("HOME"), strings.TrimPrefix(path, "~"))
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		a.reply(chatID, fmt.Sprintf("Not a directory: %s", path))
		return
	}
	session.Cwd = path
	if err := a.sessions.Update(ctx, session); err != nil {
		a.reply(chatID, "Failed to change directory.")
		return
	}
	a.reply(chatID, fmt.Sprintf("%s Directory: %s", session.Emoji, path))
}

// cmdHistory shows the last turns inline; "/history full" exports the whole
// transcript as a document instead.
func (a *Adapter) cmdHistory(ctx context.Context, chatID, userID int64, args string) {
	session, err := a.activeSession(ctx, userID)
	if err != nil {
		a.reply(chatID, "No active session.")
		return
	}

	if args == "full" {
		turns, err := a.history.History(ctx, session.ID, 1000, 0)
		if err != nil || len(turns) == 0 {
			a.reply(chatID, "No history yet.")
			return
		}
		var b strings.Builder
		for _, t := range turns {
			fmt.Fprintf(&b, "[%s] %s\n\n", t.Role, t.Content)
		}
		sink := NewChatSink(a.bot, chatID)
		caption := fmt.Sprintf("%s %s transcript (%d turns)", session.Emoji, session.Name, len(turns))
		if err := sink.SendDocument([]byte(b.String()), "history.txt", caption); err != nil {
			slog.Error("transcript export failed", "session_id", session.ID, "error", err)
			a.reply(chatID, "Failed to export the transcript.")
		}
		return
	}

	turns, err := a.history.History(ctx, session.ID, 10, 0)
	if err != nil || len(turns) == 0 {
		a.reply(chatID, "No history yet.")
		return
	}
	var b strings.Builder
	for _, t := range turns {
		text := t.Content
		if len(text) > 200 {
			text = text[:200] + "…"
		}
		fmt.Fprintf(&b, "[%s] %s\n", t.Role, text)
	}
	a.reply(chatID, b.String())
}

func (a *Adapter) cmdSearch(ctx context.Context, chatID, userID int64, args string) {
	if args == "" {
		a.reply(chatID, "Usage: /search <text>")
		return
	}
	session, err := a.activeSession(ctx, userID)
	if err != nil {
		a.reply(chatID, "No active session.")
		return
	}
	turns, err := a.history.Search(ctx, session.ID, args, 10)
	if err != nil {
		slog.Error("history search failed", "session_id", session.ID, "error", err)
		a.reply(chatID, "Search failed.")
		return
	}
	if len(turns) == 0 {
		a.reply(chatID, fmt.Sprintf("No matches for %q.", args))
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Matches for %q:\n", args)
	for _, t := range turns {
		text := t.Content
		if len(text) > 200 {
			text = text[:200] + "…"
		}
		fmt.Fprintf(&b, "[%s] %s\n", t.Role, text)
	}
	a.reply(chatID, b.String())
}

func (a *Adapter) cmdCosts(ctx context.Context, chatID, userID int64) {
	session, err := a.activeSession(ctx, userID)
	if err != nil {
		a.reply(chatID, "No active session.")
		return
	}
	total, err := a.history.SessionCost(ctx, session.ID)
	if err != nil {
		a.reply(chatID, "Failed to compute costs.")
		return
	}
	a.reply(chatID, fmt.Sprintf("%s Total cost: $%.4f", session.Emoji, total))
}

// cmdSettings shows or updates user-level preferences:
// /settings, /settings verbosity quiet|normal|verbose,
// /settings notifications all|smart|none, /settings visibility all|active.
func (a *Adapter) cmdSettings(ctx context.Context, chatID, userID int64, args string) {
	settings, err := a.sessions.Settings(ctx, userID)
	if err != nil {
		a.reply(chatID, "Failed to load settings.")
		return
	}

	fields := strings.Fields(args)
	if len(fields) == 0 {
		a.reply(chatID, fmt.Sprintf("Verbosity: %s\nNotifications: %s\nVisibility: %s\nDefault directory: %s\nDefault mode: %s",
			settings.Verbosity, settings.Notification, settings.Visibility, settings.DefaultDir, settings.DefaultMode))
		return
	}
	if len(fields) != 2 {
		a.reply(chatID, "Usage: /settings [verbosity|notifications|visibility] <value>")
		return
	}

	key, value := fields[0], fields[1]
	switch key {
	case "verbosity":
		switch types.Verbosity(value) {
		case types.VerbosityMinimal, types.VerbosityNormal, types.VerbosityVerbose:
			settings.Verbosity = types.Verbosity(value)
		default:
			a.reply(chatID, "Verbosity must be minimal, normal, or verbose.")
			return
		}
	case "notifications":
		switch types.NotificationMode(value) {
		case types.NotifyAll, types.NotifySmart, types.NotifyNone:
			settings.Notification = types.NotificationMode(value)
		default:
			a.reply(chatID, "Notifications must be all, smart, or none.")
			return
		}
	case "visibility":
		switch types.Visibility(value) {
		case types.VisibilityShowAll, types.VisibilityActiveOnly:
			settings.Visibility = types.Visibility(value)
		default:
			a.reply(chatID, "Visibility must be show_all or active_only.")
			return
		}
	default:
		a.reply(chatID, "Unknown setting. Use verbosity, notifications, or visibility.")
		return
	}

	if err := a.sessions.UpdateSettings(ctx, settings); err != nil {
		a.reply(chatID, "Failed to save settings.")
		return
	}
	a.reply(chatID, fmt.Sprintf("Set %s to %s.", key, value))
}

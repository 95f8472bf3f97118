package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/agentrelay/internal/backend"
	"github.com/user/agentrelay/internal/render"
	"github.com/user/agentrelay/internal/types"
)

// sendSessionMessage enqueues the message if a turn is already in flight,
// otherwise dispatches it immediately.
func (a *Adapter) sendSessionMessage(ctx context.Context, chatID int64, session *types.Session, text string, attachments []types.Attachment) {
	q := a.queues.Get(session.ID)
	sessionID := session.ID
	q.SetHandler(func(msg types.QueuedMessage) {
		// Re-read the session: mode, cwd, or resume id may have changed
		// while the message waited.
		current, err := a.sessions.Get(context.Background(), sessionID)
		if err != nil {
			slog.Error("queued message for missing session", "session_id", sessionID, "error", err)
			q.SetProcessing(false)
			return
		}
		a.dispatch(context.Background(), chatID, current, msg)
	})

	payload := types.QueuedMessage{Text: text, Attachments: attachments, EnqueuedAt: time.Now()}

	claimed, position := q.ClaimOrEnqueue(payload)
	if !claimed {
		a.reply(chatID, render.PostfixEmoji(queuedReply(attachments, position), session.Emoji))
		return
	}

	a.dispatch(ctx, chatID, session, payload)
}

func queuedReply(attachments []types.Attachment, position int) string {
	hasImage, hasDoc := false, false
	for _, att := range attachments {
		switch att.Kind {
		case types.AttachmentImage:
			hasImage = true
		case types.AttachmentDocument:
			hasDoc = true
		}
	}
	switch {
	case hasImage && hasDoc:
		return fmt.Sprintf("⏳ Queued with attachments (position %d)", position)
	case hasImage:
		return fmt.Sprintf("⏳ Queued with image (position %d)", position)
	case hasDoc:
		return fmt.Sprintf("⏳ Queued with document (position %d)", position)
	default:
		return fmt.Sprintf("⏳ Queued (position %d)", position)
	}
}

// dispatch records the user turn and runs the backend subprocess. Callers
// already hold the queue's processing claim, taken atomically either by
// ClaimOrEnqueue or by ProcessNext. The turn ends when the router handles
// the terminal event; this function's goroutine only reports dispatch
// failures.
func (a *Adapter) dispatch(ctx context.Context, chatID int64, session *types.Session, msg types.QueuedMessage) {
	session.Status = types.StatusProcessing
	if err := a.sessions.Update(ctx, session); err != nil {
		slog.Error("failed to mark session processing", "session_id", session.ID, "error", err)
	}

	if _, err := a.history.AddTurn(ctx, session.ID, "user", msg.Text); err != nil {
		slog.Error("failed to persist user turn", "session_id", session.ID, "error", err)
	}

	b, err := a.backends.Get(session.Backend)
	if err != nil {
		a.dispatchFailed(ctx, chatID, session, err)
		return
	}

	opts := backend.SendOptions{
		Cwd:    session.Cwd,
		Mode:   session.Mode,
		Resume: session.BackendSessionID,
	}

	go func() {
		if err := a.queues.Acquire(context.Background()); err != nil {
			a.dispatchFailed(context.Background(), chatID, session, err)
			return
		}
		defer a.queues.Release()

		if err := b.Send(context.Background(), string(session.ID), msg.Text, opts, msg.Attachments); err != nil {
			slog.Error("failed to send to backend", "session_id", session.ID, "backend", session.Backend, "error", err)
			a.dispatchFailed(context.Background(), chatID, session, err)
		}
	}()
}

// dispatchFailed resets the queue and status when a turn never started;
// failures after the subprocess spawns surface as error events instead.
func (a *Adapter) dispatchFailed(ctx context.Context, chatID int64, session *types.Session, err error) {
	slog.Error("dispatch failed", "session_id", session.ID, "error", err)
	if errors.Is(err, backend.ErrAlreadyProcessing) {
		// The adapter still runs a turn for this session, so the queue
		// claim stays held; that turn's terminal releases it. Resetting
		// here would let a second turn start mid-flight.
		a.reply(chatID, render.PostfixEmoji("❌ Failed to process message", session.Emoji))
		return
	}
	q := a.queues.Get(session.ID)
	q.SetProcessing(false)
	session.Status = types.StatusIdle
	if uerr := a.sessions.Update(ctx, session); uerr != nil {
		slog.Error("failed to reset session after dispatch failure", "session_id", session.ID, "error", uerr)
	}
	a.reply(chatID, render.PostfixEmoji("❌ Failed to process message", session.Emoji))
}

// Package router consumes canonical backend events for a session in strict
// emission order and drives all observable side effects: rendering,
// persistence, status transitions, and queue release.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/user/agentrelay/internal/backend"
	"github.com/user/agentrelay/internal/queue"
	"github.com/user/agentrelay/internal/render"
	"github.com/user/agentrelay/internal/types"
)

// Notifier is the transport-facing capability set the router needs beyond
// plain rendering: a sink per user and a way to ask for plan approval.
type Notifier interface {
	SinkFor(userID int64) render.Sink
	PromptPlanApproval(userID int64, session *types.Session)
}

// Router serializes event handling per session. Events can arrive
// concurrently from adapter reader goroutines; each session's events are
// appended to a lane drained by a single worker, so handling of event N+1
// never begins before event N's handling completes.
type Router struct {
	sessions types.SessionStore
	history  types.HistoryStore
	queues   *queue.Registry
	tracker  *Tracker
	notifier Notifier

	mu    sync.Mutex
	lanes map[types.SessionID]*lane
	turns map[types.SessionID]*turnState
}

// turnState is the per-turn transient state, cleared on terminal events.
type turnState struct {
	editor      *render.StreamEditor
	accumulated string
	planPending bool
}

type lane struct {
	mu      sync.Mutex
	tasks   []func()
	running bool
}

func New(sessions types.SessionStore, history types.HistoryStore, queues *queue.Registry, tracker *Tracker, notifier Notifier) *Router {
	return &Router{
		sessions: sessions,
		history:  history,
		queues:   queues,
		tracker:  tracker,
		notifier: notifier,
		lanes:    make(map[types.SessionID]*lane),
		turns:    make(map[types.SessionID]*turnState),
	}
}

// Dispatch appends the event to the session's lane. Safe to call from any
// goroutine; handling is strictly ordered per session.
func (r *Router) Dispatch(sessionID types.SessionID, ev backend.Event) {
	r.mu.Lock()
	ln, ok := r.lanes[sessionID]
	if !ok {
		ln = &lane{}
		r.lanes[sessionID] = ln
	}
	r.mu.Unlock()

	ln.mu.Lock()
	ln.tasks = append(ln.tasks, func() { r.handle(sessionID, ev) })
	if !ln.running {
		ln.running = true
		go ln.run()
	}
	ln.mu.Unlock()
}

func (ln *lane) run() {
	for {
		ln.mu.Lock()
		if len(ln.tasks) == 0 {
			ln.running = false
			ln.mu.Unlock()
			return
		}
		task := ln.tasks[0]
		ln.tasks = ln.tasks[1:]
		ln.mu.Unlock()
		task()
	}
}

// DestroySession drops the session's lane and turn state.
func (r *Router) DestroySession(sessionID types.SessionID) {
	r.mu.Lock()
	delete(r.lanes, sessionID)
	delete(r.turns, sessionID)
	r.mu.Unlock()
	r.tracker.Forget(sessionID)
}

func (r *Router) turn(sessionID types.SessionID) *turnState {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts, ok := r.turns[sessionID]
	if !ok {
		ts = &turnState{}
		r.turns[sessionID] = ts
	}
	return ts
}

func (r *Router) clearTurn(sessionID types.SessionID) {
	r.mu.Lock()
	delete(r.turns, sessionID)
	r.mu.Unlock()
}

// handle processes one event. It runs on the session's lane worker; any
// failure is logged and absorbed so the lane never wedges.
func (r *Router) handle(sessionID types.SessionID, ev backend.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic handling backend event", "session_id", sessionID, "event", ev.Type, "panic", rec)
		}
	}()

	ctx := context.Background()
	session, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		slog.Error("event for unknown session", "session_id", sessionID, "event", ev.Type, "error", err)
		return
	}

	settings, err := r.sessions.Settings(ctx, session.UserID)
	if err != nil {
		slog.Warn("failed to load settings, using defaults", "user_id", session.UserID, "error", err)
		settings = types.DefaultSettings(session.UserID)
	}

	silent := notificationSilent(ev, settings.Notification)

	if !r.visible(session, settings) {
		r.bufferHidden(session, ev, silent)
		// Only rendering is withheld for background sessions. Persistence
		// and state transitions still run: a terminal must release the
		// queue, and init must record the resume id, or the session breaks
		// the moment the user switches back.
		switch ev.Type {
		case backend.EventInit:
			session.BackendSessionID = ev.BackendSessionID
			if err := r.sessions.Update(ctx, session); err != nil {
				slog.Error("failed to record backend session id", "session_id", sessionID, "error", err)
			}
		case backend.EventTextDone:
			if containsPlanMarker(ev.FullText) {
				r.turn(sessionID).planPending = true
			}
			if turnID, err := r.history.AddTurn(ctx, sessionID, "assistant", ev.FullText); err != nil {
				slog.Error("failed to persist assistant turn", "session_id", sessionID, "error", err)
			} else {
				r.queues.Get(sessionID).SetCurrentTurnID(turnID)
			}
		case backend.EventToolUse:
			if ev.ToolName == "ExitPlanMode" {
				r.turn(sessionID).planPending = true
			}
			r.persistToolUse(ctx, session, ev)
		case backend.EventResult:
			r.finishTurn(ctx, session, settings, nil, ev, silent)
		case backend.EventError:
			r.failTurn(ctx, session, nil, ev)
		}
		return
	}

	sink := r.notifier.SinkFor(session.UserID)

	switch ev.Type {
	case backend.EventInit:
		session.BackendSessionID = ev.BackendSessionID
		if err := r.sessions.Update(ctx, session); err != nil {
			slog.Error("failed to record backend session id", "session_id", sessionID, "error", err)
		}

	case backend.EventTextDelta:
		ts := r.turn(sessionID)
		ts.accumulated += ev.Text
		if !ts.planPending && containsPlanMarker(ts.accumulated) {
			ts.planPending = true
		}
		if ts.editor == nil {
			ts.editor = render.NewStreamEditor(sink, session.Emoji)
		}
		ts.editor.Append(ev.Text)

	case backend.EventTextDone:
		ts := r.turn(sessionID)
		if containsPlanMarker(ev.FullText) {
			ts.planPending = true
		}
		if ts.editor != nil {
			ts.editor.Finalize(silent)
			ts.editor = nil
		}
		turnID, err := r.history.AddTurn(ctx, sessionID, "assistant", ev.FullText)
		if err != nil {
			slog.Error("failed to persist assistant turn", "session_id", sessionID, "error", err)
		} else {
			r.queues.Get(sessionID).SetCurrentTurnID(turnID)
		}

	case backend.EventToolUse:
		if ev.ToolName == "ExitPlanMode" {
			r.turn(sessionID).planPending = true
		}
		r.persistToolUse(ctx, session, ev)
		if settings.Verbosity != types.VerbosityMinimal {
			r.send(sink, render.PostfixEmoji("🔧 "+ev.ToolName, session.Emoji), true)
		}

	case backend.EventToolResult:
		// Informational only.

	case backend.EventResult:
		r.finishTurn(ctx, session, settings, sink, ev, silent)

	case backend.EventError:
		r.failTurn(ctx, session, sink, ev)

	case backend.EventProcessing:
		if settings.Verbosity == types.VerbosityVerbose {
			r.send(sink, render.PostfixEmoji("⏳ "+ev.Message, session.Emoji), true)
		}
	}
}

// finishTurn handles the result terminal: finalize rendering, attribute cost,
// then either request plan approval or release the queue for the next turn.
func (r *Router) finishTurn(ctx context.Context, session *types.Session, settings *types.UserSettings, sink render.Sink, ev backend.Event, silent bool) {
	sessionID := session.ID
	ts := r.turn(sessionID)
	if ts.editor != nil {
		ts.editor.Finalize(silent)
		ts.editor = nil
	}

	q := r.queues.Get(sessionID)
	if turnID := q.CurrentTurnID(); turnID != 0 && ev.CostUsd > 0 {
		if err := r.history.UpdateTurnCost(ctx, turnID, ev.CostUsd); err != nil {
			slog.Error("failed to persist turn cost", "session_id", sessionID, "error", err)
		}
	}

	if settings.Verbosity != types.VerbosityMinimal {
		summary := fmt.Sprintf("✅ Done (%.1fs, $%.4f, %d turns)",
			float64(ev.DurationMs)/1000, ev.CostUsd, ev.NumTurns)
		r.send(sink, render.PostfixEmoji(summary, session.Emoji), silent)
	}

	planPending := ts.planPending
	r.clearTurn(sessionID)
	q.SetCurrentTurnID(0)

	if planPending {
		// The queue stays held: the session is blocked on the user's
		// decision, not on the next queued message.
		session.Status = types.StatusAwaitingInput
		if err := r.sessions.Update(ctx, session); err != nil {
			slog.Error("failed to set awaiting_input", "session_id", sessionID, "error", err)
		}
		q.SetProcessing(false)
		r.notifier.PromptPlanApproval(session.UserID, session)
		return
	}

	session.Status = types.StatusIdle
	if err := r.sessions.Update(ctx, session); err != nil {
		slog.Error("failed to set idle", "session_id", sessionID, "error", err)
	}
	q.SetProcessing(false)
	q.ProcessNext()
}

// failTurn handles the error terminal. A session is never left processing
// after an error.
func (r *Router) failTurn(ctx context.Context, session *types.Session, sink render.Sink, ev backend.Event) {
	sessionID := session.ID
	ts := r.turn(sessionID)
	if ts.editor != nil {
		ts.editor.Finalize(true)
		ts.editor = nil
	}
	r.clearTurn(sessionID)

	r.send(sink, render.PostfixEmoji("❌ "+ev.Message, session.Emoji), false)

	session.Status = types.StatusIdle
	if err := r.sessions.Update(ctx, session); err != nil {
		slog.Error("failed to set idle after error", "session_id", sessionID, "error", err)
	}

	q := r.queues.Get(sessionID)
	q.SetCurrentTurnID(0)
	q.SetProcessing(false)
	q.ProcessNext()
}

func (r *Router) persistToolUse(ctx context.Context, session *types.Session, ev backend.Event) {
	inputJSON, err := json.Marshal(ev.Input)
	if err != nil {
		inputJSON = []byte("{}")
	}
	filePath := ""
	if fp, ok := ev.Input["file_path"].(string); ok {
		filePath = fp
	}
	turnID := r.queues.Get(session.ID).CurrentTurnID()
	if err := r.history.AddToolInvocation(ctx, session.ID, turnID, ev.ToolName, string(inputJSON), filePath); err != nil {
		slog.Error("failed to persist tool invocation", "session_id", session.ID, "tool", ev.ToolName, "error", err)
	}
}

// visible reports whether events for this session render immediately, or are
// withheld because the user is looking at a different session.
func (r *Router) visible(session *types.Session, settings *types.UserSettings) bool {
	if settings.Visibility == types.VisibilityShowAll {
		return true
	}
	return r.tracker.Active(session.UserID) == session.ID
}

// bufferHidden retains only the events worth replaying when the user
// switches back; everything else from a background session is dropped.
func (r *Router) bufferHidden(session *types.Session, ev backend.Event, silent bool) {
	var text string
	switch ev.Type {
	case backend.EventTextDone:
		text = ev.FullText
	case backend.EventResult:
		text = fmt.Sprintf("Done. Cost: $%.4f", ev.CostUsd)
	case backend.EventError:
		text = "Error: " + ev.Message
	default:
		return
	}
	r.tracker.Buffer(types.BufferedMessage{
		SessionID: session.ID,
		Text:      render.PostfixEmoji(text, session.Emoji),
		Silent:    silent,
	})
}

func (r *Router) send(sink render.Sink, text string, silent bool) {
	if sink == nil {
		return
	}
	if _, err := sink.SendMessage(text, render.MessageOptions{Silent: silent}); err != nil {
		slog.Warn("failed to send message", "error", err)
	}
}

// notificationSilent maps the user's notification mode to the per-message
// silent flag. Smart mode notifies only on results.
func notificationSilent(ev backend.Event, mode types.NotificationMode) bool {
	switch mode {
	case types.NotifyAll:
		return false
	case types.NotifyNone:
		return true
	default:
		return ev.Type != backend.EventResult
	}
}

package render

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// EditInterval is the minimum spacing between edits of the same message.
const EditInterval = time.Second

// StreamEditor accumulates text deltas for one turn and reconciles them
// against the sink's edit-an-existing-message primitive. Single-use: the
// router creates one per turn and discards it after Finalize.
//
// Streaming passes are plain text; the final pass asks for markdown and
// retries plain if the transport rejects the formatting.
type StreamEditor struct {
	sink  Sink
	emoji string

	mu           sync.Mutex
	messageID    int // 0 until the first flush acquires a handle
	buffer       string
	lastEdit     time.Time
	timer        *time.Timer
	finalized    bool
	messageCount int
}

func NewStreamEditor(sink Sink, emoji string) *StreamEditor {
	return &StreamEditor{sink: sink, emoji: emoji}
}

// Append adds a delta to the buffer. If the buffer would exceed the safe
// limit, the current message is finalized as-is and a fresh buffer starts
// with this delta, so no text is rendered twice or lost.
func (e *StreamEditor) Append(text string) {
	e.mu.Lock()
	if e.finalized {
		e.mu.Unlock()
		return
	}

	var overflowID int
	var overflowText string
	if e.messageID != 0 && len(e.buffer)+len(text) > SafeLimit {
		e.stopTimerLocked()
		overflowID, overflowText = e.messageID, e.buffer
		e.messageID = 0
		e.buffer = text
	} else {
		e.buffer += text
	}

	// Flush now when the rate limit allows, otherwise arm at most one
	// deferred flush for the remaining interval.
	flushNow := time.Since(e.lastEdit) >= EditInterval
	if !flushNow && e.timer == nil {
		e.timer = time.AfterFunc(EditInterval-time.Since(e.lastEdit), func() {
			e.mu.Lock()
			e.timer = nil
			e.mu.Unlock()
			e.flush()
		})
	}
	e.mu.Unlock()

	if overflowID != 0 {
		// Best effort: the overflowing message already shows most of this text.
		if err := e.sink.EditMessage(overflowID, PostfixEmoji(overflowText, e.emoji), MessageOptions{}); err != nil && !errors.Is(err, ErrNotModified) {
			slog.Warn("failed to finalize overflowing message", "error", err)
		}
	}
	if flushNow {
		e.flush()
	}
}

func (e *StreamEditor) flush() {
	e.mu.Lock()
	if e.finalized || e.buffer == "" {
		e.mu.Unlock()
		return
	}
	id := e.messageID
	text := PostfixEmoji(e.buffer, e.emoji)
	e.lastEdit = time.Now()
	e.mu.Unlock()

	if id == 0 {
		newID, err := e.sink.SendMessage(text, MessageOptions{Silent: true})
		if err != nil {
			slog.Warn("failed to send streaming message", "error", err)
			return
		}
		e.mu.Lock()
		if e.messageID == 0 && !e.finalized {
			e.messageID = newID
			e.messageCount++
		}
		e.mu.Unlock()
		return
	}

	if err := e.sink.EditMessage(id, text, MessageOptions{}); err != nil && !errors.Is(err, ErrNotModified) {
		slog.Warn("failed to edit streaming message", "error", err)
	}
}

func (e *StreamEditor) stopTimerLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// Finalize performs the last render pass with markdown formatting, retrying
// as plain text if the transport rejects it. Idempotent: the second call is
// a no-op.
func (e *StreamEditor) Finalize(silent bool) {
	e.mu.Lock()
	if e.finalized {
		e.mu.Unlock()
		return
	}
	e.finalized = true
	e.stopTimerLocked()
	id, buffer := e.messageID, e.buffer
	e.mu.Unlock()

	if buffer == "" {
		return
	}
	text := PostfixEmoji(buffer, e.emoji)

	var err error
	if id == 0 {
		_, err = e.sink.SendMessage(text, MessageOptions{Silent: silent, Markdown: true})
		if err != nil && !errors.Is(err, ErrNotModified) {
			_, err = e.sink.SendMessage(text, MessageOptions{Silent: silent})
		}
	} else {
		err = e.sink.EditMessage(id, text, MessageOptions{Markdown: true})
		if err != nil && !errors.Is(err, ErrNotModified) {
			err = e.sink.EditMessage(id, text, MessageOptions{})
		}
	}
	if err != nil && !errors.Is(err, ErrNotModified) {
		slog.Warn("failed to finalize streaming message", "error", err)
	}
}

// MessageCount reports how many outbound messages this turn produced.
func (e *StreamEditor) MessageCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.messageCount
}

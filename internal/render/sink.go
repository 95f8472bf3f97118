// Package render turns a growing text stream into a small number of edited
// outbound messages, respecting the transport's message-size limit and a
// minimum interval between edits of one message.
package render

import "errors"

// ErrNotModified is returned by a Sink when an edit carries content identical
// to what the message already shows. Renderers ignore it.
var ErrNotModified = errors.New("message is not modified")

// MessageOptions controls delivery of one outbound message.
type MessageOptions struct {
	// Silent suppresses the recipient-side notification.
	Silent bool
	// Markdown requests rich formatting. Senders fall back to plain text
	// when the transport rejects the formatted payload.
	Markdown bool
}

// Sink is the outbound capability set the renderer and the approval flow
// consume. Any transport implementing these three operations plus a message
// size limit is sufficient.
type Sink interface {
	SendMessage(text string, opts MessageOptions) (int, error)
	EditMessage(messageID int, text string, opts MessageOptions) error
	SendDocument(data []byte, filename, caption string) error
}

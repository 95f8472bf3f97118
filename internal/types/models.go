// internal/types/models.go
package types

import (
	"time"
)

// BackendKind identifies which agent CLI drives a session.
type BackendKind string

const (
	BackendClaude BackendKind = "claude"
	BackendCodex  BackendKind = "codex"
)

// SessionStatus is the lifecycle state of a session. At most one turn is in
// flight while the status is processing; awaiting_input means the backend has
// proposed a plan and is blocked on user approval.
type SessionStatus string

const (
	StatusIdle          SessionStatus = "idle"
	StatusProcessing    SessionStatus = "processing"
	StatusAwaitingInput SessionStatus = "awaiting_input"
)

// Session is one persistent conversation bound to a backend, a working
// directory, and a permission mode. BackendSessionID is the backend's own
// conversation id, set once the backend reports it; it is what makes resume
// possible across per-turn subprocesses.
type Session struct {
	ID               SessionID     `json:"id"`
	UserID           int64         `json:"user_id"`
	Name             string        `json:"name"`
	Cwd              string        `json:"cwd"`
	Emoji            string        `json:"emoji"`
	Backend          BackendKind   `json:"backend"`
	BackendSessionID string        `json:"backend_session_id,omitempty"`
	Status           SessionStatus `json:"status"`
	Mode             string        `json:"mode"`
	CreatedAt        time.Time     `json:"created_at"`
	LastActiveAt     time.Time     `json:"last_active_at"`
}

type Verbosity string

const (
	VerbosityMinimal Verbosity = "minimal"
	VerbosityNormal  Verbosity = "normal"
	VerbosityVerbose Verbosity = "verbose"
)

type NotificationMode string

const (
	NotifySmart NotificationMode = "smart"
	NotifyAll   NotificationMode = "all"
	NotifyNone  NotificationMode = "none"
)

type Visibility string

const (
	VisibilityShowAll    Visibility = "show_all"
	VisibilityActiveOnly Visibility = "active_only"
)

// UserSettings are per-user display and routing preferences.
type UserSettings struct {
	UserID       int64            `json:"user_id"`
	DefaultDir   string           `json:"default_directory"`
	Verbosity    Verbosity        `json:"verbosity"`
	Notification NotificationMode `json:"notification_mode"`
	Visibility   Visibility       `json:"cross_session_visibility"`
	DefaultMode  string           `json:"default_mode"`
}

// DefaultSettings returns the settings applied to a user on first contact.
func DefaultSettings(userID int64) *UserSettings {
	return &UserSettings{
		UserID:       userID,
		DefaultDir:   "~",
		Verbosity:    VerbosityNormal,
		Notification: NotifySmart,
		Visibility:   VisibilityShowAll,
		DefaultMode:  "default",
	}
}

// AttachmentKind distinguishes downloaded attachment payloads.
type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentDocument AttachmentKind = "document"
)

// Attachment is a user-supplied file already downloaded from the transport.
// Immutable once created.
type Attachment struct {
	Kind     AttachmentKind
	Data     []byte
	MimeType string
	Filename string
}

// QueuedMessage is one pending turn waiting in a session queue. Immutable;
// consumed exactly once by the dispatch handler.
type QueuedMessage struct {
	Text        string
	Attachments []Attachment
	EnqueuedAt  time.Time
}

// BufferedMessage is output withheld from a background session, replayed in
// order when the user switches back to that session.
type BufferedMessage struct {
	SessionID SessionID
	Text      string
	Silent    bool
	At        time.Time
}

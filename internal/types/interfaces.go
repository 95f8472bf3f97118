// internal/types/interfaces.go
package types

import (
	"context"
)

type SessionStore interface {
	// Create atomically records a session under the caller-supplied id (the
	// backend adapter mints it as the tracking id) with an emoji marker
	// unique among the user's sessions. Safe under concurrent creation for
	// the same user.
	Create(ctx context.Context, userID int64, id SessionID, name, cwd string, backend BackendKind, mode string) (*Session, error)
	Get(ctx context.Context, id SessionID) (*Session, error)
	ListByUser(ctx context.Context, userID int64) ([]*Session, error)
	Update(ctx context.Context, session *Session) error
	Delete(ctx context.Context, id SessionID) error

	Settings(ctx context.Context, userID int64) (*UserSettings, error)
	UpdateSettings(ctx context.Context, settings *UserSettings) error
}

// HistoryStore is the fire-and-forget side-effect log for conversation turns,
// per-turn cost, and tool invocations.
type HistoryStore interface {
	AddTurn(ctx context.Context, sessionID SessionID, role, text string) (TurnID, error)
	UpdateTurnCost(ctx context.Context, turnID TurnID, costUsd float64) error
	AddToolInvocation(ctx context.Context, sessionID SessionID, turnID TurnID, tool, inputJSON, filePath string) error
	History(ctx context.Context, sessionID SessionID, limit, offset int) ([]*Turn, error)
	Search(ctx context.Context, sessionID SessionID, query string, limit int) ([]*Turn, error)
	SessionCost(ctx context.Context, sessionID SessionID) (float64, error)
	DeleteSession(ctx context.Context, sessionID SessionID) error
}

// Turn is one persisted conversation turn.
type Turn struct {
	ID        TurnID
	SessionID SessionID
	Role      string
	Content   string
	Tokens    int
	CostUsd   float64
	CreatedAt string
}

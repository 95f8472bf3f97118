// internal/types/ids.go
package types

import (
	"github.com/google/uuid"
)

type SessionID string

// TurnID is the persistent store's identifier for one conversation turn.
// Zero means "no turn recorded".
type TurnID int64

func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

package router

import (
	"sync"

	"github.com/user/agentrelay/internal/types"
)

// Tracker records which session each user is currently looking at, and holds
// back output from background sessions until the user switches to them.
type Tracker struct {
	mu       sync.Mutex
	active   map[int64]types.SessionID
	buffered map[types.SessionID][]types.BufferedMessage
}

func NewTracker() *Tracker {
	return &Tracker{
		active:   make(map[int64]types.SessionID),
		buffered: make(map[types.SessionID][]types.BufferedMessage),
	}
}

func (t *Tracker) Active(userID int64) types.SessionID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active[userID]
}

func (t *Tracker) SetActive(userID int64, id types.SessionID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[userID] = id
}

func (t *Tracker) ClearActive(userID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, userID)
}

// Buffer withholds a message from a background session for later replay.
func (t *Tracker) Buffer(msg types.BufferedMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buffered[msg.SessionID] = append(t.buffered[msg.SessionID], msg)
}

// Drain returns and clears the buffered messages for a session, in the order
// they were withheld.
func (t *Tracker) Drain(id types.SessionID) []types.BufferedMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	msgs := t.buffered[id]
	delete(t.buffered, id)
	return msgs
}

// Forget drops all state for a destroyed session.
func (t *Tracker) Forget(id types.SessionID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.buffered, id)
	for userID, active := range t.active {
		if active == id {
			delete(t.active, userID)
		}
	}
}

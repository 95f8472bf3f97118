// Package state provides the persistence collaborators: a JSON-file session
// store and a sqlite-backed history store.
package state

import "github.com/user/agentrelay/internal/types"

// Compile-time interface compliance checks.
var _ types.SessionStore = (*SessionStore)(nil)
var _ types.HistoryStore = (*HistoryStore)(nil)

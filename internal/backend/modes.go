package backend

import (
	"github.com/user/agentrelay/internal/types"
)

// ClaudeModes are the permission levels accepted for claude sessions.
var ClaudeModes = []string{"default", "acceptEdits", "plan", "dontAsk"}

// CodexModes are the sandbox levels accepted for codex sessions.
var CodexModes = []string{"read-only", "workspace-write", "full-auto", "danger"}

// ModesFor returns the closed set of valid modes for a backend kind.
func ModesFor(kind types.BackendKind) []string {
	if kind == types.BackendCodex {
		return CodexModes
	}
	return ClaudeModes
}

// ValidMode reports whether mode belongs to the backend's mode set.
func ValidMode(kind types.BackendKind, mode string) bool {
	for _, m := range ModesFor(kind) {
		if m == mode {
			return true
		}
	}
	return false
}

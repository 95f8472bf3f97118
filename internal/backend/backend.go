package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/user/agentrelay/internal/types"
)

// ErrAlreadyProcessing is returned by Send when a turn is already in flight
// for the session. The queue layer is responsible for serialization, so
// hitting this is a programming error rather than a race to tolerate.
var ErrAlreadyProcessing = errors.New("session is already processing")

// SendOptions carries per-turn dispatch parameters.
type SendOptions struct {
	Cwd    string
	Mode   string
	Resume string
}

// EmitFunc receives canonical events as an adapter produces them. Calls may
// originate from the adapter's subprocess reader goroutine; serialization of
// handling is the router's job, not the adapter's.
type EmitFunc func(trackingID string, ev Event)

// Backend drives one external agent CLI. One adapter instance manages many
// logical sessions, each identified by an opaque tracking id minted by
// StartSession; adapter state for an unseen id is still allocated on first
// use, so ids that predate the adapter (a restarted daemon) keep working.
type Backend interface {
	Name() types.BackendKind

	// StartSession mints a tracking id and allocates session state for it.
	// The cwd becomes the default working directory for turns whose options
	// do not carry one.
	StartSession(cwd string) string

	// Send spawns a fresh subprocess for one turn and blocks until it exits.
	// Canonical events are delivered through the adapter's emit function as
	// they arrive. Continuity across turns comes from opts.Resume.
	Send(ctx context.Context, trackingID, prompt string, opts SendOptions, attachments []types.Attachment) error

	// Abort delivers an interrupt to the session's subprocess if one is
	// running. No-op otherwise. Events already in flight may still arrive.
	Abort(trackingID string)

	IsProcessing(trackingID string) bool

	// DestroySession aborts any running turn and forgets the session.
	DestroySession(trackingID string)
}

// Registry resolves adapters by backend kind. Constructed once at startup and
// passed to the layers that need lookup.
type Registry struct {
	mu       sync.RWMutex
	backends map[types.BackendKind]Backend
}

func NewRegistry() *Registry {
	return &Registry{backends: make(map[types.BackendKind]Backend)}
}

func (r *Registry) Register(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[b.Name()] = b
}

func (r *Registry) Get(kind types.BackendKind) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[kind]
	if !ok {
		return nil, fmt.Errorf("no backend registered for kind %q", kind)
	}
	return b, nil
}

// BuildPrompt renders attachments ahead of the user's text so the backend
// sees file contents inline. Text documents are embedded verbatim, images as
// base64 data URIs, and anything else as a placeholder description.
func BuildPrompt(prompt string, attachments []types.Attachment) string {
	if len(attachments) == 0 {
		return prompt
	}
	blocks := make([]string, 0, len(attachments)+1)
	for _, att := range attachments {
		blocks = append(blocks, renderAttachment(att))
	}
	blocks = append(blocks, prompt)
	return strings.Join(blocks, "\n\n")
}

// Package queue provides the per-session FIFO that serializes turns.
//
// A SessionQueue is deliberately dumb: a slice plus a single mutual-exclusion
// flag. Claiming the flag happens under the queue mutex, either on inbound
// delivery (ClaimOrEnqueue) or on pop (ProcessNext), so two goroutines can
// never both start a turn. The event router releases the claim exactly once
// when a terminal event arrives.
package queue

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/user/agentrelay/internal/types"
)

// Handler consumes one dequeued message. Registered by the orchestration
// layer; it is what actually calls the backend adapter.
type Handler func(msg types.QueuedMessage)

type SessionQueue struct {
	mu            sync.Mutex
	items         []types.QueuedMessage
	processing    bool
	handler       Handler
	currentTurnID types.TurnID
}

func New() *SessionQueue {
	return &SessionQueue{}
}

func (q *SessionQueue) SetHandler(h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handler = h
}

// Enqueue appends a message and returns the new queue depth.
func (q *SessionQueue) Enqueue(msg types.QueuedMessage) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, msg)
	return len(q.items)
}

// ClaimOrEnqueue atomically claims the processing flag for msg, or appends
// msg behind whatever holds it. Exactly one of the two happens; when not
// claimed, depth is msg's queue position. Checking IsProcessing and then
// dispatching would leave a window for a second inbound message to start a
// concurrent turn.
func (q *SessionQueue) ClaimOrEnqueue(msg types.QueuedMessage) (claimed bool, depth int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.processing || len(q.items) > 0 {
		q.items = append(q.items, msg)
		return false, len(q.items)
	}
	q.processing = true
	return true, 0
}

func (q *SessionQueue) IsProcessing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing
}

func (q *SessionQueue) SetProcessing(v bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processing = v
}

func (q *SessionQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// SetCurrentTurnID records the persisted turn id of the in-flight turn for
// later cost attribution. Zero clears it.
func (q *SessionQueue) SetCurrentTurnID(id types.TurnID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.currentTurnID = id
}

func (q *SessionQueue) CurrentTurnID() types.TurnID {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.currentTurnID
}

// ProcessNext pops the head message, claims the processing flag, and hands
// the message to the handler, iff the queue is idle and non-empty. Returns
// whether a message was dispatched. The claim and the pop happen under one
// lock acquisition; the handler runs without the lock held and the claim is
// released by the turn's terminal event (or by the handler on failure).
func (q *SessionQueue) ProcessNext() bool {
	q.mu.Lock()
	if q.processing || len(q.items) == 0 || q.handler == nil {
		q.mu.Unlock()
		return false
	}
	q.processing = true
	msg := q.items[0]
	q.items = q.items[1:]
	handler := q.handler
	q.mu.Unlock()

	handler(msg)
	return true
}

// Clear drains all pending messages and returns them to the caller for a
// "N messages cleared" acknowledgment. It does not touch the processing flag;
// cancellation must separately abort the in-flight turn and reset status.
func (q *SessionQueue) Clear() []types.QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	drained := q.items
	q.items = nil
	return drained
}

// Registry owns one lazily created queue per session, plus a global semaphore
// bounding how many backend subprocesses run concurrently across sessions.
type Registry struct {
	mu     sync.Mutex
	queues map[types.SessionID]*SessionQueue
	sem    *semaphore.Weighted
}

func NewRegistry(maxConcurrent int64) *Registry {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &Registry{
		queues: make(map[types.SessionID]*SessionQueue),
		sem:    semaphore.NewWeighted(maxConcurrent),
	}
}

// Get returns the session's queue, creating it on first reference.
func (r *Registry) Get(id types.SessionID) *SessionQueue {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[id]
	if !ok {
		q = New()
		r.queues[id] = q
	}
	return q
}

// Destroy forgets the session's queue.
func (r *Registry) Destroy(id types.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.queues, id)
}

// Acquire blocks until a turn slot is available or ctx is done.
func (r *Registry) Acquire(ctx context.Context) error {
	return r.sem.Acquire(ctx, 1)
}

func (r *Registry) Release() {
	r.sem.Release(1)
}

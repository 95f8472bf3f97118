package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/agentrelay/internal/types"
)

func TestQueueFIFOOrder(t *testing.T) {
	q := New()

	var handled []string
	q.SetHandler(func(msg types.QueuedMessage) {
		handled = append(handled, msg.Text)
	})

	q.Enqueue(types.QueuedMessage{Text: "first"})
	q.Enqueue(types.QueuedMessage{Text: "second"})
	q.Enqueue(types.QueuedMessage{Text: "third"})

	// Each dispatch claims the flag; release it the way a terminal event
	// would before pulling the next message.
	for q.ProcessNext() {
		q.SetProcessing(false)
	}

	want := []string{"first", "second", "third"}
	if len(handled) != len(want) {
		t.Fatalf("handled %d messages, want %d", len(handled), len(want))
	}
	for i := range want {
		if handled[i] != want[i] {
			t.Errorf("position %d: got %q, want %q", i, handled[i], want[i])
		}
	}
}

func TestQueueNoDispatchWhileProcessing(t *testing.T) {
	q := New()

	dispatched := 0
	q.SetHandler(func(msg types.QueuedMessage) {
		dispatched++
	})

	q.Enqueue(types.QueuedMessage{Text: "queued"})
	q.SetProcessing(true)

	if q.ProcessNext() {
		t.Error("ProcessNext dispatched while processing")
	}
	if dispatched != 0 {
		t.Errorf("handler ran %d times, want 0", dispatched)
	}

	q.SetProcessing(false)
	if !q.ProcessNext() {
		t.Error("ProcessNext did not dispatch after processing cleared")
	}
	if dispatched != 1 {
		t.Errorf("handler ran %d times, want 1", dispatched)
	}
}

func TestQueueNoDispatchWithoutHandler(t *testing.T) {
	q := New()
	q.Enqueue(types.QueuedMessage{Text: "orphan"})
	if q.ProcessNext() {
		t.Error("ProcessNext dispatched without a handler")
	}
	if q.Depth() != 1 {
		t.Errorf("depth = %d, want 1", q.Depth())
	}
}

func TestQueueClear(t *testing.T) {
	q := New()
	q.SetHandler(func(msg types.QueuedMessage) {})
	q.SetProcessing(true)

	q.Enqueue(types.QueuedMessage{Text: "a", EnqueuedAt: time.Now()})
	q.Enqueue(types.QueuedMessage{Text: "b", EnqueuedAt: time.Now()})

	drained := q.Clear()
	if len(drained) != 2 {
		t.Fatalf("drained %d messages, want 2", len(drained))
	}
	if drained[0].Text != "a" || drained[1].Text != "b" {
		t.Error("drained messages out of order")
	}
	if q.Depth() != 0 {
		t.Errorf("depth = %d after clear, want 0", q.Depth())
	}

	// Clear must not touch the processing flag; the in-flight turn is
	// aborted separately.
	if !q.IsProcessing() {
		t.Error("Clear reset the processing flag")
	}
}

func TestQueueCurrentTurnID(t *testing.T) {
	q := New()
	if q.CurrentTurnID() != 0 {
		t.Error("new queue has non-zero turn id")
	}
	q.SetCurrentTurnID(types.TurnID(42))
	if q.CurrentTurnID() != 42 {
		t.Errorf("turn id = %d, want 42", q.CurrentTurnID())
	}
	q.SetCurrentTurnID(0)
	if q.CurrentTurnID() != 0 {
		t.Error("turn id not cleared")
	}
}

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry(2)

	id := types.NewSessionID()
	q1 := r.Get(id)
	q2 := r.Get(id)
	if q1 != q2 {
		t.Error("Get returned different queues for the same session")
	}

	r.Destroy(id)
	q3 := r.Get(id)
	if q3 == q1 {
		t.Error("Get returned a destroyed queue")
	}
}

func TestRegistrySemaphoreBoundsConcurrency(t *testing.T) {
	r := NewRegistry(1)
	ctx := context.Background()

	if err := r.Acquire(ctx); err != nil {
		t.Fatal(err)
	}

	// Second acquire must block until the slot is released.
	blocked, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := r.Acquire(blocked); err == nil {
		t.Fatal("second Acquire succeeded with all slots taken")
	}

	r.Release()
	if err := r.Acquire(ctx); err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	r.Release()
}

func TestQueueClaimOrEnqueue(t *testing.T) {
	q := New()

	claimed, depth := q.ClaimOrEnqueue(types.QueuedMessage{Text: "a"})
	if !claimed || depth != 0 {
		t.Fatalf("first claim: claimed=%v depth=%d, want true/0", claimed, depth)
	}
	if !q.IsProcessing() {
		t.Fatal("claim did not set the processing flag")
	}

	claimed, depth = q.ClaimOrEnqueue(types.QueuedMessage{Text: "b"})
	if claimed || depth != 1 {
		t.Errorf("second message: claimed=%v depth=%d, want false/1", claimed, depth)
	}
	claimed, depth = q.ClaimOrEnqueue(types.QueuedMessage{Text: "c"})
	if claimed || depth != 2 {
		t.Errorf("third message: claimed=%v depth=%d, want false/2", claimed, depth)
	}
}

func TestQueueClaimOrEnqueueSingleWinner(t *testing.T) {
	q := New()

	const n = 32
	var wg sync.WaitGroup
	var winners atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if claimed, _ := q.ClaimOrEnqueue(types.QueuedMessage{Text: "m"}); claimed {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	if winners.Load() != 1 {
		t.Errorf("%d claims won, want exactly 1", winners.Load())
	}
	if q.Depth() != n-1 {
		t.Errorf("depth = %d, want %d", q.Depth(), n-1)
	}
}

func TestQueueProcessNextClaims(t *testing.T) {
	q := New()

	dispatched := 0
	q.SetHandler(func(msg types.QueuedMessage) {
		dispatched++
		// The claim must already be held while the handler runs.
		if !q.IsProcessing() {
			t.Error("handler ran without the processing flag held")
		}
	})

	q.Enqueue(types.QueuedMessage{Text: "a"})
	q.Enqueue(types.QueuedMessage{Text: "b"})

	if !q.ProcessNext() {
		t.Fatal("ProcessNext did not dispatch")
	}
	if q.ProcessNext() {
		t.Error("ProcessNext dispatched again while the claim was held")
	}
	q.SetProcessing(false)
	if !q.ProcessNext() {
		t.Error("ProcessNext did not dispatch after release")
	}
	if dispatched != 2 {
		t.Errorf("handler ran %d times, want 2", dispatched)
	}
}

func TestQueueClaimOrEnqueueRespectsBacklog(t *testing.T) {
	q := New()

	// A released flag with messages still queued must not let a fresh
	// inbound message jump the line.
	q.Enqueue(types.QueuedMessage{Text: "waiting"})
	claimed, depth := q.ClaimOrEnqueue(types.QueuedMessage{Text: "newcomer"})
	if claimed {
		t.Fatal("claim jumped ahead of queued messages")
	}
	if depth != 2 {
		t.Errorf("depth = %d, want 2", depth)
	}
}

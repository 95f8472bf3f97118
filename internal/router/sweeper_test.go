package router

import (
	"context"
	"testing"

	"github.com/user/agentrelay/internal/backend"
	"github.com/user/agentrelay/internal/types"
)

// stubBackend reports a fixed processing state.
type stubBackend struct {
	kind       types.BackendKind
	processing bool
}

func (s *stubBackend) Name() types.BackendKind      { return s.kind }
func (s *stubBackend) StartSession(_ string) string { return "stub" }

func (s *stubBackend) Send(_ context.Context, _, _ string, _ backend.SendOptions, _ []types.Attachment) error {
	return nil
}

func (s *stubBackend) Abort(_ string)             {}
func (s *stubBackend) IsProcessing(_ string) bool { return s.processing }
func (s *stubBackend) DestroySession(_ string)    {}

func TestSweeperRepairsOrphanedSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.session.Status = types.StatusProcessing
	if err := f.sessions.Update(ctx, f.session); err != nil {
		t.Fatal(err)
	}

	backends := backend.NewRegistry()
	backends.Register(&stubBackend{kind: types.BackendClaude, processing: false})

	s := NewSweeper(f.router, backends, f.allUsers)
	s.sweep()

	if got := f.currentStatus(t); got != types.StatusIdle {
		t.Errorf("status = %s, want idle", got)
	}
}

func TestSweeperLeavesLiveSessionAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.session.Status = types.StatusProcessing
	if err := f.sessions.Update(ctx, f.session); err != nil {
		t.Fatal(err)
	}

	backends := backend.NewRegistry()
	backends.Register(&stubBackend{kind: types.BackendClaude, processing: true})

	s := NewSweeper(f.router, backends, f.allUsers)
	s.sweep()

	if got := f.currentStatus(t); got != types.StatusProcessing {
		t.Errorf("status = %s, want processing", got)
	}
}

func TestSweeperLeavesClaimedTurnAlone(t *testing.T) {
	f := newFixture(t)

	// Dispatch claimed the queue but the subprocess has not started yet.
	f.beginTurn(t)

	backends := backend.NewRegistry()
	backends.Register(&stubBackend{kind: types.BackendClaude, processing: false})

	s := NewSweeper(f.router, backends, f.allUsers)
	s.sweep()

	if got := f.currentStatus(t); got != types.StatusProcessing {
		t.Errorf("status = %s, want processing", got)
	}
}

// allUsers adapts the fixture's store to the sweeper's user enumeration.
func (f *fixture) allUsers(ctx context.Context) ([]int64, error) {
	return []int64{7}, nil
}

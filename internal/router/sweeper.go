package router

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/user/agentrelay/internal/backend"
	"github.com/user/agentrelay/internal/types"
)

// Sweeper periodically repairs sessions stuck in processing with no live
// subprocess. The status can be orphaned if the daemon restarts mid-turn.
type Sweeper struct {
	router   *Router
	backends *backend.Registry
	users    func(ctx context.Context) ([]int64, error)
	cron     *cron.Cron
}

func NewSweeper(r *Router, backends *backend.Registry, users func(ctx context.Context) ([]int64, error)) *Sweeper {
	return &Sweeper{
		router:   r,
		backends: backends,
		users:    users,
		cron:     cron.New(),
	}
}

// Start registers the sweep schedule and starts the ticker.
func (s *Sweeper) Start(spec string) error {
	if spec == "" {
		spec = "@every 5m"
	}
	if _, err := s.cron.AddFunc(spec, s.sweep); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

func (s *Sweeper) Stop() {
	s.cron.Stop()
}

func (s *Sweeper) sweep() {
	ctx := context.Background()
	userIDs, err := s.users(ctx)
	if err != nil {
		slog.Error("sweep: list users", "error", err)
		return
	}
	for _, userID := range userIDs {
		sessions, err := s.router.sessions.ListByUser(ctx, userID)
		if err != nil {
			slog.Error("sweep: list sessions", "user_id", userID, "error", err)
			continue
		}
		for _, session := range sessions {
			if session.Status != types.StatusProcessing {
				continue
			}
			b, err := s.backends.Get(session.Backend)
			if err != nil || b.IsProcessing(string(session.ID)) {
				continue
			}
			q := s.router.queues.Get(session.ID)
			if q.IsProcessing() {
				// The dispatch layer claimed the turn but the subprocess has
				// not started yet; leave it alone.
				continue
			}
			slog.Warn("repairing orphaned processing session", "session_id", session.ID)
			session.Status = types.StatusIdle
			if err := s.router.sessions.Update(ctx, session); err != nil {
				slog.Error("sweep: reset session", "session_id", session.ID, "error", err)
			}
		}
	}
}

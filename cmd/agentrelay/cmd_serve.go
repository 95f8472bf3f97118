package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/agentrelay/internal/backend"
	"github.com/user/agentrelay/internal/queue"
	"github.com/user/agentrelay/internal/router"
	"github.com/user/agentrelay/internal/state"
	"github.com/user/agentrelay/internal/telegram"
	"github.com/user/agentrelay/internal/types"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agentrelay daemon",
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "agentrelay.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if cfg.Telegram.Token == "" {
		return fmt.Errorf("no telegram token configured; set telegram.token in %s or TELEGRAM_BOT_TOKEN", cfgPath)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	// Stores
	sessions := state.NewSessionStore(cfg.DataDir)
	history, err := state.NewHistoryStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer history.Close()

	queues := queue.NewRegistry(cfg.MaxConcurrent)
	tracker := router.NewTracker()

	// Backends emit into the router; the router is created after the
	// adapter, so the emit closure resolves it at call time.
	var r *router.Router
	emit := func(trackingID string, ev backend.Event) {
		r.Dispatch(types.SessionID(trackingID), ev)
	}
	claude := backend.NewClaudeBridge(emit)
	claude.SetCommand(cfg.Backends.ClaudeCommand)
	codex := backend.NewCodexBridge(emit)
	codex.SetCommand(cfg.Backends.CodexCommand)

	backends := backend.NewRegistry()
	backends.Register(claude)
	backends.Register(codex)

	adapter, err := telegram.New(cfg.Telegram.Token, sessions, history, queues, backends, tracker, cfg.Telegram.AllowedUserIDs)
	if err != nil {
		return fmt.Errorf("create telegram adapter: %w", err)
	}

	r = router.New(sessions, history, queues, tracker, adapter)
	adapter.SetRouter(r)

	sweeper := router.NewSweeper(r, backends, sessions.Users)
	if err := sweeper.Start(cfg.SweepSchedule); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}
	defer sweeper.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go adapter.Start(ctx)

	slog.Info("agentrelay started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"sweep_schedule", cfg.SweepSchedule,
		"allowed_users", len(cfg.Telegram.AllowedUserIDs),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down")
	return nil
}

package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/agentrelay/internal/types"
)

// CodexBridge drives the codex CLI in exec --json mode. Unlike claude, codex
// emits final agent messages only (no partial streaming), so text arrives as
// text_done without preceding deltas.
type CodexBridge struct {
	emit    EmitFunc
	command string

	mu       sync.Mutex
	sessions map[string]*codexState
}

type codexState struct {
	cmd               *exec.Cmd
	processing        bool
	aborted           bool
	cwd               string
	turnStartedAt     time.Time
	lastAssistantText string
}

func NewCodexBridge(emit EmitFunc) *CodexBridge {
	return &CodexBridge{
		emit:     emit,
		command:  "codex",
		sessions: make(map[string]*codexState),
	}
}

func (c *CodexBridge) Name() types.BackendKind { return types.BackendCodex }

// SetCommand overrides the CLI binary, e.g. an absolute path from config.
func (c *CodexBridge) SetCommand(command string) {
	if command != "" {
		c.command = command
	}
}

// StartSession mints a tracking id and allocates state for it. The cwd is
// the default working directory for turns that do not override it.
func (c *CodexBridge) StartSession(cwd string) string {
	trackingID := uuid.New().String()
	state := c.getOrCreate(trackingID)
	c.mu.Lock()
	state.cwd = cwd
	c.mu.Unlock()
	return trackingID
}

func (c *CodexBridge) getOrCreate(trackingID string) *codexState {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.sessions[trackingID]
	if !ok {
		state = &codexState{}
		c.sessions[trackingID] = state
	}
	return state
}

// codexModeArgs translates a sandbox mode into CLI flags. Resumed
// conversations spell the sandbox levels as config overrides because the
// resume subcommand does not accept --sandbox.
func codexModeArgs(mode string, isResume bool) []string {
	switch mode {
	case "read-only", "workspace-write":
		if isResume {
			return []string{"-c", "sandbox_mode=" + mode}
		}
		return []string{"--sandbox", mode}
	case "full-auto":
		return []string{"--full-auto"}
	case "danger":
		return []string{"--dangerously-bypass-approvals-and-sandbox"}
	default:
		// Defer to the CLI's own config.
		return nil
	}
}

func (c *CodexBridge) Send(ctx context.Context, trackingID, prompt string, opts SendOptions, attachments []types.Attachment) error {
	state := c.getOrCreate(trackingID)

	c.mu.Lock()
	if state.processing {
		c.mu.Unlock()
		return ErrAlreadyProcessing
	}
	state.processing = true
	state.aborted = false
	state.turnStartedAt = time.Now()
	state.lastAssistantText = ""
	cwd := opts.Cwd
	if cwd == "" {
		cwd = state.cwd
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		state.processing = false
		state.cmd = nil
		c.mu.Unlock()
	}()

	var args []string
	if opts.Resume != "" {
		args = []string{"exec", "resume", "--json", opts.Resume}
	} else {
		args = []string{"exec", "--json", "--skip-git-repo-check"}
	}
	args = append(args, codexModeArgs(opts.Mode, opts.Resume != "")...)
	args = append(args, BuildPrompt(prompt, attachments))

	slog.Debug("spawning codex CLI", "tracking_id", trackingID, "cwd", cwd, "resume", opts.Resume != "")

	cmd := exec.CommandContext(ctx, c.command, args...)
	cmd.Dir = cwd
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		c.emit(trackingID, Event{Type: EventError, Message: fmt.Sprintf("failed to spawn codex: %v", err)})
		return nil
	}
	if err := cmd.Start(); err != nil {
		slog.Error("failed to spawn codex CLI", "tracking_id", trackingID, "error", err)
		c.emit(trackingID, Event{Type: EventError, Message: fmt.Sprintf("failed to spawn codex: %v", err)})
		return nil
	}

	c.mu.Lock()
	state.cmd = cmd
	c.mu.Unlock()

	sawTurnCompletion := false
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxScanLine)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var msg codexMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			slog.Debug("non-JSON line from codex CLI", "tracking_id", trackingID, "line", line)
			continue
		}
		if c.processMessage(trackingID, state, &msg) {
			sawTurnCompletion = true
		}
	}

	waitErr := cmd.Wait()

	c.mu.Lock()
	aborted := state.aborted
	lastText := state.lastAssistantText
	started := state.turnStartedAt
	c.mu.Unlock()

	if waitErr != nil {
		if aborted && isInterrupt(waitErr) {
			return nil
		}
		errMsg := strings.TrimSpace(stderr.String())
		if errMsg == "" {
			errMsg = fmt.Sprintf("codex CLI exited: %v", waitErr)
		}
		slog.Error("codex CLI error", "tracking_id", trackingID, "error", waitErr, "stderr", stderr.String())
		if !sawTurnCompletion {
			c.emit(trackingID, Event{Type: EventError, Message: errMsg})
		}
		return nil
	}

	if !sawTurnCompletion {
		// Defensive fallback if the CLI exits cleanly without turn.completed.
		c.emit(trackingID, Event{
			Type:       EventResult,
			Result:     lastText,
			DurationMs: time.Since(started).Milliseconds(),
			NumTurns:   1,
		})
	}
	return nil
}

type codexMessage struct {
	Type     string      `json:"type"`
	ThreadID string      `json:"thread_id"`
	Item     *codexItem  `json:"item"`
	Usage    *codexUsage `json:"usage"`
}

type codexItem struct {
	Type             string `json:"type"`
	Text             string `json:"text"`
	Command          string `json:"command"`
	Status           string `json:"status"`
	AggregatedOutput string `json:"aggregated_output"`
	ExitCode         *int   `json:"exit_code"`
}

type codexUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// processMessage maps one codex protocol line to canonical events. Returns
// true on turn.completed.
func (c *CodexBridge) processMessage(trackingID string, state *codexState, msg *codexMessage) bool {
	switch msg.Type {
	case "thread.started":
		if msg.ThreadID != "" {
			c.emit(trackingID, Event{Type: EventInit, BackendSessionID: msg.ThreadID})
		}

	case "item.started":
		if msg.Item != nil && msg.Item.Type == "command_execution" {
			c.emit(trackingID, Event{
				Type:     EventToolUse,
				ToolName: "Bash",
				Input: map[string]any{
					"command": msg.Item.Command,
					"status":  msg.Item.Status,
				},
			})
		}

	case "item.completed":
		if msg.Item == nil {
			return false
		}
		switch msg.Item.Type {
		case "agent_message":
			c.mu.Lock()
			state.lastAssistantText = msg.Item.Text
			c.mu.Unlock()
			c.emit(trackingID, Event{Type: EventTextDone, FullText: msg.Item.Text})
		case "command_execution":
			c.emit(trackingID, Event{
				Type:     EventToolResult,
				ToolName: "Bash",
				Output:   msg.Item.AggregatedOutput,
				ExitCode: msg.Item.ExitCode,
			})
		}

	case "turn.completed":
		outputTokens := 0
		if msg.Usage != nil {
			outputTokens = msg.Usage.OutputTokens
		}
		numTurns := 0
		if outputTokens > 0 {
			numTurns = 1
		}
		c.mu.Lock()
		lastText := state.lastAssistantText
		started := state.turnStartedAt
		c.mu.Unlock()
		c.emit(trackingID, Event{
			Type:       EventResult,
			Result:     lastText,
			DurationMs: time.Since(started).Milliseconds(),
			NumTurns:   numTurns,
		})
		return true
	}
	return false
}

func (c *CodexBridge) Abort(trackingID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.sessions[trackingID]
	if !ok || state.cmd == nil || state.cmd.Process == nil {
		return
	}
	state.aborted = true
	if err := state.cmd.Process.Signal(os.Interrupt); err != nil {
		slog.Debug("interrupt delivery failed", "tracking_id", trackingID, "error", err)
	}
}

func (c *CodexBridge) IsProcessing(trackingID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.sessions[trackingID]
	return ok && state.processing
}

func (c *CodexBridge) DestroySession(trackingID string) {
	c.Abort(trackingID)
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, trackingID)
}

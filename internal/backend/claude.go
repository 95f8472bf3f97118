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

	"github.com/google/uuid"

	"github.com/user/agentrelay/internal/types"
)

// maxScanLine bounds a single JSON line from the CLI. Partial assistant
// messages carry the full accumulated text, so lines grow with the response.
const maxScanLine = 4 * 1024 * 1024

// ClaudeBridge drives the claude CLI. Each Send spawns a fresh subprocess in
// stream-json mode; continuity across turns comes from the --resume flag.
type ClaudeBridge struct {
	emit    EmitFunc
	command string

	mu       sync.Mutex
	sessions map[string]*claudeState
}

type claudeState struct {
	cmd        *exec.Cmd
	processing bool
	aborted    bool
	cwd        string

	// Accumulated text length from partial assistant messages, used to
	// compute deltas against the full-text-so-far the CLI re-sends.
	lastTextLength int
	// Text blocks already finalized this turn, to suppress the duplicate
	// text_done the CLI emits after partial streaming.
	finalized map[string]struct{}
}

// NewClaudeBridge creates the adapter. Events are delivered through emit,
// possibly from the subprocess reader goroutine.
func NewClaudeBridge(emit EmitFunc) *ClaudeBridge {
	return &ClaudeBridge{
		emit:     emit,
		command:  "claude",
		sessions: make(map[string]*claudeState),
	}
}

func (c *ClaudeBridge) Name() types.BackendKind { return types.BackendClaude }

// SetCommand overrides the CLI binary, e.g. an absolute path from config.
func (c *ClaudeBridge) SetCommand(command string) {
	if command != "" {
		c.command = command
	}
}

// StartSession mints a tracking id and allocates state for it. The cwd is
// the default working directory for turns that do not override it.
func (c *ClaudeBridge) StartSession(cwd string) string {
	trackingID := uuid.New().String()
	state := c.getOrCreate(trackingID)
	c.mu.Lock()
	state.cwd = cwd
	c.mu.Unlock()
	return trackingID
}

func (c *ClaudeBridge) getOrCreate(trackingID string) *claudeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.sessions[trackingID]
	if !ok {
		state = &claudeState{finalized: make(map[string]struct{})}
		c.sessions[trackingID] = state
	}
	return state
}

// claudeModeFlag translates the session's abstract permission mode into the
// CLI's spelling.
func claudeModeFlag(mode string) string {
	switch mode {
	case "dontAsk":
		return "bypassPermissions"
	case "":
		return "default"
	default:
		return mode
	}
}

func (c *ClaudeBridge) Send(ctx context.Context, trackingID, prompt string, opts SendOptions, attachments []types.Attachment) error {
	state := c.getOrCreate(trackingID)

	c.mu.Lock()
	if state.processing {
		c.mu.Unlock()
		return ErrAlreadyProcessing
	}
	state.processing = true
	state.aborted = false
	state.lastTextLength = 0
	state.finalized = make(map[string]struct{})
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

	args := []string{
		"-p", BuildPrompt(prompt, attachments),
		"--output-format", "stream-json",
		"--verbose",
		"--include-partial-messages",
		"--permission-mode", claudeModeFlag(opts.Mode),
		"--allowedTools", "Read,Edit,Write,Bash,Glob,Grep,Task,WebFetch,WebSearch",
	}
	if opts.Resume != "" {
		args = append(args, "--resume", opts.Resume)
	}

	slog.Debug("spawning claude CLI", "tracking_id", trackingID, "cwd", cwd, "resume", opts.Resume != "")

	cmd := exec.CommandContext(ctx, c.command, args...)
	cmd.Dir = cwd
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		c.emit(trackingID, Event{Type: EventError, Message: fmt.Sprintf("failed to spawn claude: %v", err)})
		return nil
	}
	if err := cmd.Start(); err != nil {
		slog.Error("failed to spawn claude CLI", "tracking_id", trackingID, "error", err)
		c.emit(trackingID, Event{Type: EventError, Message: fmt.Sprintf("failed to spawn claude: %v", err)})
		return nil
	}

	c.mu.Lock()
	state.cmd = cmd
	c.mu.Unlock()

	sawTerminal := false
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxScanLine)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var msg claudeMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			slog.Debug("non-JSON line from claude CLI", "tracking_id", trackingID, "line", line)
			continue
		}
		if c.processMessage(trackingID, state, &msg) {
			sawTerminal = true
		}
	}

	waitErr := cmd.Wait()

	c.mu.Lock()
	aborted := state.aborted
	c.mu.Unlock()

	if waitErr != nil {
		if aborted && isInterrupt(waitErr) {
			// Interrupt delivered by Abort; the cancel flow resets the
			// session, so exit is not reported as an additional error.
			return nil
		}
		errMsg := strings.TrimSpace(stderr.String())
		if errMsg == "" {
			errMsg = fmt.Sprintf("claude CLI exited: %v", waitErr)
		}
		slog.Error("claude CLI error", "tracking_id", trackingID, "error", waitErr, "stderr", stderr.String())
		if !sawTerminal {
			c.emit(trackingID, Event{Type: EventError, Message: errMsg})
		}
		return nil
	}

	if !sawTerminal {
		// Clean exit without a terminal event would deadlock the queue.
		c.emit(trackingID, Event{Type: EventResult, Result: "", NumTurns: 1})
	}
	return nil
}

// claudeMessage is the subset of the CLI's stream-json protocol we consume.
// Unknown fields are ignored by encoding/json.
type claudeMessage struct {
	Type         string                  `json:"type"`
	Subtype      string                  `json:"subtype"`
	SessionID    string                  `json:"session_id"`
	Partial      bool                    `json:"partial"`
	Message      *claudeAssistantPayload `json:"message"`
	Result       string                  `json:"result"`
	TotalCostUsd float64                 `json:"total_cost_usd"`
	DurationMs   int64                   `json:"duration_ms"`
	NumTurns     int                     `json:"num_turns"`
	Errors       []string                `json:"errors"`
}

type claudeAssistantPayload struct {
	Content []claudeContentBlock `json:"content"`
}

type claudeContentBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// processMessage maps one protocol message to canonical events. Returns true
// if a terminal event was emitted.
func (c *ClaudeBridge) processMessage(trackingID string, state *claudeState, msg *claudeMessage) bool {
	switch msg.Type {
	case "system":
		if msg.Subtype == "init" && msg.SessionID != "" {
			c.emit(trackingID, Event{Type: EventInit, BackendSessionID: msg.SessionID})
		}

	case "assistant":
		if msg.Message == nil {
			return false
		}
		for _, block := range msg.Message.Content {
			switch block.Type {
			case "text":
				c.handleText(trackingID, state, block.Text, msg.Partial)
			case "tool_use":
				if !msg.Partial {
					input := block.Input
					if input == nil {
						input = map[string]any{}
					}
					c.emit(trackingID, Event{Type: EventToolUse, ToolName: block.Name, Input: input})
				}
			}
		}

	case "result":
		if msg.Subtype == "success" {
			c.emit(trackingID, Event{
				Type:       EventResult,
				Result:     msg.Result,
				CostUsd:    msg.TotalCostUsd,
				DurationMs: msg.DurationMs,
				NumTurns:   msg.NumTurns,
			})
		} else {
			text := fmt.Sprintf("Query ended: %s", orUnknown(msg.Subtype))
			if len(msg.Errors) > 0 {
				text += " - " + strings.Join(msg.Errors, ", ")
			}
			c.emit(trackingID, Event{Type: EventError, Message: text})
		}
		return true
	}
	return false
}

// handleText computes deltas for partial messages, which carry the full
// accumulated text so far. A shrinking or unchanged length yields no delta;
// a final text already finalized via the delta path is suppressed entirely.
func (c *ClaudeBridge) handleText(trackingID string, state *claudeState, fullText string, partial bool) {
	// Decide under the lock, emit outside it: emit hands events to the
	// router and must not hold adapter state hostage.
	var events []Event

	c.mu.Lock()
	if partial {
		// A shrinking or unchanged length yields no delta; the new length
		// becomes the baseline either way, faithful to the CLI's contract
		// that each partial carries the full text so far.
		if len(fullText) > state.lastTextLength {
			events = append(events, Event{Type: EventTextDelta, Text: fullText[state.lastTextLength:]})
		}
		state.lastTextLength = len(fullText)
	} else if _, done := state.finalized[fullText]; !done {
		if len(fullText) > state.lastTextLength {
			events = append(events, Event{Type: EventTextDelta, Text: fullText[state.lastTextLength:]})
		}
		events = append(events, Event{Type: EventTextDone, FullText: fullText})
		state.finalized[fullText] = struct{}{}
		state.lastTextLength = 0
	}
	c.mu.Unlock()

	for _, ev := range events {
		c.emit(trackingID, ev)
	}
}

func (c *ClaudeBridge) Abort(trackingID string) {
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

func (c *ClaudeBridge) IsProcessing(trackingID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.sessions[trackingID]
	return ok && state.processing
}

func (c *ClaudeBridge) DestroySession(trackingID string) {
	c.Abort(trackingID)
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, trackingID)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

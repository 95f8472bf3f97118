package backend

import (
	"encoding/json"
	"testing"
	"time"
)

func feedCodex(t *testing.T, bridge *CodexBridge, state *codexState, lines []string) {
	t.Helper()
	for _, line := range lines {
		var msg codexMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			t.Fatalf("bad test line %q: %v", line, err)
		}
		bridge.processMessage("tid", state, &msg)
	}
}

func newCodexFixture() (*CodexBridge, *codexState, *eventCollector) {
	collector := &eventCollector{}
	bridge := NewCodexBridge(collector.emit)
	state := &codexState{turnStartedAt: time.Now()}
	return bridge, state, collector
}

func TestCodexThreadStarted(t *testing.T) {
	bridge, state, collector := newCodexFixture()

	feedCodex(t, bridge, state, []string{
		`{"type":"thread.started","thread_id":"thread-9"}`,
	})

	events := collector.all()
	if len(events) != 1 || events[0].Type != EventInit {
		t.Fatalf("got %+v", events)
	}
	if events[0].BackendSessionID != "thread-9" {
		t.Errorf("session id = %q", events[0].BackendSessionID)
	}
}

func TestCodexCommandExecution(t *testing.T) {
	bridge, state, collector := newCodexFixture()

	feedCodex(t, bridge, state, []string{
		`{"type":"item.started","item":{"type":"command_execution","command":"go test ./...","status":"in_progress"}}`,
		`{"type":"item.completed","item":{"type":"command_execution","command":"go test ./...","aggregated_output":"ok","exit_code":0}}`,
	})

	events := collector.all()
	if len(events) != 2 {
		t.Fatalf("got %d events: %+v", len(events), events)
	}
	if events[0].Type != EventToolUse || events[0].ToolName != "Bash" {
		t.Errorf("started event = %+v", events[0])
	}
	if events[0].Input["command"] != "go test ./..." {
		t.Errorf("input = %v", events[0].Input)
	}
	if events[1].Type != EventToolResult || events[1].Output != "ok" {
		t.Errorf("completed event = %+v", events[1])
	}
	if events[1].ExitCode == nil || *events[1].ExitCode != 0 {
		t.Errorf("exit code = %v", events[1].ExitCode)
	}
}

func TestCodexAgentMessageAndTurnCompleted(t *testing.T) {
	bridge, state, collector := newCodexFixture()

	feedCodex(t, bridge, state, []string{
		`{"type":"item.completed","item":{"type":"agent_message","text":"Finished the refactor."}}`,
		`{"type":"turn.completed","usage":{"input_tokens":500,"output_tokens":120}}`,
	})

	events := collector.all()
	if len(events) != 2 {
		t.Fatalf("got %d events: %+v", len(events), events)
	}
	if events[0].Type != EventTextDone || events[0].FullText != "Finished the refactor." {
		t.Errorf("text event = %+v", events[0])
	}
	result := events[1]
	if result.Type != EventResult {
		t.Fatalf("terminal event = %+v", result)
	}
	if result.Result != "Finished the refactor." {
		t.Errorf("result text = %q", result.Result)
	}
	if result.NumTurns != 1 {
		t.Errorf("num turns = %d, want 1", result.NumTurns)
	}
}

func TestCodexTurnCompletedWithoutOutput(t *testing.T) {
	bridge, state, collector := newCodexFixture()

	feedCodex(t, bridge, state, []string{
		`{"type":"turn.completed","usage":{"input_tokens":500,"output_tokens":0}}`,
	})

	events := collector.all()
	if len(events) != 1 || events[0].Type != EventResult {
		t.Fatalf("got %+v", events)
	}
	if events[0].NumTurns != 0 {
		t.Errorf("num turns = %d, want 0", events[0].NumTurns)
	}
}

func TestCodexModeArgs(t *testing.T) {
	tests := []struct {
		mode     string
		isResume bool
		want     []string
	}{
		{"read-only", false, []string{"--sandbox", "read-only"}},
		{"workspace-write", false, []string{"--sandbox", "workspace-write"}},
		{"workspace-write", true, []string{"-c", "sandbox_mode=workspace-write"}},
		{"full-auto", false, []string{"--full-auto"}},
		{"full-auto", true, []string{"--full-auto"}},
		{"danger", false, []string{"--dangerously-bypass-approvals-and-sandbox"}},
		{"", false, nil},
	}
	for _, tt := range tests {
		got := codexModeArgs(tt.mode, tt.isResume)
		if len(got) != len(tt.want) {
			t.Errorf("codexModeArgs(%q, %v) = %v, want %v", tt.mode, tt.isResume, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("codexModeArgs(%q, %v) = %v, want %v", tt.mode, tt.isResume, got, tt.want)
				break
			}
		}
	}
}

func TestCodexStartSession(t *testing.T) {
	collector := &eventCollector{}
	bridge := NewCodexBridge(collector.emit)

	first := bridge.StartSession("/srv/repo")
	second := bridge.StartSession("/srv/repo")
	if first == "" || first == second {
		t.Fatalf("tracking ids not distinct: %q / %q", first, second)
	}
	if bridge.IsProcessing(first) {
		t.Error("fresh session reports processing")
	}

	bridge.mu.Lock()
	state := bridge.sessions[first]
	bridge.mu.Unlock()
	if state == nil || state.cwd != "/srv/repo" {
		t.Fatalf("state not allocated with cwd, got %+v", state)
	}
}

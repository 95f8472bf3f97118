package backend

// EventType discriminates the canonical event union shared by all adapters.
type EventType string

const (
	EventInit       EventType = "init"
	EventTextDelta  EventType = "text_delta"
	EventTextDone   EventType = "text_done"
	EventToolUse    EventType = "tool_use"
	EventToolResult EventType = "tool_result"
	EventResult     EventType = "result"
	EventError      EventType = "error"
	EventProcessing EventType = "processing"
)

// Event is the backend-agnostic representation of one protocol message.
// Only the fields relevant to the Type are populated. Adapters emit exactly
// one terminal event (result or error) per turn.
type Event struct {
	Type EventType

	// init
	BackendSessionID string

	// text_delta / text_done
	Text     string
	FullText string

	// tool_use / tool_result
	ToolName string
	Input    map[string]any
	Output   string
	ExitCode *int

	// result
	Result     string
	CostUsd    float64
	DurationMs int64
	NumTurns   int

	// error / processing
	Message string
}

// Terminal reports whether this event ends a turn and releases the queue.
func (e Event) Terminal() bool {
	return e.Type == EventResult || e.Type == EventError
}

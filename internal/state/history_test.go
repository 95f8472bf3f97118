package state

import (
	"context"
	"testing"

	"github.com/user/agentrelay/internal/types"
)

func newHistory(t *testing.T) *HistoryStore {
	t.Helper()
	store, err := NewHistoryStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestHistoryStoreTurns(t *testing.T) {
	store := newHistory(t)
	ctx := context.Background()
	sessionID := types.NewSessionID()

	userTurn, err := store.AddTurn(ctx, sessionID, "user", "fix the bug")
	if err != nil {
		t.Fatal(err)
	}
	assistantTurn, err := store.AddTurn(ctx, sessionID, "assistant", "Fixed it by adjusting the retry logic.")
	if err != nil {
		t.Fatal(err)
	}
	if userTurn == assistantTurn {
		t.Error("turn ids not distinct")
	}

	if err := store.UpdateTurnCost(ctx, assistantTurn, 0.0312); err != nil {
		t.Fatal(err)
	}

	turns, err := store.History(ctx, sessionID, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 2 {
		t.Fatalf("got %d turns, want 2", len(turns))
	}
	// Chronological order: user first.
	if turns[0].Role != "user" || turns[1].Role != "assistant" {
		t.Errorf("order: %s, %s", turns[0].Role, turns[1].Role)
	}
	if turns[0].Tokens == 0 {
		t.Error("token estimate missing")
	}
	if turns[1].CostUsd != 0.0312 {
		t.Errorf("cost = %v", turns[1].CostUsd)
	}
}

func TestHistoryStoreSessionCost(t *testing.T) {
	store := newHistory(t)
	ctx := context.Background()
	sessionID := types.NewSessionID()

	for _, cost := range []float64{0.01, 0.02, 0.03} {
		id, err := store.AddTurn(ctx, sessionID, "assistant", "turn")
		if err != nil {
			t.Fatal(err)
		}
		if err := store.UpdateTurnCost(ctx, id, cost); err != nil {
			t.Fatal(err)
		}
	}

	total, err := store.SessionCost(ctx, sessionID)
	if err != nil {
		t.Fatal(err)
	}
	if total < 0.059 || total > 0.061 {
		t.Errorf("total = %v, want ~0.06", total)
	}

	// Other sessions do not leak in.
	other, err := store.SessionCost(ctx, types.NewSessionID())
	if err != nil {
		t.Fatal(err)
	}
	if other != 0 {
		t.Errorf("cost for empty session = %v", other)
	}
}

func TestHistoryStoreToolInvocations(t *testing.T) {
	store := newHistory(t)
	ctx := context.Background()
	sessionID := types.NewSessionID()

	turnID, err := store.AddTurn(ctx, sessionID, "assistant", "editing")
	if err != nil {
		t.Fatal(err)
	}

	// Linked to a turn with a file path.
	if err := store.AddToolInvocation(ctx, sessionID, turnID, "Edit", `{"file_path":"/src/main.go"}`, "/src/main.go"); err != nil {
		t.Fatal(err)
	}
	// Unlinked, no file.
	if err := store.AddToolInvocation(ctx, sessionID, 0, "Bash", `{"command":"ls"}`, ""); err != nil {
		t.Fatal(err)
	}

	var linked int
	if err := store.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tool_invocations WHERE session_id = ? AND turn_id IS NOT NULL`,
		string(sessionID)).Scan(&linked); err != nil {
		t.Fatal(err)
	}
	if linked != 1 {
		t.Errorf("linked invocations = %d, want 1", linked)
	}
}

func TestHistoryStoreDeleteSession(t *testing.T) {
	store := newHistory(t)
	ctx := context.Background()
	sessionID := types.NewSessionID()

	if _, err := store.AddTurn(ctx, sessionID, "user", "hello"); err != nil {
		t.Fatal(err)
	}
	if err := store.AddToolInvocation(ctx, sessionID, 0, "Read", `{}`, ""); err != nil {
		t.Fatal(err)
	}

	if err := store.DeleteSession(ctx, sessionID); err != nil {
		t.Fatal(err)
	}

	turns, err := store.History(ctx, sessionID, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 0 {
		t.Errorf("turns remain after delete: %d", len(turns))
	}
}

func TestHistoryStorePagination(t *testing.T) {
	store := newHistory(t)
	ctx := context.Background()
	sessionID := types.NewSessionID()

	for i := 0; i < 5; i++ {
		if _, err := store.AddTurn(ctx, sessionID, "user", "m"); err != nil {
			t.Fatal(err)
		}
	}

	page, err := store.History(ctx, sessionID, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 {
		t.Errorf("page size = %d, want 2", len(page))
	}
	// The newest turns come back when offset is zero.
	all, err := store.History(ctx, sessionID, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if page[1].ID != all[len(all)-1].ID {
		t.Error("first page does not end at the newest turn")
	}
}

func TestHistoryStoreSearch(t *testing.T) {
	store := newHistory(t)
	ctx := context.Background()
	sessionID := types.NewSessionID()
	other := types.NewSessionID()

	for _, text := range []string{
		"please refactor the parser",
		"done, the parser now handles nested blocks",
		"what about 100% coverage",
	} {
		if _, err := store.AddTurn(ctx, sessionID, "user", text); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := store.AddTurn(ctx, other, "user", "parser in another session"); err != nil {
		t.Fatal(err)
	}

	turns, err := store.Search(ctx, sessionID, "parser", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 2 {
		t.Fatalf("got %d matches, want 2", len(turns))
	}
	// Newest first.
	if turns[0].Content != "done, the parser now handles nested blocks" {
		t.Errorf("first match = %q", turns[0].Content)
	}

	// LIKE metacharacters in the query are literal.
	turns, err = store.Search(ctx, sessionID, "100%", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 1 {
		t.Fatalf("got %d matches for literal %%, want 1", len(turns))
	}
}

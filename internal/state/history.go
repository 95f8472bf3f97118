// internal/state/history.go
package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	_ "modernc.org/sqlite"

	"github.com/user/agentrelay/internal/types"
)

// HistoryStore persists conversation turns, per-turn cost, and tool
// invocations in sqlite. Token counts are estimated with tiktoken at insert
// time because some backends never report usage.
type HistoryStore struct {
	db        *sql.DB
	tokenizer *tiktoken.Tiktoken
}

// NewHistoryStore opens (or creates) the history database under root.
func NewHistoryStore(root string) (*HistoryStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(root, "history.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000; PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}

	store := &HistoryStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("get tokenizer: %w", err)
	}
	store.tokenizer = enc
	return store, nil
}

func (h *HistoryStore) initSchema() error {
	_, err := h.db.Exec(`
	CREATE TABLE IF NOT EXISTS conversation_turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		turn_type TEXT NOT NULL CHECK (turn_type IN ('user', 'assistant')),
		content TEXT NOT NULL,
		tokens_used INTEGER,
		cost_usd REAL,
		created_at TEXT NOT NULL DEFAULT (datetime('now'))
	);
	CREATE INDEX IF NOT EXISTS idx_conversation_turns_session ON conversation_turns(session_id);

	CREATE TABLE IF NOT EXISTS tool_invocations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		turn_id INTEGER,
		tool_name TEXT NOT NULL,
		input_json TEXT NOT NULL,
		file_path TEXT,
		created_at TEXT NOT NULL DEFAULT (datetime('now'))
	);
	CREATE INDEX IF NOT EXISTS idx_tool_invocations_session ON tool_invocations(session_id);
	`)
	return err
}

func (h *HistoryStore) Close() error {
	return h.db.Close()
}

// AddTurn records one conversation turn and returns its id. Tokens are
// estimated locally so cost queries stay meaningful for backends that report
// no usage.
func (h *HistoryStore) AddTurn(ctx context.Context, sessionID types.SessionID, role, text string) (types.TurnID, error) {
	tokens := len(h.tokenizer.Encode(text, nil, nil))
	res, err := h.db.ExecContext(ctx,
		`INSERT INTO conversation_turns (session_id, turn_type, content, tokens_used) VALUES (?, ?, ?, ?)`,
		string(sessionID), role, text, tokens,
	)
	if err != nil {
		return 0, fmt.Errorf("insert turn: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("turn id: %w", err)
	}
	return types.TurnID(id), nil
}

func (h *HistoryStore) UpdateTurnCost(ctx context.Context, turnID types.TurnID, costUsd float64) error {
	_, err := h.db.ExecContext(ctx,
		`UPDATE conversation_turns SET cost_usd = ? WHERE id = ?`,
		costUsd, int64(turnID),
	)
	if err != nil {
		return fmt.Errorf("update turn cost: %w", err)
	}
	return nil
}

// AddToolInvocation records a tool call, optionally linked to a turn.
func (h *HistoryStore) AddToolInvocation(ctx context.Context, sessionID types.SessionID, turnID types.TurnID, tool, inputJSON, filePath string) error {
	var turn any
	if turnID != 0 {
		turn = int64(turnID)
	}
	var path any
	if filePath != "" {
		path = filePath
	}
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO tool_invocations (session_id, turn_id, tool_name, input_json, file_path) VALUES (?, ?, ?, ?, ?)`,
		string(sessionID), turn, tool, inputJSON, path,
	)
	if err != nil {
		return fmt.Errorf("insert tool invocation: %w", err)
	}
	return nil
}

// History returns the most recent turns for a session, oldest first.
func (h *HistoryStore) History(ctx context.Context, sessionID types.SessionID, limit, offset int) ([]*types.Turn, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := h.db.QueryContext(ctx,
		`SELECT id, session_id, turn_type, content, COALESCE(tokens_used, 0), COALESCE(cost_usd, 0), created_at
		 FROM conversation_turns WHERE session_id = ?
		 ORDER BY id DESC LIMIT ? OFFSET ?`,
		string(sessionID), limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var turns []*types.Turn
	for rows.Next() {
		t := &types.Turn{}
		var sid string
		if err := rows.Scan(&t.ID, &sid, &t.Role, &t.Content, &t.Tokens, &t.CostUsd, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.SessionID = types.SessionID(sid)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Search finds turns whose content matches query, newest first. A plain LIKE
// scan is fine at the volumes a single chat produces.
func (h *HistoryStore) Search(ctx context.Context, sessionID types.SessionID, query string, limit int) ([]*types.Turn, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := h.db.QueryContext(ctx,
		`SELECT id, session_id, turn_type, content, COALESCE(tokens_used, 0), COALESCE(cost_usd, 0), created_at
		 FROM conversation_turns WHERE session_id = ? AND content LIKE ? ESCAPE '\'
		 ORDER BY id DESC LIMIT ?`,
		string(sessionID), "%"+escapeLike(query)+"%", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search history: %w", err)
	}
	defer rows.Close()

	var turns []*types.Turn
	for rows.Next() {
		t := &types.Turn{}
		var sid string
		if err := rows.Scan(&t.ID, &sid, &t.Role, &t.Content, &t.Tokens, &t.CostUsd, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.SessionID = types.SessionID(sid)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search: %w", err)
	}
	return turns, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)
	return r.Replace(s)
}

// SessionCost sums the recorded cost across a session's turns.
func (h *HistoryStore) SessionCost(ctx context.Context, sessionID types.SessionID) (float64, error) {
	var total float64
	err := h.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM conversation_turns WHERE session_id = ?`,
		string(sessionID),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum session cost: %w", err)
	}
	return total, nil
}

// DeleteSession removes a session's turns and tool invocations.
func (h *HistoryStore) DeleteSession(ctx context.Context, sessionID types.SessionID) error {
	if _, err := h.db.ExecContext(ctx, `DELETE FROM tool_invocations WHERE session_id = ?`, string(sessionID)); err != nil {
		return fmt.Errorf("delete tool invocations: %w", err)
	}
	if _, err := h.db.ExecContext(ctx, `DELETE FROM conversation_turns WHERE session_id = ?`, string(sessionID)); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}
	return nil
}

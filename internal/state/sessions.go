// internal/state/sessions.go
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/user/agentrelay/internal/types"
)

// emojiPalette supplies the per-session display markers. Each user's
// sessions get distinct markers until the palette is exhausted.
var emojiPalette = []string{
	"🦊", "🐙", "🦉", "🐢", "🦀", "🐝", "🐸", "🦄", "🐼", "🐳", "🦜", "🦔",
}

// SessionStore is a JSON-file-backed session store. The session index lives
// in sessions.json, user settings in settings.json; both are written
// atomically via tmp+rename.
type SessionStore struct {
	root string
	mu   sync.Mutex
}

func NewSessionStore(root string) *SessionStore {
	return &SessionStore{root: root}
}

func (s *SessionStore) sessionsPath() string {
	return filepath.Join(s.root, "sessions.json")
}

func (s *SessionStore) settingsPath() string {
	return filepath.Join(s.root, "settings.json")
}

func (s *SessionStore) loadSessions() (map[types.SessionID]*types.Session, error) {
	data, err := os.ReadFile(s.sessionsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[types.SessionID]*types.Session), nil
		}
		return nil, fmt.Errorf("read session index: %w", err)
	}

	var sessions []*types.Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("unmarshal session index: %w", err)
	}

	index := make(map[types.SessionID]*types.Session, len(sessions))
	for _, sess := range sessions {
		index[sess.ID] = sess
	}
	return index, nil
}

func (s *SessionStore) saveSessions(index map[types.SessionID]*types.Session) error {
	sessions := make([]*types.Session, 0, len(index))
	for _, sess := range index {
		sessions = append(sessions, sess)
	}
	return s.writeAtomic(s.sessionsPath(), sessions)
}

func (s *SessionStore) writeAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Create records a session under id with an emoji marker unique among the
// user's sessions. The store mutex makes allocation race-free under
// concurrent creation for the same user.
func (s *SessionStore) Create(_ context.Context, userID int64, id types.SessionID, name, cwd string, backend types.BackendKind, mode string) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadSessions()
	if err != nil {
		return nil, err
	}

	used := make(map[string]bool)
	for _, sess := range index {
		if sess.UserID == userID {
			used[sess.Emoji] = true
		}
	}
	emoji := emojiPalette[len(index)%len(emojiPalette)]
	for _, candidate := range emojiPalette {
		if !used[candidate] {
			emoji = candidate
			break
		}
	}

	now := time.Now()
	session := &types.Session{
		ID:           id,
		UserID:       userID,
		Name:         name,
		Cwd:          cwd,
		Emoji:        emoji,
		Backend:      backend,
		Status:       types.StatusIdle,
		Mode:         mode,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	index[session.ID] = session

	if err := s.saveSessions(index); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *SessionStore) Get(_ context.Context, id types.SessionID) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadSessions()
	if err != nil {
		return nil, err
	}
	sess, ok := index[id]
	if !ok {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	return sess, nil
}

func (s *SessionStore) ListByUser(_ context.Context, userID int64) ([]*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadSessions()
	if err != nil {
		return nil, err
	}
	var sessions []*types.Session
	for _, sess := range index {
		if sess.UserID == userID {
			sessions = append(sessions, sess)
		}
	}
	sortSessionsByCreation(sessions)
	return sessions, nil
}

func (s *SessionStore) Update(_ context.Context, session *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadSessions()
	if err != nil {
		return err
	}
	if _, ok := index[session.ID]; !ok {
		return fmt.Errorf("session not found: %s", session.ID)
	}
	session.LastActiveAt = time.Now()
	index[session.ID] = session
	return s.saveSessions(index)
}

func (s *SessionStore) Delete(_ context.Context, id types.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadSessions()
	if err != nil {
		return err
	}
	if _, ok := index[id]; !ok {
		return fmt.Errorf("session not found: %s", id)
	}
	delete(index, id)
	return s.saveSessions(index)
}

// Users returns the distinct user ids that own at least one session.
func (s *SessionStore) Users(_ context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadSessions()
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]bool)
	var users []int64
	for _, sess := range index {
		if !seen[sess.UserID] {
			seen[sess.UserID] = true
			users = append(users, sess.UserID)
		}
	}
	return users, nil
}

func (s *SessionStore) loadSettings() (map[int64]*types.UserSettings, error) {
	data, err := os.ReadFile(s.settingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[int64]*types.UserSettings), nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}
	var all []*types.UserSettings
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	index := make(map[int64]*types.UserSettings, len(all))
	for _, st := range all {
		index[st.UserID] = st
	}
	return index, nil
}

// Settings returns the user's settings, creating defaults on first access.
func (s *SessionStore) Settings(_ context.Context, userID int64) (*types.UserSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadSettings()
	if err != nil {
		return nil, err
	}
	if st, ok := index[userID]; ok {
		return st, nil
	}
	st := types.DefaultSettings(userID)
	index[userID] = st
	if err := s.saveSettingsLocked(index); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *SessionStore) UpdateSettings(_ context.Context, settings *types.UserSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadSettings()
	if err != nil {
		return err
	}
	index[settings.UserID] = settings
	return s.saveSettingsLocked(index)
}

func (s *SessionStore) saveSettingsLocked(index map[int64]*types.UserSettings) error {
	all := make([]*types.UserSettings, 0, len(index))
	for _, st := range index {
		all = append(all, st)
	}
	return s.writeAtomic(s.settingsPath(), all)
}

func sortSessionsByCreation(sessions []*types.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
}

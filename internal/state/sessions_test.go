package state

import (
	"context"
	"testing"

	"github.com/user/agentrelay/internal/types"
)

func TestSessionStoreCRUD(t *testing.T) {
	dir := t.TempDir()
	store := NewSessionStore(dir)
	ctx := context.Background()

	// Create
	session, err := store.Create(ctx, 1, types.NewSessionID(), "work", "/srv/repo", types.BackendClaude, "default")
	if err != nil {
		t.Fatal(err)
	}
	if session.ID == "" {
		t.Error("expected non-empty session ID")
	}
	if session.Emoji == "" {
		t.Error("expected an emoji marker")
	}
	if session.Status != types.StatusIdle {
		t.Errorf("new session status = %s, want idle", session.Status)
	}

	// Get
	got, err := store.Get(ctx, session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "work" || got.Cwd != "/srv/repo" || got.Backend != types.BackendClaude {
		t.Errorf("got %+v", got)
	}

	// Update
	got.Status = types.StatusProcessing
	got.BackendSessionID = "be-1"
	if err := store.Update(ctx, got); err != nil {
		t.Fatal(err)
	}
	reloaded, err := store.Get(ctx, session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Status != types.StatusProcessing || reloaded.BackendSessionID != "be-1" {
		t.Errorf("update not persisted: %+v", reloaded)
	}
	if reloaded.LastActiveAt.IsZero() {
		t.Error("Update did not touch LastActiveAt")
	}

	// Delete
	if err := store.Delete(ctx, session.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, session.ID); err == nil {
		t.Error("expected error for deleted session")
	}
}

func TestSessionStoreUniqueEmojiPerUser(t *testing.T) {
	dir := t.TempDir()
	store := NewSessionStore(dir)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < len(emojiPalette); i++ {
		s, err := store.Create(ctx, 1, types.NewSessionID(), "s", "/tmp", types.BackendClaude, "default")
		if err != nil {
			t.Fatal(err)
		}
		if seen[s.Emoji] {
			t.Errorf("emoji %s reused within one user's sessions", s.Emoji)
		}
		seen[s.Emoji] = true
	}

	// A different user starts from a fresh palette.
	other, err := store.Create(ctx, 2, types.NewSessionID(), "s", "/tmp", types.BackendCodex, "workspace-write")
	if err != nil {
		t.Fatal(err)
	}
	if other.Emoji == "" {
		t.Error("expected an emoji for the second user")
	}
}

func TestSessionStoreListByUser(t *testing.T) {
	dir := t.TempDir()
	store := NewSessionStore(dir)
	ctx := context.Background()

	if _, err := store.Create(ctx, 1, types.NewSessionID(), "a", "/tmp", types.BackendClaude, "default"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Create(ctx, 1, types.NewSessionID(), "b", "/tmp", types.BackendCodex, "read-only"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Create(ctx, 2, types.NewSessionID(), "c", "/tmp", types.BackendClaude, "default"); err != nil {
		t.Fatal(err)
	}

	list, err := store.ListByUser(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d sessions, want 2", len(list))
	}
	// Oldest first.
	if list[0].Name != "a" || list[1].Name != "b" {
		t.Errorf("order: %s, %s", list[0].Name, list[1].Name)
	}

	users, err := store.Users(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 {
		t.Errorf("got %d users, want 2", len(users))
	}
}

func TestSessionStoreSettings(t *testing.T) {
	dir := t.TempDir()
	store := NewSessionStore(dir)
	ctx := context.Background()

	// First read returns defaults.
	settings, err := store.Settings(ctx, 9)
	if err != nil {
		t.Fatal(err)
	}
	if settings.Verbosity != types.VerbosityNormal || settings.Notification != types.NotifySmart {
		t.Errorf("defaults = %+v", settings)
	}

	settings.Verbosity = types.VerbosityVerbose
	settings.Visibility = types.VisibilityActiveOnly
	if err := store.UpdateSettings(ctx, settings); err != nil {
		t.Fatal(err)
	}

	reloaded, err := store.Settings(ctx, 9)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Verbosity != types.VerbosityVerbose || reloaded.Visibility != types.VisibilityActiveOnly {
		t.Errorf("settings not persisted: %+v", reloaded)
	}
}

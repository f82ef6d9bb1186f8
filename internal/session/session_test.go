package session

import (
	"sync"
	"testing"

	"github.com/scottrax/ai-agent-system/internal/domain"
	"github.com/scottrax/ai-agent-system/internal/transcript"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	store, err := transcript.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return NewRegistry(store, nil)
}

func TestGetOrCreateConcurrentFirstContact(t *testing.T) {
	r := newTestRegistry(t)

	const goroutines = 32
	sessions := make([]*Session, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i] = r.GetOrCreate(ChannelInbox, "alice@example.com")
		}(i)
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		if sessions[i] != sessions[0] {
			t.Fatalf("concurrent first contact produced distinct sessions")
		}
	}
	if r.Count() != 1 {
		t.Errorf("expected 1 live session, got %d", r.Count())
	}
}

func TestChannelScopedIdentity(t *testing.T) {
	r := newTestRegistry(t)

	inbox := r.GetOrCreate(ChannelInbox, "alice@example.com")
	interactive := r.GetOrCreate(ChannelInteractive, "alice@example.com")
	if inbox == interactive {
		t.Errorf("same identity on different channels must not share a session")
	}
}

func TestTryAcquireExclusion(t *testing.T) {
	r := newTestRegistry(t)
	s := r.GetOrCreate(ChannelLocal, "cli")

	if !s.TryAcquire() {
		t.Fatal("first acquire should succeed")
	}
	if s.TryAcquire() {
		t.Fatal("second acquire should fail while the first is held")
	}
	s.Release()
	if !s.TryAcquire() {
		t.Fatal("acquire after release should succeed")
	}
	s.Release()
}

func TestAppendAdvancesMemoryAndStore(t *testing.T) {
	r := newTestRegistry(t)
	s := r.GetOrCreate(ChannelLocal, "cli")

	if err := s.Append(domain.NewUserTurn("hello")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 turn, got %d", s.Len())
	}

	stored, err := r.store.Read(s.ArtifactID())
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(stored) != 1 || stored[0].Content != "hello" {
		t.Errorf("stored transcript mismatch: %+v", stored)
	}
}

func TestResetRotatesArtifact(t *testing.T) {
	r := newTestRegistry(t)
	s := r.GetOrCreate(ChannelInteractive, "ws-1")

	if err := s.Append(domain.NewUserTurn("before reset")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	old := s.ArtifactID()

	r.Reset(s)

	if s.Len() != 0 {
		t.Errorf("expected empty transcript after reset, got %d turns", s.Len())
	}
	if s.ArtifactID() == old {
		t.Errorf("reset must rotate the artifact")
	}

	// The pre-reset artifact stays readable for the history index.
	turns, err := r.store.Read(old)
	if err != nil {
		t.Fatalf("old artifact unreadable: %v", err)
	}
	if len(turns) != 1 {
		t.Errorf("old artifact lost turns: %d", len(turns))
	}
}

func TestReplaceTranscriptDeepCopies(t *testing.T) {
	r := newTestRegistry(t)
	s := r.GetOrCreate(ChannelInteractive, "ws-1")
	old := s.ArtifactID()

	source := []domain.Turn{
		domain.NewUserTurn("original"),
		domain.NewToolRequestTurn(domain.ToolCall{ID: "t1", Name: "run_bash", Input: map[string]any{"command": "ls"}}),
	}
	if err := s.ReplaceTranscript(source); err != nil {
		t.Fatalf("ReplaceTranscript failed: %v", err)
	}

	if s.ArtifactID() == old {
		t.Errorf("replace must rotate to a fresh artifact")
	}

	// Mutating the source must not leak into the session.
	source[0].Content = "mutated"
	source[1].Call.Input["command"] = "rm -rf /"

	turns := s.Turns()
	if turns[0].Content != "original" {
		t.Errorf("session aliased source content: %q", turns[0].Content)
	}
	if turns[1].Call.Input["command"] != "ls" {
		t.Errorf("session aliased source tool input: %v", turns[1].Call.Input)
	}

	// The replayed prefix is durable in the fresh artifact.
	stored, err := r.store.Read(s.ArtifactID())
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(stored) != 2 {
		t.Errorf("expected replayed prefix persisted, got %d turns", len(stored))
	}
}

func TestCloseDetaches(t *testing.T) {
	r := newTestRegistry(t)
	s := r.GetOrCreate(ChannelInteractive, "ws-1")

	r.Close(s)
	if s.Status() != StatusClosed {
		t.Errorf("expected closed status, got %s", s.Status())
	}
	if r.Count() != 0 {
		t.Errorf("expected 0 live sessions, got %d", r.Count())
	}

	// A later contact with the same identity starts fresh.
	again := r.GetOrCreate(ChannelInteractive, "ws-1")
	if again == s {
		t.Errorf("closed session must not be reused")
	}
}

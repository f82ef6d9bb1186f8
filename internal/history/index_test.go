package history

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/scottrax/ai-agent-system/internal/domain"
	"github.com/scottrax/ai-agent-system/internal/session"
	"github.com/scottrax/ai-agent-system/internal/transcript"
)

func newTestIndex(t *testing.T) (*Index, *transcript.Store, *session.Registry) {
	ix, store, registry, _ := newTestIndexDir(t)
	return ix, store, registry
}

func newTestIndexDir(t *testing.T) (*Index, *transcript.Store, *session.Registry, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := transcript.NewStore(dir, nil)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return NewIndex(store, nil), store, session.NewRegistry(store, nil), dir
}

func seedArtifact(t *testing.T, store *transcript.Store, channel string, turns ...domain.Turn) string {
	t.Helper()
	id := transcript.NewArtifactID(channel, time.Now())
	for _, turn := range turns {
		if err := store.Append(id, turn); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	return id
}

func TestListIncludesEmptyArtifacts(t *testing.T) {
	ix, store, _, dir := newTestIndexDir(t)

	full := seedArtifact(t, store, "local",
		domain.NewUserTurn("check the deployment logs please"),
		domain.NewAssistantTurn("the logs look clean"),
	)

	// A crash right after session creation leaves an empty artifact file.
	empty := transcript.NewArtifactID("local", time.Now())
	if err := os.WriteFile(filepath.Join(dir, empty+".jsonl"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	records, err := ix.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	byID := map[string]Record{}
	for _, rec := range records {
		byID[rec.ID] = rec
	}
	if rec := byID[full]; rec.Preview != "check the deployment logs please" {
		t.Errorf("unexpected preview: %q", rec.Preview)
	} else if rec.Created == "" || rec.Modified == "" || rec.Size == 0 {
		t.Errorf("incomplete record: %+v", rec)
	}
	if rec, ok := byID[empty]; !ok {
		t.Errorf("empty artifact missing from listing")
	} else if rec.Preview != "" {
		t.Errorf("empty artifact should have an empty preview, got %q", rec.Preview)
	}
}

func TestPreviewTruncation(t *testing.T) {
	ix, store, _ := newTestIndex(t)

	long := make([]rune, 0, 200)
	for i := 0; i < 200; i++ {
		long = append(long, 'é')
	}
	seedArtifact(t, store, "local", domain.NewUserTurn(string(long)))

	records, err := ix.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	preview := []rune(records[0].Preview)
	if len(preview) != previewLimit+1 || preview[len(preview)-1] != '…' {
		t.Errorf("expected %d runes plus ellipsis, got %d", previewLimit, len(preview))
	}
}

func TestSearchMatchesContentAndID(t *testing.T) {
	ix, store, _ := newTestIndex(t)

	deploy := seedArtifact(t, store, "inbox",
		domain.NewUserTurn("please DEPLOY the new build"),
	)
	other := seedArtifact(t, store, "local",
		domain.NewUserTurn("what time is it"),
	)

	records, err := ix.Search("deploy")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(records) != 1 || records[0].ID != deploy {
		t.Fatalf("expected only the deploy transcript, got %+v", records)
	}

	// Identifier match, case-insensitive.
	records, err = ix.Search("LOCAL_")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(records) != 1 || records[0].ID != other {
		t.Fatalf("expected id match, got %+v", records)
	}

	records, err = ix.Search("no such phrase anywhere")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no matches, got %d", len(records))
	}
}

func TestGetMissing(t *testing.T) {
	ix, _, _ := newTestIndex(t)
	if _, err := ix.Get("inbox_20240101T000000_deadbeef"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadIntoCopiesNotAliases(t *testing.T) {
	ix, store, registry := newTestIndex(t)

	id := seedArtifact(t, store, "interactive",
		domain.NewUserTurn("remember the port is 8000"),
		domain.NewAssistantTurn("noted"),
	)

	s := registry.GetOrCreate(session.ChannelInteractive, "ws-1")
	if err := ix.LoadInto(id, s); err != nil {
		t.Fatalf("LoadInto failed: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 turns, got %d", s.Len())
	}
	if s.ArtifactID() == id {
		t.Errorf("session must not keep writing the historical artifact")
	}

	// New appends land in the session's own artifact, not the loaded one.
	if err := s.Append(domain.NewUserTurn("and the host?")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	original, err := store.Read(id)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(original) != 2 {
		t.Errorf("historical artifact mutated: %d turns", len(original))
	}
}

func TestLoadIntoMissing(t *testing.T) {
	ix, _, registry := newTestIndex(t)
	s := registry.GetOrCreate(session.ChannelInteractive, "ws-1")

	err := ix.LoadInto("interactive_20240101T000000_deadbeef", s)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("failed load must leave the session untouched")
	}
}

func TestDeleteThenGet(t *testing.T) {
	ix, store, _ := newTestIndex(t)
	id := seedArtifact(t, store, "local", domain.NewUserTurn("hi"))

	if err := ix.Delete(id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := ix.Get(id); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := ix.Delete(id); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}

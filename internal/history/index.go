// Package history discovers persisted transcripts, derives listable records
// from them, and supports search, replay into a live session, and deletion.
package history

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/scottrax/ai-agent-system/internal/domain"
	"github.com/scottrax/ai-agent-system/internal/session"
	"github.com/scottrax/ai-agent-system/internal/transcript"
)

const previewLimit = 120

// Record is the derived, never-persisted view of one transcript artifact.
type Record struct {
	ID       string `json:"id"`
	Created  string `json:"created"`
	Modified string `json:"modified"`
	Size     int64  `json:"size"`
	Preview  string `json:"preview"`
}

// Index computes records over the transcript store on demand.
type Index struct {
	store  *transcript.Store
	logger *slog.Logger
}

// NewIndex creates an index over the given store.
func NewIndex(store *transcript.Store, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{store: store, logger: logger}
}

// List returns a record for every artifact, most recently modified first.
// Empty artifacts are listed with an empty preview, not hidden.
func (ix *Index) List() ([]Record, error) {
	infos, err := ix.store.List()
	if err != nil {
		return nil, fmt.Errorf("list histories: %w", err)
	}

	records := make([]Record, 0, len(infos))
	for _, info := range infos {
		records = append(records, Record{
			ID:       info.ID,
			Created:  formatTime(info),
			Modified: info.Modified.UTC().Format("2006-01-02T15:04:05Z"),
			Size:     info.Size,
			Preview:  ix.preview(info.ID),
		})
	}
	return records, nil
}

// Search returns the subset of List whose identifier or any turn content
// contains the query, case-insensitively.
func (ix *Index) Search(query string) ([]Record, error) {
	all, err := ix.List()
	if err != nil {
		return nil, err
	}

	q := strings.ToLower(query)
	matched := []Record{}
	for _, rec := range all {
		if strings.Contains(strings.ToLower(rec.ID), q) {
			matched = append(matched, rec)
			continue
		}
		turns, err := ix.store.Read(rec.ID)
		if err != nil {
			// Deleted between List and Read; treat as non-matching.
			continue
		}
		for _, t := range turns {
			if strings.Contains(strings.ToLower(t.Text()), q) {
				matched = append(matched, rec)
				break
			}
		}
	}
	return matched, nil
}

// Get returns the full ordered turn sequence of an artifact.
func (ix *Index) Get(id string) ([]domain.Turn, error) {
	return ix.store.Read(id)
}

// LoadInto replaces the session's transcript with a deep copy of the
// artifact's turns. The historical artifact is never written again; later
// appends go to the session's fresh artifact.
func (ix *Index) LoadInto(id string, s *session.Session) error {
	turns, err := ix.store.Read(id)
	if err != nil {
		return err
	}
	if err := s.ReplaceTranscript(turns); err != nil {
		ix.logger.Warn("replayed transcript not fully durable",
			slog.String("history_id", id),
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()),
		)
	}
	ix.logger.Info("history loaded into session",
		slog.String("history_id", id),
		slog.String("session_id", s.ID),
		slog.Int("turns", len(turns)),
	)
	return nil
}

// Delete removes an artifact; deleting an already-absent id reports
// ErrNotFound.
func (ix *Index) Delete(id string) error {
	if err := ix.store.Delete(id); err != nil {
		return err
	}
	ix.logger.Info("history deleted", slog.String("history_id", id))
	return nil
}

// preview extracts a bounded excerpt from the earliest user or assistant
// content. A concurrent delete just yields an empty preview.
func (ix *Index) preview(id string) string {
	turns, err := ix.store.Read(id)
	if err != nil {
		return ""
	}
	for _, t := range turns {
		if t.Role != domain.RoleUser && t.Role != domain.RoleAssistant {
			continue
		}
		text := strings.TrimSpace(t.Content)
		if text == "" {
			continue
		}
		return truncateRunes(text, previewLimit)
	}
	return ""
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "…"
}

func formatTime(info transcript.ArtifactInfo) string {
	created := info.Created
	if created.IsZero() {
		// Identifier outside the naming scheme; fall back to mtime.
		created = info.Modified
	}
	return created.UTC().Format("2006-01-02T15:04:05Z")
}

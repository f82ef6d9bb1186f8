// Package transcript persists session transcripts as append-only JSONL
// artifacts, one file per session, named so that identifiers sort by recency
// without reading content.
package transcript

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scottrax/ai-agent-system/internal/domain"
)

const artifactExt = ".jsonl"

// NewArtifactID derives a deterministic artifact identifier from the session's
// channel and creation time. The embedded timestamp makes identifiers within a
// channel lexicographically sortable by recency; the short suffix keeps two
// sessions created in the same second distinct.
func NewArtifactID(channel string, created time.Time) string {
	short := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("%s_%s_%s", channel, created.UTC().Format("20060102T150405"), short)
}

// CreatedFrom parses the creation time embedded in an artifact identifier.
// Returns the zero time for identifiers that do not follow the naming scheme.
func CreatedFrom(id string) time.Time {
	parts := strings.Split(id, "_")
	if len(parts) < 3 {
		return time.Time{}
	}
	ts, err := time.Parse("20060102T150405", parts[len(parts)-2])
	if err != nil {
		return time.Time{}
	}
	return ts
}

// ArtifactInfo is the stat-level view of one artifact, computed without
// reading its content.
type ArtifactInfo struct {
	ID       string
	Size     int64
	Created  time.Time
	Modified time.Time
}

// Store writes and reads transcript artifacts under a root directory.
// Appends are serialized per artifact; distinct artifacts never contend.
type Store struct {
	root   string
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates the root directory if needed and returns a store over it.
func NewStore(root string, logger *slog.Logger) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("transcript root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript root %s: %w", root, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{root: root, logger: logger, locks: make(map[string]*sync.Mutex)}, nil
}

func (s *Store) path(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.Contains(id, "..") {
		return "", fmt.Errorf("artifact id %q: %w", id, domain.ErrInvalidInput)
	}
	return filepath.Join(s.root, id+artifactExt), nil
}

func (s *Store) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Append durably writes one turn as a single JSONL line. The write is a single
// buffered O_APPEND write so a crash leaves at worst a truncated final line,
// never an interleaved or reordered one.
func (s *Store) Append(id string, turn domain.Turn) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}

	line, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}

	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open artifact %s: %w", id, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append to artifact %s: %w", id, err)
	}
	return nil
}

// Read returns the full ordered turn sequence of an artifact. A trailing
// partial line (crash mid-append) is skipped; everything before it is a valid
// prefix by construction.
func (s *Store) Read(id string) ([]domain.Turn, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("artifact %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("open artifact %s: %w", id, err)
	}
	defer f.Close()

	turns := []domain.Turn{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var t domain.Turn
		if err := json.Unmarshal([]byte(line), &t); err != nil {
			s.logger.Warn("skipping unparseable transcript line",
				slog.String("artifact", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		turns = append(turns, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", id, err)
	}
	return turns, nil
}

// Delete removes an artifact. Deleting an absent artifact reports ErrNotFound;
// the history layer decides whether to absorb that.
func (s *Store) Delete(id string) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("artifact %s: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("delete artifact %s: %w", id, err)
	}

	s.mu.Lock()
	delete(s.locks, id)
	s.mu.Unlock()
	return nil
}

// List enumerates artifacts by stat alone, most recently modified first.
func (s *Store) List() ([]ArtifactInfo, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}

	infos := make([]ArtifactInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), artifactExt) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		id := strings.TrimSuffix(e.Name(), artifactExt)
		infos = append(infos, ArtifactInfo{
			ID:       id,
			Size:     fi.Size(),
			Created:  CreatedFrom(id),
			Modified: fi.ModTime(),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Modified.Equal(infos[j].Modified) {
			return infos[i].ID > infos[j].ID
		}
		return infos[i].Modified.After(infos[j].Modified)
	})
	return infos, nil
}

// Package session maps external identities to live conversations and
// enforces the one-turn-loop-at-a-time rule per conversation.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scottrax/ai-agent-system/internal/domain"
	"github.com/scottrax/ai-agent-system/internal/transcript"
)

// Channel identifies the ingress a session belongs to. Identity-to-session
// mapping is channel-scoped: an inbox sender and an interactive connection
// with the same nominal identity never share a session.
type Channel string

const (
	ChannelInteractive Channel = "interactive"
	ChannelInbox       Channel = "inbox"
	ChannelLocal       Channel = "local"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusActive Status = "active"
	StatusIdle   Status = "idle"
	StatusReset  Status = "reset"
	StatusClosed Status = "closed"
)

// Session is one bounded conversation. The transcript lives in memory for the
// engine and is shadowed turn-for-turn in the transcript store under the
// session's current artifact id.
type Session struct {
	ID      string
	Channel Channel
	Owner   string
	Created time.Time

	store *transcript.Store

	// loopMu serializes turn loops. Acquired with TryLock: a second
	// concurrent Advance is rejected, not queued.
	loopMu sync.Mutex

	mu       sync.Mutex
	status   Status
	artifact string
	turns    []domain.Turn
	ioFaults int
}

// TryAcquire claims the session for a turn loop. Returns false when a loop is
// already in flight.
func (s *Session) TryAcquire() bool {
	return s.loopMu.TryLock()
}

// Release ends the turn loop claim.
func (s *Session) Release() {
	s.loopMu.Unlock()
}

// ArtifactID returns the current backing artifact identifier.
func (s *Session) ArtifactID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artifact
}

// Status returns the lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// Turns returns a snapshot copy of the transcript in append order.
func (s *Session) Turns() []domain.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len returns the transcript length.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// Append adds a turn to the in-memory transcript and writes it through to the
// store. The in-memory transcript advances even when the durable write fails;
// the error is returned so the caller can log the durability gap.
func (s *Session) Append(turn domain.Turn) error {
	s.mu.Lock()
	s.turns = append(s.turns, turn)
	artifact := s.artifact
	s.mu.Unlock()

	if err := s.store.Append(artifact, turn); err != nil {
		s.mu.Lock()
		s.ioFaults++
		s.mu.Unlock()
		return err
	}
	return nil
}

// IOFaults reports how many turns failed their durable write.
func (s *Session) IOFaults() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ioFaults
}

// ReplaceTranscript swaps the session's transcript for a deep copy of the
// given turns and rotates to a fresh artifact, persisting the replayed prefix
// there. The artifact the turns came from is never written again.
func (s *Session) ReplaceTranscript(turns []domain.Turn) error {
	copied := make([]domain.Turn, len(turns))
	for i, t := range turns {
		copied[i] = t.Clone()
	}

	fresh := transcript.NewArtifactID(string(s.Channel), time.Now())

	s.mu.Lock()
	s.turns = copied
	s.artifact = fresh
	s.status = StatusActive
	s.mu.Unlock()

	for _, t := range copied {
		if err := s.store.Append(fresh, t); err != nil {
			return err
		}
	}
	return nil
}

// Registry is the one globally shared mutable structure: the
// (channel, identity) → session map. All access goes through the mutex so two
// simultaneous first contacts resolve to a single session.
type Registry struct {
	store  *transcript.Store
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[registryKey]*Session
}

type registryKey struct {
	channel  Channel
	identity string
}

// NewRegistry creates an empty session registry backed by the given store.
func NewRegistry(store *transcript.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:    store,
		logger:   logger,
		sessions: make(map[registryKey]*Session),
	}
}

// GetOrCreate returns the live session for (channel, identity), creating it on
// first contact. At most one session per pair exists even under concurrent
// first-contact requests.
func (r *Registry) GetOrCreate(channel Channel, identity string) *Session {
	key := registryKey{channel: channel, identity: identity}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[key]; ok {
		return s
	}

	now := time.Now()
	s := &Session{
		ID:       uuid.New().String(),
		Channel:  channel,
		Owner:    identity,
		Created:  now,
		store:    r.store,
		status:   StatusActive,
		artifact: transcript.NewArtifactID(string(channel), now),
	}
	r.sessions[key] = s

	r.logger.Info("session created",
		slog.String("session_id", s.ID),
		slog.String("channel", string(channel)),
		slog.String("owner", identity),
		slog.String("artifact", s.artifact),
	)
	return s
}

// Reset clears the session transcript and rotates to a fresh artifact. The old
// artifact stays in the store for the history index.
func (r *Registry) Reset(s *Session) {
	fresh := transcript.NewArtifactID(string(s.Channel), time.Now())

	s.mu.Lock()
	s.turns = nil
	s.artifact = fresh
	s.status = StatusActive
	s.mu.Unlock()

	r.logger.Info("session reset",
		slog.String("session_id", s.ID),
		slog.String("artifact", fresh),
	)
}

// Close detaches the session from the registry. Its transcript remains in the
// store.
func (r *Registry) Close(s *Session) {
	r.mu.Lock()
	delete(r.sessions, registryKey{channel: s.Channel, identity: s.Owner})
	r.mu.Unlock()

	s.setStatus(StatusClosed)
	r.logger.Info("session closed", slog.String("session_id", s.ID))
}

// Count reports the number of live sessions, for the health probe.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

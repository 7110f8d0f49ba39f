package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/prepin/attempt-engine/internal/model"
	"github.com/prepin/attempt-engine/internal/remote"
	"github.com/prepin/attempt-engine/internal/store"
	"github.com/rs/zerolog"
)

// Manager owns the live sessions. It guarantees at most one session — and
// therefore one countdown — exists per attempt ID, and tears every session
// down at shutdown.
type Manager struct {
	store  store.DurableStore
	remote remote.SubmissionService
	cfg    Config
	log    zerolog.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

// NewManager creates a Manager.
func NewManager(st store.DurableStore, authority remote.SubmissionService, cfg Config, log zerolog.Logger) *Manager {
	return &Manager{
		store:    st,
		remote:   authority,
		cfg:      cfg,
		log:      log.With().Str("component", "session_manager").Logger(),
		sessions: make(map[uuid.UUID]*Session),
	}
}

// StartOrAttach returns the live session for the descriptor's attempt,
// starting one (with recovery) if none exists. A second caller for the
// same attempt attaches to the existing session rather than spawning a
// competing countdown. Reports whether the session recovered persisted
// state, only meaningful when this call started it.
func (m *Manager) StartOrAttach(ctx context.Context, desc model.AttemptDescriptor) (*Session, bool, error) {
	m.mu.Lock()
	if existing, ok := m.sessions[desc.AttemptID]; ok {
		m.mu.Unlock()
		return existing, false, nil
	}

	sess := New(desc, m.store, m.remote, m.cfg, m.log)
	sess.SetOnTerminal(m.detach)
	m.sessions[desc.AttemptID] = sess
	m.mu.Unlock()

	recovered, err := sess.Start(ctx)
	if err != nil {
		// A failed expiry-on-start submission leaves the session Failed
		// but attached: it is still recoverable and retryable.
		var subErr *remote.SubmissionError
		if errors.As(err, &subErr) {
			return sess, recovered, err
		}
		m.detach(desc.AttemptID)
		sess.Close()
		return nil, false, err
	}
	return sess, recovered, nil
}

// Get returns the live session for an attempt, if any.
func (m *Manager) Get(attemptID uuid.UUID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[attemptID]
	return sess, ok
}

// detach drops a terminal session from the registry.
func (m *Manager) detach(attemptID uuid.UUID) {
	m.mu.Lock()
	delete(m.sessions, attemptID)
	m.mu.Unlock()
}

// Shutdown suspends every live session: final flush, clocks stopped. The
// durable records stay behind so the next engine start recovers them.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	live := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		live = append(live, sess)
	}
	m.sessions = make(map[uuid.UUID]*Session)
	m.mu.Unlock()

	for _, sess := range live {
		sess.Suspend(ctx)
	}
	if len(live) > 0 {
		m.log.Info().Int("count", len(live)).Msg("Suspended live sessions")
	}
}

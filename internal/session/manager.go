package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wondertwin-ai/safmiles/internal/flight"
	"github.com/wondertwin-ai/safmiles/internal/loyalty"
	"github.com/wondertwin-ai/safmiles/internal/predict"
	"github.com/wondertwin-ai/safmiles/internal/store"
)

// Config configures a Manager.
type Config struct {
	Predictor Predictor
	Notifier  loyalty.Notifier
	Clock     *store.Clock
	Logger    *slog.Logger
	NewID     func() string // defaults to random UUIDs
}

// Manager owns every live session.
type Manager struct {
	sessions  *store.Store[*Session]
	predictor Predictor
	notifier  loyalty.Notifier
	clock     *store.Clock
	logger    *slog.Logger
	newID     func() string
}

// NewManager creates a Manager.
func NewManager(cfg Config) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = store.NewClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Manager{
		sessions:  store.New[*Session]("sess"),
		predictor: cfg.Predictor,
		notifier:  cfg.Notifier,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		newID:     cfg.NewID,
	}
}

// Clock returns the manager's clock.
func (m *Manager) Clock() *store.Clock {
	return m.clock
}

func (m *Manager) newSession(id string) *Session {
	return newSession(id, m.predictor, m.notifier, m.clock.Now, m.logger)
}

// Create starts a new session.
func (m *Manager) Create() *Session {
	s := m.newSession(m.newID())
	m.sessions.Set(s.id, s)
	m.logger.Info("session created", "session_id", s.id)
	return s
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, error) {
	s, ok := m.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Delete ends a session and cancels its in-flight submission.
func (m *Manager) Delete(id string) error {
	s, ok := m.sessions.Get(id)
	if !ok || !m.sessions.Delete(id) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.Close()
	m.logger.Info("session ended", "session_id", id)
	return nil
}

// List returns every session's state in creation order.
func (m *Manager) List() []State {
	sessions := m.sessions.List()
	out := make([]State, len(sessions))
	for i, s := range sessions {
		out[i] = s.State()
	}
	return out
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	return m.sessions.Count()
}

// Sweep ends every session idle for longer than ttl and returns their IDs.
func (m *Manager) Sweep(ttl time.Duration) []string {
	cutoff := m.clock.Now().Add(-ttl)
	var expired []*Session
	ids := m.sessions.DeleteFunc(func(_ string, s *Session) bool {
		if s.idleSince().Before(cutoff) {
			expired = append(expired, s)
			return true
		}
		return false
	})
	for _, s := range expired {
		s.Close()
	}
	if len(ids) > 0 {
		m.logger.Info("expired idle sessions", "count", len(ids), "ttl", ttl)
	}
	return ids
}

// RunSweeper calls Sweep every interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, interval, ttl time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep(ttl)
		}
	}
}

// record is the persisted form of a session in admin snapshots.
type record struct {
	ID         string            `json:"id"`
	History    flight.RawHistory `json:"history"`
	Input      flight.RawInput   `json:"input"`
	Request    *flight.Request   `json:"request,omitempty"`
	Result     *predict.Result   `json:"result,omitempty"`
	Error      string            `json:"error,omitempty"`
	Claimed    bool              `json:"claimed"`
	ClaimedAt  time.Time         `json:"claimed_at"`
	CreatedAt  time.Time         `json:"created_at"`
	LastActive time.Time         `json:"last_active"`
}

type snapshot struct {
	Sessions map[string]record `json:"sessions"`
}

// Snapshot implements admin.StateStore.
func (m *Manager) Snapshot() any {
	snap := snapshot{Sessions: make(map[string]record)}
	for _, st := range m.List() {
		r := record{
			ID:         st.ID,
			History:    st.History,
			Input:      st.Input,
			Request:    st.Request,
			Result:     st.Result,
			Error:      st.Error,
			Claimed:    st.ClaimState == loyalty.Claimed,
			CreatedAt:  st.CreatedAt,
			LastActive: st.LastActive,
		}
		if st.ClaimedAt != nil {
			r.ClaimedAt = *st.ClaimedAt
		}
		snap.Sessions[st.ID] = r
	}
	return snap
}

// LoadState implements admin.StateStore. It replaces every session.
func (m *Manager) LoadState(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}

	loaded := make(map[string]*Session, len(snap.Sessions))
	for id, r := range snap.Sessions {
		if r.ID == "" {
			r.ID = id
		}
		if r.ID != id {
			return fmt.Errorf("session %q: id mismatch %q", id, r.ID)
		}
		s := m.newSession(id)
		s.UpdateHistory(r.History)
		s.input = r.Input
		s.request = r.Request
		s.result = r.Result
		s.lastErr = r.Error
		s.claim.Restore(r.Claimed, r.ClaimedAt)
		if !r.CreatedAt.IsZero() {
			s.createdAt = r.CreatedAt
		}
		if !r.LastActive.IsZero() {
			s.lastActive = r.LastActive
		}
		loaded[id] = s
	}

	for _, s := range m.sessions.List() {
		s.Close()
	}
	m.sessions.LoadSnapshot(loaded)
	return nil
}

// Reset implements admin.StateStore. It ends every session.
func (m *Manager) Reset() {
	for _, s := range m.sessions.List() {
		s.Close()
	}
	m.sessions.Reset()
}

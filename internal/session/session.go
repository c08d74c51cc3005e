// Package session holds the per-user state of the SAF loyalty flow: the
// edited history, the latest prediction, the last error and the claim
// machine. Every mutation recomputes the loyalty view synchronously.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/wondertwin-ai/safmiles/internal/flight"
	"github.com/wondertwin-ai/safmiles/internal/loyalty"
	"github.com/wondertwin-ai/safmiles/internal/predict"
)

var (
	// ErrNotFound is returned for an unknown session ID.
	ErrNotFound = errors.New("session not found")
	// ErrNotEligible is returned when the coin is claimed while the prompt
	// is not showing.
	ErrNotEligible = errors.New("coin not claimable: prompt is not showing")
	// ErrSuperseded is returned to a submission whose response arrived after
	// a newer submission started. Its result is discarded.
	ErrSuperseded = errors.New("submission superseded by a newer one")
)

// Predictor obtains a prediction for a request. *predict.Client implements it.
type Predictor interface {
	Predict(ctx context.Context, req flight.Request) (predict.Result, error)
}

// State is a consistent copy of a session, including its derived view.
type State struct {
	ID         string             `json:"id"`
	History    flight.RawHistory  `json:"history"`
	Input      flight.RawInput    `json:"input"`
	Request    *flight.Request    `json:"request,omitempty"`
	Result     *predict.Result    `json:"result,omitempty"`
	Error      string             `json:"error,omitempty"`
	Pending    bool               `json:"pending"`
	ClaimState loyalty.ClaimState `json:"claim_state"`
	ClaimedAt  *time.Time         `json:"claimed_at,omitempty"`
	View       loyalty.View       `json:"view"`
	CreatedAt  time.Time          `json:"created_at"`
	LastActive time.Time          `json:"last_active"`
}

// Session is one user's loyalty session. It is safe for concurrent use.
type Session struct {
	id        string
	predictor Predictor
	notifier  loyalty.Notifier
	now       func() time.Time
	logger    *slog.Logger

	mu         sync.Mutex
	rawHistory flight.RawHistory
	history    loyalty.History
	input      flight.RawInput
	request    *flight.Request
	result     *predict.Result
	lastErr    string
	claim      *loyalty.ClaimMachine
	seq        uint64
	cancel     context.CancelFunc
	createdAt  time.Time
	lastActive time.Time
}

func newSession(id string, predictor Predictor, notifier loyalty.Notifier, now func() time.Time, logger *slog.Logger) *Session {
	t := now()
	return &Session{
		id:         id,
		predictor:  predictor,
		notifier:   notifier,
		now:        now,
		logger:     logger.With("session_id", id),
		claim:      loyalty.NewClaimMachine(),
		createdAt:  t,
		lastActive: t,
	}
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// View returns the current loyalty view.
func (s *Session) View() loyalty.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// State returns a copy of the session.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) viewLocked() loyalty.View {
	return loyalty.Reduce(s.history, s.result, s.claim.Claimed())
}

func (s *Session) stateLocked() State {
	st := State{
		ID:         s.id,
		History:    s.rawHistory,
		Input:      s.input,
		Error:      s.lastErr,
		Pending:    s.cancel != nil,
		ClaimState: s.claim.State(),
		View:       s.viewLocked(),
		CreatedAt:  s.createdAt,
		LastActive: s.lastActive,
	}
	if s.request != nil {
		req := *s.request
		st.Request = &req
	}
	if s.result != nil {
		res := *s.result
		st.Result = &res
	}
	if s.claim.Claimed() {
		at := s.claim.ClaimedAt()
		st.ClaimedAt = &at
	}
	return st
}

func (s *Session) touchLocked() {
	s.lastActive = s.now()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// UpdateHistory replaces the loyalty history. The text is kept as entered;
// absent or non-numeric values count as 0.
func (s *Session) UpdateHistory(raw flight.RawHistory) State {
	baseline, flights := raw.Counts()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawHistory = raw
	s.history = loyalty.History{BaselineMiles: baseline, FlightsTaken: flights}
	s.touchLocked()
	return s.stateLocked()
}

// Submit normalizes raw, validates it and requests a prediction. A
// validation failure is returned without calling the service. On success the
// result replaces the previous one wholesale; on any failure the previous
// result is kept and the error message recorded.
//
// Starting a submission cancels the one in flight, whose caller then gets
// ErrSuperseded. History edits made while a request is in flight are
// combined with whichever result arrives; the view is always recomputed from
// the current pair.
func (s *Session) Submit(ctx context.Context, raw flight.RawInput) (State, error) {
	req, err := flight.Normalize(raw)
	if err == nil {
		err = flight.Validate(raw, req)
	}
	if err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.input = raw
		s.lastErr = err.Error()
		s.touchLocked()
		return s.stateLocked(), err
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.seq++
	seq := s.seq
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.input = raw
	s.touchLocked()
	s.mu.Unlock()
	defer cancel()

	res, err := s.predictor.Predict(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.seq {
		s.logger.Debug("discarding superseded prediction", "seq", seq, "latest", s.seq)
		return s.stateLocked(), ErrSuperseded
	}
	s.cancel = nil
	s.touchLocked()
	if err != nil {
		s.lastErr = err.Error()
		s.logger.Warn("prediction failed", "error", err)
		return s.stateLocked(), err
	}
	s.request = &req
	s.result = &res
	s.lastErr = ""
	return s.stateLocked(), nil
}

// Claim claims the SAF Coin. It is accepted while the prompt is showing; a
// repeat claim is a no-op that returns a nil Notification. Otherwise it
// fails with ErrNotEligible. The first claim is sent to the notifier; a
// notifier error is logged and does not undo the claim.
func (s *Session) Claim(ctx context.Context) (State, *loyalty.Notification, error) {
	s.mu.Lock()
	v := s.viewLocked()
	if !s.claim.Claimed() && !s.claim.PromptVisible(v) {
		st := s.stateLocked()
		s.mu.Unlock()
		return st, nil, ErrNotEligible
	}
	n := s.claim.Claim(v, s.now())
	if n != nil {
		n.SessionID = s.id
	}
	s.touchLocked()
	st := s.stateLocked()
	s.mu.Unlock()

	if n != nil && s.notifier != nil {
		if err := s.notifier.Notify(ctx, *n); err != nil {
			s.logger.Warn("claim notification failed", "error", err)
		}
	}
	return st, n, nil
}

// Close cancels any in-flight submission.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

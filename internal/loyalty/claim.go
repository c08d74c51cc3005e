package loyalty

import (
	"context"
	"time"
)

// ClaimState is the state of the SAF Coin claim within one session.
type ClaimState string

const (
	// Eligible is the initial state. The prompt may surface while in it.
	Eligible ClaimState = "eligible"
	// Claimed is terminal for the session.
	Claimed ClaimState = "claimed"
)

// ClaimMessage is the acknowledgement shown when the coin is claimed.
const ClaimMessage = "SAF Coin claimed! Ready for next milestone."

// NotificationCoinClaimed is the Notification kind emitted by a claim.
const NotificationCoinClaimed = "coin.claimed"

// Notification is the acknowledgement emitted by the Eligible -> Claimed
// transition. It carries no presentation concerns.
type Notification struct {
	Kind       string    `json:"kind"`
	SessionID  string    `json:"session_id,omitempty"`
	Message    string    `json:"message"`
	TotalMiles float64   `json:"total_miles"`
	ClaimedAt  time.Time `json:"claimed_at"`
}

// Notifier receives claim acknowledgements.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// ClaimMachine tracks whether the coin has been claimed this session. It is
// not safe for concurrent use; the owning session serializes access.
type ClaimMachine struct {
	state     ClaimState
	claimedAt time.Time
}

// NewClaimMachine returns a machine in the Eligible state.
func NewClaimMachine() *ClaimMachine {
	return &ClaimMachine{state: Eligible}
}

// State returns the current state.
func (m *ClaimMachine) State() ClaimState {
	return m.state
}

// Claimed reports whether the coin has been claimed.
func (m *ClaimMachine) Claimed() bool {
	return m.state == Claimed
}

// ClaimedAt returns when the claim happened, or the zero time.
func (m *ClaimMachine) ClaimedAt() time.Time {
	return m.claimedAt
}

// PromptVisible reports whether the prompt should be shown for v. Surfacing
// the prompt is a signal only; the machine stays Eligible.
func (m *ClaimMachine) PromptVisible(v View) bool {
	return m.state == Eligible && v.ShowPrompt
}

// Claim performs the explicit claim action. The first call moves the machine
// to Claimed and returns the acknowledgement; later calls are no-ops and
// return nil. There is no way back to Eligible.
func (m *ClaimMachine) Claim(v View, now time.Time) *Notification {
	if m.state == Claimed {
		return nil
	}
	m.state = Claimed
	m.claimedAt = now
	return &Notification{
		Kind:       NotificationCoinClaimed,
		Message:    ClaimMessage,
		TotalMiles: v.TotalMiles,
		ClaimedAt:  now,
	}
}

// Restore sets the machine state from a snapshot.
func (m *ClaimMachine) Restore(claimed bool, at time.Time) {
	if claimed {
		m.state = Claimed
		m.claimedAt = at
		return
	}
	m.state = Eligible
	m.claimedAt = time.Time{}
}

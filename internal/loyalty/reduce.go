// Package loyalty derives the SAF loyalty view (elite status, milestones,
// coin progress, perks) from a session's history and latest prediction, and
// gates the one-shot SAF Coin prompt.
//
// Two mileage milestones are tracked on purpose: PromptThreshold decides
// when the claim prompt appears, GoalMiles decides when the progress bar is
// full and the coin can be earned. They are kept distinct until the product
// intent is settled; do not fold one into the other.
package loyalty

import (
	"fmt"
	"math"

	"github.com/wondertwin-ai/safmiles/internal/predict"
)

const (
	// EliteFlights is the number of SAF flights that makes a user elite.
	EliteFlights = 10
	// PromptThreshold is the total miles at which the claim prompt may surface.
	PromptThreshold = 20000
	// GoalMiles is the total miles that fills the coin progress bar.
	GoalMiles = 50000
	// PerksThreshold is the total miles that unlocks the Green Perks.
	PerksThreshold = 2000
)

// History is the user-supplied loyalty history, edited between submissions.
type History struct {
	BaselineMiles int64 `json:"baseline_miles"`
	FlightsTaken  int64 `json:"flights_taken"`
}

// View is the derived loyalty state. It is recomputed on every change and
// never stored.
type View struct {
	HasResult              bool    `json:"has_result"`
	TotalMiles             float64 `json:"total_miles"`
	IsElite                bool    `json:"is_elite"`
	FlightsToElite         int64   `json:"flights_to_elite"`
	ReachedPromptThreshold bool    `json:"reached_prompt_threshold"`
	ReachedProgressGoal    bool    `json:"reached_progress_goal"`
	ProgressPercent        float64 `json:"progress_percent"`
	ProgressLabel          string  `json:"progress_label"`
	CanEarnCoin            bool    `json:"can_earn_coin"`
	PerksUnlocked          bool    `json:"perks_unlocked"`
	Perks                  []Perk  `json:"perks,omitempty"`
	ShowPrompt             bool    `json:"show_prompt"`
}

// Reduce computes the loyalty view. A nil result means no prediction has been
// received yet: every figure is zero and every flag is false. Reduce has no
// side effects and returns equal views for equal inputs.
func Reduce(h History, result *predict.Result, claimed bool) View {
	if result == nil {
		return View{}
	}

	total := float64(h.BaselineMiles) + result.SAFMiles
	elite := h.FlightsTaken >= EliteFlights

	v := View{
		HasResult:              true,
		TotalMiles:             total,
		IsElite:                elite,
		FlightsToElite:         max(0, EliteFlights-h.FlightsTaken),
		ReachedPromptThreshold: total >= PromptThreshold,
		ReachedProgressGoal:    total >= GoalMiles,
		ProgressPercent:        progressPercent(total),
		PerksUnlocked:          total >= PerksThreshold,
	}
	v.CanEarnCoin = v.ReachedProgressGoal && v.IsElite
	v.ShowPrompt = v.ReachedPromptThreshold && v.IsElite && !claimed

	if v.CanEarnCoin {
		v.ProgressLabel = "MAX"
	} else {
		v.ProgressLabel = fmt.Sprintf("%.1f%%", v.ProgressPercent)
	}
	if v.PerksUnlocked {
		v.Perks = GreenPerks()
	}
	return v
}

// progressPercent rounds total/GoalMiles to one decimal place and caps the
// result to [0, 100].
func progressPercent(total float64) float64 {
	pct := math.Round(total/GoalMiles*1000) / 10
	return math.Min(100, math.Max(0, pct))
}

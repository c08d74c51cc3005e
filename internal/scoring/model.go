package scoring

import (
	"math"

	"github.com/wondertwin-ai/safmiles/internal/flight"
)

// Features are the model inputs for one prediction.
type Features struct {
	Tier          flight.Tier
	Cabin         flight.Cabin
	Route         flight.Route
	DistanceKM    float64
	Premium       float64
	SAFBlend      float64
	UncappedMiles float64
}

// Model scores the probability that a passenger opts into SAF.
type Model interface {
	Score(f Features) float64
}

// RuleModel approximates the opt-in rule the production model was trained
// on: a passenger opts in when the premium is at most PremiumCeiling, or when
// they are Gold and the uncapped reward reaches GoldMiles. Each branch is a
// logistic curve so scores near a boundary are uncertain.
type RuleModel struct {
	PremiumCeiling float64
	PremiumSlope   float64
	GoldMiles      float64
	MilesScale     float64
}

// DefaultModel returns the RuleModel with the training-rule thresholds.
func DefaultModel() RuleModel {
	return RuleModel{
		PremiumCeiling: 27.5,
		PremiumSlope:   0.8,
		GoldMiles:      3000,
		MilesScale:     250,
	}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Score implements Model.
func (m RuleModel) Score(f Features) float64 {
	cheap := sigmoid(m.PremiumSlope * (m.PremiumCeiling - f.Premium))
	var loyal float64
	if f.Tier == flight.TierGold {
		loyal = sigmoid((f.UncappedMiles - m.GoldMiles) / m.MilesScale)
	}
	// either branch is enough
	return 1 - (1-cheap)*(1-loyal)
}

// ModelFunc adapts a function to Model.
type ModelFunc func(Features) float64

// Score implements Model.
func (fn ModelFunc) Score(f Features) float64 { return fn(f) }

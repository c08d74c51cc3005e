// Package scoring is a local stand-in for the remote SAF scoring service. It
// serves the /predict contract with the fixed reward formulas and a
// deterministic probability model, and keeps a log of every prediction.
package scoring

import "math"

// Reward formula coefficients.
const (
	milesPerDollar  = 100.0
	blendWeight     = 0.5
	distanceWeight  = 0.3
	scarcityRate    = 0.002
	fuelBurnKG      = 36056.0
	co2PerFuelKG    = 2.66
	redemptionValue = 0.005
	milesCost       = 0.004
)

// UncappedMiles is the reward before the scarcity rate is applied.
func UncappedMiles(premium, safBlend, distanceKM float64) float64 {
	return milesPerDollar * premium * (1 + blendWeight*safBlend + distanceWeight*(distanceKM/10000))
}

// SAFMiles is the whole number of miles awarded, truncated toward zero.
func SAFMiles(premium, safBlend, distanceKM float64) int64 {
	return int64(UncappedMiles(premium, safBlend, distanceKM) * scarcityRate)
}

// CO2Reduction is the kilograms of CO2 avoided on a reference fuel burn,
// rounded half to even.
func CO2Reduction(safBlend float64) float64 {
	return math.RoundToEven(fuelBurnKG * safBlend * co2PerFuelKG)
}

// NetPrice is the premium less the value of the miles earned.
func NetPrice(premium float64, safMiles int64) float64 {
	return round(premium-redemptionValue*float64(safMiles), 2)
}

// Profit is the premium less the cost of the miles issued.
func Profit(premium float64, safMiles int64) float64 {
	return round(premium-milesCost*float64(safMiles), 2)
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

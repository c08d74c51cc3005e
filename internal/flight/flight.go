// Package flight defines the flight attributes sent to the scoring service
// and the normalizer that turns raw user-entered fields into a Request.
package flight

import "fmt"

// Tier is the passenger's loyalty tier.
type Tier string

const (
	TierGold   Tier = "Gold"
	TierSilver Tier = "Silver"
	TierNone   Tier = "None"
)

// Cabin is the booked cabin class.
type Cabin string

const (
	CabinBusiness Cabin = "Business"
	CabinEconomy  Cabin = "Economy"
)

// Route is one of the supported origin-destination pairs.
type Route string

const (
	RouteLHR Route = "HKG-LHR"
	RouteSIN Route = "HKG-SIN"
	RouteJFK Route = "HKG-JFK"
	RouteSYD Route = "HKG-SYD"
	RouteBKK Route = "HKG-BKK"
)

// Tiers, Cabins and Routes list the selectable values in display order.
var (
	Tiers  = []Tier{TierGold, TierSilver, TierNone}
	Cabins = []Cabin{CabinBusiness, CabinEconomy}
	Routes = []Route{RouteLHR, RouteSIN, RouteJFK, RouteSYD, RouteBKK}
)

// routeDistances holds the great-circle distance used for each route.
var routeDistances = map[Route]float64{
	RouteLHR: 9600,
	RouteSIN: 2560,
	RouteJFK: 12970,
	RouteSYD: 7390,
	RouteBKK: 1690,
}

// Declared bounds of the numeric inputs.
const (
	MinDistanceKM = 1000.0
	MaxDistanceKM = 15000.0
	MinPremium    = 0.0
	MinSAFBlend   = 0.1
	MaxSAFBlend   = 0.3
)

// Request is the normalized set of flight attributes. It is built once per
// submission and never mutated after it is sent.
type Request struct {
	Tier       Tier    `json:"tier" yaml:"tier"`
	Cabin      Cabin   `json:"cabin" yaml:"cabin"`
	Route      Route   `json:"route" yaml:"route"`
	DistanceKM float64 `json:"distance_km" yaml:"distance_km"`
	Premium    float64 `json:"premium" yaml:"premium"`
	SAFBlend   float64 `json:"saf_blend" yaml:"saf_blend"`
}

// ParseTier returns the Tier named by s.
func ParseTier(s string) (Tier, error) {
	for _, t := range Tiers {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTier, s)
}

// ParseCabin returns the Cabin named by s.
func ParseCabin(s string) (Cabin, error) {
	for _, c := range Cabins {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCabin, s)
}

// ParseRoute returns the Route named by s.
func ParseRoute(s string) (Route, error) {
	for _, r := range Routes {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRoute, s)
}

// DefaultDistance returns the route's distance in km, or 0 for an unknown route.
func DefaultDistance(r Route) float64 {
	return routeDistances[r]
}

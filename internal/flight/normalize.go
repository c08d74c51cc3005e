package flight

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	ErrInvalidTier  = errors.New("invalid tier")
	ErrInvalidCabin = errors.New("invalid cabin")
	ErrInvalidRoute = errors.New("invalid route")
)

// RawInput holds the flight fields exactly as the user entered them.
type RawInput struct {
	Tier       string `json:"tier"`
	Cabin      string `json:"cabin"`
	Route      string `json:"route"`
	DistanceKM string `json:"distance_km"`
	Premium    string `json:"premium"`
	SAFBlend   string `json:"saf_blend"`
}

// RawHistory holds the loyalty history fields as entered. The text is kept
// for redisplay; Counts gives the values used for computation.
type RawHistory struct {
	BaselineMiles string `json:"baseline_miles"`
	FlightsTaken  string `json:"flights_taken"`
}

// Counts returns the parsed baseline miles and flights taken. Absent or
// non-numeric text counts as 0.
func (h RawHistory) Counts() (baselineMiles, flightsTaken int64) {
	return ParseCount(h.BaselineMiles), ParseCount(h.FlightsTaken)
}

// FieldError describes one rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every field that kept a request from being built or
// sent.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// ParseNumber parses a decimal field. Text that is empty, non-numeric, NaN or
// infinite leaves the field unset (ok=false) instead of producing NaN.
func ParseNumber(s string) (v float64, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ParseCount parses a non-negative integer count. Fractions are truncated;
// absent, non-numeric or negative text yields 0.
func ParseCount(s string) int64 {
	f, ok := ParseNumber(s)
	if !ok || f < 0 {
		return 0
	}
	if f > math.MaxInt64/2 {
		return math.MaxInt64 / 2
	}
	return int64(f)
}

// Normalize builds a Request from raw input. Enumerated fields must name a
// known value. Unset numeric fields are coerced to 0; their ranges are not
// checked here (see Validate).
func Normalize(raw RawInput) (Request, error) {
	var verr ValidationError
	var req Request
	var err error

	if req.Tier, err = ParseTier(strings.TrimSpace(raw.Tier)); err != nil {
		verr.add("tier", "must be one of %v", Tiers)
	}
	if req.Cabin, err = ParseCabin(strings.TrimSpace(raw.Cabin)); err != nil {
		verr.add("cabin", "must be one of %v", Cabins)
	}
	if req.Route, err = ParseRoute(strings.TrimSpace(raw.Route)); err != nil {
		verr.add("route", "must be one of %v", Routes)
	}

	req.DistanceKM, _ = ParseNumber(raw.DistanceKM)
	req.Premium, _ = ParseNumber(raw.Premium)
	req.SAFBlend, _ = ParseNumber(raw.SAFBlend)

	if err := verr.orNil(); err != nil {
		return Request{}, err
	}
	return req, nil
}

// Validate enforces the declared bounds at the input boundary. A request that
// fails here is never submitted.
func Validate(raw RawInput, req Request) error {
	var verr ValidationError

	if _, ok := ParseNumber(raw.DistanceKM); !ok {
		verr.add("distance_km", "is required")
	} else if req.DistanceKM < MinDistanceKM || req.DistanceKM > MaxDistanceKM {
		verr.add("distance_km", "must be between %g and %g", MinDistanceKM, MaxDistanceKM)
	}

	if _, ok := ParseNumber(raw.Premium); !ok {
		verr.add("premium", "is required")
	} else if req.Premium < MinPremium {
		verr.add("premium", "must not be negative")
	}

	if _, ok := ParseNumber(raw.SAFBlend); !ok {
		verr.add("saf_blend", "is required")
	} else if req.SAFBlend < MinSAFBlend || req.SAFBlend > MaxSAFBlend {
		verr.add("saf_blend", "must be between %g and %g", MinSAFBlend, MaxSAFBlend)
	}

	return verr.orNil()
}

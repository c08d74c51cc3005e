package scoring

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/wondertwin-ai/safmiles/internal/flight"
	"github.com/wondertwin-ai/safmiles/internal/store"
)

// PredictRequest is the /predict body. CurrentSAFMiles and SAFFlightsTaken
// are optional and only echoed back.
type PredictRequest struct {
	Tier            string  `json:"tier"`
	Cabin           string  `json:"cabin"`
	Route           string  `json:"route"`
	DistanceKM      float64 `json:"distance_km"`
	Premium         float64 `json:"premium"`
	SAFBlend        float64 `json:"saf_blend"`
	CurrentSAFMiles float64 `json:"current_saf_miles"`
	SAFFlightsTaken float64 `json:"saf_flights_taken"`
}

// PredictResponse is the /predict reply.
type PredictResponse struct {
	Probability     float64        `json:"probability"`
	SAFMiles        int64          `json:"saf_miles"`
	CO2Reduction    float64        `json:"co2_reduction"`
	NetPrice        float64        `json:"net_price"`
	Profit          float64        `json:"profit"`
	CurrentSAFMiles float64        `json:"current_saf_miles"`
	SelectedInputs  PredictRequest `json:"selectedInputs"`
}

// LogEntry is one row of the prediction log.
type LogEntry struct {
	ID        string      `json:"id"`
	Tier      flight.Tier `json:"tier"`
	Premium   float64     `json:"premium"`
	SAFMiles  int64       `json:"saf_miles"`
	ChoseSAF  bool        `json:"chose_saf"`
	CreatedAt time.Time   `json:"created_at"`
}

// Service computes predictions and records them.
type Service struct {
	model  Model
	log    *store.Store[LogEntry]
	clock  *store.Clock
	logger *slog.Logger
}

// NewService creates a Service. A nil model uses DefaultModel; a nil clock
// uses the wall clock.
func NewService(model Model, clock *store.Clock, logger *slog.Logger) *Service {
	if model == nil {
		model = DefaultModel()
	}
	if clock == nil {
		clock = store.NewClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		model:  model,
		log:    store.New[LogEntry]("pred"),
		clock:  clock,
		logger: logger,
	}
}

// Clock returns the service clock.
func (s *Service) Clock() *store.Clock {
	return s.clock
}

// Predict scores req and appends the outcome to the log. Unknown enum values
// are rejected with a *flight.ValidationError.
func (s *Service) Predict(req PredictRequest) (PredictResponse, error) {
	var verr flight.ValidationError
	tier, err := flight.ParseTier(req.Tier)
	if err != nil {
		verr.Fields = append(verr.Fields, flight.FieldError{Field: "tier", Message: err.Error()})
	}
	cabin, err := flight.ParseCabin(req.Cabin)
	if err != nil {
		verr.Fields = append(verr.Fields, flight.FieldError{Field: "cabin", Message: err.Error()})
	}
	route, err := flight.ParseRoute(req.Route)
	if err != nil {
		verr.Fields = append(verr.Fields, flight.FieldError{Field: "route", Message: err.Error()})
	}
	if len(verr.Fields) > 0 {
		return PredictResponse{}, &verr
	}

	miles := SAFMiles(req.Premium, req.SAFBlend, req.DistanceKM)
	score := s.model.Score(Features{
		Tier:          tier,
		Cabin:         cabin,
		Route:         route,
		DistanceKM:    req.DistanceKM,
		Premium:       req.Premium,
		SAFBlend:      req.SAFBlend,
		UncappedMiles: UncappedMiles(req.Premium, req.SAFBlend, req.DistanceKM),
	})
	if math.IsNaN(score) {
		return PredictResponse{}, fmt.Errorf("model returned NaN")
	}
	prob := round(math.Min(1, math.Max(0, score)), 3)

	entry := LogEntry{
		ID:        s.log.NextID(),
		Tier:      tier,
		Premium:   req.Premium,
		SAFMiles:  miles,
		ChoseSAF:  prob > 0.5,
		CreatedAt: s.clock.Now().UTC(),
	}
	s.log.Set(entry.ID, entry)
	s.logger.Debug("prediction", "id", entry.ID, "tier", tier, "premium", req.Premium, "saf_miles", miles, "probability", prob)

	return PredictResponse{
		Probability:     prob,
		SAFMiles:        miles,
		CO2Reduction:    CO2Reduction(req.SAFBlend),
		NetPrice:        NetPrice(req.Premium, miles),
		Profit:          Profit(req.Premium, miles),
		CurrentSAFMiles: req.CurrentSAFMiles + float64(miles),
		SelectedInputs:  req,
	}, nil
}

// Predictions pages the prediction log.
func (s *Service) Predictions(cursor string, limit int) store.Page[LogEntry] {
	return s.log.Paginate(cursor, limit)
}

// stateSnapshot is the admin state document.
type stateSnapshot struct {
	Predictions map[string]LogEntry `json:"predictions"`
}

// Snapshot implements admin.StateStore.
func (s *Service) Snapshot() any {
	return stateSnapshot{Predictions: s.log.Snapshot()}
}

// LoadState implements admin.StateStore.
func (s *Service) LoadState(data []byte) error {
	var snap stateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}
	if snap.Predictions == nil {
		snap.Predictions = map[string]LogEntry{}
	}
	s.log.LoadSnapshot(snap.Predictions)
	return nil
}

// Reset implements admin.StateStore.
func (s *Service) Reset() {
	s.log.Reset()
}

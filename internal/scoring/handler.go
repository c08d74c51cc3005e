package scoring

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wondertwin-ai/safmiles/internal/admin"
	"github.com/wondertwin-ai/safmiles/internal/flight"
	"github.com/wondertwin-ai/safmiles/internal/server"
)

// Handler serves the scoring endpoints.
type Handler struct {
	svc *Service
	mw  *server.Middleware
}

// NewHandler creates a Handler. mw supplies per-path fault injection.
func NewHandler(svc *Service, mw *server.Middleware) *Handler {
	return &Handler{svc: svc, mw: mw}
}

// Routes mounts the scoring endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.mw.FaultInjection)
		r.Get("/", h.Root)
		r.Get("/health", h.Health)
		r.Post("/predict", h.Predict)
		r.Get("/predictions", h.ListPredictions)
	})
}

// NewServer assembles a scoring server: base middleware, scoring routes and
// the admin plane.
func NewServer(cfg *server.Config, svc *Service) *server.Server {
	srv := server.New(cfg, svc.logger)
	NewHandler(svc, srv.Middleware()).Routes(srv.Router)

	ah := admin.NewHandler(svc, srv.Middleware(), svc.Clock())
	ah.SetConfigProvider(srv)
	ah.Routes(srv.Router)
	return srv
}

// Root handles GET /.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	server.JSON(w, http.StatusOK, map[string]string{"message": "Welcome to SAF Miles Predictor"})
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	server.JSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Predict handles POST /predict.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	resp, err := h.svc.Predict(req)
	if err != nil {
		var verr *flight.ValidationError
		if errors.As(err, &verr) {
			server.JSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":          server.NewErrorBody(http.StatusUnprocessableEntity, verr.Error()),
				"fields":         verr.Fields,
				"selectedInputs": req,
			})
			return
		}
		server.Error(w, http.StatusInternalServerError, "Internal Error: "+err.Error())
		return
	}
	server.JSON(w, http.StatusOK, resp)
}

// ListPredictions handles GET /predictions?cursor=&limit=.
func (h *Handler) ListPredictions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			server.Error(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	server.JSON(w, http.StatusOK, h.svc.Predictions(r.URL.Query().Get("cursor"), limit))
}

package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wondertwin-ai/safmiles/internal/flight"
	"github.com/wondertwin-ai/safmiles/internal/loyalty"
	"github.com/wondertwin-ai/safmiles/internal/predict"
	"github.com/wondertwin-ai/safmiles/internal/server"
	"github.com/wondertwin-ai/safmiles/internal/session"
)

// rawText accepts a JSON string or number and keeps it as entered.
type rawText string

func (t *rawText) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = rawText(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("must be a string or number")
	}
	*t = rawText(n.String())
	return nil
}

type historyBody struct {
	BaselineMiles rawText `json:"baseline_miles"`
	FlightsTaken  rawText `json:"flights_taken"`
}

func (b historyBody) raw() flight.RawHistory {
	return flight.RawHistory{
		BaselineMiles: string(b.BaselineMiles),
		FlightsTaken:  string(b.FlightsTaken),
	}
}

type flightBody struct {
	Tier       rawText `json:"tier"`
	Cabin      rawText `json:"cabin"`
	Route      rawText `json:"route"`
	DistanceKM rawText `json:"distance_km"`
	Premium    rawText `json:"premium"`
	SAFBlend   rawText `json:"saf_blend"`
}

func (b flightBody) raw() flight.RawInput {
	return flight.RawInput{
		Tier:       string(b.Tier),
		Cabin:      string(b.Cabin),
		Route:      string(b.Route),
		DistanceKM: string(b.DistanceKM),
		Premium:    string(b.Premium),
		SAFBlend:   string(b.SAFBlend),
	}
}

// decode reads an optional JSON body into v. An empty body leaves v unchanged.
func decode(r *http.Request, v any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}

// errorResponse is the error body for failures that still report the
// session, so the caller can keep showing its view.
type errorResponse struct {
	Error   server.ErrorBody    `json:"error"`
	Fields  []flight.FieldError `json:"fields,omitempty"`
	Session *session.State      `json:"session,omitempty"`
}

func writeSessionError(w http.ResponseWriter, status int, err error, st *session.State) {
	resp := errorResponse{Error: server.NewErrorBody(status, err.Error()), Session: st}
	var verr *flight.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = verr.Fields
	}
	server.JSON(w, status, resp)
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		server.Error(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return s, true
}

// ListSessions handles GET /v1/sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	server.JSON(w, http.StatusOK, map[string]any{"data": h.sessions.List()})
}

// CreateSession handles POST /v1/sessions. The body may carry an initial
// history.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var body historyBody
	if err := decode(r, &body); err != nil {
		server.Error(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	s := h.sessions.Create()
	server.JSON(w, http.StatusCreated, s.UpdateHistory(body.raw()))
}

// GetSession handles GET /v1/sessions/{id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	server.JSON(w, http.StatusOK, s.State())
}

// DeleteSession handles DELETE /v1/sessions/{id}.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(chi.URLParam(r, "id")); err != nil {
		server.Error(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateHistory handles PUT /v1/sessions/{id}/history.
func (h *Handler) UpdateHistory(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var body historyBody
	if err := decode(r, &body); err != nil {
		server.Error(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	server.JSON(w, http.StatusOK, s.UpdateHistory(body.raw()))
}

// Submit handles POST /v1/sessions/{id}/predictions.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var body flightBody
	if err := decode(r, &body); err != nil {
		server.Error(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	st, err := s.Submit(r.Context(), body.raw())
	switch {
	case err == nil:
		server.JSON(w, http.StatusOK, st)
	case errors.Is(err, session.ErrSuperseded):
		writeSessionError(w, http.StatusConflict, err, &st)
	case errors.Is(err, predict.ErrNetwork), errors.Is(err, predict.ErrService):
		writeSessionError(w, http.StatusBadGateway, err, &st)
	default:
		var verr *flight.ValidationError
		if errors.As(err, &verr) {
			writeSessionError(w, http.StatusUnprocessableEntity, err, &st)
			return
		}
		h.logger.Error("submission failed", "session_id", s.ID(), "error", err)
		writeSessionError(w, http.StatusInternalServerError, err, &st)
	}
}

type claimResponse struct {
	Session      session.State         `json:"session"`
	Notification *loyalty.Notification `json:"notification"`
}

// Claim handles POST /v1/sessions/{id}/claim.
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	st, n, err := s.Claim(r.Context())
	if err != nil {
		writeSessionError(w, http.StatusConflict, err, &st)
		return
	}
	server.JSON(w, http.StatusOK, claimResponse{Session: st, Notification: n})
}

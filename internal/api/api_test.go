package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wondertwin-ai/safmiles/internal/admin"
	"github.com/wondertwin-ai/safmiles/internal/loyalty"
	"github.com/wondertwin-ai/safmiles/internal/predict"
	"github.com/wondertwin-ai/safmiles/internal/scoring"
	"github.com/wondertwin-ai/safmiles/internal/server"
	"github.com/wondertwin-ai/safmiles/internal/session"
	"github.com/wondertwin-ai/safmiles/internal/store"
	"github.com/wondertwin-ai/safmiles/internal/testutil"
	"github.com/wondertwin-ai/safmiles/internal/webhook"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	api        *testutil.Client
	apiAdmin   *testutil.AdminClient
	scoring    *testutil.Client
	scoreAdmin *testutil.AdminClient
	manager    *session.Manager
}

// newHarness starts a scoring server and a session API that predicts
// against it. notifier and flusher may be nil.
func newHarness(t *testing.T, notifier loyalty.Notifier, flusher admin.WebhookFlusher) *harness {
	t.Helper()
	logger := quietLogger()

	svc := scoring.NewService(nil, store.NewClock(), logger)
	scoreSrv := httptest.NewServer(scoring.NewServer(&server.Config{Name: "scoring"}, svc))
	t.Cleanup(scoreSrv.Close)

	mgr := session.NewManager(session.Config{
		Predictor: predict.New(predict.Config{BaseURL: scoreSrv.URL, Timeout: 5 * time.Second, Logger: logger}),
		Notifier:  notifier,
		Logger:    logger,
	})

	apiSrv := httptest.NewServer(NewServer(&server.Config{Name: "safmiles"}, mgr, flusher, logger))
	t.Cleanup(apiSrv.Close)

	api := testutil.NewClient(t, apiSrv)
	sc := testutil.NewClient(t, scoreSrv)
	return &harness{
		api:        api,
		apiAdmin:   testutil.NewAdminClient(api),
		scoring:    sc,
		scoreAdmin: testutil.NewAdminClient(sc),
		manager:    mgr,
	}
}

// lhrFlight yields 6 SAF miles from the default model.
func lhrFlight(premium string) map[string]any {
	return map[string]any{
		"tier":        "Gold",
		"cabin":       "Business",
		"route":       "HKG-LHR",
		"distance_km": 9600,
		"premium":     premium,
		"saf_blend":   "0.2",
	}
}

func createSession(t *testing.T, h *harness, history map[string]any) session.State {
	t.Helper()
	var st session.State
	h.api.Post("/v1/sessions", history).AssertStatus(http.StatusCreated).JSON(&st)
	require.NotEmpty(t, st.ID)
	return st
}

type claimBody struct {
	Session      session.State         `json:"session"`
	Notification *loyalty.Notification `json:"notification"`
}

type failureBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
	Fields  []map[string]string `json:"fields"`
	Session *session.State      `json:"session"`
}

func TestCreateSessionEmpty(t *testing.T) {
	h := newHarness(t, nil, nil)

	var st session.State
	h.api.Post("/v1/sessions", nil).AssertStatus(http.StatusCreated).JSON(&st)

	assert.NotEmpty(t, st.ID)
	assert.False(t, st.View.HasResult)
	assert.Equal(t, loyalty.Eligible, st.ClaimState)
	assert.Nil(t, st.Result)
}

func TestCreateSessionKeepsHistoryText(t *testing.T) {
	h := newHarness(t, nil, nil)

	st := createSession(t, h, map[string]any{"baseline_miles": 12000, "flights_taken": "3 "})
	assert.Equal(t, "12000", st.History.BaselineMiles)
	assert.Equal(t, "3 ", st.History.FlightsTaken)
}

func TestCreateSessionInvalidJSON(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.api.PostRaw("/v1/sessions", "{not json").AssertStatus(http.StatusBadRequest)
}

func TestGetAndListSessions(t *testing.T) {
	h := newHarness(t, nil, nil)
	a := createSession(t, h, nil)
	createSession(t, h, nil)

	var got session.State
	h.api.Get("/v1/sessions/" + a.ID).AssertStatus(http.StatusOK).JSON(&got)
	assert.Equal(t, a.ID, got.ID)

	var list struct {
		Data []session.State `json:"data"`
	}
	h.api.Get("/v1/sessions").AssertStatus(http.StatusOK).JSON(&list)
	require.Len(t, list.Data, 2)
	assert.Equal(t, a.ID, list.Data[0].ID)
}

func TestUnknownSession(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.api.Get("/v1/sessions/nope").AssertStatus(http.StatusNotFound)
	h.api.Put("/v1/sessions/nope/history", map[string]any{}).AssertStatus(http.StatusNotFound)
	h.api.Post("/v1/sessions/nope/predictions", lhrFlight("25")).AssertStatus(http.StatusNotFound)
	h.api.Post("/v1/sessions/nope/claim", nil).AssertStatus(http.StatusNotFound)
	h.api.Delete("/v1/sessions/nope").AssertStatus(http.StatusNotFound)
}

func TestDeleteSession(t *testing.T) {
	h := newHarness(t, nil, nil)
	st := createSession(t, h, nil)

	h.api.Delete("/v1/sessions/" + st.ID).AssertStatus(http.StatusNoContent)
	h.api.Get("/v1/sessions/" + st.ID).AssertStatus(http.StatusNotFound)
	assert.Equal(t, 0, h.manager.Count())
}

func TestPredictionFlow(t *testing.T) {
	h := newHarness(t, nil, nil)
	st := createSession(t, h, map[string]any{"baseline_miles": "19995", "flights_taken": "10"})

	var got session.State
	h.api.Post("/v1/sessions/"+st.ID+"/predictions", lhrFlight("25")).
		AssertStatus(http.StatusOK).JSON(&got)

	require.NotNil(t, got.Result)
	assert.Equal(t, 6.0, got.Result.SAFMiles)
	assert.InDelta(t, 24.97, got.Result.NetPrice, 1e-9)
	assert.InDelta(t, 24.98, got.Result.Profit, 1e-9)
	assert.Empty(t, got.Error)
	assert.False(t, got.Pending)

	v := got.View
	assert.True(t, v.HasResult)
	assert.Equal(t, 20001.0, v.TotalMiles)
	assert.True(t, v.IsElite)
	assert.True(t, v.ReachedPromptThreshold)
	assert.False(t, v.ReachedProgressGoal)
	assert.InDelta(t, 40.0, v.ProgressPercent, 1e-9)
	assert.True(t, v.PerksUnlocked)
	assert.True(t, v.ShowPrompt)
	assert.False(t, v.CanEarnCoin)

	// The scoring server saw the normalized request.
	var preds struct {
		Data []map[string]any `json:"data"`
	}
	h.scoring.Get("/predictions").AssertStatus(http.StatusOK).JSON(&preds)
	assert.Len(t, preds.Data, 1)
}

func TestHistoryEditRecomputesView(t *testing.T) {
	h := newHarness(t, nil, nil)
	st := createSession(t, h, map[string]any{"baseline_miles": "19995", "flights_taken": "9"})

	var got session.State
	h.api.Post("/v1/sessions/"+st.ID+"/predictions", lhrFlight("25")).
		AssertStatus(http.StatusOK).JSON(&got)
	assert.False(t, got.View.IsElite)
	assert.False(t, got.View.ShowPrompt)
	assert.Equal(t, int64(1), got.View.FlightsToElite)

	h.api.Put("/v1/sessions/"+st.ID+"/history", map[string]any{"baseline_miles": "19995", "flights_taken": 10}).
		AssertStatus(http.StatusOK).JSON(&got)
	assert.True(t, got.View.IsElite)
	assert.True(t, got.View.ShowPrompt)
	assert.Equal(t, int64(0), got.View.FlightsToElite)
}

func TestSubmitValidationFailure(t *testing.T) {
	h := newHarness(t, nil, nil)
	st := createSession(t, h, nil)

	body := lhrFlight("-1")
	body["tier"] = "Platinum"

	var fail failureBody
	h.api.Post("/v1/sessions/"+st.ID+"/predictions", body).
		AssertStatus(http.StatusUnprocessableEntity).JSON(&fail)

	assert.Contains(t, fail.Error.Message, "validation failed")
	fields := make([]string, len(fail.Fields))
	for i, f := range fail.Fields {
		fields[i] = f["field"]
	}
	assert.Equal(t, []string{"tier"}, fields)
	require.NotNil(t, fail.Session)
	assert.Nil(t, fail.Session.Result)

	// Nothing reached the scoring server.
	var preds struct {
		Data []map[string]any `json:"data"`
	}
	h.scoring.Get("/predictions").JSON(&preds)
	assert.Empty(t, preds.Data)
}

func TestSubmitBoundsFailure(t *testing.T) {
	h := newHarness(t, nil, nil)
	st := createSession(t, h, nil)

	body := lhrFlight("-1")
	body["saf_blend"] = "2"

	var fail failureBody
	h.api.Post("/v1/sessions/"+st.ID+"/predictions", body).
		AssertStatus(http.StatusUnprocessableEntity).JSON(&fail)
	require.Len(t, fail.Fields, 2)
	assert.Equal(t, "premium", fail.Fields[0]["field"])
	assert.Equal(t, "saf_blend", fail.Fields[1]["field"])
}

func TestServiceFailureKeepsPreviousResult(t *testing.T) {
	h := newHarness(t, nil, nil)
	st := createSession(t, h, map[string]any{"baseline_miles": "19995", "flights_taken": "10"})

	var first session.State
	h.api.Post("/v1/sessions/"+st.ID+"/predictions", lhrFlight("25")).
		AssertStatus(http.StatusOK).JSON(&first)
	require.NotNil(t, first.Result)

	h.scoreAdmin.InjectFault("predict", map[string]any{"status_code": 503}).AssertStatus(http.StatusOK)

	var fail failureBody
	h.api.Post("/v1/sessions/"+st.ID+"/predictions", lhrFlight("90")).
		AssertStatus(http.StatusBadGateway).JSON(&fail)
	assert.NotEmpty(t, fail.Error.Message)
	require.NotNil(t, fail.Session)
	assert.Equal(t, first.Result, fail.Session.Result)
	assert.Equal(t, first.Request, fail.Session.Request)
	assert.Equal(t, first.View, fail.Session.View)
	assert.Equal(t, "90", fail.Session.Input.Premium)
	assert.NotEmpty(t, fail.Session.Error)

	// A later success clears the error.
	h.scoreAdmin.RemoveFault("predict").AssertStatus(http.StatusOK)
	var got session.State
	h.api.Post("/v1/sessions/"+st.ID+"/predictions", lhrFlight("25")).
		AssertStatus(http.StatusOK).JSON(&got)
	assert.Empty(t, got.Error)
}

func TestNetworkFailure(t *testing.T) {
	logger := quietLogger()
	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()

	mgr := session.NewManager(session.Config{
		Predictor: predict.New(predict.Config{BaseURL: url, Timeout: time.Second, Logger: logger}),
		Logger:    logger,
	})
	apiSrv := httptest.NewServer(NewServer(&server.Config{Name: "safmiles"}, mgr, nil, logger))
	t.Cleanup(apiSrv.Close)
	c := testutil.NewClient(t, apiSrv)

	var st session.State
	c.Post("/v1/sessions", nil).AssertStatus(http.StatusCreated).JSON(&st)

	var fail failureBody
	c.Post("/v1/sessions/"+st.ID+"/predictions", lhrFlight("25")).
		AssertStatus(http.StatusBadGateway).JSON(&fail)
	require.NotNil(t, fail.Session)
	assert.Nil(t, fail.Session.Result)
	assert.False(t, fail.Session.View.HasResult)
}

func TestClaimFlow(t *testing.T) {
	h := newHarness(t, nil, nil)
	st := createSession(t, h, map[string]any{"baseline_miles": "19995", "flights_taken": "10"})

	// Not eligible before any prediction.
	h.api.Post("/v1/sessions/"+st.ID+"/claim", nil).AssertStatus(http.StatusConflict)

	h.api.Post("/v1/sessions/"+st.ID+"/predictions", lhrFlight("25")).AssertStatus(http.StatusOK)

	var first claimBody
	h.api.Post("/v1/sessions/"+st.ID+"/claim", nil).AssertStatus(http.StatusOK).JSON(&first)
	require.NotNil(t, first.Notification)
	assert.Equal(t, loyalty.NotificationCoinClaimed, first.Notification.Kind)
	assert.Equal(t, loyalty.ClaimMessage, first.Notification.Message)
	assert.Equal(t, st.ID, first.Notification.SessionID)
	assert.Equal(t, 20001.0, first.Notification.TotalMiles)
	assert.Equal(t, loyalty.Claimed, first.Session.ClaimState)
	assert.False(t, first.Session.View.ShowPrompt)
	assert.NotNil(t, first.Session.ClaimedAt)

	var second claimBody
	h.api.Post("/v1/sessions/"+st.ID+"/claim", nil).AssertStatus(http.StatusOK).JSON(&second)
	assert.Nil(t, second.Notification)
	assert.Equal(t, loyalty.Claimed, second.Session.ClaimState)

	// The prompt stays hidden after later predictions.
	var got session.State
	h.api.Post("/v1/sessions/"+st.ID+"/predictions", lhrFlight("25")).
		AssertStatus(http.StatusOK).JSON(&got)
	assert.True(t, got.View.ReachedPromptThreshold)
	assert.False(t, got.View.ShowPrompt)
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []loyalty.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n loyalty.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return nil
}

func TestClaimNotifiesOnce(t *testing.T) {
	rec := &recordingNotifier{}
	h := newHarness(t, rec, nil)
	st := createSession(t, h, map[string]any{"baseline_miles": "19995", "flights_taken": "10"})
	h.api.Post("/v1/sessions/"+st.ID+"/predictions", lhrFlight("25")).AssertStatus(http.StatusOK)

	h.api.Post("/v1/sessions/"+st.ID+"/claim", nil).AssertStatus(http.StatusOK)
	h.api.Post("/v1/sessions/"+st.ID+"/claim", nil).AssertStatus(http.StatusOK)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.notes, 1)
	assert.Equal(t, st.ID, rec.notes[0].SessionID)
}

func TestClaimWebhookFlush(t *testing.T) {
	var (
		mu       sync.Mutex
		received []map[string]any
		sigs     []string
	)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var evt map[string]any
		_ = json.Unmarshal(body, &evt)
		mu.Lock()
		received = append(received, evt)
		sigs = append(sigs, r.Header.Get(webhook.SignatureHeader))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(receiver.Close)

	d := webhook.NewDispatcher(webhook.Config{
		URL:        receiver.URL,
		Secret:     "whsec_test",
		Signer:     webhook.JWTSigner{},
		Logger:     quietLogger(),
		RetryDelay: time.Millisecond,
	})
	h := newHarness(t, webhook.Notifier{Dispatcher: d}, d)

	st := createSession(t, h, map[string]any{"baseline_miles": "19995", "flights_taken": "10"})
	h.api.Post("/v1/sessions/"+st.ID+"/predictions", lhrFlight("25")).AssertStatus(http.StatusOK)
	h.api.Post("/v1/sessions/"+st.ID+"/claim", nil).AssertStatus(http.StatusOK)

	require.Len(t, d.QueuedEvents(), 1)
	h.apiAdmin.FlushWebhooks().AssertStatus(http.StatusOK)
	assert.Empty(t, d.QueuedEvents())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, loyalty.NotificationCoinClaimed, received[0]["type"])
	data, ok := received[0]["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, st.ID, data["session_id"])
	assert.NotEmpty(t, sigs[0])
}

func TestAdminStateRoundTrip(t *testing.T) {
	h := newHarness(t, nil, nil)
	st := createSession(t, h, map[string]any{"baseline_miles": "19995", "flights_taken": "10"})
	h.api.Post("/v1/sessions/"+st.ID+"/predictions", lhrFlight("25")).AssertStatus(http.StatusOK)
	h.api.Post("/v1/sessions/"+st.ID+"/claim", nil).AssertStatus(http.StatusOK)

	var snap map[string]any
	h.apiAdmin.GetState().AssertStatus(http.StatusOK).JSON(&snap)

	h.apiAdmin.Reset().AssertStatus(http.StatusOK)
	h.api.Get("/v1/sessions/" + st.ID).AssertStatus(http.StatusNotFound)

	h.apiAdmin.LoadState(snap).AssertStatus(http.StatusOK)
	var got session.State
	h.api.Get("/v1/sessions/" + st.ID).AssertStatus(http.StatusOK).JSON(&got)
	assert.Equal(t, loyalty.Claimed, got.ClaimState)
	assert.Equal(t, 20001.0, got.View.TotalMiles)
	assert.False(t, got.View.ShowPrompt)
}

func TestFaultInjectionOnSessionAPI(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.apiAdmin.InjectFault("v1/sessions", map[string]any{"status_code": 503}).AssertStatus(http.StatusOK)

	h.api.Post("/v1/sessions", nil).AssertStatus(http.StatusServiceUnavailable)
	h.api.Get("/admin/health").AssertStatus(http.StatusOK)

	h.apiAdmin.RemoveFault("v1/sessions").AssertStatus(http.StatusOK)
	h.api.Post("/v1/sessions", nil).AssertStatus(http.StatusCreated)
}

func TestRawTextDecoding(t *testing.T) {
	var b historyBody
	require.NoError(t, json.Unmarshal([]byte(`{"baseline_miles": 1.50, "flights_taken": null}`), &b))
	assert.Equal(t, rawText("1.50"), b.BaselineMiles)
	assert.Equal(t, rawText(""), b.FlightsTaken)

	assert.Error(t, json.Unmarshal([]byte(`{"baseline_miles": true}`), &b))
}

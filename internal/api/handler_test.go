package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"letter-wizard/internal/clients/submission"
	"letter-wizard/internal/common/logger"
	"letter-wizard/internal/common/observability"
	"letter-wizard/internal/verify"
	"letter-wizard/internal/wizard/controller"
	"letter-wizard/internal/wizard/fields"
	"letter-wizard/internal/wizard/session"
	"letter-wizard/internal/wizard/steps"
)

// ==========================
// Test Helper Functions
// ==========================

type echoVerifier struct{}

func (echoVerifier) Verify(_ context.Context, addr fields.MailingAddress) (*verify.Verification, error) {
	return &verify.Verification{
		Deliverability: "deliverable",
		ValidAddress:   true,
		Candidate:      addr,
	}, nil
}

type staticSubmitter struct{}

func (staticSubmitter) Send(_ context.Context, _ submission.Payload) (*submission.Confirmation, error) {
	return &submission.Confirmation{
		LetterID:    "ltr_123",
		Mail:        submission.ChannelResult{Attempted: true, Success: true, TrackingNumber: "9400110200881234567890"},
		SubmittedAt: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}, nil
}

type staticRenderer struct{}

func (staticRenderer) Render(_ *fields.FormFields, _ string, _ time.Time) (string, error) {
	return "<html>letter</html>", nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	log := logger.NewTestLogger(t)

	sessions := session.NewStore(client, time.Hour, log)
	deps := controller.Dependencies{
		Verifier:          echoVerifier{},
		Submitter:         staticSubmitter{},
		Renderer:          staticRenderer{},
		Logger:            log,
		Locale:            "en",
		VerifyTimeout:     time.Second,
		SubmissionTimeout: time.Second,
	}

	handler := NewHandler(sessions, deps, nil, nil, nil, nil, log, observability.New("api-test"))
	server := httptest.NewServer(handler.Router())
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func decodeSession(t *testing.T, resp *http.Response) sessionView {
	t.Helper()
	defer resp.Body.Close()
	var view sessionView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	return view
}

func boolPtr(b bool) *bool { return &b }

func filledRecord() fields.FormFields {
	addr := fields.MailingAddress{
		PrimaryLine:   "150 Court St",
		SecondaryLine: "Apt 2",
		City:          "Brooklyn",
		State:         "NY",
		Zip:           "11201",
	}
	f := fields.FormFields{}
	f.SetReason(fields.ReasonPlannedIncrease)
	f.PlannedIncrease.UnreasonableIncrease = boolPtr(true)
	f.User = fields.UserDetails{
		FirstName: "Maria",
		LastName:  "Lopez",
		Phone:     "(718) 555-0142",
		Email:     "maria@example.com",
		BBL:       "3012345678",
		Address:   addr,
	}
	f.Landlord = fields.LandlordDetails{Name: "Acme Realty LLC", Address: addr}
	f.MailChoice = fields.MailChoiceWeMail
	return f
}

// ==========================
// Session Lifecycle Tests
// ==========================

func TestCreateSession(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/api/v1/sessions", map[string]string{"locale": "es"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	view := decodeSession(t, resp)
	assert.NotEmpty(t, view.SessionID)
	assert.Equal(t, steps.RouteReason, view.Route)
	assert.Equal(t, 5, view.Progress)
}

func TestCreateSession_MalformedBody(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Post(server.URL+"/api/v1/sessions", "application/json",
		bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestGetSession_NotFound(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/v1/sessions/unknown")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdvance_PersistsAcrossRequests(t *testing.T) {
	server := newTestServer(t)

	view := decodeSession(t, postJSON(t, server.URL+"/api/v1/sessions", nil))
	base := fmt.Sprintf("%s/api/v1/sessions/%s", server.URL, view.SessionID)

	f := filledRecord()
	resp := postJSON(t, base+"/advance", advanceRequest{Fields: &f})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	view = decodeSession(t, resp)
	require.NotNil(t, view.Advance)
	assert.Equal(t, controller.StatusMoved, view.Advance.Status)
	assert.Equal(t, steps.RouteRentIncrease, view.Route)

	// A fresh GET sees the advanced state.
	getResp, err := http.Get(base)
	require.NoError(t, err)
	view = decodeSession(t, getResp)
	assert.Equal(t, steps.RouteRentIncrease, view.Route)
	assert.Equal(t, fields.ReasonPlannedIncrease, view.Fields.Reason)
}

func TestAdvance_ValidationErrorsSurface(t *testing.T) {
	server := newTestServer(t)

	view := decodeSession(t, postJSON(t, server.URL+"/api/v1/sessions", nil))
	base := fmt.Sprintf("%s/api/v1/sessions/%s", server.URL, view.SessionID)

	resp := postJSON(t, base+"/advance", advanceRequest{})
	view = decodeSession(t, resp)
	require.NotNil(t, view.Advance)
	assert.Equal(t, controller.StatusInvalid, view.Advance.Status)
	assert.Contains(t, view.Advance.Errors, fields.PathReason)
	assert.Equal(t, steps.RouteReason, view.Route)
}

func TestFullFlow_OverHTTP(t *testing.T) {
	server := newTestServer(t)

	view := decodeSession(t, postJSON(t, server.URL+"/api/v1/sessions", nil))
	base := fmt.Sprintf("%s/api/v1/sessions/%s", server.URL, view.SessionID)

	f := filledRecord()
	var last sessionView
	for i := 0; i < 7; i++ {
		resp := postJSON(t, base+"/advance", advanceRequest{Fields: &f})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		last = decodeSession(t, resp)
		require.NotNil(t, last.Advance)
		if last.Advance.Status == controller.StatusCompleted {
			break
		}
		require.Equal(t, controller.StatusMoved, last.Advance.Status,
			"advance %d: %+v", i, last.Advance)
		f = last.Fields
	}

	assert.Equal(t, controller.StatusCompleted, last.Advance.Status)
	assert.Equal(t, steps.RouteConfirmation, last.Route)
	assert.Equal(t, 100, last.Progress)
	require.NotNil(t, last.Advance.Confirmation)
	assert.Equal(t, "ltr_123", last.Advance.Confirmation.LetterID)
}

func TestRetreat_OverHTTP(t *testing.T) {
	server := newTestServer(t)

	view := decodeSession(t, postJSON(t, server.URL+"/api/v1/sessions", nil))
	base := fmt.Sprintf("%s/api/v1/sessions/%s", server.URL, view.SessionID)

	f := filledRecord()
	resp := postJSON(t, base+"/advance", advanceRequest{Fields: &f})
	decodeSession(t, resp)

	retreatResp := postJSON(t, base+"/retreat", nil)
	assert.Equal(t, http.StatusOK, retreatResp.StatusCode)
	view = decodeSession(t, retreatResp)
	assert.Equal(t, steps.RouteReason, view.Route)
}

func TestRetreat_AtEntryConflicts(t *testing.T) {
	server := newTestServer(t)

	view := decodeSession(t, postJSON(t, server.URL+"/api/v1/sessions", nil))
	base := fmt.Sprintf("%s/api/v1/sessions/%s", server.URL, view.SessionID)

	resp := postJSON(t, base+"/retreat", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestDeleteSession(t *testing.T) {
	server := newTestServer(t)

	view := decodeSession(t, postJSON(t, server.URL+"/api/v1/sessions", nil))
	base := fmt.Sprintf("%s/api/v1/sessions/%s", server.URL, view.SessionID)

	req, err := http.NewRequest(http.MethodDelete, base, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	getResp, err := http.Get(base)
	require.NoError(t, err)
	getResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, getResp.StatusCode)
}

func TestHealthz(t *testing.T) {
	server := newTestServer(t)
	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

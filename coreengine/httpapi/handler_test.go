package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/leadflow/coreengine/envelope"
)

type fakeSubmitter struct {
	mu    sync.Mutex
	calls map[envelope.Stage][]envelope.Envelope
	err   error
}

func (f *fakeSubmitter) SubmitBatch(ctx context.Context, stage envelope.Stage, envs []envelope.Envelope) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	if f.calls == nil {
		f.calls = map[envelope.Stage][]envelope.Envelope{}
	}
	f.calls[stage] = append(f.calls[stage], envs...)
	return len(envs), nil
}

func newTestRouter(sub Submitter, opts Options) http.Handler {
	return NewRouter(NewHandler(sub, opts, nil))
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

const twoLeads = `[
  {"lead_data": {"name": "Jane Doe", "email": "jane@tiger.example", "company_name": "Tiger Analytics"}},
  {"lead_data": {"name": "Sean Smith", "company_name": "Rich Table"}, "context": ""}
]`

// =============================================================================
// STAGE ROUTES
// =============================================================================

func TestStageRoutes_Get(t *testing.T) {
	tests := []struct {
		path string
		ack  string
	}{
		{"/api/lead-ingestion-agent", "Lead Ingestion Agent Started"},
		{"/api/lead-scoring-agent", "Lead Scoring Agent Started"},
		{"/api/active-outreach-agent", "Actively Engage Agent Started"},
		{"/api/nurture-campaign-agent", "Nurture Campaign Agent Started"},
		{"/api/send-email-agent", "Send Email Agent Started"},
	}
	sub := &fakeSubmitter{}
	h := newTestRouter(sub, Options{})
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rr := do(h, http.MethodGet, tt.path, "")
			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, tt.ack, rr.Body.String())
			assert.Contains(t, rr.Header().Get("Content-Type"), "text/plain")
		})
	}
	assert.Empty(t, sub.calls)
}

func TestIngestion_PostSchedulesEveryItem(t *testing.T) {
	sub := &fakeSubmitter{}
	h := newTestRouter(sub, Options{})

	rr := do(h, http.MethodPost, "/api/lead-ingestion-agent", twoLeads)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Lead Ingestion Agent Started", rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get(RequestIDHeader))

	got := sub.calls[envelope.StageIngestion]
	require.Len(t, got, 2)
	assert.Equal(t, "Jane Doe", got[0].Lead.Name)
	assert.Equal(t, "Rich Table", got[1].Lead.CompanyName)
	assert.NotEqual(t, got[0].EnvelopeID, got[1].EnvelopeID)
}

func TestScoring_PostCarriesContext(t *testing.T) {
	sub := &fakeSubmitter{}
	h := newTestRouter(sub, Options{})

	body := `[{"lead_data": {"name": "Jane Doe"}, "context": "Industry Overview: growing"}]`
	rr := do(h, http.MethodPost, "/api/lead-scoring-agent", body)

	require.Equal(t, http.StatusOK, rr.Code)
	got := sub.calls[envelope.StageScoring]
	require.Len(t, got, 1)
	assert.Equal(t, "Industry Overview: growing", got[0].Context)
}

func TestSend_PostAck(t *testing.T) {
	sub := &fakeSubmitter{}
	h := newTestRouter(sub, Options{})

	body := `[{"lead_data": {"name": "Jane Doe"}, "context": "{\"emails\": [{\"subject\": \"s\", \"body\": \"b\"}]}"}]`
	rr := do(h, http.MethodPost, "/api/send-email-agent", body)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Send Email Started", rr.Body.String())
	assert.Len(t, sub.calls[envelope.StageSend], 1)
}

func TestPost_Rejects(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
	}{
		{"not json", "/api/lead-ingestion-agent", "hello"},
		{"object instead of array", "/api/lead-ingestion-agent", `{"lead_data": {}}`},
		{"missing lead_data", "/api/lead-ingestion-agent", `[{"context": "x"}]`},
		{"scoring without context", "/api/lead-scoring-agent", `[{"lead_data": {"name": "Jane"}}]`},
		{"numeric context", "/api/nurture-campaign-agent", `[{"lead_data": {"name": "Jane"}, "context": 42}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &fakeSubmitter{}
			rr := do(newTestRouter(sub, Options{}), http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Empty(t, sub.calls)
		})
	}
}

func TestPost_EmptyBatchAcks(t *testing.T) {
	sub := &fakeSubmitter{}
	rr := do(newTestRouter(sub, Options{}), http.MethodPost, "/api/lead-ingestion-agent", "[]")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, sub.calls[envelope.StageIngestion])
}

func TestPost_BodyTooLarge(t *testing.T) {
	sub := &fakeSubmitter{}
	h := newTestRouter(sub, Options{MaxBodyBytes: 16})
	rr := do(h, http.MethodPost, "/api/lead-ingestion-agent", twoLeads)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestPost_SubmitFailure(t *testing.T) {
	sub := &fakeSubmitter{err: errors.New("dispatcher closed")}
	rr := do(newTestRouter(sub, Options{}), http.MethodPost, "/api/lead-ingestion-agent", twoLeads)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestStageRoute_MethodNotAllowed(t *testing.T) {
	rr := do(newTestRouter(&fakeSubmitter{}, Options{}), http.MethodDelete, "/api/lead-scoring-agent", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, "GET, POST", rr.Header().Get("Allow"))
}

// =============================================================================
// AMBIENT ROUTES
// =============================================================================

func TestRoot(t *testing.T) {
	h := newTestRouter(&fakeSubmitter{}, Options{})

	rr := do(h, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, WelcomeMessage, body["message"])

	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/api/unknown", "").Code)
}

func TestHealth(t *testing.T) {
	healthy := true
	h := newTestRouter(&fakeSubmitter{}, Options{Healthy: func() bool { return healthy }})

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/healthz", "").Code)
	healthy = false
	assert.Equal(t, http.StatusServiceUnavailable, do(h, http.MethodGet, "/healthz", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestRouter(&fakeSubmitter{}, Options{})
	do(h, http.MethodPost, "/api/lead-ingestion-agent", twoLeads)

	rr := do(h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "leadflow_http_inbound_items_total")
}

func TestRequestID_Propagates(t *testing.T) {
	h := newTestRouter(&fakeSubmitter{}, Options{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "req-123", rr.Header().Get(RequestIDHeader))
}

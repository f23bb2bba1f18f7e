package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/marketing-insights-api/internal/middleware"
	"github.com/user/marketing-insights-api/internal/models"
	"github.com/user/marketing-insights-api/internal/services/ai"
	"github.com/user/marketing-insights-api/internal/services/analysis"
	"github.com/user/marketing-insights-api/internal/services/auth"
	"github.com/user/marketing-insights-api/internal/services/email"
	"github.com/user/marketing-insights-api/internal/services/export"
	"github.com/user/marketing-insights-api/internal/services/snapshot"
)

type stubDatasets struct {
	err error
}

func (s *stubDatasets) Get(_ context.Context, monthKey string) (*snapshot.Dataset, error) {
	if s.err != nil {
		return nil, s.err
	}
	rows := []models.MetricRow{
		{MonthString: monthKey, CampaignGroup: "Admissions", Channel: "Display", Impressions: 2000, Clicks: 20, Revenue: 500},
		{MonthString: monthKey, CampaignGroup: "Membership", Channel: "Search", Impressions: 1000, Clicks: 100, Revenue: 900},
	}
	return snapshot.NewDataset(monthKey, nil, rows, time.Now()), nil
}

type stubCompleter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubCompleter) Complete(context.Context, ai.CompletionRequest) (*ai.GenerateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &ai.GenerateResult{Response: "STUB_OUTPUT", TotalTokens: 10}, nil
}

func (s *stubCompleter) Name() string { return "stub" }

type fakeMailer struct {
	enabled bool
	err     error
	to      string
	subject string
	att     email.Attachment
}

func (m *fakeMailer) IsEnabled() bool { return m.enabled }

func (m *fakeMailer) SendTranscript(to, subject, _ string, att email.Attachment) error {
	m.to, m.subject, m.att = to, subject, att
	return m.err
}

type stubUsage struct{}

func (stubUsage) GetUsageStats(days int) (*ai.UsageStats, error) {
	return &ai.UsageStats{Days: days, TotalRequests: 4}, nil
}

func newTestRouter(datasets analysis.Datasets, completer ai.Completer, mailer Mailer) *gin.Engine {
	gin.SetMode(gin.TestMode)

	svc := ai.NewService(ai.Options{Temperature: 0.3}, completer, nil, nil)
	controller := analysis.NewController(datasets, svc,
		export.NewRegistry(export.NewDocxExporter(), export.NewPDFExporter("")),
		analysis.Options{Months: []string{"2025-01", "2025-02", "2025-03", "2025-04"}})

	r := gin.New()
	r.Use(middleware.CORS([]string{"http://localhost:3000"}))
	RegisterRoutes(r, NewHandler(controller, mailer), NewAIHandler(stubUsage{}),
		middleware.Session(analysis.NewStore(), auth.NewSigner("secret", time.Hour), middleware.SessionOptions{}))
	return r
}

// client хранит cookie сессии между запросами
type client struct {
	t       *testing.T
	router  *gin.Engine
	cookies []*http.Cookie
}

func (c *client) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}
	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)
	if cookies := w.Result().Cookies(); len(cookies) > 0 {
		c.cookies = cookies
	}
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestOptions(t *testing.T) {
	c := &client{t: t, router: newTestRouter(&stubDatasets{}, &stubCompleter{}, nil)}

	w := c.do(http.MethodGet, "/api/options", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Len(t, body["months"], 4)
	assert.Equal(t, float64(analysis.MaxFollowups), body["max_followups"])
	assert.Equal(t, "sync", body["mode"])
	assert.Equal(t, false, body["email_enabled"])
}

func TestSessionFlow(t *testing.T) {
	completer := &stubCompleter{}
	c := &client{t: t, router: newTestRouter(&stubDatasets{}, completer, nil)}

	w := c.do(http.MethodPost, "/api/session/analysis", gin.H{"month": "2025-03"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "STUB_OUTPUT", decode(t, w)["text"])

	for i := 0; i < analysis.MaxFollowups; i++ {
		w = c.do(http.MethodPost, "/api/session/followups", gin.H{"question": "Why?"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	w = c.do(http.MethodPost, "/api/session/followups", gin.H{"question": "One more?"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "quota_exceeded", decode(t, w)["kind"])
	assert.Equal(t, 1+analysis.MaxFollowups, completer.calls)

	w = c.do(http.MethodGet, "/api/session/export?format=docx", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "Analysis_2025-03_")
	assert.NotEmpty(t, w.Body.Bytes())

	w = c.do(http.MethodPost, "/api/session/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	state := decode(t, w)
	assert.Nil(t, state["analysis_output"])
	assert.Equal(t, float64(0), state["followup_count"])

	w = c.do(http.MethodGet, "/api/session", nil)
	assert.Equal(t, true, decode(t, w)["can_run"])
}

func TestAnalysisErrors(t *testing.T) {
	c := &client{t: t, router: newTestRouter(&stubDatasets{}, &stubCompleter{}, nil)}

	w := c.do(http.MethodPost, "/api/session/analysis", gin.H{"month": "2030-01"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_input", decode(t, w)["kind"])

	w = c.do(http.MethodPost, "/api/session/followups", gin.H{"question": "Why?"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "no_analysis", decode(t, w)["kind"])

	w = c.do(http.MethodGet, "/api/session/export", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	c = &client{t: t, router: newTestRouter(&stubDatasets{err: snapshot.ErrDataUnavailable}, &stubCompleter{}, nil)}
	w = c.do(http.MethodPost, "/api/session/analysis", gin.H{"month": "2025-03"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	c = &client{t: t, router: newTestRouter(&stubDatasets{err: &snapshot.SourceError{MonthKey: "2025-03", Err: errors.New("dial tcp: connection refused")}}, &stubCompleter{}, nil)}
	w = c.do(http.MethodPost, "/api/session/analysis", gin.H{"month": "2025-03"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "warehouse_unavailable", decode(t, w)["kind"])

	c = &client{t: t, router: newTestRouter(&stubDatasets{}, &stubCompleter{err: errors.New("upstream down")}, nil)}
	w = c.do(http.MethodPost, "/api/session/analysis", gin.H{"month": "2025-03"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "inference_failed", decode(t, w)["kind"])
}

func TestCharts(t *testing.T) {
	c := &client{t: t, router: newTestRouter(&stubDatasets{}, &stubCompleter{}, nil)}

	w := c.do(http.MethodGet, "/api/charts/2025-03?metric=revenue", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "revenue", body["metric"])
	assert.Len(t, body["groups"], 2)

	w = c.do(http.MethodGet, "/api/charts/2025-03/xlsx?metric=clicks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.Equal(t, "PK", string(w.Body.Bytes()[:2]))

	w = c.do(http.MethodGet, "/api/charts/2025-03?metric=spend_ratio", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEmailTranscript(t *testing.T) {
	mailer := &fakeMailer{enabled: true}
	c := &client{t: t, router: newTestRouter(&stubDatasets{}, &stubCompleter{}, mailer)}

	w := c.do(http.MethodPost, "/api/session/export/email", gin.H{"to": "team@example.com"})
	assert.Equal(t, http.StatusConflict, w.Code)

	c.do(http.MethodPost, "/api/session/analysis", gin.H{"month": "2025-02"})
	w = c.do(http.MethodPost, "/api/session/export/email", gin.H{"to": "team@example.com", "format": "pdf"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "team@example.com", mailer.to)
	assert.Equal(t, "Marketing Analysis – 2025-02", mailer.subject)
	assert.Equal(t, "application/pdf", mailer.att.ContentType)

	mailer.err = email.ErrInvalidAddress
	w = c.do(http.MethodPost, "/api/session/export/email", gin.H{"to": "broken"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	disabled := &client{t: t, router: newTestRouter(&stubDatasets{}, &stubCompleter{}, &fakeMailer{})}
	w = disabled.do(http.MethodPost, "/api/session/export/email", gin.H{"to": "team@example.com"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAIUsage(t *testing.T) {
	c := &client{t: t, router: newTestRouter(&stubDatasets{}, &stubCompleter{}, nil)}

	w := c.do(http.MethodGet, "/api/ai/usage?days=7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(7), body["days"])
	assert.Equal(t, float64(4), body["total_requests"])
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{analysis.ErrAlreadyRunning, http.StatusConflict, "busy"},
		{analysis.ErrSessionReset, http.StatusConflict, "session_reset"},
		{analysis.ErrRunHandleLost, http.StatusConflict, "run_handle_lost"},
		{&snapshot.InvalidDatasetError{MonthKey: "2025-01", Missing: []string{"ctr"}}, http.StatusUnprocessableEntity, "invalid_dataset"},
		{&snapshot.SourceError{MonthKey: "2025-01", Err: errors.New("connection refused")}, http.StatusBadGateway, "warehouse_unavailable"},
		{&snapshot.SourceError{MonthKey: "2025-01", Err: context.DeadlineExceeded}, http.StatusBadGateway, "warehouse_unavailable"},
		{context.Canceled, 499, "canceled"},
		{&ai.InferenceError{Op: "initial", Err: ai.ErrRateLimited}, http.StatusTooManyRequests, "rate_limited"},
		{ai.ErrJobTimeout, http.StatusGatewayTimeout, "job_timeout"},
		{&ai.JobError{Status: ai.RunFailed}, http.StatusBadGateway, "job_failed"},
		{&export.ExportError{Format: "pdf", Err: errors.New("x")}, http.StatusInternalServerError, "export_failed"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		status, kind := classify(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.kind, kind, tc.err.Error())
	}
}

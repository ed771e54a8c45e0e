package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livetemplate/labkit"
	"github.com/livetemplate/labkit/internal/config"
	"github.com/livetemplate/labkit/internal/fetch"
	"github.com/livetemplate/labkit/internal/metrics"
	"github.com/livetemplate/labkit/internal/playground"
	"github.com/livetemplate/labkit/internal/session"
	"github.com/livetemplate/labkit/internal/share"
	"github.com/livetemplate/labkit/internal/validate"
)

type testServer struct {
	*Server
	engine  *stubEngine
	labsDir string
}

func newTestServer(t *testing.T, configure ...func(*Options)) *testServer {
	t.Helper()
	labsDir := t.TempDir()
	writeLab(t, labsDir, "box-model", boxLab)

	sharer := share.NewSharer(newMemStore(), "http://labs.test")
	engine := newStubEngine(sharer)

	cfg := config.DefaultConfig()
	cfg.Title = "Test Labs"
	opts := Options{
		Config:  cfg,
		Fetcher: fetch.New(fetch.NewDirBackend(labsDir), nil),
		Engine:  engine,
		Sharer:  sharer,
		Metrics: metrics.New(),
		LabsDir: labsDir,
	}
	for _, fn := range configure {
		fn(&opts)
	}

	srv, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return &testServer{Server: srv, engine: engine, labsDir: labsDir}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "192.0.2.10:5000"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.ServeHTTP(w, req)
	return w
}

type viewResponse struct {
	ID    string `json:"id"`
	State string `json:"state"`
	Lab   *struct {
		Name            string `json:"name"`
		Title           string `json:"title"`
		DescriptionHTML string `json:"descriptionHTML"`
	} `json:"lab"`
	Code     *playground.Code `json:"code"`
	Controls map[string]bool  `json:"controls"`
	Results  struct {
		Total      int `json:"total"`
		Passed     int `json:"passed"`
		Percentage int `json:"percentage"`
	} `json:"results"`
	Error    string `json:"error"`
	Notified bool   `json:"notified"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (ts *testServer) createSession(t *testing.T, lab string) viewResponse {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/sessions", navigateRequest{Lab: lab})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[viewResponse](t, w)
}

func TestNewRequiresFetcherAndEngine(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestIndexWithoutLab(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "no lab selected")
	assert.Contains(t, body, `href="/?lab=box-model"`)
	assert.Contains(t, body, "Box Model")
}

func TestLabPage(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/?lab=box-model&share=abc123", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), `data-lab="box-model"`)
	assert.Contains(t, w.Body.String(), `data-share="abc123"`)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "default-src 'none'")
}

func TestAssetsServed(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/assets/app.js", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/api/sessions")
}

func TestListLabs(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/labs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[struct {
		Labs []fetch.Summary `json:"labs"`
	}](t, w)
	assert.Equal(t, []fetch.Summary{{Name: "box-model", Title: "Box Model"}}, got.Labs)
}

func TestSessionFlow(t *testing.T) {
	ts := newTestServer(t)

	view := ts.createSession(t, "box-model")
	assert.NotEmpty(t, view.ID)
	assert.Equal(t, "interactive", view.State)
	require.NotNil(t, view.Lab)
	assert.Equal(t, "Box Model", view.Lab.Title)
	assert.Contains(t, view.Lab.DescriptionHTML, "<strong>padding</strong>")
	require.NotNil(t, view.Code)
	assert.Equal(t, boxLab[labkit.ResourceHTML], view.Code.Markup)
	assert.True(t, view.Controls[session.ControlRunTests])

	base := "/api/sessions/" + view.ID

	edited := playground.Code{Markup: "<p>mine</p>", Style: "p{}", Script: ""}
	w := ts.do(t, http.MethodPut, base+"/code", edited)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = ts.do(t, http.MethodPost, base+"/tests", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	model := decode[struct {
		Total      int `json:"total"`
		Passed     int `json:"passed"`
		Percentage int `json:"percentage"`
		Entries    []struct {
			Name      string `json:"name"`
			ErrorText string `json:"errorText"`
		} `json:"entries"`
	}](t, w)
	assert.Equal(t, 2, model.Total)
	assert.Equal(t, 1, model.Passed)
	assert.Equal(t, 50, model.Percentage)
	require.Len(t, model.Entries, 2)
	assert.Contains(t, model.Entries[1].ErrorText, "expected 1px")

	w = ts.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[viewResponse](t, w)
	assert.Equal(t, 2, got.Results.Total)
	assert.Equal(t, "<p>mine</p>", got.Code.Markup)

	w = ts.do(t, http.MethodPost, base+"/share", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	link := decode[map[string]string](t, w)["url"]
	require.True(t, strings.HasPrefix(link, "http://labs.test/s/"), link)
	id := strings.TrimPrefix(link, "http://labs.test/s/")

	w = ts.do(t, http.MethodGet, "/s/"+id, nil)
	require.Equal(t, http.StatusFound, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "box-model", loc.Query().Get("lab"))
	assert.Equal(t, id, loc.Query().Get("share"))

	w = ts.do(t, http.MethodPost, base+"/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]bool{"reset": false}, decode[map[string]bool](t, w))

	w = ts.do(t, http.MethodPost, base+"/reset?confirm=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]bool{"reset": true}, decode[map[string]bool](t, w))

	got = decode[viewResponse](t, ts.do(t, http.MethodGet, base, nil))
	assert.Equal(t, boxLab[labkit.ResourceHTML], got.Code.Markup)
	assert.Equal(t, 0, got.Results.Total)

	w = ts.do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.True(t, ts.engine.last().closed)

	w = ts.do(t, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSharedSessionRestoresCode(t *testing.T) {
	ts := newTestServer(t)

	first := ts.createSession(t, "box-model")
	base := "/api/sessions/" + first.ID
	ts.do(t, http.MethodPut, base+"/code", playground.Code{Markup: "<b>shared</b>"})
	link := decode[map[string]string](t, ts.do(t, http.MethodPost, base+"/share", nil))["url"]
	id := strings.TrimPrefix(link, "http://labs.test/s/")

	w := ts.do(t, http.MethodPost, "/api/sessions", navigateRequest{Lab: "box-model", Share: id})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	second := decode[viewResponse](t, w)
	require.NotNil(t, second.Code)
	assert.Equal(t, "<b>shared</b>", second.Code.Markup)
}

func TestCreateSessionErrors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		lab    string
		status int
		msg    string
	}{
		{"missing lab", "", http.StatusBadRequest, "no lab selected"},
		{"unknown lab", "nope", http.StatusNotFound, `Lab "nope" was not found`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/sessions", navigateRequest{Lab: tt.lab})
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, decode[map[string]string](t, w)["error"], tt.msg)
		})
	}
	assert.Equal(t, 0, ts.sessions.len(), "failed sessions are discarded")
}

func TestCreateSessionInvalidBody(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	ts.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNavigateReportsFailureInView(t *testing.T) {
	ts := newTestServer(t)
	view := ts.createSession(t, "box-model")

	w := ts.do(t, http.MethodPost, "/api/sessions/"+view.ID+"/navigate", navigateRequest{Lab: "gone"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	got := decode[viewResponse](t, w)
	assert.Equal(t, "failed", got.State)
	assert.Contains(t, got.Error, "gone")
	assert.Nil(t, got.Lab, "the previous lab is not reported with the new failure")
	assert.True(t, got.Notified)
	assert.False(t, got.Controls[session.ControlRunTests])

	w = ts.do(t, http.MethodPost, "/api/sessions/"+view.ID+"/tests", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.True(t, decode[errorBody](t, w).Notified, "the session already pushed this failure")
}

type errorBody struct {
	Error    string `json:"error"`
	Notified bool   `json:"notified"`
}

func TestSessionActionLimit(t *testing.T) {
	ts := newTestServer(t, func(o *Options) {
		o.Config.API.RateLimit = &config.RateLimitConfig{ActionsPerMinute: 0.001, ActionBurst: 1}
	})
	first := ts.createSession(t, "box-model")
	second := ts.createSession(t, "box-model")

	w := ts.do(t, http.MethodPost, "/api/sessions/"+first.ID+"/tests", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodPost, "/api/sessions/"+first.ID+"/share", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	body := decode[errorBody](t, w)
	assert.Contains(t, body.Error, "too many actions")
	assert.False(t, body.Notified)

	w = ts.do(t, http.MethodPost, "/api/sessions/"+second.ID+"/tests", nil)
	assert.Equal(t, http.StatusOK, w.Code, "budgets are per session")

	w = ts.do(t, http.MethodGet, "/api/sessions/"+first.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code, "reads are not action-limited")
}

func TestValidateNotConfigured(t *testing.T) {
	ts := newTestServer(t)
	view := ts.createSession(t, "box-model")

	w := ts.do(t, http.MethodPost, "/api/sessions/"+view.ID+"/validate", nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

type fixedChecker struct {
	msgs []validate.Message
	err  error
}

func (c fixedChecker) Check(ctx context.Context, content string) ([]validate.Message, error) {
	return c.msgs, c.err
}

func TestValidateReportsServiceFailure(t *testing.T) {
	v := validate.New(
		fixedChecker{err: &labkit.ValidationServiceError{Service: "html", StatusCode: 503}},
		fixedChecker{msgs: []validate.Message{{Severity: validate.SeverityError, Text: "Parse Error", Line: 1}}},
		fixedChecker{},
		nil,
	)
	ts := newTestServer(t, func(o *Options) { o.Validator = v })
	view := ts.createSession(t, "box-model")

	w := ts.do(t, http.MethodPost, "/api/sessions/"+view.ID+"/validate", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[struct {
		Valid bool `json:"valid"`
		HTML  struct {
			Error string `json:"error"`
		} `json:"html"`
		CSS struct {
			Messages []validate.Message `json:"messages"`
		} `json:"css"`
		JS struct {
			Messages []validate.Message `json:"messages"`
		} `json:"js"`
	}](t, w)
	assert.False(t, got.Valid)
	assert.Contains(t, got.HTML.Error, "html validator is unavailable")
	require.Len(t, got.CSS.Messages, 1)
	assert.Equal(t, "Parse Error", got.CSS.Messages[0].Text)
	assert.Empty(t, got.JS.Messages)
}

func TestUnknownSession(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/tests", "/validate", "/share", "/reset"} {
		w := ts.do(t, http.MethodPost, "/api/sessions/missing"+path, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		assert.False(t, decode[errorBody](t, w).Notified, path)
	}
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, "/api/sessions/missing", nil).Code)
}

func TestShortLinkNotFound(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/s/doesnotexist", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "does not exist")
}

func TestShortLinksDisabled(t *testing.T) {
	ts := newTestServer(t, func(o *Options) { o.Sharer = nil })

	w := ts.do(t, http.MethodGet, "/s/abcdefgh", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	ts.createSession(t, "box-model")

	w := ts.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","sessions":1}`, w.Body.String())

	w = ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "labkit_active_sessions 1")
	assert.Contains(t, w.Body.String(), `labkit_lab_loads_total{outcome="loaded"} 1`)
}

func TestMetricsDisabled(t *testing.T) {
	ts := newTestServer(t, func(o *Options) { o.Config.Features.Metrics = false })

	w := ts.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&session.MissingLabError{}, http.StatusBadRequest},
		{&labkit.NotFoundError{Lab: "x"}, http.StatusNotFound},
		{&labkit.FetchError{Lab: "x", Err: errors.New("reset")}, http.StatusBadGateway},
		{&labkit.InitializationError{Reason: "timeout"}, http.StatusServiceUnavailable},
		{&labkit.NotInitializedError{Op: "run"}, http.StatusConflict},
		{&session.NotInteractiveError{Action: "run tests"}, http.StatusConflict},
		{session.ErrActionInProgress, http.StatusConflict},
		{fmt.Errorf("wrapped: %w", session.ErrSuperseded), http.StatusConflict},
		{playground.ErrInstanceReplaced, http.StatusConflict},
		{&labkit.ValidationServiceError{Service: "css"}, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "%v", tt.err)
	}
}

func TestAllowOrigin(t *testing.T) {
	ts := newTestServer(t, func(o *Options) {
		o.Config.API.CORS = &config.CORSConfig{Origins: []string{"https://course.example"}}
	})

	req := httptest.NewRequest(http.MethodGet, "http://labs.test/ws", nil)
	assert.True(t, ts.allowOrigin(req), "no origin header")

	req.Header.Set("Origin", "http://labs.test")
	assert.True(t, ts.allowOrigin(req), "same origin")

	req.Header.Set("Origin", "https://course.example")
	assert.True(t, ts.allowOrigin(req), "configured origin")

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, ts.allowOrigin(req))
}

package server_test

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagesource/api/schemas"
	"github.com/xkilldash9x/pagesource/internal/browser"
	"github.com/xkilldash9x/pagesource/internal/browser/browsertest"
	"github.com/xkilldash9x/pagesource/internal/config"
	"github.com/xkilldash9x/pagesource/internal/fetcher"
	"github.com/xkilldash9x/pagesource/internal/observability"
	"github.com/xkilldash9x/pagesource/internal/server"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const helloHTML = "<html><body>hi</body></html>"

type harness struct {
	engine  *browsertest.Engine
	manager *browser.Manager
	server  *server.Server
	metrics *observability.Metrics
}

func newHarness(t *testing.T, mutate ...func(*config.Config)) *harness {
	t.Helper()
	cfg := config.NewDefaultConfig()
	for _, fn := range mutate {
		fn(cfg)
	}

	engine := browsertest.NewEngine(map[string]browsertest.Response{
		"https://example.com":  {HTML: helloHTML},
		"https://slow.example": {Hang: true},
	})
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	mgr := browser.NewManager(engine, logger, browser.WithMetrics(metrics))
	t.Cleanup(func() { _ = mgr.Shutdown(context.Background()) })

	svc := fetcher.NewService(mgr, cfg.Fetch, logger, metrics)
	return &harness{
		engine:  engine,
		manager: mgr,
		server:  server.New(cfg.Server, svc, mgr, logger, metrics),
		metrics: metrics,
	}
}

func (h *harness) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestFetchEndpoint_Success(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/?url=https://example.com&timeout=5")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, helloHTML, rec.Body.String())
	assert.Equal(t, 1, h.engine.Launches())
}

func TestFetchEndpoint_AnyPathAnyMethod(t *testing.T) {
	h := newHarness(t)

	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, "PURGE"} {
		rec := h.do(t, method, "/some/deep/path?url=https%3A%2F%2Fexample.com&timeout=5")
		assert.Equal(t, http.StatusOK, rec.Code, method)
		assert.Equal(t, helloHTML, rec.Body.String(), method)
	}
	assert.Equal(t, 1, h.engine.Launches())
}

func TestFetchEndpoint_ValidationHappensBeforeLaunch(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		message string
	}{
		{"missing url", "/?timeout=5", "'url'"},
		{"missing timeout", "/?url=https://example.com", "'timeout'"},
		{"non-numeric timeout", "/?url=https://example.com&timeout=abc", `"abc"`},
		{"NaN timeout", "/?url=https://example.com&timeout=NaN", `"NaN"`},
		{"no parameters", "/", "'url'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)

			rec := h.do(t, http.MethodGet, tt.target)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.message)
			assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
			assert.Equal(t, 0, h.engine.Launches(), "validation must not touch the browser")
			assert.Equal(t, schemas.StateUninitialized, h.manager.State())
		})
	}
}

func TestFetchEndpoint_EmptyURLFailsAtNavigation(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/?url=&timeout=5")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, 1, h.engine.Launches())

	pages := h.engine.Browser().Pages()
	require.Len(t, pages, 1)
	assert.Equal(t, 1, pages[0].Closes())
}

func TestFetchEndpoint_SlowPageTimesOut(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/?url=https://slow.example&timeout=1")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "https://slow.example")

	pages := h.engine.Browser().Pages()
	require.Len(t, pages, 1)
	assert.Equal(t, 1, pages[0].Closes())
}

func TestFetchEndpoint_LaunchFailure(t *testing.T) {
	h := newHarness(t)
	h.engine.LaunchErr = errors.New("chrome not found")

	rec := h.do(t, http.MethodGet, "/?url=https://example.com&timeout=5")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "chrome not found")
}

func TestFetchEndpoint_ClientDisconnect(t *testing.T) {
	cancelled := func() context.Context {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	t.Run("fetch continues by default", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.manager.EnsureSession(context.Background())
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/?url=https://example.com&timeout=5", nil).WithContext(cancelled())
		h.server.Router().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("abort on disconnect", func(t *testing.T) {
		h := newHarness(t, func(c *config.Config) { c.Server.AbortOnDisconnect = true })
		_, err := h.manager.EnsureSession(context.Background())
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/?url=https://example.com&timeout=5", nil).WithContext(cancelled())
		h.server.Router().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

func TestFetchEndpoint_RateLimit(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Server.RateLimit = 0.001
		c.Server.RateBurst = 1
	})
	router := h.server.Router()

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/?url=https://example.com&timeout=5", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/?url=https://example.com&timeout=5", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))
	assert.Equal(t, 1, len(h.engine.Browser().Pages()))
}

func TestAdminRouter(t *testing.T) {
	h := newHarness(t)
	admin := h.server.AdminRouter()

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		admin.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, get("/healthz").Code)

	rec := get("/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "uninitialized")

	_, err := h.manager.EnsureSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, get("/readyz").Code)

	h.do(t, http.MethodGet, "/?url=https://example.com&timeout=5")
	rec = get("/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `pagesource_fetches_total{outcome="success"} 1`)
	assert.Contains(t, rec.Body.String(), `pagesource_http_requests_total{code="200"} 1`)
	assert.Contains(t, rec.Body.String(), `pagesource_browser_launches_total{result="success"} 1`)

	assert.Equal(t, http.StatusNotFound, get("/anything-else").Code)
}

func TestServer_ServeAndShutdown(t *testing.T) {
	h := newHarness(t)

	mainLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	adminLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.server.Serve(ctx, mainLn, adminLn) }()

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + mainLn.Addr().String() + "/?url=https://example.com&timeout=5")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, helloHTML, string(body))

	resp, err = client.Get("http://" + adminLn.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	client.CloseIdleConnections()
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, server.StatusCode(schemas.NewValidationError("bad")))
	assert.Equal(t, http.StatusBadGateway, server.StatusCode(schemas.NewFetchError("https://x", errors.New("boom"))))
	assert.Equal(t, http.StatusServiceUnavailable, server.StatusCode(schemas.NewFatalLaunchError(errors.New("boom"))))
	assert.Equal(t, http.StatusInternalServerError, server.StatusCode(errors.New("boom")))
}

func TestParseFetchRequest(t *testing.T) {
	tests := []struct {
		query   string
		want    server.FetchRequest
		wantErr bool
	}{
		{query: "url=https://example.com&timeout=5", want: server.FetchRequest{URL: "https://example.com", Timeout: 5 * time.Second}},
		{query: "url=https://example.com&timeout=0.5", want: server.FetchRequest{URL: "https://example.com", Timeout: 500 * time.Millisecond}},
		{query: "url=https://example.com&timeout=0", want: server.FetchRequest{URL: "https://example.com"}},
		{query: "url=https://example.com&timeout=-1", want: server.FetchRequest{URL: "https://example.com"}},
		{query: "url=https://example.com&timeout=Infinity", want: server.FetchRequest{URL: "https://example.com"}},
		{query: "url=https://example.com&timeout=1e400", want: server.FetchRequest{URL: "https://example.com"}},
		{query: "url=not%20a%20url&timeout=1", want: server.FetchRequest{URL: "not a url", Timeout: time.Second}},
		{query: "url=https://example.com&timeout=abc", wantErr: true},
		{query: "url=https://example.com&timeout=nan", wantErr: true},
		{query: "url=&timeout=2", want: server.FetchRequest{Timeout: 2 * time.Second}},
		{query: "url=https://example.com&timeout=", wantErr: true},
		{query: "timeout=1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := server.ParseFetchRequest(httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, schemas.IsKind(err, schemas.KindValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

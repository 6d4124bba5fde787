package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SergeiKhy/shortlink-analytics/internal/config"
	"github.com/SergeiKhy/shortlink-analytics/internal/handler"
	"github.com/SergeiKhy/shortlink-analytics/internal/metrics"
	"github.com/SergeiKhy/shortlink-analytics/internal/middleware"
	"github.com/SergeiKhy/shortlink-analytics/internal/service"
	"github.com/SergeiKhy/shortlink-analytics/internal/service/mocks"
)

const (
	aliceKey    = "alice-key"
	bobKey      = "bob-key"
	fallbackURL = "https://short.example/oops"
	baseURL     = "https://short.example"
)

type testServer struct {
	router   *gin.Engine
	repo     *mocks.MockLinkRepository
	recorder *mocks.MockClickRecorder
}

func newTestServer(t *testing.T, checks map[string]handler.HealthCheck) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := mocks.NewMockLinkRepository()
	recorder := &mocks.MockClickRecorder{}
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	links := service.NewLinkService(repo, mocks.NewMockCacheRepository(), service.LinkServiceConfig{
		BlockedDomains: []string{"malware.com"},
		ReservedCodes:  config.DefaultReservedRoutes,
		Metrics:        m,
	}, zap.NewNop())
	resolver := service.NewRedirectResolver(links, recorder, config.DefaultReservedRoutes, fallbackURL, m, zap.NewNop())

	router := handler.NewRouter(handler.RouterDeps{
		Links:  handler.NewLinkHandler(links, resolver, baseURL+"/", zap.NewNop()),
		Health: handler.NewHealthHandler(checks, recorder),
		Auth:   middleware.NewAuth("secret"),
		APIKey: middleware.NewAPIKey(middleware.APIKeyConfig{
			ValidKeys: map[string]string{aliceKey: "alice", bobKey: "bob"},
			Optional:  true,
		}),
		Metrics:  m,
		Gatherer: reg,
		Logger:   zap.NewNop(),
	})

	return &testServer{router: router, repo: repo, recorder: recorder}
}

func (s *testServer) do(method, path, key string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

type linkBody struct {
	ID           string `json:"id"`
	OwnerID      string `json:"owner_id"`
	ShortCode    string `json:"short_code"`
	ShortURL     string `json:"short_url"`
	Destination  string `json:"destination_url"`
	IsActive     bool   `json:"is_active"`
	IsBookmarked bool   `json:"is_bookmarked"`
	ClickCount   int64  `json:"click_count"`
}

func decodeLink(t *testing.T, w *httptest.ResponseRecorder) linkBody {
	t.Helper()
	var body linkBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func (s *testServer) create(t *testing.T, key, url, code string) linkBody {
	t.Helper()
	w := s.do(http.MethodPost, "/api/links", key, map[string]any{"url": url, "short_code": code})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeLink(t, w)
}

func TestCreateLink(t *testing.T) {
	s := newTestServer(t, nil)

	link := s.create(t, aliceKey, "https://example.com/page", "promo")
	assert.Equal(t, "promo", link.ShortCode)
	assert.Equal(t, "https://short.example/promo", link.ShortURL)
	assert.Equal(t, "alice", link.OwnerID)
	assert.True(t, link.IsActive)

	tests := []struct {
		name   string
		key    string
		body   map[string]any
		status int
	}{
		{"no identity", "", map[string]any{"url": "https://example.com"}, http.StatusUnauthorized},
		{"invalid key", "nope", map[string]any{"url": "https://example.com"}, http.StatusUnauthorized},
		{"missing url", aliceKey, map[string]any{}, http.StatusBadRequest},
		{"bad scheme", aliceKey, map[string]any{"url": "ftp://example.com"}, http.StatusBadRequest},
		{"blocked", aliceKey, map[string]any{"url": "https://malware.com/x"}, http.StatusBadRequest},
		{"reserved code", aliceKey, map[string]any{"url": "https://example.com", "short_code": "dashboard"}, http.StatusBadRequest},
		{"bad expiry", aliceKey, map[string]any{"url": "https://example.com", "expires_in": 0}, http.StatusBadRequest},
		{"taken", bobKey, map[string]any{"url": "https://example.com", "short_code": "promo"}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(http.MethodPost, "/api/links", tt.key, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestLinkOwnership(t *testing.T) {
	s := newTestServer(t, nil)
	link := s.create(t, aliceKey, "https://example.com/page", "mine")

	w := s.do(http.MethodGet, "/api/links/"+link.ID, aliceKey, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	for _, req := range []struct{ method, path string }{
		{http.MethodGet, "/api/links/" + link.ID},
		{http.MethodPatch, "/api/links/" + link.ID},
		{http.MethodPost, "/api/links/" + link.ID + "/bookmark"},
		{http.MethodDelete, "/api/links/" + link.ID},
	} {
		var body any
		if req.method == http.MethodPatch {
			body = map[string]any{"is_active": false}
		}
		w := s.do(req.method, req.path, bobKey, body)
		assert.Equal(t, http.StatusNotFound, w.Code, req.method+" "+req.path)
	}

	w = s.do(http.MethodGet, "/api/links/not-a-uuid", aliceKey, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/api/links", bobKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"links":[],"total":0}`, w.Body.String())
}

func TestUpdateAndBookmark(t *testing.T) {
	s := newTestServer(t, nil)
	link := s.create(t, aliceKey, "https://example.com/page", "editable")

	w := s.do(http.MethodPatch, "/api/links/"+link.ID, aliceKey, map[string]any{
		"url":        "https://example.org/new",
		"short_code": "edited",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decodeLink(t, w)
	assert.Equal(t, "edited", updated.ShortCode)
	assert.Equal(t, "https://example.org/new", updated.Destination)
	assert.Equal(t, "https://short.example/edited", updated.ShortURL)

	w = s.do(http.MethodPatch, "/api/links/"+link.ID, aliceKey, map[string]any{"url": "javascript:alert(1)"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/links/"+link.ID+"/bookmark", aliceKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeLink(t, w).IsBookmarked)

	// старый код больше не резолвится
	w = s.do(http.MethodGet, "/editable", "", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, fallbackURL, w.Header().Get("Location"))

	w = s.do(http.MethodGet, "/edited", "", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://example.org/new", w.Header().Get("Location"))
}

func TestRedirect(t *testing.T) {
	s := newTestServer(t, nil)
	link := s.create(t, aliceKey, "https://example.com/landing", "landing")

	req := httptest.NewRequest(http.MethodGet, "/landing", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.20")
	req.Header.Set("User-Agent", "curl/8.0")
	req.Header.Set("X-API-Key", bobKey) // ключи действуют только в /api
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://example.com/landing", w.Header().Get("Location"))

	reqs := s.recorder.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, link.ID, reqs[0].LinkID)
	assert.Equal(t, "198.51.100.20", reqs[0].ClientIP)
	assert.Equal(t, "curl/8.0", reqs[0].UserAgent)
	assert.Empty(t, reqs[0].CallerID)
}

func TestRedirect_FallbackAndReserved(t *testing.T) {
	s := newTestServer(t, nil)
	link := s.create(t, aliceKey, "https://example.com/landing", "short-lived")

	w := s.do(http.MethodGet, "/unknown-code", "", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, fallbackURL, w.Header().Get("Location"))

	// зарезервированный маршрут тоже редирект, без обращения к хранилищу
	lookups := s.repo.LookupCalls()
	w = s.do(http.MethodGet, "/dashboard", "", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, fallbackURL, w.Header().Get("Location"))
	assert.Equal(t, lookups, s.repo.LookupCalls())

	w = s.do(http.MethodDelete, "/api/links/"+link.ID, aliceKey, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(http.MethodGet, "/short-lived", "", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, fallbackURL, w.Header().Get("Location"))

	// код сразу свободен
	s.create(t, bobKey, "https://example.org", "short-lived")
	assert.Empty(t, s.recorder.Requests())
}

func TestLegacyRedirect(t *testing.T) {
	s := newTestServer(t, nil)
	s.create(t, aliceKey, "https://example.com/api-target", "api-target")

	w := s.do(http.MethodGet, "/api/links/redirect/api-target", "", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://example.com/api-target", w.Header().Get("Location"))

	w = s.do(http.MethodGet, "/api/links/redirect/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"Link not found"}`, w.Body.String())

	s.repo.FailLookups(errors.New("database is down"))
	w = s.do(http.MethodGet, "/api/links/redirect/other", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Internal error"}`, w.Body.String())

	// основной путь при том же сбое всё равно уводит на fallback
	w = s.do(http.MethodGet, "/other", "", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, fallbackURL, w.Header().Get("Location"))
}

func TestGetLink_WithClicks(t *testing.T) {
	s := newTestServer(t, nil)
	link := s.create(t, aliceKey, "https://example.com/p", "counted")

	w := s.do(http.MethodGet, "/api/links/"+link.ID+"?clicks=abc", aliceKey, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/links/"+link.ID+"?clicks=5", aliceKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, decodeLink(t, w).ClickCount)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, map[string]handler.HealthCheck{
		"postgres": func(context.Context) error { return nil },
	})
	w := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"postgres":"ok"`)

	w = s.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")

	down := newTestServer(t, map[string]handler.HealthCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	w = down.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "degraded")
}

func TestHealth_RateLimitedByIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{RequestsPerSecond: 1, BurstSize: 2})
	t.Cleanup(rl.Close)

	router := handler.NewRouter(handler.RouterDeps{
		Health:      handler.NewHealthHandler(nil, nil),
		RateLimiter: rl,
		Logger:      zap.NewNop(),
	})

	get := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, get("203.0.113.1"))
	assert.Equal(t, http.StatusOK, get("203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, get("203.0.113.1"))
	// у другого адреса своя корзина
	assert.Equal(t, http.StatusOK, get("203.0.113.2"))
}

package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vision/backend/internal/broker"
	"github.com/vision/backend/internal/client"
	"github.com/vision/backend/internal/config"
	"github.com/vision/backend/internal/credentials"
	"github.com/vision/backend/internal/database"
	"github.com/vision/backend/internal/db"
	"github.com/vision/backend/internal/entries"
	"github.com/vision/backend/internal/hub"
	"github.com/vision/backend/internal/middleware"
	"github.com/vision/backend/internal/models"
	"github.com/vision/backend/internal/results"
	"github.com/vision/backend/internal/services"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sqlDB, err := database.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, database.RunMigrations(sqlDB))

	cfg := &config.Config{
		AccessTokenLifetime:  time.Hour,
		RefreshTokenLifetime: 24 * time.Hour,
		MaxScore:             10,
		RateLimitPerMinute:   100,
		CORSAllowedOrigins:   []string{"http://localhost:4200"},
		ClientRefreshLeeway:  10 * time.Second,
		ClientMinRefresh:     10 * time.Second,
	}

	queries := db.New(sqlDB)
	store := credentials.NewSQLiteStore(queries)
	catalog, err := entries.NewCatalog([]models.Entry{
		{ID: "1", Attributes: map[string]any{"country": "Sweden"}},
		{ID: "2", Attributes: map[string]any{"country": "Finland"}},
	})
	require.NoError(t, err)
	scores := entries.NewScoreStore(queries, catalog, cfg.MaxScore)
	agg := results.NewAggregator(scores, cfg.MaxScore)
	b := broker.New()
	h := hub.New(store, scores, agg, b, catalog.IDs(), hub.Options{AccessTokenLifetime: cfg.AccessTokenLifetime})
	go h.Run(ctx)

	creds := services.NewCredentialService(queries, store, services.NewAuthService("test-secret"), cfg.AccessTokenLifetime, cfg.RefreshTokenLifetime)

	srv := httptest.NewServer(New(cfg, Deps{
		Credentials: creds,
		Catalog:     catalog,
		Scores:      scores,
		Aggregator:  agg,
		Broker:      b,
		Hub:         h,
		RateLimiter: middleware.NewRateLimiter(ctx, cfg.RateLimitPerMinute),
	}))
	t.Cleanup(func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		h.Shutdown(shutdownCtx)
		srv.Close()
	})
	return srv
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	srv := newTestServer(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/entries"},
		{http.MethodGet, "/api/entries/1"},
		{http.MethodPatch, "/api/entries/1"},
		{http.MethodPost, "/api/logout"},
	} {
		resp := doJSON(t, tc.method, srv.URL+tc.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "%s %s", tc.method, tc.path)
	}
}

func TestSessionLifecycle(t *testing.T) {
	srv := newTestServer(t)
	creds := map[string]string{"username": "alice", "password": "correct horse"}

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/register", "", creds)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/token", "", creds)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var info models.AccessInfoResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	require.NotEmpty(t, info.AccessToken)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/entries", info.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []models.EntryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 2)
	assert.Equal(t, results.SentinelScore, list[0].Score)

	resultsCh := make(chan models.Results, 8)
	updates := make(chan models.ScoreUpdate, 8)
	notices := make(chan client.Notice, 1)
	loggedOut := make(chan struct{})

	ctrl := client.New(client.Options{
		URL:          "ws" + strings.TrimPrefix(srv.URL, "http") + "/update",
		RefreshToken: func() string { return info.RefreshToken },
		Handlers: client.Handlers{
			OnResults:     func(r models.Results) { resultsCh <- r },
			OnScoreUpdate: func(u models.ScoreUpdate) { updates <- u },
			OnNotice:      func(n client.Notice) { notices <- n },
			OnLoggedOut:   func() { close(loggedOut) },
		},
	})
	require.NoError(t, ctrl.Start(context.Background()))

	// A freshly bound connection gets a full results sync.
	select {
	case r := <-resultsCh:
		assert.Len(t, r, 2)
	case <-time.After(5 * time.Second):
		t.Fatal("no initial results sync")
	}

	resp = doJSON(t, http.MethodPatch, srv.URL+"/api/entries/1", info.AccessToken, map[string]any{"update": "score", "score": 7})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case u := <-updates:
		assert.Equal(t, models.ScoreUpdate{ID: "1", Score: 7}, u)
	case <-time.After(5 * time.Second):
		t.Fatal("no score update pushed to the owner")
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/logout", info.AccessToken, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	select {
	case <-loggedOut:
	case <-time.After(5 * time.Second):
		t.Fatal("websocket not closed on logout")
	}
	select {
	case n := <-notices:
		t.Errorf("logout should be silent, got notice %q", n.Title)
	default:
	}
	assert.True(t, ctrl.Stopped())

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/entries", info.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestOriginPatterns(t *testing.T) {
	got := originPatterns([]string{"http://localhost:4200", "https://vote.example.com", "not a url", ""})
	assert.Equal(t, []string{"localhost:4200", "vote.example.com"}, got)
}

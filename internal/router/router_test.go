package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/personal-health-manager/internal/config"
	"github.com/iliyamo/personal-health-manager/internal/middleware"
	"github.com/iliyamo/personal-health-manager/internal/service"
	"github.com/iliyamo/personal-health-manager/internal/storage"
	"github.com/iliyamo/personal-health-manager/internal/testutil"
	"github.com/iliyamo/personal-health-manager/internal/utils"
)

type nopSigner struct{}

func (nopSigner) PresignUpload(context.Context, string, string, string, int64) (storage.Upload, error) {
	return storage.Upload{}, nil
}

func (nopSigner) PresignDownload(context.Context, string, string) (string, time.Time, error) {
	return "", time.Time{}, nil
}

type app struct {
	e  *echo.Echo
	mr *miniredis.Miniredis
}

func newApp(t *testing.T, rl config.RateLimitConfig) *app {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := testutil.NewMemStore()
	svc, err := service.NewAuthService(service.AuthDeps{
		Users:  store,
		Tokens: store,
		Hasher: utils.NewPasswordHasher(bcrypt.MinCost),
		Issuer: utils.NewTokenIssuer(utils.TokenConfig{
			Secret:     []byte("router-test-secret"),
			AccessTTL:  30 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			ResetTTL:   time.Hour,
		}),
		Events: &testutil.Publisher{},
		Log:    zerolog.Nop(),
	})
	require.NoError(t, err)

	e := New(Deps{
		Config: config.Config{
			AppName:     "Personal Health Manager",
			Version:     "1.0.0",
			Env:         "test",
			APIPrefix:   "/api/v1",
			CORSOrigins: []string{"http://localhost:3000"},
		},
		RateLimit: rl,
		Cache: config.CacheConfig{
			Enabled:      true,
			Methods:      map[string]bool{http.MethodGet: true},
			TTL:          time.Minute,
			KeyStrategy:  "user_route_query",
			Prefix:       "cache",
			MaxBodyBytes: 1 << 20,
		},
		Log:       zerolog.Nop(),
		Auth:      svc,
		Documents: nopSigner{},
		Redis:     rdb,
		Registry:  prometheus.NewRegistry(),
	})
	return &app{e: e, mr: mr}
}

func (a *app) do(method, path, body, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func TestSessionScenario(t *testing.T) {
	a := newApp(t, config.RateLimitConfig{})

	rec := a.do(http.MethodPost, "/api/v1/auth/register", `{"email":"alice@example.com","password":"Secret123!"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.do(http.MethodPost, "/api/v1/auth/login", `{"username":"alice@example.com","password":"Secret123!"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var pair service.TokenPair
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pair))
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)
	assert.Equal(t, 1800, pair.ExpiresIn)

	rec = a.do(http.MethodGet, "/api/v1/auth/me", "", pair.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"email":"alice@example.com"`)

	rec = a.do(http.MethodGet, "/api/v1/auth/me", "", pair.RefreshToken)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(http.MethodGet, "/api/v1/visits/7", "", pair.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Get visit 7 endpoint - TODO: Implement"}`, rec.Body.String())

	rec = a.do(http.MethodGet, "/api/v1/visits/7", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAppSurface(t *testing.T) {
	a := newApp(t, config.RateLimitConfig{})

	rec := a.do(http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
	assert.NotEmpty(t, rec.Header().Get(middleware.ProcessTimeHeader))
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
	assert.Equal(t, "nosniff", rec.Header().Get(echo.HeaderXContentTypeOptions))

	rec = a.do(http.MethodGet, "/", "", "")
	assert.Contains(t, rec.Body.String(), "Welcome to Personal Health Manager API")

	rec = a.do(http.MethodGet, "/does-not-exist", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"HTTP_404"`)

	rec = a.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestCredentialRoutesAreRateLimited(t *testing.T) {
	a := newApp(t, config.RateLimitConfig{
		Enabled:        true,
		Capacity:       2,
		RefillTokens:   1,
		RefillInterval: time.Hour,
		TTL:            time.Hour,
		KeyStrategy:    "ip_route",
		Prefix:         "rl",
	})

	for i := 0; i < 2; i++ {
		rec := a.do(http.MethodPost, "/api/v1/auth/forgot-password", `{"email":"x@example.com"}`, "")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := a.do(http.MethodPost, "/api/v1/auth/forgot-password", `{"email":"x@example.com"}`, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), `"code":"RATE_LIMIT_ERROR"`)

	// Other routes have their own bucket.
	rec = a.do(http.MethodPost, "/api/v1/auth/register", `{"email":"y@example.com","password":"Secret123!"}`, "")
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestDashboardIsCachedPerUser(t *testing.T) {
	a := newApp(t, config.RateLimitConfig{})
	require.Equal(t, http.StatusCreated,
		a.do(http.MethodPost, "/api/v1/auth/register", `{"email":"bob@example.com","password":"Secret123!"}`, "").Code)
	rec := a.do(http.MethodPost, "/api/v1/auth/login", `{"username":"bob@example.com","password":"Secret123!"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var pair service.TokenPair
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pair))

	first := a.do(http.MethodGet, "/api/v1/dashboard/metrics", "", pair.AccessToken)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Contains(t, first.Body.String(), "Get health metrics endpoint - TODO: Implement")

	keys := a.mr.Keys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], "cache:"))

	second := a.do(http.MethodGet, "/api/v1/dashboard/metrics", "", pair.AccessToken)
	assert.Equal(t, first.Body.String(), second.Body.String())

	// Unauthenticated requests never reach the cache.
	rec = a.do(http.MethodGet, "/api/v1/dashboard/metrics", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/api"
	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/internal/metrics"
	"github.com/BaSui01/swarmflow/types"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) *api.ErrorInfo {
	t.Helper()
	var resp api.Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	return resp.Error
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders()(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))
}

func TestRequestID(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = types.RequestID(r.Context())
	})
	handler := Chain(inner, SecurityHeaders(), RequestID())

	t.Run("generated", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

		id := w.Header().Get("X-Request-ID")
		assert.Len(t, id, 26)
		assert.Equal(t, id, seen)
		assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	})

	t.Run("client supplied", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/test", nil)
		r.Header.Set("X-Request-ID", "trace-42")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		assert.Equal(t, "trace-42", w.Header().Get("X-Request-ID"))
		assert.Equal(t, "trace-42", seen)
	})
}

func TestRecovery(t *testing.T) {
	inner := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	handler := Recovery(zap.NewNop())(inner)

	w := httptest.NewRecorder()
	require.NotPanics(t, func() {
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/swarms", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, string(types.ErrInternalError), decodeError(t, w).Code)
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestAuthenticate(t *testing.T) {
	const secret = "test-secret"
	cfg := config.AuthConfig{
		APIKeys:   []string{"key-a", "key-b"},
		JWTSecret: secret,
		JWTIssuer: "swarmflow-test",
	}
	skip := []string{"/health", "/metrics"}

	var userID string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, _ = types.UserID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := Authenticate(cfg, skip, zap.NewNop())(inner)

	valid := signToken(t, secret, jwt.MapClaims{
		"user_id": "alice",
		"iss":     "swarmflow-test",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	subjectOnly := signToken(t, secret, jwt.MapClaims{
		"sub": "bob",
		"iss": "swarmflow-test",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	tests := []struct {
		name     string
		path     string
		header   map[string]string
		wantCode int
		wantUser string
	}{
		{name: "skip path", path: "/health", wantCode: http.StatusOK},
		{name: "missing credentials", path: "/api/v1/swarms", wantCode: http.StatusUnauthorized},
		{name: "valid api key", path: "/api/v1/swarms", header: map[string]string{"X-API-Key": "key-b"}, wantCode: http.StatusOK},
		{name: "invalid api key", path: "/api/v1/swarms", header: map[string]string{"X-API-Key": "nope"}, wantCode: http.StatusUnauthorized},
		{name: "query key on stream", path: "/api/v1/swarms/s1/stream?api_key=key-a", wantCode: http.StatusOK},
		{name: "query key elsewhere", path: "/api/v1/swarms?api_key=key-a", wantCode: http.StatusUnauthorized},
		{name: "valid jwt", path: "/api/v1/swarms", header: map[string]string{"Authorization": "Bearer " + valid}, wantCode: http.StatusOK, wantUser: "alice"},
		{name: "jwt subject", path: "/api/v1/swarms", header: map[string]string{"Authorization": "Bearer " + subjectOnly}, wantCode: http.StatusOK, wantUser: "bob"},
		{name: "wrong secret", path: "/api/v1/swarms", header: map[string]string{"Authorization": "Bearer " + signToken(t, "other", jwt.MapClaims{"iss": "swarmflow-test"})}, wantCode: http.StatusUnauthorized},
		{name: "wrong issuer", path: "/api/v1/swarms", header: map[string]string{"Authorization": "Bearer " + signToken(t, secret, jwt.MapClaims{"iss": "someone-else"})}, wantCode: http.StatusUnauthorized},
		{name: "expired", path: "/api/v1/swarms", header: map[string]string{"Authorization": "Bearer " + signToken(t, secret, jwt.MapClaims{"iss": "swarmflow-test", "exp": time.Now().Add(-time.Minute).Unix()})}, wantCode: http.StatusUnauthorized},
		{name: "malformed header", path: "/api/v1/swarms", header: map[string]string{"Authorization": "Basic abc"}, wantCode: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userID = ""
			r := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantUser, userID)
			if tt.wantCode == http.StatusUnauthorized {
				assert.Equal(t, string(types.ErrUnauthorized), decodeError(t, w).Code)
			}
		})
	}
}

func TestAuthenticate_Disabled(t *testing.T) {
	handler := Authenticate(config.AuthConfig{}, nil, zap.NewNop())(okHandler())
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/swarms", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimiter(ctx, 1, 1, zap.NewNop())(okHandler())

	send := func(remote string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/swarms", nil)
		r.RemoteAddr = remote
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:1234").Code)
	limited := send("10.0.0.1:5678")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "1", limited.Header().Get("Retry-After"))
	assert.Equal(t, string(types.ErrRateLimited), decodeError(t, limited).Code)

	// 不同 IP 独立计数
	assert.Equal(t, http.StatusOK, send("10.0.0.2:1234").Code)
}

func TestRateLimiter_Disabled(t *testing.T) {
	handler := RateLimiter(context.Background(), 0, 0, zap.NewNop())(okHandler())
	for i := 0; i < 20; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
}

func TestCORS(t *testing.T) {
	handler := CORS([]string{"https://console.example.com"})(okHandler())

	preflight := func(origin string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodOptions, "/api/v1/swarms", nil)
		r.Header.Set("Origin", origin)
		r.Header.Set("Access-Control-Request-Method", http.MethodPost)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w
	}

	w := preflight("https://console.example.com")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://console.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	w = preflight("https://evil.example.com")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	// 同源请求不受影响
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/swarms", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/health", "/health"},
		{"/api/v1/swarms", "/api/v1/swarms"},
		{"/api/v1/swarms/swarm-7f3a", "/api/v1/swarms/:id"},
		{"/api/v1/swarms/swarm-7f3a/stream", "/api/v1/swarms/:id/stream"},
		{"/api/v1/swarms/abc/stop", "/api/v1/swarms/:id/stop"},
		{"/api/v1/checkpoints/ckpt-1", "/api/v1/checkpoints/:id"},
		{"/api/v1/knowledge/team-a", "/api/v1/knowledge/:namespace"},
		{"/api/v1/config/rollback", "/api/v1/config/rollback"},
		{"/other/01HZX3K4V8Q9J2N6T7W5Y0ABCD", "/other/:id"},
		{"/other/12345", "/other/:id"},
		{"/other/static", "/other/static"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizePath(tt.in))
		})
	}
}

func TestMetricsMiddleware(t *testing.T) {
	collector := metrics.NewCollector("cmd_middleware_test", zap.NewNop())
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	handler := MetricsMiddleware(collector)(inner)

	for _, id := range []string{"a1", "b2", "c3"} {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/swarms/"+id, nil))
		require.Equal(t, http.StatusNotFound, w.Code)
	}

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != "cmd_middleware_test_http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			assert.Equal(t, "/api/v1/swarms/:id", labels["path"])
			total += m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 3.0, total)
}

func TestDescribeMiddleware(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Auth.APIKeys = []string{"k"}
	assert.Contains(t, describeMiddleware(cfg, true), "auth=api_key ")
	assert.Contains(t, describeMiddleware(cfg, true), "tracing=true")

	cfg.Auth = config.AuthConfig{}
	assert.Contains(t, describeMiddleware(cfg, false), "auth=off")
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iliyamo/dossier-workflow/internal/config"
	"github.com/iliyamo/dossier-workflow/internal/model"
)

const secret = "test-secret"

func token(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuthSetsPrincipal(t *testing.T) {
	e := echo.New()
	e.GET("/me", func(c echo.Context) error {
		p, ok := PrincipalFrom(c)
		if !ok {
			return c.NoContent(http.StatusTeapot)
		}
		return c.JSON(http.StatusOK, echo.Map{"id": p.UserID, "role": p.Role})
	}, JWTAuth(secret))

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer abc", http.StatusUnauthorized},
		{"valid", "Bearer " + token(t, jwt.MapClaims{"sub": 7, "role": "AGENT", "exp": time.Now().Add(time.Minute).Unix()}), http.StatusOK},
		{"string sub", "Bearer " + token(t, jwt.MapClaims{"sub": "7", "role": "CLIENT", "exp": time.Now().Add(time.Minute).Unix()}), http.StatusOK},
		{"expired", "Bearer " + token(t, jwt.MapClaims{"sub": 7, "role": "AGENT", "exp": time.Now().Add(-time.Minute).Unix()}), http.StatusUnauthorized},
		{"unknown role", "Bearer " + token(t, jwt.MapClaims{"sub": 7, "role": "OWNER"}), http.StatusUnauthorized},
		{"no subject", "Bearer " + token(t, jwt.MapClaims{"role": "ADMIN"}), http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tc.header)
			}
			if rec := serve(e, req); rec.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestParseAccessTokenRejectsOtherAlgorithms(t *testing.T) {
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"sub": 1, "role": "ADMIN"}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseAccessToken(secret, raw); err == nil {
		t.Fatal("HS512 token must be rejected")
	}
}

func TestRequireRole(t *testing.T) {
	e := echo.New()
	ok := func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }
	e.GET("/admin", ok, JWTAuth(secret), RequireRole(model.RoleAgent, model.RoleAdmin))

	for role, want := range map[string]int{"CLIENT": http.StatusForbidden, "AGENT": http.StatusNoContent, "ADMIN": http.StatusNoContent} {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token(t, jwt.MapClaims{"sub": 1, "role": role}))
		if rec := serve(e, req); rec.Code != want {
			t.Fatalf("%s: expected %d, got %d", role, want, rec.Code)
		}
	}
}

func TestRequestIDPropagates(t *testing.T) {
	e := echo.New()
	e.Use(RequestID())
	e.GET("/", func(c echo.Context) error { return c.String(http.StatusOK, RequestIDFrom(c)) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderXRequestID, "abc-123")
	rec := serve(e, req)
	if rec.Body.String() != "abc-123" || rec.Header().Get(echo.HeaderXRequestID) != "abc-123" {
		t.Fatalf("inbound id should be kept, got body %q header %q", rec.Body.String(), rec.Header().Get(echo.HeaderXRequestID))
	}

	rec = serve(e, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(rec.Body.String()) != 36 {
		t.Fatalf("expected a generated uuid, got %q", rec.Body.String())
	}
}

func TestRequestLoggerLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	e := echo.New()
	e.Use(RequestID(), RequestLogger(zap.New(core)))
	e.GET("/ok", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/boom", func(c echo.Context) error { return echo.NewHTTPError(http.StatusInternalServerError, "boom") })

	serve(e, httptest.NewRequest(http.MethodGet, "/ok", nil))
	serve(e, httptest.NewRequest(http.MethodGet, "/boom", nil))

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(entries))
	}
	if entries[0].Level != zapcore.DebugLevel || entries[1].Level != zapcore.ErrorLevel {
		t.Fatalf("unexpected levels %s, %s", entries[0].Level, entries[1].Level)
	}
	if got := entries[1].ContextMap()["status"]; got != int64(500) {
		t.Fatalf("expected status 500 to be logged, got %v", got)
	}
	if entries[1].ContextMap()["route"] != "/boom" {
		t.Fatalf("unexpected route %v", entries[1].ContextMap()["route"])
	}
}

func TestRedisMiddlewaresPassThroughWithoutClient(t *testing.T) {
	e := echo.New()
	e.GET("/", func(c echo.Context) error { return c.String(http.StatusOK, "hi") },
		NewTokenBucket(config.RateLimitConfig{Enabled: true, Capacity: 1}, nil, zap.NewNop()),
		NewRedisCache(config.CacheConfig{Enabled: true, Methods: map[string]bool{"GET": true}}, nil, zap.NewNop()))
	for i := 0; i < 3; i++ {
		rec := serve(e, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK || rec.Header().Get("X-Cache") != "" {
			t.Fatalf("request %d: expected plain 200, got %d (X-Cache=%q)", i, rec.Code, rec.Header().Get("X-Cache"))
		}
	}
}

func TestRateKeyStrategies(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/documents", nil)
	req.Header.Set(echo.HeaderXRealIP, "10.0.0.1")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/documents")
	c.Set(ctxPrincipal, model.Principal{UserID: 5, Role: model.RoleClient})

	cases := map[string]string{
		"ip":            "rl:ip:10.0.0.1",
		"user":          "rl:user:5",
		"user_route":    "rl:user:5:route:POST /v1/documents",
		"ip_user_route": "rl:ip:10.0.0.1:user:5:route:POST /v1/documents",
		"route_ip":      "rl:route:POST /v1/documents:ip:10.0.0.1",
		"bogus":         "rl:ip:10.0.0.1:user:5:route:POST /v1/documents",
	}
	for strategy, want := range cases {
		if got := rateKey(config.RateLimitConfig{Prefix: "rl", KeyStrategy: strategy}, c); got != want {
			t.Fatalf("%s: expected %q, got %q", strategy, want, got)
		}
	}
}

func TestCacheKeySeparatesPaths(t *testing.T) {
	e := echo.New()
	cfg := config.CacheConfig{Prefix: "c", KeyStrategy: "route"}
	key := func(path string) string {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, path, nil), httptest.NewRecorder())
		c.SetPath("/v1/products/:id/workflow")
		return cacheKey(cfg, c)
	}
	if key("/v1/products/1/workflow") == key("/v1/products/2/workflow") {
		t.Fatal("different products must not share a cache entry")
	}
	if key("/v1/products/1/workflow?lang=fr") != key("/v1/products/1/workflow?lang=en") {
		t.Fatal("route strategy ignores the query string")
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	hdr := http.Header{"Content-Type": {"application/json"}}
	bs, err := encodePayload(http.StatusOK, hdr, []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	status, got, body, ok := decodePayload(bs)
	if !ok || status != http.StatusOK || got.Get("Content-Type") != "application/json" || string(body) != `{"a":1}` {
		t.Fatalf("unexpected decode: %d %v %q %v", status, got, body, ok)
	}
	if _, _, _, ok := decodePayload(bs[:5]); ok {
		t.Fatal("short payload must not decode")
	}
}

package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

// ── Upstox provider auth ──

func TestUpstoxAuthURL(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, http.MethodGet, "/api/upstox/auth-url", nil)
	if code != http.StatusOK {
		t.Fatalf("GET /auth-url = %d: %v", code, resp)
	}
	u, _ := resp["auth_url"].(string)
	if !strings.Contains(u, "client_id=test-key") {
		t.Errorf("auth_url = %q, want the api key as client_id", u)
	}
	if !strings.Contains(u, "response_type=code") {
		t.Errorf("auth_url = %q, want response_type=code", u)
	}
}

func TestUpstoxExchangeTokenRequiresCode(t *testing.T) {
	env := newTestEnv(t)
	code, resp := env.do(t, http.MethodGet, "/api/upstox/exchange-token", nil)
	if code != http.StatusBadRequest {
		t.Errorf("missing code = %d, want 400: %v", code, resp)
	}
}

func TestUpstoxSaveToken(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, http.MethodPost, "/api/upstox/save-token", map[string]any{
		"access_token": "tok-123",
	})
	if code != http.StatusOK {
		t.Fatalf("POST /save-token = %d: %v", code, resp)
	}

	// Persisted to the config file.
	raw, err := os.ReadFile(env.cfgPath)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if !strings.Contains(string(raw), "tok-123") {
		t.Errorf("config file missing the token:\n%s", raw)
	}

	// Hot-applied to the running client and reflected in health.
	if got := env.provider.AccessToken(); got != "tok-123" {
		t.Errorf("client token = %q, want tok-123", got)
	}
	_, health := env.do(t, http.MethodGet, "/health", nil)
	if health["upstox_configured"] != true {
		t.Errorf("health upstox_configured = %v, want true", health["upstox_configured"])
	}
}

func TestUpstoxSaveTokenValidation(t *testing.T) {
	env := newTestEnv(t)
	code, resp := env.do(t, http.MethodPost, "/api/upstox/save-token", map[string]any{
		"access_token": "   ",
	})
	if code != http.StatusBadRequest {
		t.Errorf("blank token = %d, want 400: %v", code, resp)
	}
}

// ── Kite broker auth ──

func TestKiteLoginUnconfigured(t *testing.T) {
	env := newTestEnv(t)
	// The harness client has no user_id/password, so the automated flow
	// fails before any network traffic.
	code, resp := env.do(t, http.MethodPost, "/api/zerodha/login", nil)
	if code != http.StatusBadGateway {
		t.Fatalf("POST /login = %d: %v", code, resp)
	}
	detail, _ := resp["detail"].(string)
	if !strings.Contains(detail, "not configured") {
		t.Errorf("detail = %q", detail)
	}
}

func TestKiteSessionRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	code, resp := env.do(t, http.MethodPost, "/api/zerodha/session", map[string]any{})
	if code != http.StatusBadRequest {
		t.Errorf("empty body = %d, want 400: %v", code, resp)
	}
}

func TestAuthRoutesWithoutClients(t *testing.T) {
	srv := New(Config{})
	router := srv.Router()

	for _, tc := range []struct {
		method, path string
	}{
		{http.MethodGet, "/api/upstox/auth-url"},
		{http.MethodGet, "/api/upstox/exchange-token?code=x"},
		{http.MethodPost, "/api/zerodha/login"},
		{http.MethodPost, "/api/zerodha/session"},
	} {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s %s = %d, want 503", tc.method, tc.path, w.Code)
		}
	}
}

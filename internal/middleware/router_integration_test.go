package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

// newChainRouter はhandler.NewRouterと同じ順序でミドルウェアを積んだchi.Routerを返す。
func newChainRouter(t *testing.T, guard *BusyGuard, next http.HandlerFunc) http.Handler {
	t.Helper()

	rl := NewRateLimiter(RateLimiterConfig{Rate: 10, Burst: 10, CleanupInterval: time.Minute})
	t.Cleanup(rl.Stop)

	r := chi.NewRouter()
	r.Use(NewRequestIDMiddleware())
	r.Use(NewRecoveryMiddleware())
	r.Use(NewCORSMiddleware("http://localhost:19006"))
	r.Use(NewSecurityHeadersMiddleware())
	r.Get("/auth/csrf-token", NewCSRFTokenHandler(CSRFConfig{}).ServeHTTP)
	r.Group(func(r chi.Router) {
		r.Use(NewCSRFMiddleware(CSRFConfig{}))
		r.Use(rl.Middleware())
		r.With(guard.Middleware()).Post("/auth/sign-in", next)
	})
	return r
}

// TestRouterIntegration_CSRFTokenThenPost はトークン取得後のPOSTがチェーンを通過することを検証する。
func TestRouterIntegration_CSRFTokenThenPost(t *testing.T) {
	var requestID string
	r := newChainRouter(t, NewBusyGuard(), func(w http.ResponseWriter, r *http.Request) {
		requestID = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/csrf-token", nil))

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want %q", got, "nosniff")
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/sign-in", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: body.Token})
	req.Header.Set(csrfHeaderName, body.Token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if requestID == "" || w.Header().Get("X-Request-ID") != requestID {
		t.Errorf("request ID not propagated: ctx=%q header=%q", requestID, w.Header().Get("X-Request-ID"))
	}
}

// TestRouterIntegration_PostWithoutToken_Returns403 はCSRFがビジーガードより先に評価されることを検証する。
func TestRouterIntegration_PostWithoutToken_Returns403(t *testing.T) {
	guard := NewBusyGuard()
	r := newChainRouter(t, guard, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/sign-in", nil))

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if guard.Busy() {
		t.Error("rejected request must not hold the busy guard")
	}
}

// TestRouterIntegration_PanicReturnsJSON500 はパニックが統一フォーマットの500になることを検証する。
func TestRouterIntegration_PanicReturnsJSON500(t *testing.T) {
	r := newChainRouter(t, NewBusyGuard(), func(w http.ResponseWriter, r *http.Request) {
		panic("unexpected")
	})

	req := httptest.NewRequest(http.MethodPost, "/auth/sign-in", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "t"})
	req.Header.Set(csrfHeaderName, "t")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want %q", body.Code, "INTERNAL_ERROR")
	}
}

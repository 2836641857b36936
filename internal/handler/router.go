package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/mockauth/internal/middleware"
)

// HealthChecker は依存先の疎通確認を行うインターフェース。
// *sql.DBはこのインターフェースを満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	CSRF              middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	BusyGuard         *middleware.BusyGuard
	// TrustProxy がtrueの場合、X-Forwarded-ForなどからクライアントIPを決定する。
	TrustProxy bool

	// 認証
	Manager    AuthManager
	AuthConfig AuthHandlerConfig

	// 運用
	MetricsHandler http.Handler
	HealthCheck    HealthChecker
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → (RealIP) → Recovery → Logging → CORS → SecurityHeaders
//
// 状態を変更する認証ルートには、さらに CSRF → RateLimit → BusyGuard を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	guard := deps.BusyGuard
	if guard == nil {
		guard = middleware.NewBusyGuard()
	}

	r.Use(middleware.NewRequestIDMiddleware())
	if deps.TrustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	authHandler := NewAuthHandler(deps.Manager, deps.AuthConfig)

	// --- 運用エンドポイント ---
	r.Get("/health", healthHandler(deps.HealthCheck))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証ルート ---
	r.Route("/auth", func(r chi.Router) {
		r.Get("/state", authHandler.State)
		r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

		// リダイレクトフローはブラウザ遷移のためCSRFヘッダーを要求しない。
		// stateパラメータとCookieの一致で代替する。
		r.Get("/google/login", authHandler.GoogleLogin)
		r.With(guard.Middleware()).Get("/google/callback", authHandler.GoogleCallback)

		r.Group(func(r chi.Router) {
			r.Use(middleware.NewCSRFMiddleware(deps.CSRF))
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.Middleware())
			}
			r.Use(guard.Middleware())

			r.Post("/sign-in", authHandler.SignIn)
			r.Post("/sign-up", authHandler.SignUp)
			r.Post("/confirm-sign-up", authHandler.ConfirmSignUp)
			r.Post("/forgot-password", authHandler.ForgotPassword)
			r.Post("/confirm-forgot-password", authHandler.ConfirmForgotPassword)
			r.Post("/resend-code", authHandler.ResendConfirmationCode)
			r.Post("/sign-out", authHandler.SignOut)
			r.Post("/google", authHandler.SignInWithGoogle)
			r.Post("/apple", authHandler.SignInWithApple)
		})
	})

	return r
}

// healthHandler はヘルスチェックのハンドラーを返す。
// checkerがnilの場合は常にokを返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

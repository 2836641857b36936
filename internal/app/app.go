package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/mockauth/internal/auth"
	"github.com/hitoshi/mockauth/internal/config"
	"github.com/hitoshi/mockauth/internal/database"
	"github.com/hitoshi/mockauth/internal/handler"
	"github.com/hitoshi/mockauth/internal/kvstore"
	"github.com/hitoshi/mockauth/internal/logger"
	"github.com/hitoshi/mockauth/internal/metrics"
	"github.com/hitoshi/mockauth/internal/middleware"
	"github.com/hitoshi/mockauth/internal/repository"
	"github.com/hitoshi/mockauth/internal/security"
	"github.com/hitoshi/mockauth/internal/social"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("storage_backend", cfg.StorageBackend),
		slog.String("platform", cfg.Platform),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// Application は配線済みのHTTPハンドラーと、終了時に解放するリソースを保持する。
type Application struct {
	Handler http.Handler
	Manager *auth.Manager

	closers []func() error
}

// Close は確保したリソースを逆順に解放する。
func (a *Application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build は設定に従って全依存関係をワイヤリングし、保存済みセッションを復元する。
// 戻り値のApplicationは使用後にCloseする。
func Build(ctx context.Context, cfg *config.Config) (*Application, error) {
	a := &Application{}

	// 1. ストレージ
	store, health, err := a.openStorage(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	// 2. セキュリティサービスの初期化
	hasher, err := security.NewPasswordHasher(cfg.PasswordHashing)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create password hasher: %w", err)
	}
	seed, err := security.HashCredentials(repository.DefaultSeed(), hasher)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to hash seed credentials: %w", err)
	}
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewProfileSanitizer()

	// 3. リポジトリの初期化
	directory := repository.NewKVCredentialDirectory(store, seed)
	sessions := repository.NewKVSessionStore(store)

	// 4. ソーシャルサインイン
	bridge, googleLoginURL, err := newSocialBridge(cfg, sessions, ssrfGuard, sanitizer)
	if err != nil {
		a.Close()
		return nil, err
	}

	// 5. メトリクス
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 6. 認証マネージャー
	manager := auth.NewManager(auth.Deps{
		Directory: directory,
		Sessions:  sessions,
		Social:    bridge,
		Hasher:    hasher,
		Sanitizer: sanitizer,
		Metrics:   collector,
	})
	manager.Subscribe(func(s auth.State) {
		slog.Debug("auth state changed",
			slog.String("status", string(s.Status)),
			slog.Bool("is_loading", s.IsLoading),
			slog.Bool("is_authenticating", s.IsAuthenticating),
			slog.String("error_kind", string(s.ErrorKind())),
		)
	})
	manager.Rehydrate(ctx)
	a.Manager = manager

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(cfg.RateLimitAuth))
	a.closers = append(a.closers, func() error {
		rateLimiter.Stop()
		return nil
	})

	a.Handler = handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRF:              middleware.CSRFConfig{CookieSecure: cfg.CookieSecure},
		RateLimiter:       rateLimiter,
		BusyGuard:         middleware.NewBusyGuard(),
		TrustProxy:        cfg.TrustProxy,

		Manager: manager,
		AuthConfig: handler.AuthHandlerConfig{
			CookieSecure:   cfg.CookieSecure,
			GoogleLoginURL: googleLoginURL,
		},

		MetricsHandler: metrics.Handler(registry),
		HealthCheck:    health,
	})

	return a, nil
}

// openStorage は設定されたバックエンドのStoreを開く。
// 疎通確認が可能なバックエンドではHealthCheckerも返す。
func (a *Application) openStorage(cfg *config.Config) (kvstore.Store, handler.HealthChecker, error) {
	switch cfg.StorageBackend {
	case config.BackendMemory:
		slog.Warn("using in-memory storage; sessions are lost on restart")
		return kvstore.NewMemoryStore(), nil, nil

	case config.BackendFile:
		store, err := kvstore.NewFileStore(cfg.DataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open file store: %w", err)
		}
		return store, nil, nil

	case config.BackendSQLite:
		store, err := kvstore.OpenSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, store, nil

	case config.BackendPostgres:
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return nil, nil, fmt.Errorf("migration failed: %w", err)
		}
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		if err := db.Ping(); err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("database connection established")
		return kvstore.NewPostgresStore(db), db, nil

	default:
		return nil, nil, fmt.Errorf("unsupported storage backend: %q", cfg.StorageBackend)
	}
}

// newSocialBridge はプロバイダー設定に応じて実プロバイダーまたは固定形のモックを組み立てる。
// Googleのリダイレクトフローが利用できる場合は認可URLの生成関数も返す。
func newSocialBridge(
	cfg *config.Config,
	sessions repository.SessionStore,
	guard security.SSRFGuardService,
	sanitizer security.ProfileSanitizerService,
) (*social.Bridge, func(state string) string, error) {
	client := guard.NewSafeClient(cfg.ProviderTimeout)

	var google social.GoogleSignIn = social.MockGoogle{}
	var googleLoginURL func(state string) string
	if cfg.GoogleConfigured() {
		provider := social.NewGoogleProvider(social.GoogleConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		}, social.ContextPrompter{}, client)
		google = provider
		googleLoginURL = provider.LoginURL
	}

	var apple social.AppleAuthenticator = social.MockAppleAuthenticator{}
	var verifier social.AppleTokenVerifier
	if cfg.AppleConfigured() {
		v, err := social.NewAppleVerifier(social.AppleConfig{
			ClientID:    cfg.AppleClientID,
			TeamID:      cfg.AppleTeamID,
			KeyID:       cfg.AppleKeyID,
			PrivateKey:  cfg.ApplePrivateKey,
			RedirectURL: cfg.AppleRedirectURL,
		}, client)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create apple verifier: %w", err)
		}
		apple = social.ContextAppleAuthenticator{}
		verifier = v
	}

	slog.Info("social sign-in providers configured",
		slog.Bool("google_real", cfg.GoogleConfigured()),
		slog.Bool("apple_real", cfg.AppleConfigured()),
	)

	bridge := social.NewBridge(social.BridgeDeps{
		Sessions:      sessions,
		Google:        google,
		Apple:         apple,
		AppleVerifier: verifier,
		Sanitizer:     sanitizer,
		URLGuard:      guard,
		Platform:      cfg.Platform,
	})
	return bridge, googleLoginURL, nil
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			slog.Error("failed to release resources", slog.String("error", err.Error()))
		}
	}()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      application.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.StorageBackend != config.BackendPostgres {
		return fmt.Errorf("migrate requires STORAGE_BACKEND=%s, got %q", config.BackendPostgres, cfg.StorageBackend)
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/lengo/internal/auth"
	"github.com/hitoshi/lengo/internal/config"
	"github.com/hitoshi/lengo/internal/database"
	"github.com/hitoshi/lengo/internal/handler"
	"github.com/hitoshi/lengo/internal/logger"
	"github.com/hitoshi/lengo/internal/metrics"
	"github.com/hitoshi/lengo/internal/middleware"
	"github.com/hitoshi/lengo/internal/security"
	"github.com/hitoshi/lengo/internal/user"
	"github.com/hitoshi/lengo/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にもログを使えるようにする
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, cfg.LogLevel)
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

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
		slog.String("store_backend", cfg.StoreBackend),
		slog.String("session_backend", cfg.SessionBackend),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// newRegistry はアプリケーション用のPrometheusレジストリとCollectorを生成する。
func newRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// newGoogleProvider はGoogle OAuthプロバイダーを構築する。
// OUTBOUND_GUARDが有効な場合はユーザー情報URLを検証し、送信先を制限したクライアントを使う。
func newGoogleProvider(cfg *config.Config) (*auth.GoogleOAuthProvider, error) {
	oauthCfg := auth.GoogleOAuthConfig{
		ClientID:    cfg.GoogleClientID,
		UserInfoURL: cfg.GoogleUserInfoURL,
		Timeout:     cfg.RequestTimeout,
	}
	if cfg.OutboundGuard {
		if err := security.ValidateURL(cfg.GoogleUserInfoURL); err != nil {
			return nil, fmt.Errorf("GOOGLE_USERINFO_URL rejected by outbound guard: %w", err)
		}
		oauthCfg.HTTPClient = security.NewSafeClient(cfg.RequestTimeout)
	}
	return auth.NewGoogleOAuthProvider(oauthCfg), nil
}

// server はserveモードで組み立てたHTTPハンドラーと後処理を保持する。
type server struct {
	handler  http.Handler
	stores   *stores
	limiter  *middleware.RateLimiter
	cleanup  *cleanup.CleanupJob
	registry *prometheus.Registry
}

// Close はレートリミッターを停止し、ストアを閉じる。
func (s *server) Close() {
	s.limiter.Stop()
	s.stores.Close()
}

// newServer は全依存関係をワイヤリングしてAPIサーバーのハンドラーを構築する。
func newServer(ctx context.Context, cfg *config.Config) (*server, error) {
	reg, collector := newRegistry()

	st, err := openStores(ctx, cfg, collector)
	if err != nil {
		return nil, err
	}

	hasher, err := auth.NewBcryptHasher(cfg.BcryptCost)
	if err != nil {
		st.Close()
		return nil, err
	}

	google, err := newGoogleProvider(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	authService := auth.NewService(
		st.users, st.sessions, hasher,
		[]auth.OAuthProvider{google},
		auth.ServiceConfig{
			SessionMaxAge:     cfg.SessionMaxAge,
			OAuthIssueSession: cfg.OAuthIssueSession,
		},
		collector,
	)
	userService := user.NewService(st.users, st.sessions)

	limiter := middleware.NewRateLimiter(
		middleware.PerMinuteRateLimiterConfig(cfg.RateLimitAuth, cfg.RateLimitGeneral),
	)

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		SessionFinder:     st.sessions,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,
		StatusRecorder:    collector,
		TrustProxyHeaders: cfg.TrustedProxy,
		HealthCheckers:    st.checkers,
		MetricsHandler:    metrics.Handler(reg),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},
		UserService: userService,
	})

	return &server{
		handler:  router,
		stores:   st,
		limiter:  limiter,
		cleanup:  cleanup.NewCleanupJob(st.sessions, collector, slog.Default()),
		registry: reg,
	}, nil
}

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	srv, err := newServer(ctx, cfg)
	if err != nil {
		return err
	}
	defer srv.Close()

	// メモリストアはワーカープロセスと共有できないため、サーバー内でクリーンアップを回す
	if cfg.StoreBackend == config.StoreMemory {
		go srv.cleanup.Start(ctx, cfg.SessionCleanupInterval)
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serveUntilDone(ctx, httpServer, "API server")
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションのクリーンアップを定期実行し、/metricsを別ポートで公開する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	reg, collector := newRegistry()

	st, err := openStores(ctx, cfg, collector)
	if err != nil {
		return err
	}
	defer st.Close()

	job := cleanup.NewCleanupJob(st.sessions, collector, slog.Default())

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           metrics.SetupMetricsRoute(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.SessionCleanupInterval),
		slog.String("metrics_port", cfg.WorkerMetricsPort),
	)

	go job.Start(ctx, cfg.SessionCleanupInterval)

	return serveUntilDone(ctx, metricsServer, "worker metrics server")
}

// serveUntilDone はHTTPサーバーを起動し、ctxがキャンセルされるまで待ってから停止する。
func serveUntilDone(ctx context.Context, server *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s listen error: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down " + name + "...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// PostgreSQL以外のバックエンドではスキーマ管理が不要なため何もしない。
func runMigrate(cfg *config.Config) error {
	if cfg.StoreBackend != config.StorePostgres {
		slog.Info("no migrations for store backend", slog.String("store_backend", cfg.StoreBackend))
		return nil
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	res, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed",
		slog.Uint64("version", uint64(res.Version)),
		slog.Bool("changed", res.Changed),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}

package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/lengo/internal/middleware"
	"github.com/hitoshi/lengo/internal/repository"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	StatusRecorder    middleware.StatusRecorder
	// TrustProxyHeaders がtrueの場合のみX-Forwarded-For等からクライアントIPを決定する
	TrustProxyHeaders bool

	// ヘルスチェック対象のストア
	HealthCheckers []repository.HealthChecker

	// /metrics のハンドラー。nilの場合は公開しない
	MetricsHandler http.Handler

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ユーザー
	UserService UserServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP(TrustProxyHeaders時のみ) → RequestID → Recovery → Logging → Metrics → SecurityHeaders → CORS
//
// /auth/* の認証エンドポイントにはIP単位のレート制限、
// /api/users/* と /auth/logout-all にはSession → RateLimit(General) を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if deps.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.StatusRecorder))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.AuthConfig.CookieSecure))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService, authHandler)

	sessionMW := middleware.NewSessionMiddleware(deps.SessionFinder)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthCheckers...))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	r.Get("/api/languages", Languages)

	r.Route("/auth", func(r chi.Router) {
		// 総当たり対策のレート制限
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.AuthMiddleware())
			r.Post("/signup", authHandler.Signup)
			r.Post("/login", authHandler.Login)
			r.Post("/oauth/google", authHandler.GoogleOAuth)
		})

		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)

		r.With(sessionMW, deps.RateLimiter.GeneralMiddleware()).Post("/logout-all", userHandler.LogoutAll)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(sessionMW)
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/users", func(r chi.Router) {
			r.Patch("/me", userHandler.UpdateProfile)
		})
	})

	return r
}

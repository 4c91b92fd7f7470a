package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionVerifier   middleware.SessionVerifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig

	// 認証
	AuthService  AuthServiceInterface
	OAuthService OAuthServiceInterface
	AuthConfig   AuthHandlerConfig

	// ユーザー
	UserService UserServiceInterface

	// 運用エンドポイント
	MetricsGatherer prometheus.Gatherer
	HealthCheck     http.HandlerFunc
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → CORS → CSRFMiddleware → (Session → RateLimit(General))
//
// 認証ルート（/auth/*）はセッションミドルウェアの外に配置する。
// パスワードを受け取るエンドポイントにはIP単位のレート制限を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	// 全ルート共通のミドルウェア。recoveryを最外周に置く。
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(slog.Default()))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	oauthHandler := NewOAuthHandler(deps.OAuthService, deps.AuthService, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService, deps.AuthService, deps.AuthConfig)

	// --- 運用エンドポイント ---

	if deps.HealthCheck != nil {
		r.Get("/health", deps.HealthCheck)
	}
	if deps.MetricsGatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	// --- 認証不要のルート ---

	r.Route("/auth", func(r chi.Router) {
		// パスワードを受け取るエンドポイントはIP単位で制限
		r.With(deps.RateLimiter.CredentialMiddleware()).Post("/signup", authHandler.Signup)
		r.With(deps.RateLimiter.CredentialMiddleware()).Post("/login", authHandler.Login)

		// OAuthフロー
		r.Get("/{provider}/login", oauthHandler.Begin)
		r.Get("/{provider}/callback", oauthHandler.Callback)

		// セッション管理
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	// CSRFトークン取得（ダブルサブミットCookie方式）
	r.Handle("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: CSRF → Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(middleware.NewSessionMiddleware(deps.SessionVerifier))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/users", func(r chi.Router) {
			r.Get("/me", userHandler.GetMe)
			r.Patch("/me", userHandler.UpdateMe)
			r.Put("/me/password", userHandler.ChangePassword)
			r.Delete("/me", userHandler.DeleteMe)
		})
	})

	return r
}

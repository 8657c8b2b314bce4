package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/gymgate/internal/auth"
	"github.com/hitoshi/gymgate/internal/middleware"
)

// MetricsRecorder はルーターのミドルウェアが記録するメトリクス。
type MetricsRecorder interface {
	middleware.StatusRecorder
	middleware.TokenRejectionRecorder
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	TokenValidator    auth.TokenValidator
	IdentityResolver  middleware.IdentityResolver
	Metrics           MetricsRecorder

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// アクセス制御
	CredentialIssuer CredentialIssuer
	CheckInValidator CheckInValidator
	CheckInLister    CheckInLister
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → CORS → SecurityHeaders → BearerAuth → RateLimit(General) → [RequireStaff → RateLimit(CheckIn)]
//
// /health と /metrics は認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var statuses middleware.StatusRecorder
	var rejections middleware.TokenRejectionRecorder
	if deps.Metrics != nil {
		statuses = deps.Metrics
		rejections = deps.Metrics
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, statuses))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	identityHandler := NewIdentityHandler()
	credentialHandler := NewCredentialHandler(deps.CredentialIssuer)
	checkInHandler := NewCheckInHandler(deps.CheckInValidator, deps.CheckInLister)

	// --- 認証不要のルート ---
	if deps.HealthChecker != nil {
		r.Get("/health", NewHealthHandler(deps.HealthChecker))
	}
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.AddressMiddleware())
		r.Use(middleware.NewBearerAuthMiddleware(deps.TokenValidator, deps.IdentityResolver, rejections))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/api/me", identityHandler.Me)
		r.Get("/api/credentials/current", credentialHandler.Current)

		// スタッフ専用
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireStaff)

			r.With(deps.RateLimiter.CheckInMiddleware()).Post("/api/checkins", checkInHandler.Create)
			r.Get("/api/gyms/{gymID}/checkins", checkInHandler.ListByGym)
		})
	})

	return r
}

package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/mapapp/internal/metrics"
	"github.com/hitoshi/mapapp/internal/middleware"
	"github.com/hitoshi/mapapp/internal/registration"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// 運用
	HealthChecker   HealthChecker
	MetricsGatherer prometheus.Gatherer

	// ミドルウェア依存
	SessionFinder     middleware.CurrentUserFinder
	CSRF              middleware.CSRFConfig
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	Renderer *Renderer

	// アカウント
	Identity      IdentityService
	Registrar     Registrar
	Profiles      ProfileReader
	Withdrawer    Withdrawer
	AccountConfig AccountHandlerConfig

	// イベント
	Events EventServiceInterface
	Maps   MapScripts
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Recovery → SecurityHeaders → Session → Logging → CSRF
//
// /health と /metrics はページ用のミドルウェアチェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware(logger))

	accountHandler := NewAccountHandler(deps.Identity, deps.Registrar, deps.Profiles, deps.Withdrawer, deps.Renderer, deps.AccountConfig)
	eventHandler := NewEventHandler(deps.Events, deps.Maps, deps.Renderer)

	// --- 運用エンドポイント ---
	r.Get("/health", HealthHandler(deps.HealthChecker))
	if deps.MetricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.MetricsGatherer))
	}
	r.Handle("/static/*", StaticHandler())

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		deps.Renderer.Error(w, req, http.StatusNotFound)
	})

	// --- ページ ---
	// ミドルウェアスタック: SecurityHeaders → Session → Logging → CSRF
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSecurityHeadersMiddleware())
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(middleware.NewLoggingMiddleware(logger))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		// イベント
		r.Get("/", eventHandler.Home)
		r.Get("/Home/EventPage/{id}", eventHandler.EventPage)
		r.Get("/Map/Mappage", eventHandler.MapPage)

		// マーカーAPI（読み取り専用、CORS許可）
		r.Route("/api/events", func(r chi.Router) {
			r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
			r.Get("/markers", eventHandler.Markers)
			// プリフライトはCORSミドルウェアが204で応答する
			r.Options("/markers", eventHandler.Markers)
		})

		// アカウント（POSTのみレート制限）
		r.Route("/Identity/Account", func(r chi.Router) {
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.Middleware())
			}

			r.Get("/Register", accountHandler.RegisterForm)
			r.Post("/Register", accountHandler.Register)
			r.Get("/RegisterConfirmation", accountHandler.RegisterConfirmation)
			r.Get("/ConfirmEmail", accountHandler.ConfirmEmail)

			r.Get("/Login", accountHandler.LoginForm)
			r.Post("/Login", accountHandler.Login)
			r.Post("/Logout", accountHandler.Logout)

			r.Get("/ExternalLogin", accountHandler.ExternalLogin)
			r.Get("/ExternalLogin/Callback", accountHandler.ExternalLoginCallback)

			// サインイン必須
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireLogin(registration.LoginPath))
				r.Get("/Manage", accountHandler.Manage)
				r.Post("/Manage/DeletePersonalData", accountHandler.DeletePersonalData)
			})
		})
	})

	return r
}

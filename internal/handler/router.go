package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/minoru/memberhub/internal/authz"
	"github.com/minoru/memberhub/internal/guard"
	"github.com/minoru/memberhub/internal/metrics"
	"github.com/minoru/memberhub/internal/middleware"
	"github.com/minoru/memberhub/internal/security"
	"github.com/prometheus/client_golang/prometheus"
)

// ガードのリダイレクト先。未認証はログイン画面、ロール不足はホーム画面へ。
const (
	loginPath  = "/login"
	portalPath = "/portal"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	StatusRecorder    middleware.StatusRecorder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig

	// メトリクス公開
	Gatherer prometheus.Gatherer

	// 認証・セッション
	Verifier   authz.TokenVerifier
	Sessions   SessionRegistry
	AuthConfig AuthHandlerConfig

	// 読み取り
	PortalService PortalServiceInterface

	// 特権操作
	Gate      GateInterface
	Sanitizer security.ContentSanitizerService
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging
//
// Cookieベースの/authルートにはCSRF検証を追加する。/api以下には
// 全般レート制限を、パスワード変更には専用のより厳しい制限を重ねる。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.StatusRecorder))

	authHandler := NewAuthHandler(deps.Verifier, deps.PortalService, deps.Sessions, deps.AuthConfig)
	portalHandler := NewPortalHandler(deps.PortalService)
	adminHandler := NewAdminHandler(deps.Gate, deps.Sanitizer)

	// --- 運用エンドポイント ---

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	// CSRFトークン取得（Cookieベースフロント用）
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	// --- 認証ルート（Cookieを扱うためCSRF検証つき） ---

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Route("/auth", func(r chi.Router) {
			r.Post("/session", authHandler.CreateSession)
			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)
		})
	})

	// --- API（ベアラートークン必須、レート制限つき） ---

	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// スコープ付き読み取り
		r.Route("/api", func(r chi.Router) {
			r.Get("/projects", portalHandler.ListProjects)
			r.Get("/projects/{id}/members", portalHandler.ListProjectMembers)
			r.Get("/announcements", portalHandler.ListAnnouncements)
			r.Get("/profile", portalHandler.MyProfile)

			// 管理者専用の特権操作。各操作は認可ゲートを通過する
			r.Route("/admin", func(r chi.Router) {
				r.Post("/add-project-member", adminHandler.AddProjectMember)
				r.Post("/remove-project-member", adminHandler.RemoveProjectMember)
				r.Post("/delete-project", adminHandler.DeleteProject)
				r.Post("/update-announcement", adminHandler.UpdateAnnouncement)

				// パスワード変更は総当たり対策の専用レート制限を重ねる
				r.With(deps.RateLimiter.PasswordChangeMiddleware()).
					Post("/change-password", adminHandler.ChangePassword)
			})
		})
	})

	// --- 保護画面（ルートガードつき） ---

	r.Group(func(r chi.Router) {
		r.Use(guard.NewAuthGuard(deps.Sessions, loginPath))
		r.Get("/portal", portalHandler.PortalPage)
	})

	r.Group(func(r chi.Router) {
		r.Use(guard.NewAdminGuard(deps.Sessions, loginPath, portalPath))
		r.Get("/portal/admin", portalHandler.AdminPage)
	})

	return r
}

package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/minoru/memberhub/internal/authz"
	"github.com/minoru/memberhub/internal/middleware"
	"github.com/minoru/memberhub/internal/model"
	"github.com/minoru/memberhub/internal/session"
)

// ProfileReader は呼び出し元自身のプロファイル取得インターフェース。
// portal.Serviceが実装する。
type ProfileReader interface {
	MyProfile(ctx context.Context, bearerToken string) (*model.Profile, error)
}

// SessionRegistry は画面用セッション状態の登録・解決インターフェース。
// session.Managerが実装する。
type SessionRegistry interface {
	Create(token, userID, username string, role model.Role) (string, error)
	Delete(id string)
	Resolve(r *http.Request) *session.Session
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieSecure  bool
	CookieDomain  string
	SessionMaxAge int // 秒
}

// AuthHandler は認証セッション管理のHTTPハンドラー。
//
// トークンの発行と検証はすべて外部IDプロバイダーが行う。ここで作る
// セッションはルートガードの画面判定専用であり、特権操作の認可には
// 一切使われない。認可ゲートはリクエストごとにトークンを再検証する。
type AuthHandler struct {
	verifier authz.TokenVerifier
	profiles ProfileReader
	sessions SessionRegistry
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(verifier authz.TokenVerifier, profiles ProfileReader, sessions SessionRegistry, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		verifier: verifier,
		profiles: profiles,
		sessions: sessions,
		config:   config,
	}
}

// sessionResponse はセッション情報のレスポンス。
// トークンそのものは決して含めない。
type sessionResponse struct {
	UserID   string     `json:"userId"`
	Username string     `json:"username,omitempty"`
	Role     model.Role `json:"role"`
}

// CreateSession はIDプロバイダー発行のベアラートークンを検証し、
// 画面用セッションを作成する。
// POST /auth/session
func (h *AuthHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	token := authz.BearerToken(r)
	if token == "" {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, "認証が必要です。")
		return
	}

	ident, err := h.verifier.Verify(r.Context(), token)
	if err != nil || ident == nil || ident.ID == "" {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, "認証が必要です。")
		return
	}

	// プロファイルからロールと表示名を取り込む。プロファイル未作成や
	// 不正なロール値はフェイルクローズで一般会員として扱う
	username := ""
	role := model.RoleMember
	profile, err := h.profiles.MyProfile(r.Context(), token)
	if err == nil && profile != nil {
		username = profile.Username
		if parsed, ok := model.ParseRole(string(profile.Role)); ok {
			role = parsed
		}
	} else if gerr := model.AsGateError(err); gerr == nil || gerr.Kind != model.KindNotFound {
		slog.Warn("プロファイル取得に失敗したため一般会員として扱います",
			slog.String("identity_id", ident.ID),
		)
	}

	id, err := h.sessions.Create(token, ident.ID, username, role)
	if err != nil {
		slog.Error("セッション作成に失敗しました", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    id,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	writeSuccessResponse(w, sessionResponse{
		UserID:   ident.ID,
		Username: username,
		Role:     role,
	})
}

// Logout は画面用セッションを破棄し、Cookieを無効化する。
// セッションが存在しない場合も成功として扱う（冪等）。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(session.CookieName); err == nil && cookie.Value != "" {
		h.sessions.Delete(cookie.Value)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	writeSuccessResponse(w, map[string]bool{"loggedOut": true})
}

// Me は現在の画面用セッション情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Resolve(r)
	if s == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, "認証が必要です。")
		return
	}

	writeSuccessResponse(w, sessionResponse{
		UserID:   s.UserID,
		Username: s.Username,
		Role:     s.Role,
	})
}

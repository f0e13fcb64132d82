package handler

import (
	"context"
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/minoru/memberhub/internal/authz"
	"github.com/minoru/memberhub/internal/guard"
	"github.com/minoru/memberhub/internal/middleware"
	"github.com/minoru/memberhub/internal/model"
)

// PortalServiceInterface はポータルハンドラーが必要とする読み取り
// サービスのインターフェース。
type PortalServiceInterface interface {
	// ListProjects は閲覧可能なプロジェクト一覧を返す。
	ListProjects(ctx context.Context, bearerToken string) ([]model.Project, error)
	// ListProjectMembers は指定プロジェクトのメンバー一覧を返す。
	ListProjectMembers(ctx context.Context, bearerToken, projectID string) ([]model.ProjectMember, error)
	// ListAnnouncements は閲覧可能なお知らせ一覧を返す。
	ListAnnouncements(ctx context.Context, bearerToken string) ([]model.Announcement, error)
	// MyProfile は呼び出し元自身のプロファイルを返す。
	MyProfile(ctx context.Context, bearerToken string) (*model.Profile, error)
}

// PortalHandler は会員向け読み取りAPIと保護画面のHTTPハンドラー。
//
// 読み取りはすべて呼び出し元トークンのスコープ付き実行コンテキストを
// 通るため、どの行が見えるかはストアの行レベルポリシーが決める。
// ハンドラー側でロール別の絞り込みは行わない。
type PortalHandler struct {
	service PortalServiceInterface
}

// NewPortalHandler はPortalHandlerを生成する。
func NewPortalHandler(service PortalServiceInterface) *PortalHandler {
	return &PortalHandler{service: service}
}

// ListProjects はプロジェクト一覧を取得する。
// GET /api/projects
func (h *PortalHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	token := authz.BearerToken(r)
	if token == "" {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, "認証が必要です。")
		return
	}

	projects, err := h.service.ListProjects(r.Context(), token)
	if err != nil {
		writeGateError(w, err)
		return
	}
	writeSuccessResponse(w, projects)
}

// ListProjectMembers はプロジェクトのメンバー一覧を取得する。
// GET /api/projects/:id/members
func (h *PortalHandler) ListProjectMembers(w http.ResponseWriter, r *http.Request) {
	token := authz.BearerToken(r)
	if token == "" {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, "認証が必要です。")
		return
	}

	projectID := chi.URLParam(r, "id")
	members, err := h.service.ListProjectMembers(r.Context(), token, projectID)
	if err != nil {
		writeGateError(w, err)
		return
	}
	writeSuccessResponse(w, members)
}

// ListAnnouncements はお知らせ一覧を取得する。
// GET /api/announcements
func (h *PortalHandler) ListAnnouncements(w http.ResponseWriter, r *http.Request) {
	token := authz.BearerToken(r)
	if token == "" {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, "認証が必要です。")
		return
	}

	announcements, err := h.service.ListAnnouncements(r.Context(), token)
	if err != nil {
		writeGateError(w, err)
		return
	}
	writeSuccessResponse(w, announcements)
}

// MyProfile は呼び出し元自身のプロファイルを取得する。
// GET /api/profile
func (h *PortalHandler) MyProfile(w http.ResponseWriter, r *http.Request) {
	token := authz.BearerToken(r)
	if token == "" {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, "認証が必要です。")
		return
	}

	profile, err := h.service.MyProfile(r.Context(), token)
	if err != nil {
		writeGateError(w, err)
		return
	}
	writeSuccessResponse(w, profile)
}

// portalPageTemplate は会員ポータル画面のテンプレート。
var portalPageTemplate = template.Must(template.New("portal").Parse(`<!DOCTYPE html>
<html lang="ja">
<head><meta charset="utf-8"><title>会員ポータル</title></head>
<body>
<h1>会員ポータル</h1>
<p>ようこそ {{if .Username}}{{.Username}}{{else}}会員{{end}} さん</p>
<p>ロール: {{.Role}}</p>
</body>
</html>
`))

// adminPageTemplate は管理コンソール画面のテンプレート。
var adminPageTemplate = template.Must(template.New("admin").Parse(`<!DOCTYPE html>
<html lang="ja">
<head><meta charset="utf-8"><title>管理コンソール</title></head>
<body>
<h1>管理コンソール</h1>
<p>管理者: {{if .Username}}{{.Username}}{{else}}(名称未設定){{end}}</p>
</body>
</html>
`))

// PortalPage は会員向けポータル画面を描画する。
// ルートガードを通過したリクエストのみが到達する。
// GET /portal
func (h *PortalHandler) PortalPage(w http.ResponseWriter, r *http.Request) {
	s, ok := guard.SessionFromContext(r.Context())
	if !ok {
		// ガード未通過のリクエストは描画しない
		http.Error(w, "", http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	portalPageTemplate.Execute(w, s)
}

// AdminPage は管理コンソール画面を描画する。
// GET /portal/admin
func (h *PortalHandler) AdminPage(w http.ResponseWriter, r *http.Request) {
	s, ok := guard.SessionFromContext(r.Context())
	if !ok {
		http.Error(w, "", http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	adminPageTemplate.Execute(w, s)
}

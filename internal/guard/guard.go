// Package guard は保護された画面のルートガードを提供する。
//
// AuthGuard（認証済みセッションを要求）とAdminGuard（認証済みかつadmin
// ロールを要求）の2種が同じ形を共有する。セッション状態が解決するまで
// レスポンスには何も書き込まず、保護対象コンテンツが一瞬でも見えることは
// ない。未認可の訪問者にはボディを描画せずリダイレクトのみを返す。
// ロール判定はサーバー側ゲートと同一の述語（authz.HasRole）を使う。
package guard

import (
	"context"
	"net/http"

	"github.com/minoru/memberhub/internal/authz"
	"github.com/minoru/memberhub/internal/model"
	"github.com/minoru/memberhub/internal/session"
)

// SessionResolver はリクエストからセッション状態を解決するインターフェース。
// 未認証の場合はnilを返す。session.Managerが実装する。
type SessionResolver interface {
	Resolve(r *http.Request) *session.Session
}

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// sessionContextKey はリクエストコンテキストにセッションを格納するキー。
var sessionContextKey = contextKey("guard_session")

// NewAuthGuard は認証済みセッションを要求するガードミドルウェアを返す。
// 未認証の訪問者にはログイン画面へのリダイレクトのみを返す（ボディなし、
// エラー表示なし）。
func NewAuthGuard(resolver SessionResolver, loginURL string) func(next http.Handler) http.Handler {
	return newGuard(resolver, loginURL, "", "")
}

// NewAdminGuard は認証済みかつadminロールのセッションを要求するガード
// ミドルウェアを返す。未認証はログイン画面へ、認証済みだが非adminは
// ホーム画面へリダイレクトする。いずれもボディは描画しない。
func NewAdminGuard(resolver SessionResolver, loginURL, homeURL string) func(next http.Handler) http.Handler {
	return newGuard(resolver, loginURL, homeURL, model.RoleAdmin)
}

// newGuard は両ガード共通の実装。requiredRoleが空の場合は認証のみ要求する。
func newGuard(resolver SessionResolver, loginURL, homeURL string, requiredRole model.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// セッション解決が完了するまでレスポンスには何も書かない
			s := resolver.Resolve(r)

			if s == nil {
				// 未認証: ログイン画面へ。ボディは描画しない
				redirect(w, loginURL)
				return
			}

			if requiredRole != "" && !authz.HasRole(s.Role, requiredRole) {
				// 認証済みだがロール不足: 既定画面へ。ボディは描画しない
				redirect(w, homeURL)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), s)))
		})
	}
}

// redirect は空ボディの303リダイレクトを書き込む。
// http.Redirectが付けるHTMLリンクボディを避ける。
func redirect(w http.ResponseWriter, url string) {
	w.Header().Set("Location", url)
	w.WriteHeader(http.StatusSeeOther)
}

// ContextWithSession はガード通過済みセッションをコンテキストに格納する。
func ContextWithSession(ctx context.Context, s *session.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, s)
}

// SessionFromContext はガードを通過したリクエストのセッションを返す。
func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	s, ok := ctx.Value(sessionContextKey).(*session.Session)
	return s, ok
}

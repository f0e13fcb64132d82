// Package directory は認証済みアイデンティティからロールへの解決を提供する。
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/minoru/memberhub/internal/model"
	"github.com/minoru/memberhub/internal/store"
)

// ErrProfileMissing はプロファイル行が存在しないことを表す。
// 認可判定では「管理者ではない」として扱い、決してアクセスを許す根拠に
// してはならない。
var ErrProfileMissing = errors.New("プロファイルが見つかりません")

// RowReader はロール解決に必要な読み取りインターフェース。
// store.ScopedExecutorの部分集合として定義する。
type RowReader interface {
	Select(ctx context.Context, table, selectCols string, filters store.Filters) ([]json.RawMessage, error)
}

// ScopedProvider は呼び出し元トークンからスコープ付き実行コンテキストを
// 生成するインターフェース。
type ScopedProvider interface {
	Scoped(bearerToken string) RowReader
}

// Service はプロファイルテーブルからのロール解決を提供する。
type Service struct {
	scoped ScopedProvider
}

// NewService はServiceを生成する。
func NewService(factory *store.Factory) *Service {
	return &Service{scoped: factoryProvider{factory}}
}

// NewServiceWithProvider はテスト用にScopedProviderを注入してServiceを生成する。
func NewServiceWithProvider(p ScopedProvider) *Service {
	return &Service{scoped: p}
}

// profileRoleRow はprofilesテーブルのロール列の行。
type profileRoleRow struct {
	Role string `json:"role"`
}

// RoleOf は検証済みアイデンティティIDのロールを解決する。
//
// 検索は必ず同じ検証済みセッションに紐づくスコープ付き実行コンテキストで
// 行う。これにより通常ユーザーの読み取りと同じ行レベルポリシーが適用され、
// 検証器の不具合が単独で昇格読み取りを許すことはない（多層防御）。
//
// プロファイル行が存在しない、またはロール値が不正な場合は
// ErrProfileMissingを返す（フェイルクローズ）。
func (s *Service) RoleOf(ctx context.Context, identityID, bearerToken string) (model.Role, error) {
	exec := s.scoped.Scoped(bearerToken)

	rows, err := exec.Select(ctx, "profiles", "role", store.Filters{}.Eq("id", identityID))
	if err != nil {
		return "", fmt.Errorf("ロールの取得に失敗しました: %w", err)
	}
	if len(rows) == 0 {
		return "", ErrProfileMissing
	}

	var row profileRoleRow
	if err := json.Unmarshal(rows[0], &row); err != nil {
		return "", ErrProfileMissing
	}

	role, ok := model.ParseRole(row.Role)
	if !ok {
		// 未知のロール値は管理者扱いしない
		return "", ErrProfileMissing
	}

	return role, nil
}

// factoryProvider はstore.FactoryをScopedProviderに適合させる。
type factoryProvider struct {
	factory *store.Factory
}

func (p factoryProvider) Scoped(bearerToken string) RowReader {
	return p.factory.Scoped(bearerToken)
}

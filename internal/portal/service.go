// Package portal は会員向け画面のデータ読み取りサービスを提供する。
//
// すべての読み取りは呼び出し元の検証済みトークンに紐づくスコープ付き
// 実行コンテキストを通る。どの行が見えるかはストアの行レベルポリシーが
// 決めるため、本パッケージは認可判定を一切行わない。
package portal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/minoru/memberhub/internal/model"
	"github.com/minoru/memberhub/internal/store"
)

// RowReader は読み取りに必要なインターフェース。
// store.ScopedExecutorの部分集合として定義する。
type RowReader interface {
	Select(ctx context.Context, table, selectCols string, filters store.Filters) ([]json.RawMessage, error)
}

// ScopedProvider は呼び出し元トークンからスコープ付き実行コンテキストを
// 生成するインターフェース。
type ScopedProvider interface {
	Scoped(bearerToken string) RowReader
}

// Service は会員向け読み取りサービス。
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

// ListProjects は閲覧可能なプロジェクト一覧を返す。
func (s *Service) ListProjects(ctx context.Context, bearerToken string) ([]model.Project, error) {
	rows, err := s.scoped.Scoped(bearerToken).Select(ctx, "projects", "*", nil)
	if err != nil {
		return nil, err
	}
	return decodeRows[model.Project](rows, "プロジェクト")
}

// ListProjectMembers は指定プロジェクトのメンバー一覧を返す。
func (s *Service) ListProjectMembers(ctx context.Context, bearerToken, projectID string) ([]model.ProjectMember, error) {
	rows, err := s.scoped.Scoped(bearerToken).Select(ctx, "project_members", "*",
		store.Filters{}.Eq("project_id", projectID))
	if err != nil {
		return nil, err
	}
	return decodeRows[model.ProjectMember](rows, "プロジェクトメンバー")
}

// ListAnnouncements は閲覧可能なお知らせ一覧を返す。
func (s *Service) ListAnnouncements(ctx context.Context, bearerToken string) ([]model.Announcement, error) {
	rows, err := s.scoped.Scoped(bearerToken).Select(ctx, "announcements", "*", nil)
	if err != nil {
		return nil, err
	}
	return decodeRows[model.Announcement](rows, "お知らせ")
}

// MyProfile は呼び出し元自身のプロファイルを返す。
// 絞り込み条件は付けず、行レベルポリシーが自分の行だけを見せることに
// 依存する。見つからない場合は対象不在エラーを返す。
func (s *Service) MyProfile(ctx context.Context, bearerToken string) (*model.Profile, error) {
	rows, err := s.scoped.Scoped(bearerToken).Select(ctx, "profiles", "*", nil)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, model.NewNotFoundError("プロファイルが見つかりません。")
	}

	var profile model.Profile
	if err := json.Unmarshal(rows[0], &profile); err != nil {
		return nil, model.NewUpstreamError("プロファイル行の解析に失敗しました。")
	}
	return &profile, nil
}

// decodeRows は行の配列を指定の型にデコードする。
func decodeRows[T any](rows []json.RawMessage, label string) ([]T, error) {
	result := make([]T, 0, len(rows))
	for _, row := range rows {
		var item T
		if err := json.Unmarshal(row, &item); err != nil {
			return nil, model.NewUpstreamError(fmt.Sprintf("%s行の解析に失敗しました。", label))
		}
		result = append(result, item)
	}
	return result, nil
}

// factoryProvider はstore.FactoryをScopedProviderに適合させる。
type factoryProvider struct {
	factory *store.Factory
}

func (p factoryProvider) Scoped(bearerToken string) RowReader {
	return p.factory.Scoped(bearerToken)
}

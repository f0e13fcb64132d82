// Package authz は特権操作の認可ゲートを提供する。
//
// ゲートは 検証→認可→実行 の固定シーケンスであり、全特権エンドポイントが
// 同一のゲート関数を必須ロールと変更クロージャでパラメータ化して共有する。
// ゲートはリクエスト間で状態を持たない。部分的な認可結果が次のリクエストに
// 持ち越されることはない。
package authz

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/minoru/memberhub/internal/directory"
	"github.com/minoru/memberhub/internal/identity"
	"github.com/minoru/memberhub/internal/model"
	"github.com/minoru/memberhub/internal/store"
)

// TokenVerifier はベアラートークンの検証インターフェース。
type TokenVerifier interface {
	Verify(ctx context.Context, bearerToken string) (*model.Identity, error)
}

// RoleDirectory はアイデンティティIDからロールを解決するインターフェース。
type RoleDirectory interface {
	RoleOf(ctx context.Context, identityID, bearerToken string) (model.Role, error)
}

// StoreMutator は昇格済み実行コンテキストのストア操作インターフェース。
// store.ElevatedExecutorの部分集合として定義する。
type StoreMutator interface {
	Select(ctx context.Context, table, selectCols string, filters store.Filters) ([]json.RawMessage, error)
	Insert(ctx context.Context, table string, body any) (json.RawMessage, error)
	Update(ctx context.Context, table string, filters store.Filters, body any) ([]json.RawMessage, error)
	Delete(ctx context.Context, table string, filters store.Filters) ([]json.RawMessage, error)
}

// PasswordAdmin はIDプロバイダーの管理者パスワードリセットインターフェース。
type PasswordAdmin interface {
	ResetPassword(ctx context.Context, userID, newPassword string) (*identity.PasswordResetResult, error)
}

// Elevated は認可完了後にのみ取得できる昇格済み実行コンテキストの束。
// ストアへの変更とIDプロバイダーの管理者操作の両方を含む。
type Elevated struct {
	Store StoreMutator
	Auth  PasswordAdmin
}

// ElevatedProvider は昇格済みコンテキストのファクトリインターフェース。
type ElevatedProvider interface {
	// Ready は昇格済み資格情報を含む設定が揃っているかを検証する。
	Ready() error
	// Elevated は昇格済みコンテキストを生成する。
	// Authorized状態に到達したコードだけが呼び出してよい。
	Elevated() (*Elevated, error)
}

// DecisionRecorder はゲート判定のメトリクス記録インターフェース。
type DecisionRecorder interface {
	RecordGateDecision(operation, outcome string)
}

// ゲート判定の結果ラベル。
const (
	OutcomeExecuted        = "executed"
	OutcomeConfigError     = "config_error"
	OutcomeUnauthenticated = "unauthenticated"
	OutcomeForbidden       = "forbidden"
	OutcomeInvalidInput    = "invalid_input"
	OutcomeNotFound        = "not_found"
	OutcomeUpstream        = "upstream"
)

// Operation は1つの特権操作を表す。
// Validateは操作固有のペイロード検証、Mutateは操作が宣言した
// ちょうど1つのデータ変更を実行する。
type Operation struct {
	// Name はログ・メトリクス用の操作名。
	Name string
	// RequiredRole はこの操作に必要なロール。
	RequiredRole model.Role
	// Validate はペイロードの存在・形状を検証する。失敗は入力不正として扱う。
	Validate func() error
	// Mutate は昇格済みコンテキストで操作の変更を1回だけ実行する。
	// 昇格済みコンテキストを使用してよい唯一のステップ。
	Mutate func(ctx context.Context, el *Elevated) (any, error)
}

// Gate は認可ゲートの実装。
type Gate struct {
	verifier TokenVerifier
	roles    RoleDirectory
	elevated ElevatedProvider
	metrics  DecisionRecorder
	logger   *slog.Logger
}

// NewGate はGateを生成する。metricsとloggerはnil許容。
func NewGate(verifier TokenVerifier, roles RoleDirectory, elevated ElevatedProvider, metrics DecisionRecorder, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		verifier: verifier,
		roles:    roles,
		elevated: elevated,
		metrics:  metrics,
		logger:   logger,
	}
}

// Execute は認可ゲートの固定シーケンスを実行する。
//
//	Start → TokenChecked → IdentityVerified → RoleChecked → Authorized → Executed
//
// 途中のどの状態からも失敗で即座に離脱し、そのリクエストにおいて
// リトライは行わない。昇格済みコンテキストの取得はAuthorized到達後のみ。
func (g *Gate) Execute(ctx context.Context, bearerToken string, op Operation) (any, error) {
	// 0. 設定検証: ストア資格情報が不完全なら一切の処理を始めない
	if err := g.elevated.Ready(); err != nil {
		g.record(op.Name, OutcomeConfigError)
		g.logger.Error("特権操作の設定が不完全です", slog.String("operation", op.Name))
		return nil, err
	}

	// 1. Start → TokenChecked: トークン不在は外部呼び出し前に拒否
	bearerToken = strings.TrimSpace(bearerToken)
	if bearerToken == "" {
		g.record(op.Name, OutcomeUnauthenticated)
		return nil, model.NewUnauthenticatedError()
	}

	// 2. TokenChecked → IdentityVerified: IDプロバイダーでセッションを検証
	ident, err := g.verifier.Verify(ctx, bearerToken)
	if err != nil || ident == nil || ident.ID == "" {
		g.record(op.Name, OutcomeUnauthenticated)
		return nil, model.NewUnauthenticatedError()
	}

	// 3. IdentityVerified → RoleChecked: スコープ付きコンテキストでロール解決。
	// プロファイル不在は「管理者ではない」として拒否する（フェイルクローズ）。
	role, err := g.roles.RoleOf(ctx, ident.ID, bearerToken)
	if err != nil {
		if errors.Is(err, directory.ErrProfileMissing) {
			g.record(op.Name, OutcomeForbidden)
			return nil, model.NewForbiddenError()
		}
		g.record(op.Name, OutcomeUpstream)
		g.logger.Error("ロール解決に失敗しました",
			slog.String("operation", op.Name),
			slog.String("error", err.Error()),
		)
		return nil, gateError(err)
	}
	if !HasRole(role, op.RequiredRole) {
		g.record(op.Name, OutcomeForbidden)
		g.logger.Warn("権限不足の特権操作要求を拒否しました",
			slog.String("operation", op.Name),
			slog.String("identity_id", ident.ID),
		)
		return nil, model.NewForbiddenError()
	}

	// 4. RoleChecked → Authorized: 操作固有のペイロード検証
	if op.Validate != nil {
		if err := op.Validate(); err != nil {
			g.record(op.Name, OutcomeInvalidInput)
			return nil, invalidInputError(err)
		}
	}

	// 5. Authorized → Executed: 昇格済みコンテキストを取得し、
	// 操作が宣言したちょうど1つの変更を実行する
	el, err := g.elevated.Elevated()
	if err != nil {
		g.record(op.Name, OutcomeConfigError)
		return nil, err
	}

	result, err := op.Mutate(ctx, el)
	if err != nil {
		gerr := gateError(err)
		g.record(op.Name, outcomeOf(gerr))
		if gerr.Kind == model.KindUpstream {
			g.logger.Error("特権操作の実行に失敗しました",
				slog.String("operation", op.Name),
				slog.String("identity_id", ident.ID),
				slog.String("error", err.Error()),
			)
		}
		return nil, gerr
	}

	g.record(op.Name, OutcomeExecuted)
	g.logger.Info("特権操作を実行しました",
		slog.String("operation", op.Name),
		slog.String("identity_id", ident.ID),
	)
	return result, nil
}

// BearerToken はAuthorizationヘッダーからベアラートークンを取り出す。
// スキームが一致しない場合は空文字列を返す。
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// record はゲート判定をメトリクスに記録する。
func (g *Gate) record(operation, outcome string) {
	if g.metrics != nil {
		g.metrics.RecordGateDecision(operation, outcome)
	}
}

// gateError は任意のエラーをGateErrorに正規化する。
// GateError以外は内部詳細を漏らさない汎用の外部サービスエラーにする。
func gateError(err error) *model.GateError {
	if gerr := model.AsGateError(err); gerr != nil {
		return gerr
	}
	return model.NewUpstreamError("")
}

// invalidInputError は検証エラーを入力不正エラーに正規化する。
func invalidInputError(err error) *model.GateError {
	if gerr := model.AsGateError(err); gerr != nil {
		return gerr
	}
	return model.NewInvalidInputError(err.Error())
}

// outcomeOf はGateErrorから判定ラベルを導出する。
func outcomeOf(gerr *model.GateError) string {
	switch gerr.Kind {
	case model.KindNotFound:
		return OutcomeNotFound
	case model.KindInvalidInput:
		return OutcomeInvalidInput
	default:
		return OutcomeUpstream
	}
}

package store

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/minoru/memberhub/internal/model"
)

// LatencyRecorder はストア呼び出しの所要時間の通知先インターフェース。
// metricsパッケージのCollectorが実装する。
type LatencyRecorder interface {
	RecordUpstreamLatency(service string, duration time.Duration)
}

// Config はストア接続の設定。
type Config struct {
	// BaseURL はストアREST APIのベースURL（末尾スラッシュなし）。
	BaseURL string
	// AnonKey は制限付きクライアント資格情報。行レベルポリシーが適用される。
	AnonKey string
	// ServiceRoleKey は昇格済みサービス資格情報。行レベルポリシーをバイパスする。
	// クライアントへ送信・ログ出力してはならない。
	ServiceRoleKey string
	// Timeout は外部呼び出しのタイムアウト。ゼロ値は10秒。
	Timeout time.Duration
	// HTTPClient はテスト用に差し替え可能なHTTPクライアント。
	HTTPClient *http.Client
	// Recorder は呼び出し所要時間の記録先。nilの場合は記録しない。
	Recorder LatencyRecorder
}

// Factory は実行コンテキストのファクトリ。
// スコープ付きはリクエストごとに生成・破棄し、昇格済みは認可完了後にのみ生成する。
type Factory struct {
	cfg        Config
	httpClient *http.Client
}

// NewFactory はFactoryを生成する。
func NewFactory(cfg Config) *Factory {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Factory{cfg: cfg, httpClient: httpClient}
}

// Ready はストア資格情報が揃っているかを検証する。
// 不足がある場合は設定エラーを返す。特権エンドポイントは他の処理を
// 始める前にこの検証を通過しなければならない。
func (f *Factory) Ready() error {
	if f.cfg.BaseURL == "" || f.cfg.AnonKey == "" || f.cfg.ServiceRoleKey == "" {
		return model.NewConfigurationError()
	}
	return nil
}

// Scoped は呼び出し元の検証済みトークンに紐づく実行コンテキストを生成する。
// このコンテキスト経由の全アクセスには、その本人向けの行レベルポリシーが
// ストア側で適用される。リクエストごとに生成し、リクエスト間で再利用しない。
func (f *Factory) Scoped(bearerToken string) *ScopedExecutor {
	return &ScopedExecutor{
		client: &restClient{
			baseURL:    f.cfg.BaseURL,
			apiKey:     f.cfg.AnonKey,
			bearer:     bearerToken,
			httpClient: f.httpClient,
			recorder:   f.cfg.Recorder,
		},
	}
}

// Elevated はプロセス全体で共有する昇格済み資格情報から実行コンテキストを
// 生成する。行レベルポリシーを完全にバイパスするため、認可ゲートの
// Authorized状態に到達したコードだけが呼び出してよい。
func (f *Factory) Elevated() (*ElevatedExecutor, error) {
	if err := f.Ready(); err != nil {
		return nil, err
	}
	return &ElevatedExecutor{
		client: &restClient{
			baseURL:    f.cfg.BaseURL,
			apiKey:     f.cfg.ServiceRoleKey,
			bearer:     f.cfg.ServiceRoleKey,
			httpClient: f.httpClient,
			recorder:   f.cfg.Recorder,
		},
	}, nil
}

// ScopedExecutor は行レベルポリシーに従う読み取り専用の実行コンテキスト。
// 書き込み能力を持たないことを型で保証する。
type ScopedExecutor struct {
	client *restClient
}

// Select は指定テーブルから行を取得する。
func (e *ScopedExecutor) Select(ctx context.Context, table, selectCols string, filters Filters) ([]json.RawMessage, error) {
	reqURL, err := e.client.buildURL(table, selectCols, filters)
	if err != nil {
		return nil, err
	}
	return e.client.do(ctx, http.MethodGet, reqURL, nil)
}

// ElevatedExecutor は行レベルポリシーをバイパスする実行コンテキスト。
// 認可ゲート通過後の1操作でのみ使用し、結果は操作が宣言した出力形以外に
// 出してはならない。
type ElevatedExecutor struct {
	client *restClient
}

// Select は指定テーブルから行を取得する。
func (e *ElevatedExecutor) Select(ctx context.Context, table, selectCols string, filters Filters) ([]json.RawMessage, error) {
	reqURL, err := e.client.buildURL(table, selectCols, filters)
	if err != nil {
		return nil, err
	}
	return e.client.do(ctx, http.MethodGet, reqURL, nil)
}

// Insert は1行を挿入し、作成された行を返す。
func (e *ElevatedExecutor) Insert(ctx context.Context, table string, body any) (json.RawMessage, error) {
	reqURL, err := e.client.buildURL(table, "", nil)
	if err != nil {
		return nil, err
	}
	rows, err := e.client.do(ctx, http.MethodPost, reqURL, body)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, model.NewUpstreamError("ストアが作成行を返しませんでした。")
	}
	return rows[0], nil
}

// Update は条件に一致する行を部分更新し、影響を受けた行を返す。
// 0行の場合は空スライスを返す（対象不在の判定は呼び出し元が行う）。
func (e *ElevatedExecutor) Update(ctx context.Context, table string, filters Filters, body any) ([]json.RawMessage, error) {
	reqURL, err := e.client.buildURL(table, "", filters)
	if err != nil {
		return nil, err
	}
	return e.client.do(ctx, http.MethodPatch, reqURL, body)
}

// Delete は条件に一致する行を削除し、削除された行を返す。
// 0行の場合は空スライスを返す（対象不在の判定は呼び出し元が行う）。
func (e *ElevatedExecutor) Delete(ctx context.Context, table string, filters Filters) ([]json.RawMessage, error) {
	reqURL, err := e.client.buildURL(table, "", filters)
	if err != nil {
		return nil, err
	}
	return e.client.do(ctx, http.MethodDelete, reqURL, nil)
}

// Package identity は外部IDプロバイダーとの連携を提供する。
// セッショントークンの検証と、管理者によるパスワードリセットを含む。
// トークンの発行・更新はIDプロバイダー側の責務であり、本パッケージは
// 既存セッションの消費のみを行う。
package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/minoru/memberhub/internal/model"
)

const (
	// userPath はトークン検証エンドポイントのパス。
	userPath = "/auth/v1/user"
	// adminUsersPath は管理者用ユーザー操作エンドポイントのパスプレフィックス。
	adminUsersPath = "/auth/v1/admin/users/"
)

// LatencyRecorder はIDプロバイダー呼び出しの所要時間の通知先インターフェース。
// metricsパッケージのCollectorが実装する。
type LatencyRecorder interface {
	RecordUpstreamLatency(service string, duration time.Duration)
}

// Config はIDプロバイダー接続の設定。
type Config struct {
	// BaseURL はIDプロバイダーAPIのベースURL（末尾スラッシュなし）。
	BaseURL string
	// AnonKey は制限付きクライアント資格情報。
	AnonKey string
	// ServiceRoleKey は管理者操作用の昇格済み資格情報。
	ServiceRoleKey string
	// Timeout は外部呼び出しのタイムアウト。ゼロ値は10秒。
	Timeout time.Duration
	// HTTPClient はテスト用に差し替え可能なHTTPクライアント。
	HTTPClient *http.Client
	// Recorder は呼び出し所要時間の記録先。nilの場合は記録しない。
	Recorder LatencyRecorder
}

// recordLatency は外部呼び出しの所要時間をメトリクスに記録する。
func (c Config) recordLatency(start time.Time) {
	if c.Recorder != nil {
		c.Recorder.RecordUpstreamLatency("identity", time.Since(start))
	}
}

// Verifier はベアラートークンの検証を行う。
// 検証自体はIDプロバイダーに委譲し、プロバイダー側の有効期限・署名
// ルールをそのまま適用させる。
type Verifier struct {
	cfg        Config
	httpClient *http.Client
}

// NewVerifier はVerifierを生成する。
func NewVerifier(cfg Config) *Verifier {
	return &Verifier{
		cfg:        cfg,
		httpClient: newHTTPClient(cfg),
	}
}

// providerUser はIDプロバイダーのユーザー情報レスポンス。
type providerUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Verify はベアラートークンが現在有効なセッションであることを確認し、
// アイデンティティIDを抽出する。
// トークンが空の場合はネットワーク呼び出しの前に即座に認証エラーを返す。
// 返されるIDは検索キーとしてのみ使用し、ロール情報の根拠にはしないこと。
func (v *Verifier) Verify(ctx context.Context, bearerToken string) (*model.Identity, error) {
	bearerToken = strings.TrimSpace(bearerToken)
	if bearerToken == "" {
		return nil, model.NewUnauthenticatedError()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.cfg.BaseURL+userPath, nil)
	if err != nil {
		return nil, model.NewUnauthenticatedError()
	}
	req.Header.Set("apikey", v.cfg.AnonKey)
	req.Header.Set("Authorization", "Bearer "+bearerToken)

	start := time.Now()
	resp, err := v.httpClient.Do(req)
	v.cfg.recordLatency(start)
	if err != nil {
		// プロバイダー障害もセッション未確認として扱う（フェイルクローズ）
		return nil, model.NewUnauthenticatedError()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, model.NewUnauthenticatedError()
	}

	var user providerUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil || user.ID == "" {
		return nil, model.NewUnauthenticatedError()
	}

	return &model.Identity{ID: user.ID, Email: user.Email}, nil
}

// newHTTPClient は設定からHTTPクライアントを用意する。
func newHTTPClient(cfg Config) *http.Client {
	if cfg.HTTPClient != nil {
		return cfg.HTTPClient
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

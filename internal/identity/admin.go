package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/minoru/memberhub/internal/model"
)

// Admin はIDプロバイダーの管理者APIクライアント。
// 昇格済みサービス資格情報で認証するため、認可ゲートの通過後にのみ
// 使用してよい。
type Admin struct {
	cfg        Config
	httpClient *http.Client
}

// NewAdmin はAdminを生成する。
func NewAdmin(cfg Config) *Admin {
	return &Admin{
		cfg:        cfg,
		httpClient: newHTTPClient(cfg),
	}
}

// PasswordResetResult はパスワードリセットの結果。
// プロバイダーの完全なユーザーオブジェクトはクライアントへ返さず、
// 宣言された出力形のみに絞る。
type PasswordResetResult struct {
	UserID    string    `json:"user_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// adminUserResponse は管理者APIのユーザー更新レスポンス。
type adminUserResponse struct {
	ID        string    `json:"id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// providerError はIDプロバイダーのエラーレスポンス。
type providerError struct {
	Message string `json:"msg"`
	Error   string `json:"message"`
}

// ResetPassword は指定ユーザーのパスワードを管理者権限でリセットする。
// 対象はストアの行ではなくIDプロバイダー側のユーザーレコード。
// 呼び出しは対象ユーザー1名に対して正確に1回のリセットを行う。
func (a *Admin) ResetPassword(ctx context.Context, userID, newPassword string) (*PasswordResetResult, error) {
	body, err := json.Marshal(map[string]string{"password": newPassword})
	if err != nil {
		return nil, model.NewUpstreamError("")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		a.cfg.BaseURL+adminUsersPath+userID, bytes.NewReader(body))
	if err != nil {
		return nil, model.NewUpstreamError("")
	}
	req.Header.Set("apikey", a.cfg.ServiceRoleKey)
	req.Header.Set("Authorization", "Bearer "+a.cfg.ServiceRoleKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := a.httpClient.Do(req)
	a.cfg.recordLatency(start)
	if err != nil {
		return nil, model.NewUpstreamError("IDプロバイダーへの接続に失敗しました。")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewUpstreamError("IDプロバイダー応答の読み取りに失敗しました。")
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, model.NewNotFoundError("指定された会員が見つかりません。")
	}
	if resp.StatusCode != http.StatusOK {
		var perr providerError
		if err := json.Unmarshal(data, &perr); err == nil {
			if perr.Message != "" {
				return nil, model.NewUpstreamError(perr.Message)
			}
			if perr.Error != "" {
				return nil, model.NewUpstreamError(perr.Error)
			}
		}
		return nil, model.NewUpstreamError("")
	}

	var user adminUserResponse
	if err := json.Unmarshal(data, &user); err != nil || user.ID == "" {
		return nil, model.NewUpstreamError("IDプロバイダー応答の解析に失敗しました。")
	}

	return &PasswordResetResult{UserID: user.ID, UpdatedAt: user.UpdatedAt}, nil
}

// Package store はマネージドバックエンド（PostgREST互換のREST API）への
// データアクセスを提供する。
//
// ストア本体と行レベルポリシーエンジンは外部サービスであり、本パッケージは
// そのHTTPインターフェースのみを扱う。どの資格情報でアクセスするかによって
// 行レベルポリシーの適用有無が決まるため、実行コンテキストは
// ScopedExecutor / ElevatedExecutor の2つの型として明確に分離する。
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/minoru/memberhub/internal/model"
)

// restPathPrefix はストアREST APIのパスプレフィックス。
const restPathPrefix = "/rest/v1/"

// Filters はクエリの行絞り込み条件を表す。列名→演算子付き値のマップ。
// 値は "eq.xxx" のようにPostgREST演算子形式で保持する。
type Filters map[string]string

// Eq は等値条件を追加したFiltersを返す。
func (f Filters) Eq(column, value string) Filters {
	if f == nil {
		f = Filters{}
	}
	f[column] = "eq." + value
	return f
}

// restClient はストアREST APIへのHTTPクライアント。
// apikeyヘッダーとAuthorizationヘッダーの組み合わせが実行コンテキストを決める。
type restClient struct {
	baseURL    string
	apiKey     string
	bearer     string
	httpClient *http.Client
	recorder   LatencyRecorder
}

// storeErrorBody はストアが返すエラーレスポンスのボディ。
type storeErrorBody struct {
	Message string `json:"message"`
}

// buildURL はテーブルと絞り込み条件からリクエストURLを構築する。
func (c *restClient) buildURL(table, selectCols string, filters Filters) (string, error) {
	u, err := url.Parse(c.baseURL + restPathPrefix + table)
	if err != nil {
		return "", fmt.Errorf("ストアURLの構築に失敗しました: %w", err)
	}

	q := u.Query()
	if selectCols != "" {
		q.Set("select", selectCols)
	}
	for col, cond := range filters {
		q.Set(col, cond)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// do はリクエストを実行し、レスポンスボディを行の配列として返す。
// 変更系はPrefer: return=representationにより影響行が返るため、
// 戻り値の行数が影響行数を表す。
func (c *restClient) do(ctx context.Context, method, reqURL string, body any) ([]json.RawMessage, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("リクエストボディのエンコードに失敗しました: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.bearer)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		// 影響行を返させることで「0行 = 対象不在」を判定可能にする
		req.Header.Set("Prefer", "return=representation")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.recorder != nil {
		c.recorder.RecordUpstreamLatency("store", time.Since(start))
	}
	if err != nil {
		return nil, model.NewUpstreamError("ストアへの接続に失敗しました。")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewUpstreamError("ストア応答の読み取りに失敗しました。")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, upstreamError(resp.StatusCode, data)
	}

	if len(data) == 0 {
		return nil, nil
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		// 単一オブジェクト応答の場合は1行として扱う
		var single json.RawMessage
		if err2 := json.Unmarshal(data, &single); err2 != nil {
			return nil, model.NewUpstreamError("ストア応答の解析に失敗しました。")
		}
		rows = []json.RawMessage{single}
	}

	return rows, nil
}

// upstreamError はストアのエラー応答をGateErrorに変換する。
// ストアが返したメッセージがあればそれを表面化する。
func upstreamError(statusCode int, body []byte) *model.GateError {
	var errBody storeErrorBody
	if err := json.Unmarshal(body, &errBody); err == nil && errBody.Message != "" {
		return model.NewUpstreamError(errBody.Message)
	}
	return model.NewUpstreamError(fmt.Sprintf("ストアがステータス %d を返しました。", statusCode))
}

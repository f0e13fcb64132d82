package handler

import (
	"encoding/json"
	"net/http"

	"github.com/minoru/memberhub/internal/middleware"
	"github.com/minoru/memberhub/internal/model"
)

// successResponse は成功レスポンスの統一フォーマット。
// すべての成功応答は {"success": true, "data": ...} の形で返す。
type successResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// writeSuccessResponse は統一成功フォーマットでレスポンスを書き込む。
func writeSuccessResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(successResponse{Success: true, Data: data})
}

// decodeBody はJSONリクエストボディを解析する。
// 特権操作ではゲートのAuthorized到達後（Validate内）に呼ぶこと。
// トークン検証や設定検証より先にボディ起因の応答を返してはならない。
func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return model.NewInvalidInputError("リクエストボディの解析に失敗しました。")
	}
	return nil
}

// writeGateError はエラー種別に応じたHTTPステータスで統一エラー
// フォーマットを書き込む。GateError以外のエラーは内部詳細を漏らさず
// 500として扱う。
func writeGateError(w http.ResponseWriter, err error) {
	if gerr := model.AsGateError(err); gerr != nil {
		middleware.WriteErrorResponse(w, gerr.HTTPStatus(), gerr.Message)
		return
	}
	middleware.WriteInternalServerError(w)
}

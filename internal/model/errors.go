package model

import (
	"errors"
	"net/http"
)

// ErrKind は認可ゲートのエラー分類を表す。
// 各分類はHTTPステータスコードに1対1で対応する。
type ErrKind string

const (
	// KindUnauthenticated はトークン欠落・無効を表す（401）。
	KindUnauthenticated ErrKind = "unauthenticated"
	// KindForbidden は認証済みだがロール不足を表す（403）。
	KindForbidden ErrKind = "forbidden"
	// KindInvalidInput はペイロードの欠落・不正を表す（400）。
	KindInvalidInput ErrKind = "invalid_input"
	// KindNotFound は対象行の不在を表す（404）。
	KindNotFound ErrKind = "not_found"
	// KindUpstream はストアまたはIDプロバイダーの障害を表す（500）。
	KindUpstream ErrKind = "upstream"
)

// GateError は認可ゲートおよび特権操作の失敗を表す。
// Messageはそのままクライアントへ {"error": message} として返却される。
// 内部詳細を含めてはならない。
type GateError struct {
	Kind    ErrKind
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *GateError) Error() string {
	return e.Message
}

// HTTPStatus はエラー分類に対応するHTTPステータスコードを返す。
func (e *GateError) HTTPStatus() int {
	switch e.Kind {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// NewUnauthenticatedError は認証失敗エラーを生成する。
func NewUnauthenticatedError() *GateError {
	return &GateError{
		Kind:    KindUnauthenticated,
		Message: "認証が必要です。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *GateError {
	return &GateError{
		Kind:    KindForbidden,
		Message: "この操作には管理者権限が必要です。",
	}
}

// NewInvalidInputError は入力不正エラーを生成する。
func NewInvalidInputError(msg string) *GateError {
	return &GateError{
		Kind:    KindInvalidInput,
		Message: msg,
	}
}

// NewNotFoundError は対象不在エラーを生成する。
func NewNotFoundError(msg string) *GateError {
	return &GateError{
		Kind:    KindNotFound,
		Message: msg,
	}
}

// NewUpstreamError は外部サービス障害エラーを生成する。
// msgが空の場合は汎用メッセージを設定する。
func NewUpstreamError(msg string) *GateError {
	if msg == "" {
		msg = "外部サービスでエラーが発生しました。"
	}
	return &GateError{
		Kind:    KindUpstream,
		Message: msg,
	}
}

// NewConfigurationError はサーバー設定不備エラーを生成する（500）。
// 特権エンドポイントは処理を始める前にこのエラーで応答する。
func NewConfigurationError() *GateError {
	return &GateError{
		Kind:    KindUpstream,
		Message: "サーバーの設定が不完全です。",
	}
}

// AsGateError はエラーチェーンからGateErrorを取り出す。
// 取り出せない場合はnilを返す。
func AsGateError(err error) *GateError {
	var gerr *GateError
	if errors.As(err, &gerr) {
		return gerr
	}
	return nil
}

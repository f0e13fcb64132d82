package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// okHandler は200と固定ボディを返すハンドラー。
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
})

// --- エラーレスポンス ---

func TestWriteErrorResponse_Format(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorResponse(w, http.StatusForbidden, "この操作には管理者権限が必要です。")

	resp := w.Result()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "この操作には管理者権限が必要です。" {
		t.Errorf("error = %q, message mismatch", body.Error)
	}
}

func TestWriteInternalServerError_GenericMessage(t *testing.T) {
	w := httptest.NewRecorder()
	WriteInternalServerError(w)

	if w.Result().StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Result().StatusCode)
	}

	var body ErrorResponseBody
	json.NewDecoder(w.Result().Body).Decode(&body)
	if body.Error != "内部エラーが発生しました。" {
		t.Errorf("error = %q, want generic message", body.Error)
	}
}

// --- リカバリー ---

func TestRecoveryMiddleware_PanicReturns500(t *testing.T) {
	handler := NewRecoveryMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}

	// panicの内容がレスポンスに漏れない
	var body ErrorResponseBody
	json.NewDecoder(resp.Body).Decode(&body)
	if strings.Contains(body.Error, "boom") {
		t.Error("panic detail must not leak to response")
	}
}

func TestRecoveryMiddleware_NormalRequestPassesThrough(t *testing.T) {
	handler := NewRecoveryMiddleware()(okHandler)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Body.String() != "ok" {
		t.Errorf("body = %q, want ok", w.Body.String())
	}
}

// --- セキュリティヘッダー ---

func TestSecurityHeadersMiddleware(t *testing.T) {
	handler := NewSecurityHeadersMiddleware()(okHandler)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	headers := w.Result().Header
	wants := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	}
	for name, want := range wants {
		if got := headers.Get(name); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
}

// --- CORS ---

func TestCORSMiddleware_SetsHeaders(t *testing.T) {
	handler := NewCORSMiddleware("http://localhost:3000")(okHandler)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/projects", nil))

	headers := w.Result().Header
	if got := headers.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q, want configured origin", got)
	}
	if got := headers.Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Allow-Credentials = %q, want true", got)
	}
	if !strings.Contains(headers.Get("Access-Control-Allow-Headers"), "Authorization") {
		t.Error("Allow-Headers should include Authorization")
	}
}

func TestCORSMiddleware_PreflightReturns204(t *testing.T) {
	called := false
	handler := NewCORSMiddleware("http://localhost:3000")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/projects", nil))

	if w.Result().StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Result().StatusCode)
	}
	if called {
		t.Error("preflight should not reach the handler")
	}
}

// --- ロギング ---

// mockStatusRecorder はStatusRecorderのモック実装。
type mockStatusRecorder struct {
	statuses []int
}

func (m *mockStatusRecorder) RecordHTTPStatus(statusCode int) {
	m.statuses = append(m.statuses, statusCode)
}

func TestLoggingMiddleware_LogsRequestWithoutAuthorization(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	recorder := &mockStatusRecorder{}

	handler := NewLoggingMiddleware(logger, recorder)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.Header.Set("Authorization", "Bearer secret-token-value")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	logLine := buf.String()
	if !strings.Contains(logLine, `"path":"/api/projects"`) {
		t.Errorf("log should contain path, got: %s", logLine)
	}
	if !strings.Contains(logLine, `"status":404`) {
		t.Errorf("log should contain status, got: %s", logLine)
	}
	if !strings.Contains(logLine, `"request_id"`) {
		t.Errorf("log should contain request_id, got: %s", logLine)
	}
	// トークンは決してログに出さない
	if strings.Contains(logLine, "secret-token-value") {
		t.Error("Authorization header value must not be logged")
	}

	if len(recorder.statuses) != 1 || recorder.statuses[0] != http.StatusNotFound {
		t.Errorf("recorded statuses = %v, want [404]", recorder.statuses)
	}
}

// --- レート制限 ---

func TestRateLimiter_GeneralAllowsWithinLimit(t *testing.T) {
	rl := NewRateLimiter(NewRateLimiterConfig(60, 5))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.Header.Set("Authorization", "Bearer caller-a")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Result().StatusCode)
	}
}

func TestRateLimiter_PasswordLimitExceeded(t *testing.T) {
	// パスワード変更はバースト2で即座に制限に達する設定
	cfg := NewRateLimiterConfig(60, 2)
	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.PasswordChangeMiddleware()(okHandler)

	var last *http.Response
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/admin/change-password", nil)
		req.Header.Set("Authorization", "Bearer caller-b")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		last = w.Result()
	}

	if last.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429 after burst exhausted", last.StatusCode)
	}
	if last.Header.Get("Retry-After") == "" {
		t.Error("429 response should set Retry-After")
	}
}

// TestRateLimiter_CallersIsolated は呼び出し元ごとに制限が独立している
// ことを検証する。
func TestRateLimiter_CallersIsolated(t *testing.T) {
	rl := NewRateLimiter(NewRateLimiterConfig(60, 1))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler)

	send := func(token string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Result().StatusCode
	}

	send("caller-x")                      // caller-xのバーストを使い切る
	if got := send("caller-x"); got != http.StatusTooManyRequests {
		t.Errorf("caller-x second request = %d, want 429", got)
	}
	if got := send("caller-y"); got != http.StatusOK {
		t.Errorf("caller-y first request = %d, want 200 (independent limit)", got)
	}
}

// --- CSRF ---

func TestCSRFMiddleware_SafeMethodSkipsValidation(t *testing.T) {
	handler := NewCSRFMiddleware(CSRFConfig{})(okHandler)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/me", nil))

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Result().StatusCode)
	}
}

func TestCSRFMiddleware_PostWithoutTokenForbidden(t *testing.T) {
	handler := NewCSRFMiddleware(CSRFConfig{})(okHandler)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))

	if w.Result().StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Result().StatusCode)
	}
}

func TestCSRFMiddleware_PostWithMatchingToken(t *testing.T) {
	handler := NewCSRFMiddleware(CSRFConfig{})(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "tok-123"})
	req.Header.Set("X-CSRF-Token", "tok-123")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Result().StatusCode)
	}
}

func TestCSRFMiddleware_PostWithMismatchedToken(t *testing.T) {
	handler := NewCSRFMiddleware(CSRFConfig{})(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "tok-123"})
	req.Header.Set("X-CSRF-Token", "tok-456")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Result().StatusCode)
	}
}

// TestCSRFMiddleware_GetIssuesCookie はGETリクエストで検証なしに
// CSRFトークンCookieが配布され、既存Cookieは再発行されないことを検証する。
func TestCSRFMiddleware_GetIssuesCookie(t *testing.T) {
	handler := NewCSRFMiddleware(CSRFConfig{})(okHandler)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/me", nil))

	issued := false
	for _, c := range w.Result().Cookies() {
		if c.Name == "csrf_token" && c.Value != "" {
			issued = true
		}
	}
	if !issued {
		t.Error("csrf_token cookie should be issued on GET")
	}

	// 既にCookieを持つリクエストには再発行しない
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "tok-123"})
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, req)

	for _, c := range w2.Result().Cookies() {
		if c.Name == "csrf_token" {
			t.Error("existing csrf_token cookie should not be reissued")
		}
	}
}

func TestCSRFTokenHandler_IssuesToken(t *testing.T) {
	handler := NewCSRFTokenHandler(CSRFConfig{})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["token"] == "" {
		t.Error("response should contain a token")
	}

	// トークンがCookieにも設定される
	found := false
	for _, c := range resp.Cookies() {
		if c.Name == "csrf_token" && c.Value == body["token"] {
			found = true
		}
	}
	if !found {
		t.Error("csrf_token cookie should match response token")
	}
}

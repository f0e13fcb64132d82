package identity

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/minoru/memberhub/internal/model"
)

func TestResetPassword_Success(t *testing.T) {
	updatedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %q, want PUT", r.Method)
		}
		if r.URL.Path != "/auth/v1/admin/users/user-9" {
			t.Errorf("path = %q, want /auth/v1/admin/users/user-9", r.URL.Path)
		}
		// 管理者操作はサービスキーで認証する
		if r.Header.Get("apikey") != "service-key" {
			t.Errorf("apikey = %q, want service-key", r.Header.Get("apikey"))
		}
		if r.Header.Get("Authorization") != "Bearer service-key" {
			t.Errorf("Authorization = %q, want Bearer service-key", r.Header.Get("Authorization"))
		}

		body, _ := io.ReadAll(r.Body)
		var req map[string]string
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("request body unmarshal: %v", err)
		}
		if req["password"] != "new-secret" {
			t.Errorf("password = %q, want new-secret", req["password"])
		}

		// プロバイダーは完全なユーザーオブジェクトを返す
		w.Write([]byte(`{"id":"user-9","email":"u@example.com","phone":"","updated_at":"2026-08-01T12:00:00Z","app_metadata":{"provider":"email"}}`))
	}))
	defer server.Close()

	admin := NewAdmin(Config{BaseURL: server.URL, ServiceRoleKey: "service-key"})

	result, err := admin.ResetPassword(context.Background(), "user-9", "new-secret")
	if err != nil {
		t.Fatalf("ResetPassword() error = %v", err)
	}

	// 宣言された出力形のみが返る（完全なユーザーオブジェクトは返さない）
	if result.UserID != "user-9" {
		t.Errorf("UserID = %q, want user-9", result.UserID)
	}
	if !result.UpdatedAt.Equal(updatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", result.UpdatedAt, updatedAt)
	}
}

func TestResetPassword_UserNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"msg":"User not found"}`))
	}))
	defer server.Close()

	admin := NewAdmin(Config{BaseURL: server.URL, ServiceRoleKey: "service-key"})

	_, err := admin.ResetPassword(context.Background(), "no-such-user", "new-secret")

	gerr := model.AsGateError(err)
	if gerr == nil || gerr.Kind != model.KindNotFound {
		t.Fatalf("error = %v, want not_found", err)
	}
}

func TestResetPassword_ProviderErrorMessageSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"msg":"Password should be at least 6 characters"}`))
	}))
	defer server.Close()

	admin := NewAdmin(Config{BaseURL: server.URL, ServiceRoleKey: "service-key"})

	_, err := admin.ResetPassword(context.Background(), "user-9", "abc")

	gerr := model.AsGateError(err)
	if gerr == nil || gerr.Kind != model.KindUpstream {
		t.Fatalf("error = %v, want upstream", err)
	}
	if gerr.Message != "Password should be at least 6 characters" {
		t.Errorf("message = %q, want provider message surfaced", gerr.Message)
	}
}

func TestResetPassword_ConnectionFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	admin := NewAdmin(Config{BaseURL: server.URL, ServiceRoleKey: "service-key"})

	_, err := admin.ResetPassword(context.Background(), "user-9", "new-secret")

	gerr := model.AsGateError(err)
	if gerr == nil || gerr.Kind != model.KindUpstream {
		t.Fatalf("error = %v, want upstream", err)
	}
}

package store

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/minoru/memberhub/internal/model"
)

// newTestFactory はhttptestサーバーに向けたFactoryを生成する。
func newTestFactory(serverURL string) *Factory {
	return NewFactory(Config{
		BaseURL:        serverURL,
		AnonKey:        "anon-key",
		ServiceRoleKey: "service-key",
	})
}

func TestFactory_Ready(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "全資格情報あり",
			cfg:     Config{BaseURL: "https://s.example.com", AnonKey: "a", ServiceRoleKey: "s"},
			wantErr: false,
		},
		{name: "URL欠落", cfg: Config{AnonKey: "a", ServiceRoleKey: "s"}, wantErr: true},
		{name: "anonキー欠落", cfg: Config{BaseURL: "https://s.example.com", ServiceRoleKey: "s"}, wantErr: true},
		{name: "サービスキー欠落", cfg: Config{BaseURL: "https://s.example.com", AnonKey: "a"}, wantErr: true},
		{name: "全欠落", cfg: Config{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewFactory(tt.cfg).Ready()
			if (err != nil) != tt.wantErr {
				t.Errorf("Ready() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				gerr := model.AsGateError(err)
				if gerr == nil || gerr.HTTPStatus() != http.StatusInternalServerError {
					t.Errorf("Ready() should return configuration error (500), got %v", err)
				}
			}
		})
	}
}

// TestScopedExecutor_Headers はスコープ付きコンテキストがanonキーと
// 呼び出し元トークンの組み合わせでアクセスすることを検証する。
// この組み合わせによりストア側で行レベルポリシーが適用される。
func TestScopedExecutor_Headers(t *testing.T) {
	var gotAPIKey, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAPIKey = r.Header.Get("apikey")
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	factory := newTestFactory(server.URL)
	_, err := factory.Scoped("user-token").Select(context.Background(), "profiles", "role", nil)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}

	if gotAPIKey != "anon-key" {
		t.Errorf("apikey = %q, want anon-key", gotAPIKey)
	}
	if gotAuth != "Bearer user-token" {
		t.Errorf("Authorization = %q, want Bearer user-token", gotAuth)
	}
}

// TestElevatedExecutor_Headers は昇格済みコンテキストがサービスキーで
// アクセスすることを検証する。
func TestElevatedExecutor_Headers(t *testing.T) {
	var gotAPIKey, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAPIKey = r.Header.Get("apikey")
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	factory := newTestFactory(server.URL)
	elevated, err := factory.Elevated()
	if err != nil {
		t.Fatalf("Elevated() error = %v", err)
	}

	if _, err := elevated.Select(context.Background(), "projects", "*", nil); err != nil {
		t.Fatalf("Select() error = %v", err)
	}

	if gotAPIKey != "service-key" {
		t.Errorf("apikey = %q, want service-key", gotAPIKey)
	}
	if gotAuth != "Bearer service-key" {
		t.Errorf("Authorization = %q, want Bearer service-key", gotAuth)
	}
}

// TestFactory_Elevated_NotReady は資格情報欠落時に昇格済みコンテキストが
// 生成できないことを検証する。
func TestFactory_Elevated_NotReady(t *testing.T) {
	factory := NewFactory(Config{BaseURL: "https://s.example.com", AnonKey: "a"})

	if _, err := factory.Elevated(); err == nil {
		t.Fatal("Elevated() should fail without service role key")
	}
}

func TestSelect_BuildsFilterQuery(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		if r.URL.Path != "/rest/v1/profiles" {
			t.Errorf("path = %q, want /rest/v1/profiles", r.URL.Path)
		}
		w.Write([]byte(`[{"role":"admin"}]`))
	}))
	defer server.Close()

	factory := newTestFactory(server.URL)
	rows, err := factory.Scoped("tok").Select(context.Background(), "profiles", "role",
		Filters{}.Eq("id", "user-1"))
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}

	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if gotQuery != "id=eq.user-1&select=role" {
		t.Errorf("query = %q, want id=eq.user-1&select=role", gotQuery)
	}
}

func TestInsert_ReturnsCreatedRow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if r.Header.Get("Prefer") != "return=representation" {
			t.Errorf("Prefer = %q, want return=representation", r.Header.Get("Prefer"))
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`[{"project_id":"p1","member_id":"m1","role":"member"}]`))
	}))
	defer server.Close()

	factory := newTestFactory(server.URL)
	elevated, _ := factory.Elevated()

	row, err := elevated.Insert(context.Background(), "project_members", map[string]string{
		"project_id": "p1", "member_id": "m1",
	})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	var decoded map[string]string
	if err := json.Unmarshal(row, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["project_id"] != "p1" {
		t.Errorf("project_id = %q, want p1", decoded["project_id"])
	}
}

// TestDelete_ZeroRows は条件に一致する行がない削除で空スライスが返る
// ことを検証する。対象不在（404）の判定は呼び出し元が行う。
func TestDelete_ZeroRows(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %q, want DELETE", r.Method)
		}
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	factory := newTestFactory(server.URL)
	elevated, _ := factory.Elevated()

	rows, err := elevated.Delete(context.Background(), "project_members",
		Filters{}.Eq("project_id", "p1").Eq("member_id", "gone"))
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("rows = %d, want 0", len(rows))
	}
}

func TestUpdate_ReturnsAffectedRows(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %q, want PATCH", r.Method)
		}
		w.Write([]byte(`[{"id":"a1","title":"新タイトル"}]`))
	}))
	defer server.Close()

	factory := newTestFactory(server.URL)
	elevated, _ := factory.Elevated()

	rows, err := elevated.Update(context.Background(), "announcements",
		Filters{}.Eq("id", "a1"), map[string]string{"title": "新タイトル"})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("rows = %d, want 1", len(rows))
	}
}

// TestDo_UpstreamErrorSurfacesMessage はストアのエラーメッセージが
// GateErrorとして表面化することを検証する。
func TestDo_UpstreamErrorSurfacesMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"message":"duplicate key value"}`))
	}))
	defer server.Close()

	factory := newTestFactory(server.URL)
	elevated, _ := factory.Elevated()

	_, err := elevated.Insert(context.Background(), "project_members", map[string]string{})
	gerr := model.AsGateError(err)
	if gerr == nil || gerr.Kind != model.KindUpstream {
		t.Fatalf("error = %v, want upstream GateError", err)
	}
	if gerr.Message != "duplicate key value" {
		t.Errorf("message = %q, want store message surfaced", gerr.Message)
	}
}

func TestDo_ConnectionFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // 即座に閉じて接続失敗させる

	factory := newTestFactory(server.URL)
	_, err := factory.Scoped("tok").Select(context.Background(), "profiles", "role", nil)

	gerr := model.AsGateError(err)
	if gerr == nil || gerr.Kind != model.KindUpstream {
		t.Fatalf("error = %v, want upstream GateError", err)
	}
}

func TestFilters_Eq(t *testing.T) {
	f := Filters{}.Eq("id", "u1").Eq("role", "admin")

	if f["id"] != "eq.u1" {
		t.Errorf("id filter = %q, want eq.u1", f["id"])
	}
	if f["role"] != "eq.admin" {
		t.Errorf("role filter = %q, want eq.admin", f["role"])
	}

	// nilレシーバーからも構築できる
	var nilFilters Filters
	f2 := nilFilters.Eq("id", "u2")
	if f2["id"] != "eq.u2" {
		t.Errorf("id filter = %q, want eq.u2", f2["id"])
	}
}

// mockLatencyRecorder はストア呼び出しの所要時間記録を検証するモック。
type mockLatencyRecorder struct {
	services []string
}

func (m *mockLatencyRecorder) RecordUpstreamLatency(service string, duration time.Duration) {
	m.services = append(m.services, service)
}

// TestExecutor_RecordsLatency はストア呼び出しごとに所要時間がメトリクスへ
// 記録されることを検証する。
func TestExecutor_RecordsLatency(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	recorder := &mockLatencyRecorder{}
	factory := NewFactory(Config{
		BaseURL:        server.URL,
		AnonKey:        "anon-key",
		ServiceRoleKey: "service-key",
		Recorder:       recorder,
	})

	if _, err := factory.Scoped("user-token").Select(context.Background(), "profiles", "role", nil); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	el, err := factory.Elevated()
	if err != nil {
		t.Fatalf("Elevated() error = %v", err)
	}
	if _, err := el.Delete(context.Background(), "projects", Filters{}.Eq("id", "p1")); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if len(recorder.services) != 2 {
		t.Fatalf("recorded samples = %d, want 2", len(recorder.services))
	}
	for _, service := range recorder.services {
		if service != "store" {
			t.Errorf("service = %q, want store", service)
		}
	}
}

package app

import (
	"bytes"
	"strings"
	"testing"
)

// TestInit_Degraded はストア資格情報が未設定でも初期化が成功し、
// 警告ログが出ることを検証する。
func TestInit_Degraded(t *testing.T) {
	t.Setenv("STORE_URL", "")
	t.Setenv("STORE_ANON_KEY", "")
	t.Setenv("STORE_SERVICE_ROLE_KEY", "")

	var buf bytes.Buffer
	cfg := Init(&buf)

	if cfg == nil {
		t.Fatal("Init should return a config even without store credentials")
	}
	if len(cfg.MissingStoreVars()) != 3 {
		t.Errorf("missing vars = %v, want 3 entries", cfg.MissingStoreVars())
	}

	// 欠落はJSONログの警告として記録される
	out := buf.String()
	if !strings.Contains(out, "WARN") {
		t.Errorf("log = %s, want WARN entry", out)
	}
	if !strings.Contains(out, "STORE_URL") {
		t.Errorf("log = %s, want missing var names", out)
	}
}

func TestInit_FullConfig(t *testing.T) {
	t.Setenv("STORE_URL", "https://store.example.com")
	t.Setenv("STORE_ANON_KEY", "anon-key")
	t.Setenv("STORE_SERVICE_ROLE_KEY", "service-key")
	t.Setenv("SERVER_PORT", "9090")

	var buf bytes.Buffer
	cfg := Init(&buf)

	if len(cfg.MissingStoreVars()) != 0 {
		t.Errorf("missing vars = %v, want none", cfg.MissingStoreVars())
	}
	if cfg.ServerPort != "9090" {
		t.Errorf("ServerPort = %q, want 9090", cfg.ServerPort)
	}
	if strings.Contains(buf.String(), "WARN") {
		t.Errorf("log = %s, unexpected warning", buf.String())
	}
}

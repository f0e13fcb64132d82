package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestSetup_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf, "info")

	l.Info("テストメッセージ", slog.String("key", "value"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output should be JSON: %v", err)
	}
	if entry["msg"] != "テストメッセージ" {
		t.Errorf("msg = %v, want テストメッセージ", entry["msg"])
	}
	if entry["key"] != "value" {
		t.Errorf("key = %v, want value", entry["key"])
	}
	if entry["level"] != "INFO" {
		t.Errorf("level = %v, want INFO", entry["level"])
	}
}

// TestSetup_LevelFilter はレベル設定より低いログが出力されないことを検証する。
func TestSetup_LevelFilter(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		wantDebug bool
		wantInfo  bool
	}{
		{name: "debugは全部出る", level: "debug", wantDebug: true, wantInfo: true},
		{name: "infoはdebugを抑制", level: "info", wantDebug: false, wantInfo: true},
		{name: "warnはinfoも抑制", level: "warn", wantDebug: false, wantInfo: false},
		{name: "未知の値はinfo扱い", level: "verbose", wantDebug: false, wantInfo: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := Setup(&buf, tt.level)

			l.Debug("debug-entry")
			gotDebug := buf.Len() > 0
			buf.Reset()
			l.Info("info-entry")
			gotInfo := buf.Len() > 0

			if gotDebug != tt.wantDebug {
				t.Errorf("debug emitted = %v, want %v", gotDebug, tt.wantDebug)
			}
			if gotInfo != tt.wantInfo {
				t.Errorf("info emitted = %v, want %v", gotInfo, tt.wantInfo)
			}
		})
	}
}

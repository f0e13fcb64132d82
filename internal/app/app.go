// Package app はアプリケーションの初期化と起動を担当する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/minoru/memberhub/internal/authz"
	"github.com/minoru/memberhub/internal/config"
	"github.com/minoru/memberhub/internal/directory"
	"github.com/minoru/memberhub/internal/handler"
	"github.com/minoru/memberhub/internal/identity"
	"github.com/minoru/memberhub/internal/logger"
	"github.com/minoru/memberhub/internal/metrics"
	"github.com/minoru/memberhub/internal/middleware"
	"github.com/minoru/memberhub/internal/portal"
	"github.com/minoru/memberhub/internal/security"
	"github.com/minoru/memberhub/internal/session"
	"github.com/minoru/memberhub/internal/store"
	"github.com/prometheus/client_golang/prometheus"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
//
// ストア資格情報の欠落では失敗しない。欠落時は警告を出して起動を続け、
// 特権エンドポイントがリクエストごとに設定エラーで応答する。
func Init(w io.Writer) *config.Config {
	// 1. 環境変数から設定を読み込む
	cfg := config.Load()

	// 2. ログの初期化
	logger.SetupDefault(w, cfg.LogLevel)

	if missing := cfg.MissingStoreVars(); len(missing) > 0 {
		slog.Warn("ストア資格情報が未設定のため、特権操作は設定エラーで応答します",
			slog.String("missing", strings.Join(missing, ",")),
		)
	}

	return cfg
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg := Init(w)

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	return runServe(cfg)
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 2. 外部サービスクライアントの初期化。
	// 資格情報が欠落していてもクライアント自体は構築し、
	// 使用時に認可ゲートが設定エラーへ変換する
	storeFactory := store.NewFactory(store.Config{
		BaseURL:        cfg.StoreURL,
		AnonKey:        cfg.StoreAnonKey,
		ServiceRoleKey: cfg.StoreServiceRoleKey,
		Timeout:        cfg.UpstreamTimeout,
		Recorder:       collector,
	})

	identityConfig := identity.Config{
		BaseURL:        cfg.StoreURL,
		AnonKey:        cfg.StoreAnonKey,
		ServiceRoleKey: cfg.StoreServiceRoleKey,
		Timeout:        cfg.UpstreamTimeout,
		Recorder:       collector,
	}
	verifier := identity.NewVerifier(identityConfig)
	passwordAdmin := identity.NewAdmin(identityConfig)

	// 3. ドメインサービスの初期化
	roleDirectory := directory.NewService(storeFactory)
	portalService := portal.NewService(storeFactory)
	sanitizer := security.NewContentSanitizer()

	// 4. 認可ゲートの構築
	elevatedProvider := authz.NewProvider(storeFactory, passwordAdmin)
	gate := authz.NewGate(verifier, roleDirectory, elevatedProvider, collector, slog.Default())

	// 5. 画面用セッション状態の初期化
	sessionManager := session.NewManager(time.Duration(cfg.SessionMaxAge) * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sessionManager.Start(ctx)
	defer sessionManager.Stop()

	// 6. レート制限の初期化
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitPassword),
	)
	defer rateLimiter.Stop()

	// 7. ルーターの構築
	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		StatusRecorder:    collector,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},

		Gatherer: registry,

		Verifier: verifier,
		Sessions: sessionManager,
		AuthConfig: handler.AuthHandlerConfig{
			CookieSecure:  cfg.CookieSecure,
			CookieDomain:  cfg.CookieDomain,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		PortalService: portalService,

		Gate:      gate,
		Sanitizer: sanitizer,
	}

	router := handler.NewRouter(deps)

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

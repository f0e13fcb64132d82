package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // API全般のレート（req/sec）
	GeneralBurst    int           // API全般のバーストサイズ
	PasswordRate    rate.Limit    // パスワード変更のレート（req/sec）
	PasswordBurst   int           // パスワード変更のバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// NewRateLimiterConfig はreq/min単位の設定からRateLimiterConfigを構築する。
func NewRateLimiterConfig(generalPerMin, passwordPerMin int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(generalPerMin) / 60.0),
		GeneralBurst:    generalPerMin,
		PasswordRate:    rate.Limit(float64(passwordPerMin) / 60.0),
		PasswordBurst:   passwordPerMin,
		CleanupInterval: 5 * time.Minute,
	}
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min、パスワード変更 10 req/min。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return NewRateLimiterConfig(120, 10)
}

// callerLimiter は呼び出し元ごとのレートリミッターとアクセス時刻を保持する。
type callerLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter は呼び出し元ごとのレート制限を管理する。
// API全般の制限と、パスワード変更専用のより厳しい制限の2種類を提供する。
// 呼び出し元はベアラートークン（存在する場合）またはリモートアドレスで識別する。
type RateLimiter struct {
	config RateLimiterConfig

	generalMu       sync.Mutex
	generalLimiters map[string]*callerLimiter

	passwordMu       sync.Mutex
	passwordLimiters map[string]*callerLimiter

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:           config,
		generalLimiters:  make(map[string]*callerLimiter),
		passwordLimiters: make(map[string]*callerLimiter),
		stopCh:           make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(&rl.generalMu, rl.generalLimiters, rl.config.GeneralRate, rl.config.GeneralBurst)
}

// PasswordChangeMiddleware はパスワード変更専用のレート制限ミドルウェアを返す。
// 総当たり対策としてAPI全般より厳しいレートを適用する。
func (rl *RateLimiter) PasswordChangeMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(&rl.passwordMu, rl.passwordLimiters, rl.config.PasswordRate, rl.config.PasswordBurst)
}

// middleware は指定のリミッターマップに対するレート制限ミドルウェアを構築する。
func (rl *RateLimiter) middleware(mu *sync.Mutex, limiters map[string]*callerLimiter, r rate.Limit, burst int) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			key := callerKey(req)

			mu.Lock()
			cl, ok := limiters[key]
			if !ok {
				cl = &callerLimiter{limiter: rate.NewLimiter(r, burst)}
				limiters[key] = cl
			}
			cl.lastAccess = time.Now()
			allowed := cl.limiter.Allow()
			mu.Unlock()

			if !allowed {
				w.Header().Set("Retry-After", "60")
				WriteErrorResponse(w, http.StatusTooManyRequests, "リクエスト数が制限を超えました。しばらく待ってから再度お試しください。")
				return
			}

			next.ServeHTTP(w, req)
		})
	}
}

// callerKey はレート制限の識別キーを導出する。
// ベアラートークンがあればそれを、なければリモートアドレスのホスト部を使う。
// トークン自体はマップのキーとしてのみ保持し、ログには出さない。
func callerKey(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") && len(header) > len("Bearer ") {
		return "token:" + header[len("Bearer "):]
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "addr:" + r.RemoteAddr
	}
	return "addr:" + host
}

// cleanupLoop は一定間隔で長時間アクセスのないエントリを削除する。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-rl.config.CleanupInterval)

			rl.generalMu.Lock()
			for key, cl := range rl.generalLimiters {
				if cl.lastAccess.Before(cutoff) {
					delete(rl.generalLimiters, key)
				}
			}
			rl.generalMu.Unlock()

			rl.passwordMu.Lock()
			for key, cl := range rl.passwordLimiters {
				if cl.lastAccess.Before(cutoff) {
					delete(rl.passwordLimiters, key)
				}
			}
			rl.passwordMu.Unlock()
		}
	}
}

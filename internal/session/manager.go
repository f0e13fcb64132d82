// Package session はプロセス全体で共有する認証セッション状態を提供する。
//
// ここで保持するのは検証済みセッションのプロセス内キャッシュであり、
// ルートガードの画面判定にのみ使われる。サーバー側の認可ゲートは
// このキャッシュを一切参照せず、リクエストごとにトークンを再検証する。
// セッションはプロセスを超えて永続化されない。
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/minoru/memberhub/internal/model"
)

// CookieName はセッションIDを保持するCookieの名前。
const CookieName = "session_id"

// Session はログイン中ユーザーの画面用セッション状態を表す。
type Session struct {
	ID        string
	Token     string // IDプロバイダー発行のベアラートークン
	UserID    string
	Username  string
	Role      model.Role
	ExpiresAt time.Time
}

// EventType はセッション状態変化の種別。
type EventType string

const (
	// EventCreated はセッション作成を表す。
	EventCreated EventType = "created"
	// EventRemoved は明示的なログアウトによる削除を表す。
	EventRemoved EventType = "removed"
	// EventExpired は期限切れによる削除を表す。
	EventExpired EventType = "expired"
)

// Event はセッション状態の変化通知。
type Event struct {
	Type    EventType
	Session *Session
}

// Manager はプロセス全体のセッション状態を保持する。
// 読み取りアクセサとsubscribe/notify機構を公開し、Start/Stopで
// ライフサイクルを明示的に管理する。
type Manager struct {
	maxAge        time.Duration
	sweepInterval time.Duration

	mu        sync.RWMutex
	sessions  map[string]*Session
	subs      map[int]func(Event)
	nextSubID int

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewManager はManagerを生成する。
func NewManager(maxAge time.Duration) *Manager {
	return &Manager{
		maxAge:        maxAge,
		sweepInterval: time.Minute,
		sessions:      make(map[string]*Session),
		subs:          make(map[int]func(Event)),
		stopCh:        make(chan struct{}),
	}
}

// Start は期限切れセッションの掃除ループをバックグラウンドで開始する。
// ctxのキャンセルまたはStopで停止する。
func (m *Manager) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

// Stop は掃除ループを停止する。
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// Create は検証済みセッションを登録し、セッションIDを返す。
func (m *Manager) Create(token, userID, username string, role model.Role) (string, error) {
	id, err := generateSessionID()
	if err != nil {
		return "", err
	}

	s := &Session{
		ID:        id,
		Token:     token,
		UserID:    userID,
		Username:  username,
		Role:      role,
		ExpiresAt: time.Now().Add(m.maxAge),
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.notify(Event{Type: EventCreated, Session: s})
	return id, nil
}

// Get は指定IDのセッションを返す。存在しない・期限切れの場合はnil。
func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok {
		return nil
	}
	if time.Now().After(s.ExpiresAt) {
		m.remove(id, EventExpired)
		return nil
	}
	return s
}

// Delete は指定IDのセッションを削除する（ログアウト）。
func (m *Manager) Delete(id string) {
	m.remove(id, EventRemoved)
}

// Subscribe は状態変化の通知関数を登録し、解除関数を返す。
func (m *Manager) Subscribe(fn func(Event)) func() {
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Resolve はリクエストのCookieからセッションを解決する。
// 未認証・期限切れの場合はnilを返す。ルートガードから使用される。
func (m *Manager) Resolve(r *http.Request) *Session {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	return m.Get(cookie.Value)
}

// sweep は期限切れセッションをまとめて削除する。
func (m *Manager) sweep() {
	now := time.Now()

	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if now.After(s.ExpiresAt) {
			delete(m.sessions, id)
			expired = append(expired, s)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		m.notify(Event{Type: EventExpired, Session: s})
	}
	if len(expired) > 0 {
		slog.Debug("期限切れセッションを削除しました", slog.Int("count", len(expired)))
	}
}

// remove はセッションを削除して通知する。
func (m *Manager) remove(id string, eventType EventType) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if ok {
		m.notify(Event{Type: eventType, Session: s})
	}
}

// notify は全購読者へ状態変化を通知する。
func (m *Manager) notify(ev Event) {
	m.mu.RLock()
	fns := make([]func(Event), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

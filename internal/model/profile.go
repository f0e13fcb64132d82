package model

import "time"

// Profile は会員プロファイルを表す。
// 外部IDプロバイダーのID（identity id）1件につき最大1件存在する。
// roleが認可ゲートで参照される唯一の属性。
type Profile struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Identity は外部IDプロバイダーで検証済みのアイデンティティを表す。
// IDはプロファイル検索キーとしてのみ使用し、ロール情報の根拠にはしない。
type Identity struct {
	ID    string
	Email string
}

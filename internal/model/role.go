// Package model はドメインモデルを定義する。
package model

// Role はユーザーの権限ロールを表す。
// 認可判定で参照される唯一の属性であり、member と admin の2値のみを取る。
type Role string

const (
	// RoleMember は一般会員を表す。
	RoleMember Role = "member"
	// RoleAdmin は管理者を表す。
	RoleAdmin Role = "admin"
)

// IsValid はロールが定義済みの値かどうかを返す。
func (r Role) IsValid() bool {
	return r == RoleMember || r == RoleAdmin
}

// ParseRole は文字列からRoleを解析する。
// 未知の値はfalseを返す。プロファイル行に不正な値が入っていた場合に
// 管理者扱いしないためのフェイルクローズ動作。
func ParseRole(s string) (Role, bool) {
	role := Role(s)
	if !role.IsValid() {
		return "", false
	}
	return role, true
}

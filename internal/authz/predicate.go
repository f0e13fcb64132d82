package authz

import "github.com/minoru/memberhub/internal/model"

// HasRole はロール述語。サーバー側ゲートのロール判定と画面側ルートガードの
// 判定は必ずこの1つの述語を共有する。両者の乖離はセキュリティまたは
// ユーザビリティの不具合となる。
func HasRole(have, required model.Role) bool {
	if !have.IsValid() {
		return false
	}
	if have == required {
		return true
	}
	// adminは一般会員向けの要求もすべて満たす
	return have == model.RoleAdmin && required == model.RoleMember
}

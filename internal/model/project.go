package model

import "time"

// Project は会員ポータル上のプロジェクトを表す。
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	OwnerID     string    `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// ProjectMember はプロジェクトへの参加（メンバーシップ）を表す。
// (project_id, member_id) の複合キーで一意。
type ProjectMember struct {
	ProjectID string    `json:"project_id"`
	MemberID  string    `json:"member_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// DefaultProjectMemberRole はrole未指定でメンバー追加した場合の既定値。
const DefaultProjectMemberRole = "member"

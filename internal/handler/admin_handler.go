package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/minoru/memberhub/internal/authz"
	"github.com/minoru/memberhub/internal/model"
	"github.com/minoru/memberhub/internal/security"
	"github.com/minoru/memberhub/internal/store"
)

// minPasswordLength はパスワードリセット時の最低文字数。
const minPasswordLength = 6

// GateInterface は管理者ハンドラーが必要とする認可ゲートのインターフェース。
type GateInterface interface {
	// Execute は認可ゲートの固定シーケンスを通して特権操作を実行する。
	Execute(ctx context.Context, bearerToken string, op authz.Operation) (any, error)
}

// AdminHandler は管理者専用操作のHTTPハンドラー。
// すべての操作は認可ゲートをadminロール必須で通過する。
type AdminHandler struct {
	gate      GateInterface
	sanitizer security.ContentSanitizerService
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(gate GateInterface, sanitizer security.ContentSanitizerService) *AdminHandler {
	return &AdminHandler{
		gate:      gate,
		sanitizer: sanitizer,
	}
}

// --- リクエスト・レスポンス型 ---

// addProjectMemberRequest はメンバー追加リクエストのボディ。
type addProjectMemberRequest struct {
	ProjectID string `json:"projectId"`
	MemberID  string `json:"memberId"`
	Role      string `json:"role,omitempty"`
}

// removeProjectMemberRequest はメンバー削除リクエストのボディ。
type removeProjectMemberRequest struct {
	ProjectID string `json:"projectId"`
	MemberID  string `json:"memberId"`
}

// removeProjectMemberResponse はメンバー削除の結果。
type removeProjectMemberResponse struct {
	ProjectID string `json:"projectId"`
	MemberID  string `json:"memberId"`
	Removed   bool   `json:"removed"`
}

// deleteProjectRequest はプロジェクト削除リクエストのボディ。
type deleteProjectRequest struct {
	ProjectID string `json:"projectId"`
}

// deleteProjectResponse はプロジェクト削除の結果。
type deleteProjectResponse struct {
	ID string `json:"id"`
}

// updateAnnouncementRequest はお知らせ更新リクエストのボディ。
// updatesは部分更新オブジェクトで、title・body以外のキーは無視される。
type updateAnnouncementRequest struct {
	AnnouncementID string         `json:"announcementId"`
	Updates        map[string]any `json:"updates"`
}

// changePasswordRequest はパスワード変更リクエストのボディ。
type changePasswordRequest struct {
	MemberID    string `json:"memberId"`
	NewPassword string `json:"newPassword"`
}

// changePasswordResponse はパスワード変更の結果。
// パスワードやトークンなどの秘匿情報は含めない。
type changePasswordResponse struct {
	MemberID  string    `json:"memberId"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AddProjectMember はプロジェクトへ会員を追加する。
// POST /api/admin/add-project-member
func (h *AdminHandler) AddProjectMember(w http.ResponseWriter, r *http.Request) {
	var req addProjectMemberRequest
	op := authz.Operation{
		Name:         "add_project_member",
		RequiredRole: model.RoleAdmin,
		Validate: func() error {
			if err := decodeBody(r, &req); err != nil {
				return err
			}
			if req.ProjectID == "" || req.MemberID == "" {
				return model.NewInvalidInputError("projectIdとmemberIdは必須です。")
			}
			return nil
		},
		Mutate: func(ctx context.Context, el *authz.Elevated) (any, error) {
			role := req.Role
			if role == "" {
				role = model.DefaultProjectMemberRole
			}
			row, err := el.Store.Insert(ctx, "project_members", map[string]string{
				"project_id": req.ProjectID,
				"member_id":  req.MemberID,
				"role":       role,
			})
			if err != nil {
				return nil, err
			}

			var member model.ProjectMember
			if err := json.Unmarshal(row, &member); err != nil {
				return nil, model.NewUpstreamError("メンバーシップ行の解析に失敗しました。")
			}
			return member, nil
		},
	}

	h.execute(w, r, op)
}

// RemoveProjectMember はプロジェクトから会員を削除する。
// 存在しないメンバーシップの削除は404を返す。
// POST /api/admin/remove-project-member
func (h *AdminHandler) RemoveProjectMember(w http.ResponseWriter, r *http.Request) {
	var req removeProjectMemberRequest
	op := authz.Operation{
		Name:         "remove_project_member",
		RequiredRole: model.RoleAdmin,
		Validate: func() error {
			if err := decodeBody(r, &req); err != nil {
				return err
			}
			if req.ProjectID == "" || req.MemberID == "" {
				return model.NewInvalidInputError("projectIdとmemberIdは必須です。")
			}
			return nil
		},
		Mutate: func(ctx context.Context, el *authz.Elevated) (any, error) {
			rows, err := el.Store.Delete(ctx, "project_members",
				store.Filters{}.Eq("project_id", req.ProjectID).Eq("member_id", req.MemberID))
			if err != nil {
				return nil, err
			}
			if len(rows) == 0 {
				return nil, model.NewNotFoundError("指定されたメンバーシップが見つかりません。")
			}
			return removeProjectMemberResponse{
				ProjectID: req.ProjectID,
				MemberID:  req.MemberID,
				Removed:   true,
			}, nil
		},
	}

	h.execute(w, r, op)
}

// DeleteProject はプロジェクトを削除する。
// POST /api/admin/delete-project
func (h *AdminHandler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	var req deleteProjectRequest
	op := authz.Operation{
		Name:         "delete_project",
		RequiredRole: model.RoleAdmin,
		Validate: func() error {
			if err := decodeBody(r, &req); err != nil {
				return err
			}
			if req.ProjectID == "" {
				return model.NewInvalidInputError("projectIdは必須です。")
			}
			return nil
		},
		Mutate: func(ctx context.Context, el *authz.Elevated) (any, error) {
			rows, err := el.Store.Delete(ctx, "projects",
				store.Filters{}.Eq("id", req.ProjectID))
			if err != nil {
				return nil, err
			}
			if len(rows) == 0 {
				return nil, model.NewNotFoundError("指定されたプロジェクトが見つかりません。")
			}
			return deleteProjectResponse{ID: req.ProjectID}, nil
		},
	}

	h.execute(w, r, op)
}

// UpdateAnnouncement はお知らせを部分更新する。
// updatesのうちtitleとbodyのみを受け付け、bodyは保存前にサニタイズする。
// POST /api/admin/update-announcement
func (h *AdminHandler) UpdateAnnouncement(w http.ResponseWriter, r *http.Request) {
	var req updateAnnouncementRequest
	var patch map[string]string
	op := authz.Operation{
		Name:         "update_announcement",
		RequiredRole: model.RoleAdmin,
		Validate: func() error {
			if err := decodeBody(r, &req); err != nil {
				return err
			}
			// 許可キーのみを抽出する。未知のキーやnull・文字列以外の値は捨てる
			patch = stripAnnouncementUpdates(req.Updates)
			if req.AnnouncementID == "" {
				return model.NewInvalidInputError("announcementIdは必須です。")
			}
			if len(patch) == 0 {
				return model.NewInvalidInputError("更新内容にはtitleまたはbodyを含めてください。")
			}
			return nil
		},
		Mutate: func(ctx context.Context, el *authz.Elevated) (any, error) {
			if body, ok := patch["body"]; ok {
				patch["body"] = h.sanitizer.Sanitize(body)
			}
			patch["updated_at"] = time.Now().UTC().Format(time.RFC3339)

			rows, err := el.Store.Update(ctx, "announcements",
				store.Filters{}.Eq("id", req.AnnouncementID), patch)
			if err != nil {
				return nil, err
			}
			if len(rows) == 0 {
				return nil, model.NewNotFoundError("指定されたお知らせが見つかりません。")
			}

			var announcement model.Announcement
			if err := json.Unmarshal(rows[0], &announcement); err != nil {
				return nil, model.NewUpstreamError("お知らせ行の解析に失敗しました。")
			}
			return announcement, nil
		},
	}

	h.execute(w, r, op)
}

// ChangePassword は指定会員のパスワードを管理者権限でリセットする。
// POST /api/admin/change-password
func (h *AdminHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	op := authz.Operation{
		Name:         "change_password",
		RequiredRole: model.RoleAdmin,
		Validate: func() error {
			if err := decodeBody(r, &req); err != nil {
				return err
			}
			if req.MemberID == "" {
				return model.NewInvalidInputError("memberIdは必須です。")
			}
			if utf8.RuneCountInString(req.NewPassword) < minPasswordLength {
				return model.NewInvalidInputError("パスワードは6文字以上で指定してください。")
			}
			return nil
		},
		Mutate: func(ctx context.Context, el *authz.Elevated) (any, error) {
			result, err := el.Auth.ResetPassword(ctx, req.MemberID, req.NewPassword)
			if err != nil {
				return nil, err
			}
			return changePasswordResponse{
				MemberID:  result.UserID,
				UpdatedAt: result.UpdatedAt,
			}, nil
		},
	}

	h.execute(w, r, op)
}

// execute はゲートを通して操作を実行し、結果をレスポンスに書き込む。
func (h *AdminHandler) execute(w http.ResponseWriter, r *http.Request, op authz.Operation) {
	data, err := h.gate.Execute(r.Context(), authz.BearerToken(r), op)
	if err != nil {
		writeGateError(w, err)
		return
	}
	writeSuccessResponse(w, data)
}

// stripAnnouncementUpdates は部分更新オブジェクトから許可キー
// （title, body）の文字列値だけを取り出す。
func stripAnnouncementUpdates(updates map[string]any) map[string]string {
	patch := make(map[string]string)
	for _, key := range []string{"title", "body"} {
		if v, ok := updates[key]; ok {
			if s, ok := v.(string); ok {
				patch[key] = s
			}
		}
	}
	return patch
}

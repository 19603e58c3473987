package model

import "time"

type Workspace struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type WorkspaceRole string

const (
	WorkspaceRoleAdmin  WorkspaceRole = "admin"
	WorkspaceRoleMember WorkspaceRole = "member"
)

type WorkspaceMember struct {
	CreatedAt   time.Time     `json:"created_at"`
	Role        WorkspaceRole `json:"role"`
	WorkspaceID int64         `json:"workspace_id"`
	UserID      int64         `json:"user_id"`
}

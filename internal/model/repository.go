package model

import "time"

// Repository is a GitHub repository connected to a workspace.
// ExternalRepoID, Owner and Name never change after creation.
type Repository struct {
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	InstallationID *int64    `json:"installation_id,omitempty"`
	Owner          string    `json:"owner"`
	Name           string    `json:"name"`
	ID             int64     `json:"id"`
	WorkspaceID    int64     `json:"workspace_id"`
	ExternalRepoID int64     `json:"external_repo_id"`
	IsEnabled      bool      `json:"is_enabled"`
}

func (r *Repository) FullName() string {
	return r.Owner + "/" + r.Name
}

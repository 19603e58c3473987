package model

import "time"

// Installation is a GitHub App installation granting API access to a set of
// repositories.
type Installation struct {
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
	SuspendedAt            *time.Time `json:"suspended_at,omitempty"`
	DeletedAt              *time.Time `json:"deleted_at,omitempty"`
	AccessToken            *string    `json:"-"`
	AccountLogin           string     `json:"account_login"`
	TargetType             string     `json:"target_type"`
	ID                     int64      `json:"id"`
	ExternalInstallationID int64      `json:"external_installation_id"`
	AccountID              int64      `json:"account_id"`
}

func (i *Installation) Active() bool {
	return i.SuspendedAt == nil && i.DeletedAt == nil
}

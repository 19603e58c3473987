package model

import "time"

type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	AvatarURL *string   `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GitHubUser is a GitHub account seen as an issue author or assignee.
type GitHubUser struct {
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	AvatarURL  *string   `json:"avatar_url,omitempty"`
	Login      string    `json:"login"`
	ID         int64     `json:"id"`
	ExternalID int64     `json:"external_id"`
}

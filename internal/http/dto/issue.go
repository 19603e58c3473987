package dto

import (
	"time"

	"basegraph.app/ghsync/internal/model"
)

type EnhanceIssueRequest struct {
	EnhancedDescription string `json:"enhanced_description" binding:"required,max=65536"`
}

type IssueResponse struct {
	ExternalUpdatedAt time.Time           `json:"external_updated_at"`
	ExternalClosedAt  *time.Time          `json:"external_closed_at,omitempty"`
	Title             string              `json:"title"`
	Body              string              `json:"body"`
	Status            model.IssueStatus   `json:"status"`
	Priority          model.IssuePriority `json:"priority"`
	Labels            []string            `json:"labels"`
	CrossReferences   []int               `json:"cross_references"`
	ID                int64               `json:"id,string"`
	RepositoryID      int64               `json:"repository_id,string"`
	Number            int                 `json:"number"`
}

func ToIssueResponse(i *model.Issue) *IssueResponse {
	return &IssueResponse{
		ID:                i.ID,
		RepositoryID:      i.RepositoryID,
		Number:            i.ExternalIssueNumber,
		Title:             i.Title,
		Body:              i.Body,
		Status:            i.Status,
		Priority:          i.Priority,
		Labels:            i.Labels,
		CrossReferences:   i.CrossReferences,
		ExternalUpdatedAt: i.ExternalUpdatedAt,
		ExternalClosedAt:  i.ExternalClosedAt,
	}
}

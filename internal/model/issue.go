package model

import "time"

type (
	IssueStatus   string
	IssuePriority string
)

const (
	IssueStatusOpen       IssueStatus = "open"
	IssueStatusInProgress IssueStatus = "in_progress"
	IssueStatusReview     IssueStatus = "review"
	IssueStatusCompleted  IssueStatus = "completed"
	IssueStatusCancelled  IssueStatus = "cancelled"
)

const (
	IssuePriorityUrgent IssuePriority = "urgent"
	IssuePriorityHigh   IssuePriority = "high"
	IssuePriorityMedium IssuePriority = "medium"
	IssuePriorityLow    IssuePriority = "low"
	IssuePriorityNone   IssuePriority = "none"
)

// Issue is the internal record of a GitHub issue. It is keyed by
// (RepositoryID, ExternalIssueNumber) and never deleted by sync.
type Issue struct {
	ExternalCreatedAt   time.Time     `json:"external_created_at"`
	ExternalUpdatedAt   time.Time     `json:"external_updated_at"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
	ExternalClosedAt    *time.Time    `json:"external_closed_at,omitempty"`
	AssigneeID          *int64        `json:"assignee_id,omitempty"`
	Title               string        `json:"title"`
	Body                string        `json:"body"`
	Status              IssueStatus   `json:"status"`
	Priority            IssuePriority `json:"priority"`
	Labels              []string      `json:"labels"`
	CrossReferences     []int         `json:"cross_references"`
	ID                  int64         `json:"id"`
	RepositoryID        int64         `json:"repository_id"`
	ExternalIssueID     int64         `json:"external_issue_id"`
	ExternalIssueNumber int           `json:"external_issue_number"`
}

// IsActive reports whether the issue can still be moved by pull request activity.
func (i *Issue) IsActive() bool {
	return i.Status == IssueStatusOpen || i.Status == IssueStatusInProgress
}

package dto

import (
	"time"

	"basegraph.app/ghsync/internal/model"
	"basegraph.app/ghsync/internal/service"
)

type SyncIssuesRequest struct {
	FullSync bool `json:"full_sync"`
}

type SyncIssuesResponse struct {
	Cursor       *string                  `json:"cursor"`
	ErrorDetails []service.IssueSyncError `json:"error_details,omitempty"`
	Success      bool                     `json:"success"`
	Synced       int                      `json:"synced"`
	Created      int                      `json:"created"`
	Updated      int                      `json:"updated"`
	Errors       int                      `json:"errors"`
}

func ToSyncIssuesResponse(r *service.SyncResult) *SyncIssuesResponse {
	return &SyncIssuesResponse{
		Success:      true,
		Synced:       r.Processed,
		Created:      r.Created,
		Updated:      r.Updated,
		Errors:       r.Errors,
		Cursor:       r.Cursor,
		ErrorDetails: r.ErrorDetails,
	}
}

type SyncStatusResponse struct {
	LastIssueSync   *time.Time         `json:"last_issue_sync"`
	LastIssueCursor *string            `json:"last_issue_cursor"`
	LastSyncResult  *model.SyncOutcome `json:"last_sync_result"`
	LastSyncError   *string            `json:"last_sync_error"`
	SyncInProgress  bool               `json:"sync_in_progress"`
}

func ToSyncStatusResponse(s *model.SyncStatus) *SyncStatusResponse {
	if s == nil {
		return &SyncStatusResponse{}
	}
	return &SyncStatusResponse{
		SyncInProgress:  s.InProgress,
		LastIssueSync:   s.LastSyncAt,
		LastIssueCursor: s.LastCursor,
		LastSyncResult:  s.LastOutcome,
		LastSyncError:   s.LastError,
	}
}

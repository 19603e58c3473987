package store

import (
	"context"
	"errors"
	"time"

	"basegraph.app/ghsync/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrSyncNotOwned is returned by CompleteSync and FailSync when the run no
// longer holds the repository's sync, because a later run reclaimed it.
var ErrSyncNotOwned = errors.New("sync not owned by run")

// IssueStore persists issues keyed by (repository_id, external_issue_number).
// Narrow updates return ErrNotFound when the issue has never been seen.
type IssueStore interface {
	// Upsert inserts or updates the issue and reports whether a row was created.
	Upsert(ctx context.Context, issue *model.Issue) (*model.Issue, bool, error)
	GetByNumber(ctx context.Context, repositoryID int64, number int) (*model.Issue, error)
	ListByNumbers(ctx context.Context, repositoryID int64, numbers []int) ([]model.Issue, error)
	UpdateAssignee(ctx context.Context, repositoryID int64, number int, assigneeID *int64, externalUpdatedAt time.Time) error
	UpdateLabels(ctx context.Context, repositoryID int64, number int, labels []string, priority model.IssuePriority, externalUpdatedAt time.Time) error
	UpdateStatus(ctx context.Context, repositoryID int64, number int, status model.IssueStatus) error
	UpdateBody(ctx context.Context, repositoryID int64, number int, body string, crossReferences []int) error
	Touch(ctx context.Context, repositoryID int64, number int, externalUpdatedAt time.Time) error
}

type RepoStore interface {
	GetByID(ctx context.Context, id int64) (*model.Repository, error)
	GetByExternalID(ctx context.Context, externalRepoID int64) (*model.Repository, error)
	ListEnabled(ctx context.Context) ([]model.Repository, error)
	// SetInstallation links (or with nil unlinks) the repositories with the
	// given external ids and returns how many rows were touched.
	SetInstallation(ctx context.Context, externalRepoIDs []int64, installationID *int64) (int64, error)
	UnlinkInstallation(ctx context.Context, installationID int64) (int64, error)
}

type InstallationStore interface {
	Upsert(ctx context.Context, inst *model.Installation) (*model.Installation, error)
	GetByID(ctx context.Context, id int64) (*model.Installation, error)
	GetByExternalID(ctx context.Context, externalInstallationID int64) (*model.Installation, error)
	// SetSuspended marks the installation suspended at the given time, or
	// lifts the suspension when at is nil.
	SetSuspended(ctx context.Context, externalInstallationID int64, at *time.Time) error
	MarkDeleted(ctx context.Context, externalInstallationID int64, at time.Time) error
}

type GitHubUserStore interface {
	Upsert(ctx context.Context, user *model.GitHubUser) (*model.GitHubUser, error)
	GetByExternalID(ctx context.Context, externalID int64) (*model.GitHubUser, error)
}

type UserStore interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
}

// SessionStore only validates sessions; they are issued elsewhere.
type SessionStore interface {
	GetValid(ctx context.Context, id int64) (*model.Session, error) // checks expiry
}

type WorkspaceStore interface {
	GetByID(ctx context.Context, id int64) (*model.Workspace, error)
	IsMember(ctx context.Context, workspaceID, userID int64) (bool, error)
}

// SyncStatusStore guards per-repository issue syncs. TryBeginSync is an atomic
// check-and-set: of any number of concurrent callers for one repository at
// most one gets true, and runID becomes the owner. Only the owner can end the
// sync; CompleteSync and FailSync from any other run write nothing and return
// ErrSyncNotOwned. Different repositories never contend.
type SyncStatusStore interface {
	TryBeginSync(ctx context.Context, repositoryID, runID int64) (bool, error)
	CompleteSync(ctx context.Context, repositoryID, runID int64, cursor *string, at time.Time) error
	FailSync(ctx context.Context, repositoryID, runID int64, reason string) error
	// GetStatus never returns ErrNotFound; a repository that has never synced
	// gets a zero status.
	GetStatus(ctx context.Context, repositoryID int64) (*model.SyncStatus, error)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"basegraph.app/ghsync/common/id"
	"basegraph.app/ghsync/common/logger"
	"basegraph.app/ghsync/internal/githubapi"
	"basegraph.app/ghsync/internal/mapper"
	"basegraph.app/ghsync/internal/model"
	"basegraph.app/ghsync/internal/store"
)

var ErrSyncInProgress = errors.New("sync already in progress")

const (
	DefaultSyncBatchSize     = 100
	maxSyncBatchSize         = 100
	DefaultMaxRateLimitPause = 5 * time.Minute
	maxErrorDetails          = 50
)

type SyncOptions struct {
	// Full ignores the stored cursor and walks every page.
	Full      bool
	BatchSize int
	// OnProgress is called after every issue with the running totals.
	OnProgress func(SyncProgress)
}

type SyncProgress struct {
	Processed int
	Created   int
	Updated   int
	Errors    int
	Page      int
}

type IssueSyncError struct {
	Number  int    `json:"number"`
	Message string `json:"message"`
}

type SyncResult struct {
	Cursor       *string          `json:"cursor"`
	ErrorDetails []IssueSyncError `json:"error_details,omitempty"`
	Processed    int              `json:"processed"`
	Created      int              `json:"created"`
	Updated      int              `json:"updated"`
	Errors       int              `json:"errors"`
	Pages        int              `json:"pages"`
	StoppedEarly bool             `json:"stopped_early"`
	// Superseded is set when a later run reclaimed the sync before this one
	// finished; the issues were written but the cursor was not.
	Superseded   bool             `json:"superseded,omitempty"`
}

type IssueSyncEngine interface {
	SyncRepositoryIssues(ctx context.Context, repo *model.Repository, opts SyncOptions) (*SyncResult, error)
}

type IssueSyncConfig struct {
	BatchSize         int
	MaxRateLimitPause time.Duration
}

type issueSyncEngine struct {
	status  store.SyncStatusStore
	issues  store.IssueStore
	users   store.GitHubUserStore
	clients GitHubClients
	cfg     IssueSyncConfig
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewIssueSyncEngine(
	status store.SyncStatusStore,
	issues store.IssueStore,
	users store.GitHubUserStore,
	clients GitHubClients,
	cfg IssueSyncConfig,
) IssueSyncEngine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultSyncBatchSize
	}
	if cfg.MaxRateLimitPause <= 0 {
		cfg.MaxRateLimitPause = DefaultMaxRateLimitPause
	}
	return &issueSyncEngine{
		status:  status,
		issues:  issues,
		users:   users,
		clients: clients,
		cfg:     cfg,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// SyncRepositoryIssues pulls the issues of repo and upserts them. A second
// call for the same repository while one is running gets ErrSyncInProgress
// and changes nothing. Whatever way the run ends, the in-progress flag is
// cleared before returning.
func (e *issueSyncEngine) SyncRepositoryIssues(ctx context.Context, repo *model.Repository, opts SyncOptions) (result *SyncResult, err error) {
	if repo == nil {
		return nil, fmt.Errorf("repository is required")
	}

	current, err := e.status.GetStatus(ctx, repo.ID)
	if err != nil {
		return nil, fmt.Errorf("reading sync status: %w", err)
	}
	if current.InProgress {
		return nil, ErrSyncInProgress
	}

	runID := id.New()
	started, err := e.status.TryBeginSync(ctx, repo.ID, runID)
	if err != nil {
		return nil, fmt.Errorf("starting sync: %w", err)
	}
	if !started {
		return nil, ErrSyncInProgress
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		RepositoryID: logger.Ptr(repo.ID),
		WorkspaceID:  logger.Ptr(repo.WorkspaceID),
		SyncRunID:    logger.Ptr(runID),
		Component:    "ghsync.sync.engine",
	})
	span := logger.StartSpan(ctx, "sync.repository_issues")
	defer span.End()
	ctx = span.Context()

	finished := false
	defer func() {
		if finished {
			return
		}
		p := recover()
		reason := "sync aborted"
		switch {
		case p != nil:
			reason = fmt.Sprintf("panic: %v", p)
		case err != nil:
			reason = err.Error()
		}
		failErr := e.status.FailSync(context.WithoutCancel(ctx), repo.ID, runID, reason)
		switch {
		case errors.Is(failErr, store.ErrSyncNotOwned):
			slog.WarnContext(ctx, "sync reclaimed by another run, failure not recorded", "reason", reason)
		case failErr != nil:
			slog.ErrorContext(ctx, "failed to clear sync flag", "error", failErr)
		}
		if p != nil {
			panic(p)
		}
	}()

	result, err = e.run(ctx, repo, current, opts)
	if err != nil {
		span.RecordError(err)
		slog.ErrorContext(ctx, "issue sync failed", "error", err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Bool("ghsync.sync.full", opts.Full),
		attribute.Int("ghsync.sync.processed", result.Processed),
		attribute.Int("ghsync.sync.errors", result.Errors),
		attribute.Int("ghsync.sync.pages", result.Pages),
	)

	completeErr := e.status.CompleteSync(context.WithoutCancel(ctx), repo.ID, runID, result.Cursor, e.now().UTC())
	switch {
	case errors.Is(completeErr, store.ErrSyncNotOwned):
		finished = true
		result.Superseded = true
		slog.WarnContext(ctx, "sync reclaimed by another run, cursor not recorded",
			"processed", result.Processed)
		return result, nil
	case completeErr != nil:
		return nil, fmt.Errorf("completing sync: %w", completeErr)
	}
	finished = true

	slog.InfoContext(ctx, "issue sync completed",
		"full", opts.Full,
		"processed", result.Processed,
		"created", result.Created,
		"updated", result.Updated,
		"errors", result.Errors,
		"pages", result.Pages,
		"stopped_early", result.StoppedEarly)
	return result, nil
}

func (e *issueSyncEngine) run(ctx context.Context, repo *model.Repository, current *model.SyncStatus, opts SyncOptions) (*SyncResult, error) {
	client, err := e.clients.ForRepository(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("building github client: %w", err)
	}

	var quota atomic.Pointer[githubapi.RateLimitState]
	unsubscribe := client.Observe(githubapi.RateLimitObserverFunc(func(s githubapi.RateLimitState) {
		quota.Store(&s)
	}))
	defer unsubscribe()

	stopAt, err := startCursor(current, opts.Full)
	if err != nil {
		slog.WarnContext(ctx, "stored cursor unreadable, running full sync", "error", err)
	}

	batch := opts.BatchSize
	if batch <= 0 {
		batch = e.cfg.BatchSize
	}
	batch = min(batch, maxSyncBatchSize)

	result := &SyncResult{Cursor: current.LastCursor}
	var newest time.Time
	after := ""

	slog.InfoContext(ctx, "issue sync started",
		"repository", repo.FullName(),
		"full", opts.Full,
		"batch_size", batch,
		"since", stopAt)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := e.pauseForRateLimit(ctx, client, quota.Load()); err != nil {
			return nil, err
		}

		page, err := client.FetchIssuesPage(ctx, repo.Owner, repo.Name, batch, after)
		if err != nil {
			return nil, fmt.Errorf("fetching issues page %d: %w", result.Pages+1, err)
		}
		result.Pages++

		for i := range page.Issues {
			remote := &page.Issues[i]
			if stopAt != nil && !remote.UpdatedAt.After(*stopAt) {
				result.StoppedEarly = true
				break
			}
			if remote.UpdatedAt.After(newest) {
				newest = remote.UpdatedAt
			}

			created, err := e.syncIssue(ctx, repo, remote)
			result.Processed++
			switch {
			case err != nil:
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				result.Errors++
				if len(result.ErrorDetails) < maxErrorDetails {
					result.ErrorDetails = append(result.ErrorDetails, IssueSyncError{Number: remote.Number, Message: err.Error()})
				}
				slog.WarnContext(ctx, "failed to sync issue", "number", remote.Number, "error", err)
			case created:
				result.Created++
			default:
				result.Updated++
			}

			if opts.OnProgress != nil {
				opts.OnProgress(SyncProgress{
					Processed: result.Processed,
					Created:   result.Created,
					Updated:   result.Updated,
					Errors:    result.Errors,
					Page:      result.Pages,
				})
			}
		}

		if result.StoppedEarly || !page.HasNextPage || page.EndCursor == "" {
			break
		}
		after = page.EndCursor
	}

	if !newest.IsZero() {
		cursor := newest.UTC().Format(time.RFC3339)
		result.Cursor = &cursor
	}
	return result, nil
}

func (e *issueSyncEngine) syncIssue(ctx context.Context, repo *model.Repository, remote *githubapi.RemoteIssue) (bool, error) {
	if remote.Number <= 0 {
		return false, fmt.Errorf("issue has no number")
	}

	var assigneeID *int64
	if remote.Assignee != nil && remote.Assignee.DatabaseID != 0 {
		user, err := e.users.Upsert(ctx, githubUserFromRemote(remote.Assignee))
		if err != nil {
			return false, fmt.Errorf("resolving assignee %s: %w", remote.Assignee.Login, err)
		}
		assigneeID = &user.ID
	}

	_, created, err := e.issues.Upsert(ctx, &model.Issue{
		ID:                  id.New(),
		RepositoryID:        repo.ID,
		ExternalIssueID:     remote.DatabaseID,
		ExternalIssueNumber: remote.Number,
		Title:               remote.Title,
		Body:                remote.Body,
		Status:              mapper.MapState(remote.State, remote.StateReason),
		Priority:            mapper.ExtractPriority(remote.Labels),
		Labels:              remote.Labels,
		CrossReferences:     mapper.ExtractCrossReferences(remote.Title, remote.Body),
		AssigneeID:          assigneeID,
		ExternalCreatedAt:   remote.CreatedAt,
		ExternalUpdatedAt:   remote.UpdatedAt,
		ExternalClosedAt:    remote.ClosedAt,
	})
	if err != nil {
		return false, fmt.Errorf("upserting issue #%d: %w", remote.Number, err)
	}
	return created, nil
}

// pauseForRateLimit waits before the next page when the remaining quota is
// under the low-water mark. The wait grows with the deficit and never
// exceeds the time until reset or the configured cap.
func (e *issueSyncEngine) pauseForRateLimit(ctx context.Context, client GitHubClient, state *githubapi.RateLimitState) error {
	if state == nil || !state.Known() {
		return nil
	}
	mark := client.LowWaterMark()
	if mark <= 0 || state.Remaining >= mark {
		return nil
	}

	untilReset := state.UntilReset(e.now())
	if untilReset <= 0 {
		return nil
	}
	deficit := float64(mark-state.Remaining) / float64(mark)
	pause := min(time.Duration(float64(untilReset)*deficit), e.cfg.MaxRateLimitPause)
	if pause <= 0 {
		return nil
	}

	slog.WarnContext(ctx, "pausing sync for rate limit",
		"remaining", state.Remaining,
		"limit", state.Limit,
		"pause", pause)
	return e.sleep(ctx, pause)
}

func startCursor(status *model.SyncStatus, full bool) (*time.Time, error) {
	if full || status.LastCursor == nil || *status.LastCursor == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *status.LastCursor)
	if err != nil {
		return nil, fmt.Errorf("parsing cursor %q: %w", *status.LastCursor, err)
	}
	return &t, nil
}

func githubUserFromRemote(u *githubapi.RemoteUser) *model.GitHubUser {
	user := &model.GitHubUser{
		ID:         id.New(),
		ExternalID: u.DatabaseID,
		Login:      u.Login,
	}
	if u.AvatarURL != "" {
		avatar := u.AvatarURL
		user.AvatarURL = &avatar
	}
	return user
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

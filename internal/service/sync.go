package service

import (
	"context"
	"errors"
	"fmt"

	"basegraph.app/ghsync/internal/model"
	"basegraph.app/ghsync/internal/queue"
	"basegraph.app/ghsync/internal/store"
)

var ErrRepositoryDisabled = errors.New("repository is disabled")

// SyncService is what the HTTP layer, the CLI and the worker use to run or
// inspect issue syncs.
type SyncService interface {
	// SyncForUser runs a sync on behalf of a dashboard user.
	SyncForUser(ctx context.Context, userID, repositoryID int64, full bool) (*SyncResult, error)
	// StatusForUser returns the sync status on behalf of a dashboard user.
	StatusForUser(ctx context.Context, userID, repositoryID int64) (*model.SyncStatus, error)
	// Sync runs a sync without a membership check.
	Sync(ctx context.Context, repositoryID int64, opts SyncOptions) (*SyncResult, error)
	Status(ctx context.Context, repositoryID int64) (*model.SyncStatus, error)
	Enqueue(ctx context.Context, repositoryID int64, full bool, trigger queue.Trigger) error
	// EnqueueEnabled queues an incremental sync for every enabled repository.
	EnqueueEnabled(ctx context.Context, trigger queue.Trigger) (int, error)
}

type syncService struct {
	access   RepositoryAccess
	repos    store.RepoStore
	status   store.SyncStatusStore
	engine   IssueSyncEngine
	producer queue.Producer
}

// NewSyncService builds a SyncService. producer may be nil when queueing is
// not available; Enqueue then fails.
func NewSyncService(
	access RepositoryAccess,
	repos store.RepoStore,
	status store.SyncStatusStore,
	engine IssueSyncEngine,
	producer queue.Producer,
) SyncService {
	return &syncService{
		access:   access,
		repos:    repos,
		status:   status,
		engine:   engine,
		producer: producer,
	}
}

func (s *syncService) SyncForUser(ctx context.Context, userID, repositoryID int64, full bool) (*SyncResult, error) {
	repo, err := s.access.Authorize(ctx, userID, repositoryID)
	if err != nil {
		return nil, err
	}
	if !repo.IsEnabled {
		return nil, ErrRepositoryDisabled
	}
	return s.engine.SyncRepositoryIssues(ctx, repo, SyncOptions{Full: full})
}

func (s *syncService) StatusForUser(ctx context.Context, userID, repositoryID int64) (*model.SyncStatus, error) {
	if _, err := s.access.Authorize(ctx, userID, repositoryID); err != nil {
		return nil, err
	}
	return s.Status(ctx, repositoryID)
}

func (s *syncService) Sync(ctx context.Context, repositoryID int64, opts SyncOptions) (*SyncResult, error) {
	repo, err := s.repository(ctx, repositoryID)
	if err != nil {
		return nil, err
	}
	if !repo.IsEnabled {
		return nil, ErrRepositoryDisabled
	}
	return s.engine.SyncRepositoryIssues(ctx, repo, opts)
}

func (s *syncService) Status(ctx context.Context, repositoryID int64) (*model.SyncStatus, error) {
	status, err := s.status.GetStatus(ctx, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("getting sync status: %w", err)
	}
	return status, nil
}

func (s *syncService) Enqueue(ctx context.Context, repositoryID int64, full bool, trigger queue.Trigger) error {
	if s.producer == nil {
		return fmt.Errorf("sync queue is not configured")
	}
	if _, err := s.repository(ctx, repositoryID); err != nil {
		return err
	}
	return s.producer.Enqueue(ctx, queue.Task{
		TaskType:     queue.TaskTypeIssueSync,
		RepositoryID: repositoryID,
		FullSync:     full,
		Trigger:      trigger,
		TraceID:      traceIDFromContext(ctx),
		Attempt:      1,
	})
}

func (s *syncService) EnqueueEnabled(ctx context.Context, trigger queue.Trigger) (int, error) {
	if s.producer == nil {
		return 0, fmt.Errorf("sync queue is not configured")
	}
	repos, err := s.repos.ListEnabled(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing enabled repositories: %w", err)
	}

	enqueued := 0
	var errs []error
	for _, repo := range repos {
		err := s.producer.Enqueue(ctx, queue.Task{
			TaskType:     queue.TaskTypeIssueSync,
			RepositoryID: repo.ID,
			Trigger:      trigger,
			TraceID:      traceIDFromContext(ctx),
			Attempt:      1,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("repository %d: %w", repo.ID, err))
			continue
		}
		enqueued++
	}
	return enqueued, errors.Join(errs...)
}

func (s *syncService) repository(ctx context.Context, repositoryID int64) (*model.Repository, error) {
	repo, err := s.repos.GetByID(ctx, repositoryID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRepositoryNotFound
		}
		return nil, fmt.Errorf("getting repository: %w", err)
	}
	return repo, nil
}

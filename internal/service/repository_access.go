package service

import (
	"context"
	"errors"
	"fmt"

	"basegraph.app/ghsync/internal/model"
	"basegraph.app/ghsync/internal/store"
)

var (
	ErrRepositoryNotFound = errors.New("repository not found")
	ErrForbidden          = errors.New("not a member of the repository workspace")
)

type RepositoryAccess interface {
	// Authorize loads the repository and checks that userID belongs to its
	// workspace.
	Authorize(ctx context.Context, userID, repositoryID int64) (*model.Repository, error)
}

type repositoryAccess struct {
	repos      store.RepoStore
	workspaces store.WorkspaceStore
}

func NewRepositoryAccess(repos store.RepoStore, workspaces store.WorkspaceStore) RepositoryAccess {
	return &repositoryAccess{repos: repos, workspaces: workspaces}
}

func (a *repositoryAccess) Authorize(ctx context.Context, userID, repositoryID int64) (*model.Repository, error) {
	repo, err := a.repos.GetByID(ctx, repositoryID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRepositoryNotFound
		}
		return nil, fmt.Errorf("getting repository: %w", err)
	}

	member, err := a.workspaces.IsMember(ctx, repo.WorkspaceID, userID)
	if err != nil {
		return nil, fmt.Errorf("checking workspace membership: %w", err)
	}
	if !member {
		return nil, ErrForbidden
	}
	return repo, nil
}

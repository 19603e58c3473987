package store

import (
	"context"
	"errors"

	"basegraph.app/ghsync/core/db"
	"basegraph.app/ghsync/internal/model"
	"github.com/jackc/pgx/v5"
)

const repoColumns = `id, workspace_id, external_repo_id, owner, name, installation_id, is_enabled, created_at, updated_at`

type repoStore struct {
	conn db.DBTX
}

func newRepoStore(conn db.DBTX) RepoStore {
	return &repoStore{conn: conn}
}

func (s *repoStore) GetByID(ctx context.Context, id int64) (*model.Repository, error) {
	row := s.conn.QueryRow(ctx, `SELECT `+repoColumns+` FROM repositories WHERE id = $1`, id)
	return scanRepoRow(row)
}

func (s *repoStore) GetByExternalID(ctx context.Context, externalRepoID int64) (*model.Repository, error) {
	row := s.conn.QueryRow(ctx, `SELECT `+repoColumns+` FROM repositories WHERE external_repo_id = $1`, externalRepoID)
	return scanRepoRow(row)
}

func (s *repoStore) ListEnabled(ctx context.Context) ([]model.Repository, error) {
	rows, err := s.conn.Query(ctx, `SELECT `+repoColumns+` FROM repositories WHERE is_enabled ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []model.Repository
	for rows.Next() {
		repo, err := scanRepo(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, *repo)
	}
	return repos, rows.Err()
}

func (s *repoStore) SetInstallation(ctx context.Context, externalRepoIDs []int64, installationID *int64) (int64, error) {
	if len(externalRepoIDs) == 0 {
		return 0, nil
	}
	tag, err := s.conn.Exec(ctx, `
		UPDATE repositories SET installation_id = $2, updated_at = now()
		WHERE external_repo_id = ANY($1)`,
		externalRepoIDs, installationID,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *repoStore) UnlinkInstallation(ctx context.Context, installationID int64) (int64, error) {
	tag, err := s.conn.Exec(ctx, `
		UPDATE repositories SET installation_id = NULL, updated_at = now()
		WHERE installation_id = $1`,
		installationID,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanRepoRow(row pgx.Row) (*model.Repository, error) {
	repo, err := scanRepo(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return repo, nil
}

func scanRepo(row pgx.Row) (*model.Repository, error) {
	var r model.Repository
	if err := row.Scan(
		&r.ID, &r.WorkspaceID, &r.ExternalRepoID, &r.Owner, &r.Name,
		&r.InstallationID, &r.IsEnabled, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &r, nil
}

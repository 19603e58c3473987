package store

import (
	"context"
	"errors"

	"basegraph.app/ghsync/core/db"
	"basegraph.app/ghsync/internal/model"
	"github.com/jackc/pgx/v5"
)

type gitHubUserStore struct {
	conn db.DBTX
}

func newGitHubUserStore(conn db.DBTX) GitHubUserStore {
	return &gitHubUserStore{conn: conn}
}

func (s *gitHubUserStore) Upsert(ctx context.Context, user *model.GitHubUser) (*model.GitHubUser, error) {
	row := s.conn.QueryRow(ctx, `
		INSERT INTO github_users (id, external_id, login, avatar_url)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (external_id) DO UPDATE SET
			login      = EXCLUDED.login,
			avatar_url = COALESCE(EXCLUDED.avatar_url, github_users.avatar_url),
			updated_at = now()
		RETURNING id, external_id, login, avatar_url, created_at, updated_at`,
		user.ID, user.ExternalID, user.Login, user.AvatarURL,
	)
	return scanGitHubUser(row)
}

func (s *gitHubUserStore) GetByExternalID(ctx context.Context, externalID int64) (*model.GitHubUser, error) {
	row := s.conn.QueryRow(ctx, `
		SELECT id, external_id, login, avatar_url, created_at, updated_at
		FROM github_users WHERE external_id = $1`,
		externalID,
	)
	return scanGitHubUser(row)
}

func scanGitHubUser(row pgx.Row) (*model.GitHubUser, error) {
	var u model.GitHubUser
	if err := row.Scan(&u.ID, &u.ExternalID, &u.Login, &u.AvatarURL, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

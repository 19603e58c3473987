package store

import (
	"context"
	"errors"

	"basegraph.app/ghsync/core/db"
	"basegraph.app/ghsync/internal/model"
	"github.com/jackc/pgx/v5"
)

type userStore struct {
	conn db.DBTX
}

func newUserStore(conn db.DBTX) UserStore {
	return &userStore{conn: conn}
}

func (s *userStore) GetByID(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	err := s.conn.QueryRow(ctx,
		`SELECT id, name, email, avatar_url, created_at, updated_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Name, &u.Email, &u.AvatarURL, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

type sessionStore struct {
	conn db.DBTX
}

func newSessionStore(conn db.DBTX) SessionStore {
	return &sessionStore{conn: conn}
}

func (s *sessionStore) GetValid(ctx context.Context, id int64) (*model.Session, error) {
	var sess model.Session
	err := s.conn.QueryRow(ctx, `
		SELECT id, user_id, created_at, expires_at FROM sessions
		WHERE id = $1 AND expires_at > now()`, id,
	).Scan(&sess.ID, &sess.UserID, &sess.CreatedAt, &sess.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sess, nil
}

type workspaceStore struct {
	conn db.DBTX
}

func newWorkspaceStore(conn db.DBTX) WorkspaceStore {
	return &workspaceStore{conn: conn}
}

func (s *workspaceStore) GetByID(ctx context.Context, id int64) (*model.Workspace, error) {
	var w model.Workspace
	err := s.conn.QueryRow(ctx,
		`SELECT id, name, slug, created_at, updated_at FROM workspaces WHERE id = $1`, id,
	).Scan(&w.ID, &w.Name, &w.Slug, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &w, nil
}

func (s *workspaceStore) IsMember(ctx context.Context, workspaceID, userID int64) (bool, error) {
	var ok bool
	err := s.conn.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM workspace_members WHERE workspace_id = $1 AND user_id = $2)`,
		workspaceID, userID,
	).Scan(&ok)
	return ok, err
}

package store

import (
	"context"
	"errors"
	"time"

	"basegraph.app/ghsync/core/db"
	"basegraph.app/ghsync/internal/model"
	"github.com/jackc/pgx/v5"
)

const installationColumns = `id, external_installation_id, account_id, account_login, target_type,
	access_token, suspended_at, deleted_at, created_at, updated_at`

type installationStore struct {
	conn db.DBTX
}

func newInstallationStore(conn db.DBTX) InstallationStore {
	return &installationStore{conn: conn}
}

// Upsert clears deleted_at and suspended_at: a created or unsuspended
// installation is live again.
func (s *installationStore) Upsert(ctx context.Context, inst *model.Installation) (*model.Installation, error) {
	row := s.conn.QueryRow(ctx, `
		INSERT INTO github_installations (id, external_installation_id, account_id, account_login, target_type)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (external_installation_id) DO UPDATE SET
			account_id    = EXCLUDED.account_id,
			account_login = EXCLUDED.account_login,
			target_type   = EXCLUDED.target_type,
			suspended_at  = NULL,
			deleted_at    = NULL,
			updated_at    = now()
		RETURNING `+installationColumns,
		inst.ID, inst.ExternalInstallationID, inst.AccountID, inst.AccountLogin, inst.TargetType,
	)
	return scanInstallationRow(row)
}

func (s *installationStore) GetByID(ctx context.Context, id int64) (*model.Installation, error) {
	row := s.conn.QueryRow(ctx, `SELECT `+installationColumns+` FROM github_installations WHERE id = $1`, id)
	return scanInstallationRow(row)
}

func (s *installationStore) GetByExternalID(ctx context.Context, externalInstallationID int64) (*model.Installation, error) {
	row := s.conn.QueryRow(ctx,
		`SELECT `+installationColumns+` FROM github_installations WHERE external_installation_id = $1`,
		externalInstallationID,
	)
	return scanInstallationRow(row)
}

func (s *installationStore) SetSuspended(ctx context.Context, externalInstallationID int64, at *time.Time) error {
	tag, err := s.conn.Exec(ctx, `
		UPDATE github_installations SET suspended_at = $2, updated_at = now()
		WHERE external_installation_id = $1`,
		externalInstallationID, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *installationStore) MarkDeleted(ctx context.Context, externalInstallationID int64, at time.Time) error {
	tag, err := s.conn.Exec(ctx, `
		UPDATE github_installations SET deleted_at = $2, access_token = NULL, updated_at = now()
		WHERE external_installation_id = $1`,
		externalInstallationID, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanInstallationRow(row pgx.Row) (*model.Installation, error) {
	var i model.Installation
	err := row.Scan(
		&i.ID, &i.ExternalInstallationID, &i.AccountID, &i.AccountLogin, &i.TargetType,
		&i.AccessToken, &i.SuspendedAt, &i.DeletedAt, &i.CreatedAt, &i.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &i, nil
}

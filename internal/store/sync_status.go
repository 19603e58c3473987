package store

import (
	"context"
	"errors"
	"time"

	"basegraph.app/ghsync/core/db"
	"basegraph.app/ghsync/internal/model"
	"github.com/jackc/pgx/v5"
)

type syncStatusStore struct {
	conn       db.DBTX
	staleAfter time.Duration
}

func newSyncStatusStore(conn db.DBTX, staleAfter time.Duration) SyncStatusStore {
	return &syncStatusStore{conn: conn, staleAfter: staleAfter}
}

// TryBeginSync relies on ON CONFLICT DO UPDATE ... WHERE being evaluated
// against the latest committed row, so concurrent callers serialize on the
// row lock and only one of them sees its update applied.
func (s *syncStatusStore) TryBeginSync(ctx context.Context, repositoryID, runID int64) (bool, error) {
	var id int64
	err := s.conn.QueryRow(ctx, `
		INSERT INTO repository_sync_status (repository_id, in_progress, run_id, started_at, updated_at)
		VALUES ($1, true, $2, now(), now())
		ON CONFLICT (repository_id) DO UPDATE SET
			in_progress = true,
			run_id      = $2,
			started_at  = now(),
			updated_at  = now()
		WHERE NOT repository_sync_status.in_progress
		   OR repository_sync_status.started_at < now() - ($3::float8 * interval '1 second')
		RETURNING repository_id`,
		repositoryID, runID, s.staleAfter.Seconds(),
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *syncStatusStore) CompleteSync(ctx context.Context, repositoryID, runID int64, cursor *string, at time.Time) error {
	tag, err := s.conn.Exec(ctx, `
		UPDATE repository_sync_status SET
			in_progress  = false,
			run_id       = NULL,
			last_cursor  = COALESCE($3, last_cursor),
			last_sync_at = $4,
			last_outcome = $5,
			last_error   = NULL,
			started_at   = NULL,
			updated_at   = now()
		WHERE repository_id = $1 AND in_progress AND run_id = $2`,
		repositoryID, runID, cursor, at, string(model.SyncOutcomeCompleted),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSyncNotOwned
	}
	return nil
}

func (s *syncStatusStore) FailSync(ctx context.Context, repositoryID, runID int64, reason string) error {
	tag, err := s.conn.Exec(ctx, `
		UPDATE repository_sync_status SET
			in_progress  = false,
			run_id       = NULL,
			last_outcome = $3,
			last_error   = $4,
			started_at   = NULL,
			updated_at   = now()
		WHERE repository_id = $1 AND in_progress AND run_id = $2`,
		repositoryID, runID, string(model.SyncOutcomeFailed), reason,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSyncNotOwned
	}
	return nil
}

func (s *syncStatusStore) GetStatus(ctx context.Context, repositoryID int64) (*model.SyncStatus, error) {
	var (
		st      model.SyncStatus
		outcome *string
	)
	err := s.conn.QueryRow(ctx, `
		SELECT repository_id, in_progress, run_id, last_cursor, last_sync_at, started_at, last_outcome, last_error, updated_at
		FROM repository_sync_status WHERE repository_id = $1`,
		repositoryID,
	).Scan(&st.RepositoryID, &st.InProgress, &st.RunID, &st.LastCursor, &st.LastSyncAt, &st.StartedAt, &outcome, &st.LastError, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &model.SyncStatus{RepositoryID: repositoryID}, nil
		}
		return nil, err
	}
	if outcome != nil {
		o := model.SyncOutcome(*outcome)
		st.LastOutcome = &o
	}
	// A stale run is reported as idle; the next TryBeginSync reclaims it.
	if st.InProgress && st.StartedAt != nil && time.Since(*st.StartedAt) > s.staleAfter {
		st.InProgress = false
	}
	return &st, nil
}

package store

import (
	"context"
	"errors"
	"time"

	"basegraph.app/ghsync/core/db"
	"basegraph.app/ghsync/internal/model"
	"github.com/jackc/pgx/v5"
)

const issueColumns = `id, repository_id, external_issue_id, external_issue_number, title, body,
	status, priority, assignee_id, labels, cross_references,
	external_created_at, external_updated_at, external_closed_at, created_at, updated_at`

type issueStore struct {
	conn db.DBTX
}

func newIssueStore(conn db.DBTX) IssueStore {
	return &issueStore{conn: conn}
}

// Upsert keeps a local in_progress or review status while the remote issue
// is still open.
func (s *issueStore) Upsert(ctx context.Context, issue *model.Issue) (*model.Issue, bool, error) {
	labels := issue.Labels
	if labels == nil {
		labels = []string{}
	}
	refs := issue.CrossReferences
	if refs == nil {
		refs = []int{}
	}

	row := s.conn.QueryRow(ctx, `
		INSERT INTO issues (
			id, repository_id, external_issue_id, external_issue_number, title, body,
			status, priority, assignee_id, labels, cross_references,
			external_created_at, external_updated_at, external_closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (repository_id, external_issue_number) DO UPDATE SET
			external_issue_id   = EXCLUDED.external_issue_id,
			title               = EXCLUDED.title,
			body                = EXCLUDED.body,
			status              = CASE
				WHEN EXCLUDED.status = 'open' AND issues.status IN ('in_progress', 'review') THEN issues.status
				ELSE EXCLUDED.status
			END,
			priority            = EXCLUDED.priority,
			assignee_id         = EXCLUDED.assignee_id,
			labels              = EXCLUDED.labels,
			cross_references    = EXCLUDED.cross_references,
			external_created_at = EXCLUDED.external_created_at,
			external_updated_at = EXCLUDED.external_updated_at,
			external_closed_at  = EXCLUDED.external_closed_at,
			updated_at          = now()
		RETURNING `+issueColumns+`, (xmax = 0) AS inserted`,
		issue.ID, issue.RepositoryID, issue.ExternalIssueID, issue.ExternalIssueNumber,
		issue.Title, issue.Body, string(issue.Status), string(issue.Priority), issue.AssigneeID,
		labels, refs, issue.ExternalCreatedAt, issue.ExternalUpdatedAt, issue.ExternalClosedAt,
	)

	var inserted bool
	out, err := scanIssue(row, &inserted)
	if err != nil {
		return nil, false, err
	}
	return out, inserted, nil
}

func (s *issueStore) GetByNumber(ctx context.Context, repositoryID int64, number int) (*model.Issue, error) {
	row := s.conn.QueryRow(ctx,
		`SELECT `+issueColumns+` FROM issues WHERE repository_id = $1 AND external_issue_number = $2`,
		repositoryID, number,
	)
	issue, err := scanIssue(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return issue, nil
}

func (s *issueStore) ListByNumbers(ctx context.Context, repositoryID int64, numbers []int) ([]model.Issue, error) {
	if len(numbers) == 0 {
		return nil, nil
	}

	rows, err := s.conn.Query(ctx,
		`SELECT `+issueColumns+` FROM issues
		WHERE repository_id = $1 AND external_issue_number = ANY($2)
		ORDER BY external_issue_number`,
		repositoryID, numbers,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issues []model.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, *issue)
	}
	return issues, rows.Err()
}

func (s *issueStore) UpdateAssignee(ctx context.Context, repositoryID int64, number int, assigneeID *int64, externalUpdatedAt time.Time) error {
	return s.exec(ctx, `
		UPDATE issues SET assignee_id = $3, external_updated_at = GREATEST(external_updated_at, $4), updated_at = now()
		WHERE repository_id = $1 AND external_issue_number = $2`,
		repositoryID, number, assigneeID, externalUpdatedAt,
	)
}

func (s *issueStore) UpdateLabels(ctx context.Context, repositoryID int64, number int, labels []string, priority model.IssuePriority, externalUpdatedAt time.Time) error {
	if labels == nil {
		labels = []string{}
	}
	return s.exec(ctx, `
		UPDATE issues SET labels = $3, priority = $4, external_updated_at = GREATEST(external_updated_at, $5), updated_at = now()
		WHERE repository_id = $1 AND external_issue_number = $2`,
		repositoryID, number, labels, string(priority), externalUpdatedAt,
	)
}

func (s *issueStore) UpdateStatus(ctx context.Context, repositoryID int64, number int, status model.IssueStatus) error {
	return s.exec(ctx, `
		UPDATE issues SET status = $3, updated_at = now()
		WHERE repository_id = $1 AND external_issue_number = $2`,
		repositoryID, number, string(status),
	)
}

func (s *issueStore) UpdateBody(ctx context.Context, repositoryID int64, number int, body string, crossReferences []int) error {
	if crossReferences == nil {
		crossReferences = []int{}
	}
	return s.exec(ctx, `
		UPDATE issues SET body = $3, cross_references = $4, updated_at = now()
		WHERE repository_id = $1 AND external_issue_number = $2`,
		repositoryID, number, body, crossReferences,
	)
}

func (s *issueStore) Touch(ctx context.Context, repositoryID int64, number int, externalUpdatedAt time.Time) error {
	return s.exec(ctx, `
		UPDATE issues SET external_updated_at = GREATEST(external_updated_at, $3), updated_at = now()
		WHERE repository_id = $1 AND external_issue_number = $2`,
		repositoryID, number, externalUpdatedAt,
	)
}

func (s *issueStore) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := s.conn.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanIssue(row pgx.Row, extra ...any) (*model.Issue, error) {
	var (
		issue    model.Issue
		status   string
		priority string
	)
	dest := []any{
		&issue.ID, &issue.RepositoryID, &issue.ExternalIssueID, &issue.ExternalIssueNumber,
		&issue.Title, &issue.Body, &status, &priority, &issue.AssigneeID,
		&issue.Labels, &issue.CrossReferences,
		&issue.ExternalCreatedAt, &issue.ExternalUpdatedAt, &issue.ExternalClosedAt,
		&issue.CreatedAt, &issue.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	issue.Status = model.IssueStatus(status)
	issue.Priority = model.IssuePriority(priority)
	return &issue, nil
}

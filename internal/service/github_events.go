package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/go-github/v66/github"

	"basegraph.app/ghsync/common/id"
	"basegraph.app/ghsync/common/logger"
	"basegraph.app/ghsync/internal/mapper"
	"basegraph.app/ghsync/internal/model"
	"basegraph.app/ghsync/internal/store"
	"basegraph.app/ghsync/internal/webhook"
)

// GitHubEventService applies webhook events to the store. It implements
// webhook.EventHandler.
type GitHubEventService struct {
	repos    store.RepoStore
	issues   store.IssueStore
	users    store.GitHubUserStore
	txRunner TxRunner
	now      func() time.Time
}

var _ webhook.EventHandler = (*GitHubEventService)(nil)

func NewGitHubEventService(
	repos store.RepoStore,
	issues store.IssueStore,
	users store.GitHubUserStore,
	txRunner TxRunner,
) *GitHubEventService {
	return &GitHubEventService{
		repos:    repos,
		issues:   issues,
		users:    users,
		txRunner: txRunner,
		now:      time.Now,
	}
}

func (s *GitHubEventService) HandleIssues(ctx context.Context, event *github.IssuesEvent) error {
	issue := event.GetIssue()
	if issue == nil || issue.GetNumber() <= 0 || event.GetRepo() == nil {
		return fmt.Errorf("%w: issues event without issue or repository", webhook.ErrInvalidPayload)
	}

	repo, err := s.resolveRepository(ctx, event.GetRepo())
	if err != nil || repo == nil {
		return err
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{RepositoryID: logger.Ptr(repo.ID)})

	action := event.GetAction()
	switch action {
	case "deleted":
		slog.InfoContext(ctx, "issue deleted on github, keeping local record", "number", issue.GetNumber())
		return nil

	case "assigned", "unassigned":
		assigneeID, err := s.resolveUser(ctx, issue.GetAssignee())
		if err != nil {
			return err
		}
		err = s.issues.UpdateAssignee(ctx, repo.ID, issue.GetNumber(), assigneeID, issue.GetUpdatedAt().Time)
		if errors.Is(err, store.ErrNotFound) {
			return s.upsertIssue(ctx, repo, issue)
		}
		if err != nil {
			return fmt.Errorf("updating assignee of #%d: %w", issue.GetNumber(), err)
		}

	case "labeled", "unlabeled":
		labels := labelNames(issue.Labels)
		err := s.issues.UpdateLabels(ctx, repo.ID, issue.GetNumber(), labels, mapper.ExtractPriority(labels), issue.GetUpdatedAt().Time)
		if errors.Is(err, store.ErrNotFound) {
			return s.upsertIssue(ctx, repo, issue)
		}
		if err != nil {
			return fmt.Errorf("updating labels of #%d: %w", issue.GetNumber(), err)
		}

	default:
		if err := s.upsertIssue(ctx, repo, issue); err != nil {
			return err
		}
	}

	slog.InfoContext(ctx, "issue event applied", "action", action, "number", issue.GetNumber())
	return nil
}

func (s *GitHubEventService) HandleIssueComment(ctx context.Context, event *github.IssueCommentEvent) error {
	issue := event.GetIssue()
	if issue == nil || issue.GetNumber() <= 0 || event.GetRepo() == nil {
		return fmt.Errorf("%w: issue_comment event without issue or repository", webhook.ErrInvalidPayload)
	}
	if issue.IsPullRequest() {
		slog.DebugContext(ctx, "ignoring comment on pull request", "number", issue.GetNumber())
		return nil
	}

	repo, err := s.resolveRepository(ctx, event.GetRepo())
	if err != nil || repo == nil {
		return err
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{RepositoryID: logger.Ptr(repo.ID)})

	err = s.issues.Touch(ctx, repo.ID, issue.GetNumber(), issue.GetUpdatedAt().Time)
	if errors.Is(err, store.ErrNotFound) {
		return s.upsertIssue(ctx, repo, issue)
	}
	if err != nil {
		return fmt.Errorf("touching issue #%d: %w", issue.GetNumber(), err)
	}
	return nil
}

func (s *GitHubEventService) HandlePullRequest(ctx context.Context, event *github.PullRequestEvent) error {
	pr := event.GetPullRequest()
	if pr == nil || event.GetRepo() == nil {
		return fmt.Errorf("%w: pull_request event without pull request or repository", webhook.ErrInvalidPayload)
	}

	refs := mapper.ExtractClosingReferences(pr.GetTitle(), pr.GetBody())
	if len(refs) == 0 {
		return nil
	}

	repo, err := s.resolveRepository(ctx, event.GetRepo())
	if err != nil || repo == nil {
		return err
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{RepositoryID: logger.Ptr(repo.ID)})

	issues, err := s.issues.ListByNumbers(ctx, repo.ID, refs)
	if err != nil {
		return fmt.Errorf("loading referenced issues: %w", err)
	}

	var errs []error
	for _, issue := range issues {
		next, ok := mapper.StatusForPullRequest(event.GetAction(), pr.GetMerged(), issue.Status)
		if !ok || next == issue.Status {
			continue
		}
		if err := s.issues.UpdateStatus(ctx, repo.ID, issue.ExternalIssueNumber, next); err != nil {
			errs = append(errs, fmt.Errorf("issue #%d: %w", issue.ExternalIssueNumber, err))
			continue
		}
		slog.InfoContext(ctx, "issue status moved by pull request",
			"number", issue.ExternalIssueNumber,
			"pull_request", pr.GetNumber(),
			"from", issue.Status,
			"to", next)
	}
	return errors.Join(errs...)
}

func (s *GitHubEventService) HandleInstallation(ctx context.Context, event *github.InstallationEvent) error {
	inst := event.GetInstallation()
	if inst == nil || inst.GetID() == 0 {
		return fmt.Errorf("%w: installation event without installation", webhook.ErrInvalidPayload)
	}
	externalID := inst.GetID()
	action := event.GetAction()

	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		switch action {
		case "created", "new_permissions_accepted", "unsuspend":
			saved, err := stores.Installations().Upsert(ctx, &model.Installation{
				ID:                     id.New(),
				ExternalInstallationID: externalID,
				AccountID:              inst.GetAccount().GetID(),
				AccountLogin:           inst.GetAccount().GetLogin(),
				TargetType:             inst.GetTargetType(),
			})
			if err != nil {
				return fmt.Errorf("saving installation: %w", err)
			}
			linked, err := stores.Repos().SetInstallation(ctx, repositoryIDs(event.Repositories), &saved.ID)
			if err != nil {
				return fmt.Errorf("linking repositories: %w", err)
			}
			slog.InfoContext(ctx, "installation saved", "installation_id", externalID, "linked_repositories", linked)

		case "suspend":
			suspendedAt := s.now().UTC()
			if err := stores.Installations().SetSuspended(ctx, externalID, &suspendedAt); err != nil {
				return fmt.Errorf("suspending installation: %w", err)
			}

		case "deleted":
			existing, err := stores.Installations().GetByExternalID(ctx, externalID)
			if err != nil {
				return fmt.Errorf("loading installation: %w", err)
			}
			if err := stores.Installations().MarkDeleted(ctx, externalID, s.now().UTC()); err != nil {
				return fmt.Errorf("deleting installation: %w", err)
			}
			unlinked, err := stores.Repos().UnlinkInstallation(ctx, existing.ID)
			if err != nil {
				return fmt.Errorf("unlinking repositories: %w", err)
			}
			slog.InfoContext(ctx, "installation deleted", "installation_id", externalID, "unlinked_repositories", unlinked)

		default:
			slog.DebugContext(ctx, "installation action not handled", "action", action)
		}
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		slog.WarnContext(ctx, "installation not on record", "installation_id", externalID, "action", action)
		return nil
	}
	return err
}

func (s *GitHubEventService) HandleInstallationRepositories(ctx context.Context, event *github.InstallationRepositoriesEvent) error {
	inst := event.GetInstallation()
	if inst == nil || inst.GetID() == 0 {
		return fmt.Errorf("%w: installation_repositories event without installation", webhook.ErrInvalidPayload)
	}

	return s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		saved, err := stores.Installations().GetByExternalID(ctx, inst.GetID())
		if errors.Is(err, store.ErrNotFound) {
			slog.WarnContext(ctx, "repositories changed for unknown installation", "installation_id", inst.GetID())
			return nil
		}
		if err != nil {
			return fmt.Errorf("loading installation: %w", err)
		}

		added, err := stores.Repos().SetInstallation(ctx, repositoryIDs(event.RepositoriesAdded), &saved.ID)
		if err != nil {
			return fmt.Errorf("linking repositories: %w", err)
		}
		removed, err := stores.Repos().SetInstallation(ctx, repositoryIDs(event.RepositoriesRemoved), nil)
		if err != nil {
			return fmt.Errorf("unlinking repositories: %w", err)
		}

		slog.InfoContext(ctx, "installation repositories updated",
			"installation_id", inst.GetID(),
			"linked", added,
			"unlinked", removed)
		return nil
	})
}

// resolveRepository returns nil without error for repositories that are not
// connected; their events are skipped.
func (s *GitHubEventService) resolveRepository(ctx context.Context, r *github.Repository) (*model.Repository, error) {
	repo, err := s.repos.GetByExternalID(ctx, r.GetID())
	if errors.Is(err, store.ErrNotFound) {
		slog.InfoContext(ctx, "event for unknown repository skipped",
			"external_repo_id", r.GetID(),
			"repository", r.GetFullName())
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading repository %d: %w", r.GetID(), err)
	}
	return repo, nil
}

func (s *GitHubEventService) resolveUser(ctx context.Context, u *github.User) (*int64, error) {
	if u == nil || u.GetID() == 0 {
		return nil, nil
	}
	user := &model.GitHubUser{
		ID:         id.New(),
		ExternalID: u.GetID(),
		Login:      u.GetLogin(),
	}
	if u.AvatarURL != nil && *u.AvatarURL != "" {
		user.AvatarURL = u.AvatarURL
	}
	saved, err := s.users.Upsert(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("resolving user %s: %w", u.GetLogin(), err)
	}
	return &saved.ID, nil
}

func (s *GitHubEventService) upsertIssue(ctx context.Context, repo *model.Repository, issue *github.Issue) error {
	assigneeID, err := s.resolveUser(ctx, issue.GetAssignee())
	if err != nil {
		return err
	}

	labels := labelNames(issue.Labels)
	record := &model.Issue{
		ID:                  id.New(),
		RepositoryID:        repo.ID,
		ExternalIssueID:     issue.GetID(),
		ExternalIssueNumber: issue.GetNumber(),
		Title:               issue.GetTitle(),
		Body:                issue.GetBody(),
		Status:              mapper.MapState(issue.GetState(), issue.GetStateReason()),
		Priority:            mapper.ExtractPriority(labels),
		Labels:              labels,
		CrossReferences:     mapper.ExtractCrossReferences(issue.GetTitle(), issue.GetBody()),
		AssigneeID:          assigneeID,
		ExternalCreatedAt:   issue.GetCreatedAt().Time,
		ExternalUpdatedAt:   issue.GetUpdatedAt().Time,
	}
	if issue.ClosedAt != nil {
		closedAt := issue.ClosedAt.Time
		record.ExternalClosedAt = &closedAt
	}

	_, created, err := s.issues.Upsert(ctx, record)
	if err != nil {
		return fmt.Errorf("upserting issue #%d: %w", issue.GetNumber(), err)
	}
	slog.DebugContext(ctx, "issue upserted", "number", issue.GetNumber(), "created", created, "status", record.Status)
	return nil
}

func labelNames(labels []*github.Label) []string {
	names := make([]string, 0, len(labels))
	for _, l := range labels {
		if l.GetName() != "" {
			names = append(names, l.GetName())
		}
	}
	return names
}

func repositoryIDs(repos []*github.Repository) []int64 {
	ids := make([]int64, 0, len(repos))
	for _, r := range repos {
		if r.GetID() != 0 {
			ids = append(ids, r.GetID())
		}
	}
	return ids
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"basegraph.app/ghsync/internal/mapper"
	"basegraph.app/ghsync/internal/model"
	"basegraph.app/ghsync/internal/store"
)

var (
	ErrIssueNotFound    = errors.New("issue not found")
	ErrEmptyEnhancement = errors.New("enhanced description is empty")
)

// IssueEnhancementService writes an enhanced description section into the
// GitHub issue body and mirrors the new body locally. Re-enhancing replaces
// the previous section.
type IssueEnhancementService interface {
	Enhance(ctx context.Context, userID, repositoryID int64, number int, enhanced string) (*model.Issue, error)
}

type issueEnhancementService struct {
	access  RepositoryAccess
	issues  store.IssueStore
	clients GitHubClients
}

func NewIssueEnhancementService(access RepositoryAccess, issues store.IssueStore, clients GitHubClients) IssueEnhancementService {
	return &issueEnhancementService{access: access, issues: issues, clients: clients}
}

func (s *issueEnhancementService) Enhance(ctx context.Context, userID, repositoryID int64, number int, enhanced string) (*model.Issue, error) {
	if strings.TrimSpace(enhanced) == "" {
		return nil, ErrEmptyEnhancement
	}

	repo, err := s.access.Authorize(ctx, userID, repositoryID)
	if err != nil {
		return nil, err
	}

	issue, err := s.issues.GetByNumber(ctx, repo.ID, number)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrIssueNotFound
		}
		return nil, fmt.Errorf("getting issue: %w", err)
	}

	original := mapper.ExtractOriginalDescription(issue.Body)
	body := mapper.FormatBodyWithEnhancement(original, enhanced, issue.Status, issue.Priority)

	client, err := s.clients.ForRepository(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("building github client: %w", err)
	}
	nodeID, err := client.IssueNodeID(ctx, repo.Owner, repo.Name, number)
	if err != nil {
		return nil, fmt.Errorf("resolving issue node: %w", err)
	}
	if err := client.UpdateIssueBody(ctx, nodeID, body); err != nil {
		return nil, fmt.Errorf("updating issue body on github: %w", err)
	}

	refs := mapper.ExtractCrossReferences(issue.Title, body)
	if err := s.issues.UpdateBody(ctx, repo.ID, number, body, refs); err != nil {
		return nil, fmt.Errorf("storing issue body: %w", err)
	}

	slog.InfoContext(ctx, "issue enhanced",
		"repository_id", repo.ID,
		"number", number,
		"replaced_previous", mapper.HasEnhancement(issue.Body))

	issue.Body = body
	issue.CrossReferences = refs
	return issue, nil
}

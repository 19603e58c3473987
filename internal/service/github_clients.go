package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"basegraph.app/ghsync/internal/githubapi"
	"basegraph.app/ghsync/internal/model"
	"basegraph.app/ghsync/internal/store"
)

// GitHubClient is the part of githubapi.Client the services depend on.
type GitHubClient interface {
	FetchIssuesPage(ctx context.Context, owner, name string, first int, after string) (*githubapi.IssuePage, error)
	IssueNodeID(ctx context.Context, owner, name string, number int) (string, error)
	UpdateIssueBody(ctx context.Context, nodeID, body string) error
	RateLimit() githubapi.RateLimitState
	Observe(o githubapi.RateLimitObserver) func()
	LowWaterMark() int
}

// GitHubClients hands out a client authenticated for one repository.
type GitHubClients interface {
	ForRepository(ctx context.Context, repo *model.Repository) (GitHubClient, error)
}

type githubClients struct {
	base          *githubapi.Client
	installations store.InstallationStore
	fallback      githubapi.TokenProvider
}

// NewGitHubClients authenticates with the installation token of a repository
// when one is on record and falls back to fallbackToken otherwise.
func NewGitHubClients(base *githubapi.Client, installations store.InstallationStore, fallbackToken string) GitHubClients {
	return &githubClients{
		base:          base,
		installations: installations,
		fallback:      githubapi.StaticToken(fallbackToken),
	}
}

func (c *githubClients) ForRepository(_ context.Context, repo *model.Repository) (GitHubClient, error) {
	if repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	return c.base.WithTokenProvider(c.tokenProvider(repo.InstallationID)), nil
}

// tokenProvider resolves the token at request time so a token refreshed by
// an installation event is picked up mid-sync.
func (c *githubClients) tokenProvider(installationID *int64) githubapi.TokenProvider {
	if installationID == nil {
		return c.fallback
	}
	instID := *installationID
	return githubapi.TokenProviderFunc(func(ctx context.Context) (string, error) {
		inst, err := c.installations.GetByID(ctx, instID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return c.fallback.Token(ctx)
			}
			return "", fmt.Errorf("loading installation %d: %w", instID, err)
		}
		if !inst.Active() || inst.AccessToken == nil || *inst.AccessToken == "" {
			slog.DebugContext(ctx, "installation has no usable token, using fallback",
				"installation_id", instID)
			return c.fallback.Token(ctx)
		}
		return *inst.AccessToken, nil
	})
}

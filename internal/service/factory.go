package service

import (
	"basegraph.app/ghsync/core/config"
	"basegraph.app/ghsync/internal/githubapi"
	"basegraph.app/ghsync/internal/queue"
	"basegraph.app/ghsync/internal/store"
)

type Services struct {
	stores   *store.Stores
	txRunner TxRunner
	github   *githubapi.Client
	producer queue.Producer
	cfg      config.Config
}

// NewServices wires services over the shared stores. producer may be nil
// for processes that never enqueue.
func NewServices(stores *store.Stores, txRunner TxRunner, github *githubapi.Client, producer queue.Producer, cfg config.Config) *Services {
	return &Services{
		stores:   stores,
		txRunner: txRunner,
		github:   github,
		producer: producer,
		cfg:      cfg,
	}
}

func (s *Services) Auth() AuthService {
	return NewAuthService(s.stores.Users(), s.stores.Sessions())
}

func (s *Services) Access() RepositoryAccess {
	return NewRepositoryAccess(s.stores.Repos(), s.stores.Workspaces())
}

func (s *Services) GitHubClients() GitHubClients {
	return NewGitHubClients(s.github, s.stores.Installations(), s.cfg.GitHub.Token)
}

func (s *Services) IssueSync() IssueSyncEngine {
	return NewIssueSyncEngine(
		s.stores.SyncStatus(),
		s.stores.Issues(),
		s.stores.GitHubUsers(),
		s.GitHubClients(),
		IssueSyncConfig{
			BatchSize:         s.cfg.Sync.BatchSize,
			MaxRateLimitPause: s.cfg.Sync.MaxRateLimitPause,
		},
	)
}

func (s *Services) Sync() SyncService {
	return NewSyncService(s.Access(), s.stores.Repos(), s.stores.SyncStatus(), s.IssueSync(), s.producer)
}

func (s *Services) Enhancement() IssueEnhancementService {
	return NewIssueEnhancementService(s.Access(), s.stores.Issues(), s.GitHubClients())
}

func (s *Services) GitHubEvents() *GitHubEventService {
	return NewGitHubEventService(s.stores.Repos(), s.stores.Issues(), s.stores.GitHubUsers(), s.txRunner)
}

// NewGitHubAPIClient builds the shared GraphQL client from configuration.
// Per-repository credentials are attached later by GitHubClients.
func NewGitHubAPIClient(cfg config.Config) *githubapi.Client {
	return githubapi.NewClient(githubapi.Config{
		Tokens:         githubapi.StaticToken(cfg.GitHub.Token),
		URL:            cfg.GitHub.GraphQLURL,
		APIVersion:     cfg.GitHub.APIVersion,
		RequestTimeout: cfg.Sync.RequestTimeout,
		LowWaterMark:   cfg.Sync.RateLimitLowWater,
		Retry: githubapi.RetryPolicy{
			MaxAttempts:     cfg.Sync.MaxAttempts,
			InitialInterval: cfg.Sync.BackoffBase,
			Jitter:          cfg.Sync.BackoffJitter,
		},
	})
}

package store

import (
	"time"

	"basegraph.app/ghsync/core/db"
)

// DefaultStaleAfter is how long an in-progress sync may run before another
// caller is allowed to reclaim it.
const DefaultStaleAfter = time.Hour

type Stores struct {
	conn       db.DBTX
	staleAfter time.Duration
}

func NewStores(conn db.DBTX, staleAfter time.Duration) *Stores {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Stores{conn: conn, staleAfter: staleAfter}
}

func (s *Stores) Users() UserStore {
	return newUserStore(s.conn)
}

func (s *Stores) Sessions() SessionStore {
	return newSessionStore(s.conn)
}

func (s *Stores) Workspaces() WorkspaceStore {
	return newWorkspaceStore(s.conn)
}

func (s *Stores) Repos() RepoStore {
	return newRepoStore(s.conn)
}

func (s *Stores) Installations() InstallationStore {
	return newInstallationStore(s.conn)
}

func (s *Stores) GitHubUsers() GitHubUserStore {
	return newGitHubUserStore(s.conn)
}

func (s *Stores) Issues() IssueStore {
	return newIssueStore(s.conn)
}

func (s *Stores) SyncStatus() SyncStatusStore {
	return newSyncStatusStore(s.conn, s.staleAfter)
}

package store

import (
	"context"
	"sync"
	"time"

	"basegraph.app/ghsync/internal/model"
)

// MemorySyncStatusStore keeps sync status in process. Each repository has its
// own lock, so syncs of different repositories never wait on each other.
type MemorySyncStatusStore struct {
	entries    sync.Map // int64 -> *syncEntry
	now        func() time.Time
	staleAfter time.Duration
}

type syncEntry struct {
	mu     sync.Mutex
	status model.SyncStatus
}

func NewMemorySyncStatusStore(staleAfter time.Duration) *MemorySyncStatusStore {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &MemorySyncStatusStore{now: time.Now, staleAfter: staleAfter}
}

// WithClock replaces the time source; used by tests exercising stale reclaim.
func (s *MemorySyncStatusStore) WithClock(now func() time.Time) *MemorySyncStatusStore {
	s.now = now
	return s
}

func (s *MemorySyncStatusStore) entry(repositoryID int64) *syncEntry {
	e, _ := s.entries.LoadOrStore(repositoryID, &syncEntry{status: model.SyncStatus{RepositoryID: repositoryID}})
	return e.(*syncEntry)
}

func (s *MemorySyncStatusStore) TryBeginSync(_ context.Context, repositoryID, runID int64) (bool, error) {
	e := s.entry(repositoryID)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := s.now()
	if e.status.InProgress && !s.stale(&e.status, now) {
		return false, nil
	}

	e.status.InProgress = true
	e.status.RunID = &runID
	e.status.StartedAt = &now
	e.status.UpdatedAt = now
	return true, nil
}

func (s *MemorySyncStatusStore) CompleteSync(_ context.Context, repositoryID, runID int64, cursor *string, at time.Time) error {
	e := s.entry(repositoryID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.ownedBy(runID) {
		return ErrSyncNotOwned
	}
	outcome := model.SyncOutcomeCompleted
	e.status.InProgress = false
	e.status.RunID = nil
	if cursor != nil {
		c := *cursor
		e.status.LastCursor = &c
	}
	e.status.LastSyncAt = &at
	e.status.LastOutcome = &outcome
	e.status.LastError = nil
	e.status.StartedAt = nil
	e.status.UpdatedAt = s.now()
	return nil
}

func (s *MemorySyncStatusStore) FailSync(_ context.Context, repositoryID, runID int64, reason string) error {
	e := s.entry(repositoryID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.ownedBy(runID) {
		return ErrSyncNotOwned
	}
	outcome := model.SyncOutcomeFailed
	e.status.InProgress = false
	e.status.RunID = nil
	e.status.LastOutcome = &outcome
	e.status.LastError = &reason
	e.status.StartedAt = nil
	e.status.UpdatedAt = s.now()
	return nil
}

func (s *MemorySyncStatusStore) GetStatus(_ context.Context, repositoryID int64) (*model.SyncStatus, error) {
	v, ok := s.entries.Load(repositoryID)
	if !ok {
		return &model.SyncStatus{RepositoryID: repositoryID}, nil
	}

	e := v.(*syncEntry)
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.status
	if st.InProgress && s.stale(&st, s.now()) {
		st.InProgress = false
	}
	return &st, nil
}

func (s *MemorySyncStatusStore) stale(st *model.SyncStatus, now time.Time) bool {
	return st.StartedAt != nil && now.Sub(*st.StartedAt) > s.staleAfter
}

func (e *syncEntry) ownedBy(runID int64) bool {
	return e.status.InProgress && e.status.RunID != nil && *e.status.RunID == runID
}

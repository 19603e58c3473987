package service

import (
	"context"
	"errors"
	"fmt"

	"basegraph.app/ghsync/internal/model"
	"basegraph.app/ghsync/internal/store"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrSessionExpired = errors.New("session expired")
)

// AuthService validates dashboard sessions. Sessions are issued by the
// dashboard; this service only reads them.
type AuthService interface {
	ValidateSession(ctx context.Context, sessionID int64) (*model.User, error)
}

type authService struct {
	userStore    store.UserStore
	sessionStore store.SessionStore
}

func NewAuthService(userStore store.UserStore, sessionStore store.SessionStore) AuthService {
	return &authService{
		userStore:    userStore,
		sessionStore: sessionStore,
	}
}

func (s *authService) ValidateSession(ctx context.Context, sessionID int64) (*model.User, error) {
	session, err := s.sessionStore.GetValid(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("getting session: %w", err)
	}

	user, err := s.userStore.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("getting user: %w", err)
	}

	return user, nil
}

package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"basegraph.app/ghsync/internal/model"
	"basegraph.app/ghsync/internal/service"
)

type contextKey string

const (
	SessionCookieName              = "ghsync_session"
	SessionIDHeader                = "X-Session-ID"
	userContextKey      contextKey = "user"
	sessionIDContextKey contextKey = "session_id"
)

// RequireAuth resolves the dashboard session from the session cookie or the
// X-Session-ID header and aborts with 401 when there is none.
func RequireAuth(authService service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, err := getSessionID(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}

		user, err := authService.ValidateSession(c.Request.Context(), sessionID)
		if err != nil {
			if errors.Is(err, service.ErrSessionExpired) || errors.Is(err, service.ErrUserNotFound) {
				clearSessionCookie(c)
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to validate session"})
			return
		}

		ctx := WithUser(c.Request.Context(), user)
		ctx = context.WithValue(ctx, sessionIDContextKey, sessionID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

func GetUser(ctx context.Context) *model.User {
	user, _ := ctx.Value(userContextKey).(*model.User)
	return user
}

func GetSessionID(ctx context.Context) int64 {
	sessionID, _ := ctx.Value(sessionIDContextKey).(int64)
	return sessionID
}

func WithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

func getSessionID(c *gin.Context) (int64, error) {
	raw, err := c.Cookie(SessionCookieName)
	if err != nil || raw == "" {
		raw = c.GetHeader(SessionIDHeader)
	}
	if raw == "" {
		return 0, errors.New("no session")
	}
	return strconv.ParseInt(raw, 10, 64)
}

func clearSessionCookie(c *gin.Context) {
	c.SetCookie(
		SessionCookieName,
		"",
		-1,
		"/",
		"",
		false,
		true,
	)
}

package githubapi

import (
	"context"

	"golang.org/x/oauth2"
)

// TokenProvider supplies the bearer token for a single request. An empty
// token is allowed: the request is then sent unauthenticated.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

type TokenProviderFunc func(ctx context.Context) (string, error)

func (f TokenProviderFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// OAuth2TokenProvider adapts an oauth2.TokenSource.
type OAuth2TokenProvider struct {
	Source oauth2.TokenSource
}

func (p OAuth2TokenProvider) Token(context.Context) (string, error) {
	if p.Source == nil {
		return "", nil
	}
	tok, err := p.Source.Token()
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// StaticToken returns a provider that always yields token.
func StaticToken(token string) TokenProvider {
	if token == "" {
		return OAuth2TokenProvider{}
	}
	return OAuth2TokenProvider{Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})}
}

type tokenProviderKey struct{}

func withTokenProvider(ctx context.Context, tp TokenProvider) context.Context {
	return context.WithValue(ctx, tokenProviderKey{}, tp)
}

func tokenProviderFrom(ctx context.Context) TokenProvider {
	tp, _ := ctx.Value(tokenProviderKey{}).(TokenProvider)
	return tp
}

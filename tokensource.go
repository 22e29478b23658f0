package authcode

import "context"

// TokenSource returns access tokens.
type TokenSource interface {
	// Token returns a token or an error.
	// The returned Token must not be modified
	Token(ctx context.Context) (*AccessTokenContainer, error)
}

// StaticTokenSource always returns the same token.
func StaticTokenSource(t *AccessTokenContainer) TokenSource {
	return staticTokenSource{t: t}
}

type staticTokenSource struct {
	t *AccessTokenContainer
}

func (s staticTokenSource) Token(context.Context) (*AccessTokenContainer, error) {
	return s.t, nil
}

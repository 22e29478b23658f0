package core

import (
	"context"
	"time"
)

// AccessToken is an issued access token.
type AccessToken struct {
	Value string
	// TokenType is sent as token_type when set, e.g. "Bearer"
	TokenType string
	// ExpiresIn is sent as expires_in when non-zero
	ExpiresIn time.Duration
}

// IDToken is an issued OpenID Connect ID token, in compact serialization.
type IDToken struct {
	Value string
}

// AccessTokenIssuer mints access tokens for redeemed codes. Errors of type
// *Error are reported to the client as invalid_grant. Any other error is
// treated as a server failure.
type AccessTokenIssuer interface {
	Issue(ctx context.Context, authReq AuthRequest) (AccessToken, error)
}

// IDTokenIssuer mints ID tokens for redeemed codes whose request asked for
// one. A nil token with no error means none is issued.
type IDTokenIssuer interface {
	Issue(ctx context.Context, authReq AuthRequest, accessToken AccessToken) (*IDToken, error)
}

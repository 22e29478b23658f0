package issuer

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/pardot/authcode/core"
)

const accessTokenLen = 32

// OpaqueAccessTokens issues random bearer tokens. Recording them for later
// introspection is left to the resource servers' token store.
type OpaqueAccessTokens struct {
	// Validity is reported as expires_in. Zero omits it.
	Validity time.Duration
}

var _ core.AccessTokenIssuer = (*OpaqueAccessTokens)(nil)

func (o *OpaqueAccessTokens) Issue(_ context.Context, _ core.AuthRequest) (core.AccessToken, error) {
	b := make([]byte, accessTokenLen)
	if _, err := rand.Read(b); err != nil {
		return core.AccessToken{}, fmt.Errorf("reading random data: %w", err)
	}

	return core.AccessToken{
		Value:     base64.RawURLEncoding.EncodeToString(b),
		TokenType: "Bearer",
		ExpiresIn: o.Validity,
	}, nil
}

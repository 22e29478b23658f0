package issuer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pardot/authcode/core"
	"github.com/pardot/authcode/idtoken"
	"github.com/pardot/authcode/signer"
)

// DefaultIDTokenValidity is used when SignedIDTokens has no Validity set.
const DefaultIDTokenValidity = 1 * time.Hour

// SignedIDTokens issues ID tokens as JWTs.
type SignedIDTokens struct {
	// Issuer is the iss claim
	Issuer   string
	Signer   signer.Signer
	Validity time.Duration
	// Now defaults to time.Now
	Now func() time.Time
}

var _ core.IDTokenIssuer = (*SignedIDTokens)(nil)

// Issue signs an ID token for the request's subject, bound to the access
// token through at_hash. Requests without a subject can't have an ID token,
// so the code was unusable for this grant.
func (s *SignedIDTokens) Issue(ctx context.Context, authReq core.AuthRequest, accessToken core.AccessToken) (*core.IDToken, error) {
	if authReq.Subject == "" {
		return nil, &core.Error{Kind: core.ErrorKindInvalidGrant, Reason: "code has no subject to issue an id token for"}
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	validity := s.Validity
	if validity <= 0 {
		validity = DefaultIDTokenValidity
	}

	alg, err := s.Signer.SignerAlg(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting signer algorithm: %w", err)
	}
	atHash, err := idtoken.AccessTokenHash(alg, accessToken.Value)
	if err != nil {
		return nil, err
	}

	iat := now()
	claims := idtoken.Claims{
		Issuer:          s.Issuer,
		Subject:         authReq.Subject,
		Audience:        idtoken.Audience{authReq.ClientID},
		Expiry:          idtoken.NewUnixTime(iat.Add(validity)),
		IssuedAt:        idtoken.NewUnixTime(iat),
		Nonce:           authReq.Nonce,
		AccessTokenHash: atHash,
		AZP:             authReq.ClientID,
	}

	cb, err := json.Marshal(claims)
	if err != nil {
		return nil, fmt.Errorf("marshaling claims: %w", err)
	}

	signed, err := s.Signer.Sign(ctx, cb)
	if err != nil {
		return nil, fmt.Errorf("signing id token: %w", err)
	}

	return &core.IDToken{Value: string(signed)}, nil
}

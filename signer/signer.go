// Package signer signs and verifies ID tokens, and publishes the keys to
// verify them with.
package signer

import (
	"context"
	"crypto"
	"encoding/base64"
	"errors"
	"fmt"

	"gopkg.in/square/go-jose.v2"
)

// Signer is used for signing ID tokens, and exposes the public keys that can
// verify them.
type Signer interface {
	// PublicKeys returns a keyset of all valid signer public keys considered
	// valid for signed tokens
	PublicKeys(ctx context.Context) (*jose.JSONWebKeySet, error)
	// SignerAlg returns the algorithm the signer uses
	SignerAlg(ctx context.Context) (jose.SignatureAlgorithm, error)
	// Sign the provided data
	Sign(ctx context.Context, data []byte) (signed []byte, err error)
	// VerifySignature verifies the signature given token against the current signers
	VerifySignature(ctx context.Context, jwt string) (payload []byte, err error)
}

var (
	_ Signer = (*StaticSigner)(nil)
	_ Signer = (*CryptoSigner)(nil)
)

func sign(_ context.Context, signingKey jose.SigningKey, data []byte) (signed []byte, err error) {
	signer, err := jose.NewSigner(signingKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}

	jws, err := signer.Sign(data)
	if err != nil {
		return nil, fmt.Errorf("failed to sign payload: %w", err)
	}

	ser, err := jws.CompactSerialize()
	return []byte(ser), err
}

func verifySignature(_ context.Context, verificationKeys []jose.JSONWebKey, jwt string) (payload []byte, err error) {
	jws, err := jose.ParseSigned(jwt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWT: %w", err)
	}

	keyID := ""
	for _, sig := range jws.Signatures {
		keyID = sig.Header.KeyID
		break
	}

	for _, key := range verificationKeys {
		if keyID == "" || key.KeyID == keyID {
			if payload, err := jws.Verify(key); err == nil {
				return payload, nil
			}
		}
	}

	return nil, errors.New("failed to verify id token signature")
}

// KeyID derives a stable key ID from the public key, as its RFC 7638
// thumbprint.
func KeyID(pub crypto.PublicKey) (string, error) {
	jwk := jose.JSONWebKey{Key: pub}
	tp, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("computing thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(tp), nil
}

package signer

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"

	"gopkg.in/square/go-jose.v2"
)

// StaticSigner uses a fixed set of keys to manage signing operations
type StaticSigner struct {
	signingKey       jose.SigningKey
	verificationKeys []jose.JSONWebKey
}

// NewStatic returns a StaticSigner with the provided keys
func NewStatic(signingKey jose.SigningKey, verificationKeys []jose.JSONWebKey) *StaticSigner {
	return &StaticSigner{
		signingKey:       signingKey,
		verificationKeys: verificationKeys,
	}
}

// NewStaticRSA returns a StaticSigner that signs with key using RS256. The key
// ID is the key's thumbprint.
func NewStaticRSA(key *rsa.PrivateKey) (*StaticSigner, error) {
	kid, err := KeyID(key.Public())
	if err != nil {
		return nil, err
	}

	return NewStatic(
		jose.SigningKey{Algorithm: jose.RS256, Key: &jose.JSONWebKey{
			Key:       key,
			KeyID:     kid,
			Algorithm: string(jose.RS256),
			Use:       "sig",
		}},
		[]jose.JSONWebKey{{
			Key:       key.Public(),
			KeyID:     kid,
			Algorithm: string(jose.RS256),
			Use:       "sig",
		}},
	), nil
}

// NewEphemeral returns a StaticSigner with a newly generated RSA key. Tokens
// it signs can't be verified after a restart.
func NewEphemeral(bits int) (*StaticSigner, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return NewStaticRSA(key)
}

// PublicKeys returns a keyset of all valid signer public keys considered
// valid for signed tokens
func (s *StaticSigner) PublicKeys(_ context.Context) (*jose.JSONWebKeySet, error) {
	return &jose.JSONWebKeySet{
		Keys: s.verificationKeys,
	}, nil
}

// SignerAlg returns the algorithm the signer uses
func (s *StaticSigner) SignerAlg(_ context.Context) (jose.SignatureAlgorithm, error) {
	return s.signingKey.Algorithm, nil
}

// Sign the provided data
func (s *StaticSigner) Sign(ctx context.Context, data []byte) (signed []byte, err error) {
	return sign(ctx, s.signingKey, data)
}

// VerifySignature verifies the signature given token against the current signers
func (s *StaticSigner) VerifySignature(ctx context.Context, jwt string) (payload []byte, err error) {
	return verifySignature(ctx, s.verificationKeys, jwt)
}

package signer

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/cryptosigner"
)

// CryptoSigner wraps a crypto.Signer, so keys held in an HSM or KMS can be
// used as well as in-memory ones.
type CryptoSigner struct {
	signer  jose.Signer
	pubKeys *jose.JSONWebKeySet
	keyID   string

	alg jose.SignatureAlgorithm
}

// NewFromCrypto returns a new Signer, that wraps a crypto.Signer for the actual
// signing/public key options. keyID is used to set the `kid`
// (https://tools.ietf.org/html/rfc7517#section-4.5) field for the returned JWK.
// If it is empty, the key's thumbprint is used.
func NewFromCrypto(signer crypto.Signer, keyID string) (*CryptoSigner, error) {
	alg, err := algForKey(signer.Public())
	if err != nil {
		return nil, err
	}

	if keyID == "" {
		kid, err := KeyID(signer.Public())
		if err != nil {
			return nil, err
		}
		keyID = kid
	}

	c := &CryptoSigner{
		keyID: keyID,
		alg:   alg,
	}

	s, err := jose.NewSigner(
		jose.SigningKey{
			Algorithm: c.alg,
			Key: &jose.JSONWebKey{
				Algorithm: string(c.alg),
				Key:       cryptosigner.Opaque(signer),
				KeyID:     keyID,
				Use:       "sig",
			},
		},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}
	c.signer = s

	c.pubKeys = &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key:       signer.Public(),
				KeyID:     keyID,
				Algorithm: string(c.alg),
				Use:       "sig",
			},
		},
	}

	return c, nil
}

// algForKey returns the JWS algorithm for pub. ECDSA keys must use the curve
// their algorithm names, or the signature is malformed.
func algForKey(pub crypto.PublicKey) (jose.SignatureAlgorithm, error) {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return jose.RS256, nil
	case *ecdsa.PublicKey:
		switch k.Curve.Params().BitSize {
		case 256:
			return jose.ES256, nil
		case 384:
			return jose.ES384, nil
		case 521:
			return jose.ES512, nil
		default:
			return "", fmt.Errorf("unsupported ECDSA curve %s", k.Curve.Params().Name)
		}
	default:
		return "", fmt.Errorf("unsupported key type: %T", pub)
	}
}

// ParsePrivateKeyPEM reads an RSA or ECDSA private key, in PKCS#1, SEC 1 or
// PKCS#8 form.
func ParsePrivateKeyPEM(b []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		s, ok := k.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("unsupported key type: %T", k)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q", block.Type)
	}
}

// PublicKeys returns the public key set this signer is valid for
func (c *CryptoSigner) PublicKeys(_ context.Context) (*jose.JSONWebKeySet, error) {
	return c.pubKeys, nil
}

// SignerAlg returns the algorithm this signer uses
func (c *CryptoSigner) SignerAlg(_ context.Context) (jose.SignatureAlgorithm, error) {
	return c.alg, nil
}

// Sign the provided data
func (c *CryptoSigner) Sign(_ context.Context, data []byte) (signed []byte, err error) {
	jws, err := c.signer.Sign(data)
	if err != nil {
		return nil, fmt.Errorf("failed to sign payload: %w", err)
	}

	ser, err := jws.CompactSerialize()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize payload: %w", err)
	}

	return []byte(ser), nil
}

// VerifySignature verifies the signature given token against the current signers
func (c *CryptoSigner) VerifySignature(ctx context.Context, jwt string) (payload []byte, err error) {
	return verifySignature(ctx, c.pubKeys.Keys, jwt)
}

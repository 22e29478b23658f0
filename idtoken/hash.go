package idtoken

import (
	"crypto"
	"encoding/base64"
	"fmt"

	// registers the hashes returned by hashForAlg
	_ "crypto/sha256"
	_ "crypto/sha512"

	"gopkg.in/square/go-jose.v2"
)

// AccessTokenHash computes the at_hash claim for an access token, for an ID
// token signed with alg.
func AccessTokenHash(alg jose.SignatureAlgorithm, accessToken string) (string, error) {
	h, err := hashForAlg(alg)
	if err != nil {
		return "", err
	}

	hh := h.New()
	_, _ = hh.Write([]byte(accessToken))
	sum := hh.Sum(nil)

	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2]), nil
}

func hashForAlg(alg jose.SignatureAlgorithm) (crypto.Hash, error) {
	switch alg {
	case jose.RS256, jose.ES256, jose.PS256, jose.HS256:
		return crypto.SHA256, nil
	case jose.RS384, jose.ES384, jose.PS384, jose.HS384:
		return crypto.SHA384, nil
	case jose.RS512, jose.ES512, jose.PS512, jose.HS512:
		return crypto.SHA512, nil
	default:
		return 0, fmt.Errorf("no hash for signing algorithm %s", alg)
	}
}

// Package issuer contains the token issuers the token endpoint is run with:
// random bearer access tokens, and ID tokens signed by a signer.Signer.
package issuer

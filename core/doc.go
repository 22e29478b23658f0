// Package core implements the token endpoint of the OAuth2 authorization code
// grant (https://tools.ietf.org/html/rfc6749#section-4.1.3), with the OpenID
// Connect extension of returning an ID token alongside the access token
// (https://openid.net/specs/openid-connect-core-1_0.html#TokenEndpoint).
//
// The authorization step that produces codes lives outside this package. It
// registers each code with an AuthorizationCodes store, which the
// TokenEndpoint later consumes exactly once. Minting of tokens is delegated to
// the AccessTokenIssuer and IDTokenIssuer implementations it is given.
package core

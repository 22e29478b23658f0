// Package authcode is the client side of the authorization code token
// endpoint. Fetcher redeems codes for tokens, and Transport presents the
// resulting access token to resource servers.
//
// The server side lives in the core package, and is run by cmd/authcoded.
package authcode

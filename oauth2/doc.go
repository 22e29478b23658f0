// Package oauth2 holds the wire-level types of the OAuth2 token endpoint,
// shared by the server and client sides.
package oauth2

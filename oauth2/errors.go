package oauth2

import "fmt"

// TokenErrorCode are the types of error that can be returned
type TokenErrorCode string

// https://tools.ietf.org/html/rfc6749#section-5.2
// nolint:unused
const (
	// TokenErrorCodeInvalidRequest: The request is missing a required
	// parameter, includes an unsupported parameter value (other than grant
	// type), repeats a parameter, includes multiple credentials, utilizes more
	// than one mechanism for authenticating the client, or is otherwise
	// malformed.
	TokenErrorCodeInvalidRequest TokenErrorCode = "invalid_request"
	// TokenErrorCodeInvalidClient: Client authentication failed (e.g., unknown
	// client, no client authentication included, or unsupported authentication
	// method). If the client attempted to authenticate via the "Authorization"
	// request header field, the authorization server MUST respond with an HTTP
	// 401 (Unauthorized) status code and include the "WWW-Authenticate"
	// response header field matching the authentication scheme used by the
	// client.
	TokenErrorCodeInvalidClient TokenErrorCode = "invalid_client"
	// TokenErrorCodeInvalidGrant: The provided authorization grant is invalid,
	// expired, revoked, does not match the redirection URI used in the
	// authorization request, or was issued to another client.
	TokenErrorCodeInvalidGrant TokenErrorCode = "invalid_grant"
	// TokenErrorCodeUnauthorizedClient: The authenticated client is not
	// authorized to use this authorization grant type.
	TokenErrorCodeUnauthorizedClient TokenErrorCode = "unauthorized_client"
	// TokenErrorCodeUnsupportedGrantType: The authorization grant type is not
	// supported by the authorization server.
	TokenErrorCodeUnsupportedGrantType TokenErrorCode = "unsupported_grant_type"
	// TokenErrorCodeInvalidScope: The requested scope is invalid, unknown,
	// malformed, or exceeds the scope granted by the resource owner.
	TokenErrorCodeInvalidScope TokenErrorCode = "invalid_scope"
	// TokenErrorCodeServerError: The authorization server encountered an
	// unexpected condition that prevented it from fulfilling the request.
	// Borrowed from the authorization endpoint's codes in section 4.1.2.1.
	TokenErrorCodeServerError TokenErrorCode = "server_error"
)

// TokenError is the body returned from the token endpoint when a request
// fails.
//
// https://tools.ietf.org/html/rfc6749#section-5.2
type TokenError struct {
	// ErrorCode indicates the type of error that occurred
	ErrorCode TokenErrorCode `json:"error"`
	// Description is human-readable ASCII text providing additional
	// information. It must never carry secrets or store internals.
	Description string `json:"error_description"`
	// ErrorURI identifies a human-readable page with information about the
	// error. It is always serialized, as JSON null when unset, because some
	// clients read the field unconditionally.
	ErrorURI *string `json:"error_uri"`
	// WWWAuthenticate is set when an invalid_client error is returned, and
	// that response indicates the authentication scheme to be used by the
	// client
	WWWAuthenticate string `json:"-"`
	// Cause wraps any upstream error that resulted in this error, if it should
	// be unwrappable
	Cause error `json:"-"`
}

// Error returns a string representing this error
func (t *TokenError) Error() string {
	str := fmt.Sprintf("%s error in token request: %s", t.ErrorCode, t.Description)
	if t.Cause != nil {
		str = fmt.Sprintf("%s (cause: %s)", str, t.Cause.Error())
	}
	return str
}

func (t *TokenError) Unwrap() error {
	return t.Cause
}

// URI returns the error_uri value, or an empty string if none was set.
func (t *TokenError) URI() string {
	if t.ErrorURI == nil {
		return ""
	}
	return *t.ErrorURI
}

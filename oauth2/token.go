package oauth2

// GrantType identifies the grant a token request is made under.
type GrantType string

const (
	// GrantTypeAuthorizationCode is the only grant the token endpoint serves.
	//
	// https://tools.ietf.org/html/rfc6749#section-4.1.3
	GrantTypeAuthorizationCode GrantType = "authorization_code"
)

// TokenResponse is the successful response body of the token endpoint.
// Optional members are left out of the JSON entirely when unset.
//
// https://tools.ietf.org/html/rfc6749#section-5.1
// https://openid.net/specs/openid-connect-core-1_0.html#TokenResponse
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	// ExpiresIn is the access token lifetime in seconds
	ExpiresIn int    `json:"expires_in,omitempty"`
	IDToken   string `json:"id_token,omitempty"`
}

package core

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ResponseType is the response_type the authorization request was made with.
type ResponseType string

const (
	// ResponseTypeCode is the plain authorization code flow.
	ResponseTypeCode ResponseType = "code"
	// ResponseTypeCodeIDToken requests an ID token in addition to the access
	// token when the code is redeemed.
	ResponseTypeCodeIDToken ResponseType = "code id_token"
)

// ParseResponseType parses a space separated response_type value. The order
// of the values is not significant.
//
// https://openid.net/specs/oauth-v2-multiple-response-types-1_0.html#ResponseTypesAndModes
func ParseResponseType(s string) (ResponseType, error) {
	parts := strings.Fields(s)
	sort.Strings(parts)
	switch strings.Join(parts, " ") {
	case "code":
		return ResponseTypeCode, nil
	case "code id_token":
		return ResponseTypeCodeIDToken, nil
	default:
		return "", fmt.Errorf("unsupported response_type %q", s)
	}
}

// RequestsIDToken returns true if an ID token should be issued for codes
// created with this response type.
func (r ResponseType) RequestsIDToken() bool {
	return r == ResponseTypeCodeIDToken
}

// AuthRequest is the authorization request a code was issued for. It is
// created by the authorization front-end, and only read here.
type AuthRequest struct {
	ClientID string `json:"client_id"`
	// Scopes are kept in the order they were requested
	Scopes      []string `json:"scopes,omitempty"`
	RedirectURI string   `json:"redirect_uri"`
	State       string   `json:"state,omitempty"`
	// Nonce is passed through unmodified into any ID token issued
	Nonce        string       `json:"nonce,omitempty"`
	ResponseType ResponseType `json:"response_type"`
	// Subject identifies the end-user that authorized the request
	Subject string `json:"subject,omitempty"`
}

func (a AuthRequest) clone() AuthRequest {
	if a.Scopes != nil {
		a.Scopes = append([]string(nil), a.Scopes...)
	}
	return a
}

// FrontChannelResponse describes the response that carried the code back to
// the user agent.
type FrontChannelResponse struct {
	Status   int    `json:"status"`
	Location string `json:"location,omitempty"`
}

// AuthorizationCode is a single-use credential, bound to the client and the
// redirect URI of the request it was issued for.
type AuthorizationCode struct {
	Value       string               `json:"value"`
	Request     AuthRequest          `json:"request"`
	Response    FrontChannelResponse `json:"response"`
	CreatedAt   time.Time            `json:"created_at"`
	RedirectURI string               `json:"redirect_uri"`
}

// Clone returns a deep copy, so callers never share state with a store.
func (a AuthorizationCode) Clone() AuthorizationCode {
	a.Request = a.Request.clone()
	return a
}

// Expired returns true if the code is at least validity old at now.
func (a AuthorizationCode) Expired(now time.Time, validity time.Duration) bool {
	return !now.Before(a.CreatedAt.Add(validity))
}

// CheckExpiry returns a CodeExpired error if the code has aged out. Stores
// call it after removing the code, so an expired code is destroyed too.
func CheckExpiry(code AuthorizationCode, now time.Time, validity time.Duration) error {
	if code.Expired(now, validity) {
		return &Error{
			Kind:   ErrorKindCodeExpired,
			Reason: fmt.Sprintf("code created at %s expired after %s", code.CreatedAt.UTC().Format(time.RFC3339), validity),
		}
	}
	return nil
}

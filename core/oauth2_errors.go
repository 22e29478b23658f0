package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/pardot/authcode/oauth2"
)

// error_description values. Grant errors all share one, so clients can't use
// it to learn whether a code exists.
const (
	descUnsupportedGrantType = "grant_type must be authorization_code"
	descInvalidClient        = "client authentication failed"
	descInvalidGrant         = "the authorization code is invalid, expired, already used, or was issued to another client or redirect URI"
	descServerError          = "internal server error"
)

// ErrorRenderer writes token endpoint errors to the client.
type ErrorRenderer struct {
	// DocumentationURI is sent as error_uri. If empty, error_uri is null.
	DocumentationURI string
}

// NewErrorRenderer returns an ErrorRenderer. documentationURI may be empty.
func NewErrorRenderer(documentationURI string) *ErrorRenderer {
	return &ErrorRenderer{DocumentationURI: documentationURI}
}

// TokenError converts a domain error into its wire representation.
func (r *ErrorRenderer) TokenError(err *Error) (status int, body *oauth2.TokenError) {
	body = &oauth2.TokenError{
		ErrorCode:       err.Kind.TokenErrorCode(),
		WWWAuthenticate: err.WWWAuthenticate,
		Cause:           err,
	}
	body.ErrorURI = r.errorURI()

	// https://tools.ietf.org/html/rfc6749#section-5.2
	switch body.ErrorCode {
	case oauth2.TokenErrorCodeInvalidClient:
		body.Description = descInvalidClient
		return http.StatusUnauthorized, body
	case oauth2.TokenErrorCodeUnsupportedGrantType:
		body.Description = descUnsupportedGrantType
	default:
		body.Description = descInvalidGrant
	}
	return http.StatusBadRequest, body
}

// Render handles the passed error appropriately. After calling this, the HTTP
// sequence should be considered complete.
//
// Errors of type *Error are written as a JSON token error. For anything else a
// 500 server_error is sent, without exposing details.
func (r *ErrorRenderer) Render(w http.ResponseWriter, err error) error {
	var (
		status int
		body   *oauth2.TokenError
		derr   *Error
	)
	if errors.As(err, &derr) {
		status, body = r.TokenError(derr)
	} else {
		status, body = http.StatusInternalServerError, &oauth2.TokenError{
			ErrorCode:   oauth2.TokenErrorCodeServerError,
			Description: descServerError,
			ErrorURI:    r.errorURI(),
		}
	}

	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	if status == http.StatusUnauthorized && body.WWWAuthenticate != "" {
		w.Header().Set("WWW-Authenticate", body.WWWAuthenticate)
	}
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		return fmt.Errorf("failed to write token error json body: %w", err)
	}
	return nil
}

func (r *ErrorRenderer) errorURI() *string {
	if r.DocumentationURI == "" {
		return nil
	}
	uri := r.DocumentationURI
	return &uri
}

package core

import (
	"fmt"

	"github.com/pardot/authcode/oauth2"
)

// ErrorKind classifies an Error. Everything from ErrorKindInvalidGrant on is a
// grant error, and is reported to the client as invalid_grant.
type ErrorKind int

const (
	ErrorKindUnsupportedGrantType ErrorKind = iota + 1
	ErrorKindInvalidClient
	ErrorKindInvalidGrant
	ErrorKindCodeNotFound
	ErrorKindCodeAlreadyUsed
	ErrorKindCodeExpired
	ErrorKindClientMismatch
	ErrorKindRedirectURIMismatch
)

var errorKindNames = map[ErrorKind]string{
	ErrorKindUnsupportedGrantType: "unsupported_grant_type",
	ErrorKindInvalidClient:        "invalid_client",
	ErrorKindInvalidGrant:         "invalid_grant",
	ErrorKindCodeNotFound:         "code_not_found",
	ErrorKindCodeAlreadyUsed:      "code_already_used",
	ErrorKindCodeExpired:          "code_expired",
	ErrorKindClientMismatch:       "client_mismatch",
	ErrorKindRedirectURIMismatch:  "redirect_uri_mismatch",
}

func (k ErrorKind) String() string {
	if n, ok := errorKindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("error_kind_%d", int(k))
}

// IsGrantError returns true for the kinds that collapse to invalid_grant.
func (k ErrorKind) IsGrantError() bool {
	return k >= ErrorKindInvalidGrant
}

// TokenErrorCode is the RFC 6749 error code this kind is reported as.
func (k ErrorKind) TokenErrorCode() oauth2.TokenErrorCode {
	switch {
	case k == ErrorKindUnsupportedGrantType:
		return oauth2.TokenErrorCodeUnsupportedGrantType
	case k == ErrorKindInvalidClient:
		return oauth2.TokenErrorCodeInvalidClient
	default:
		return oauth2.TokenErrorCodeInvalidGrant
	}
}

// Error is a failure of a token request that is the client's to correct. Its
// Kind and Reason are for logging, only the Kind's TokenErrorCode reaches the
// client.
type Error struct {
	Kind ErrorKind
	// Reason is an internal description. It must not contain secrets.
	Reason string
	// WWWAuthenticate is sent as the WWW-Authenticate header with
	// invalid_client responses, when set.
	WWWAuthenticate string
	Cause           error
}

func (e *Error) Error() string {
	str := e.Kind.String()
	if e.Reason != "" {
		str = fmt.Sprintf("%s: %s", str, e.Reason)
	}
	if e.Cause != nil {
		str = fmt.Sprintf("%s (cause: %s)", str, e.Cause.Error())
	}
	return str
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors of the same kind. ErrInvalidGrant matches every grant
// error kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == ErrorKindInvalidGrant {
		return e.Kind.IsGrantError()
	}
	return t.Kind == e.Kind
}

// Sentinels for use with errors.Is
var (
	ErrUnsupportedGrantType = &Error{Kind: ErrorKindUnsupportedGrantType}
	ErrInvalidClient        = &Error{Kind: ErrorKindInvalidClient}
	ErrInvalidGrant         = &Error{Kind: ErrorKindInvalidGrant}
	ErrCodeNotFound         = &Error{Kind: ErrorKindCodeNotFound}
	ErrCodeAlreadyUsed      = &Error{Kind: ErrorKindCodeAlreadyUsed}
	ErrCodeExpired          = &Error{Kind: ErrorKindCodeExpired}
	ErrClientMismatch       = &Error{Kind: ErrorKindClientMismatch}
	ErrRedirectURIMismatch  = &Error{Kind: ErrorKindRedirectURIMismatch}
)

// NewError returns an Error of the given kind.
func NewError(kind ErrorKind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

package core

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ClientRegistration is a registered OAuth2 client.
type ClientRegistration struct {
	ID string `json:"id"`
	// Secret is either the plain secret, or a bcrypt hash of it.
	Secret string `json:"secret"`
	// RedirectURIs the client may have codes issued to. They are compared
	// exactly.
	RedirectURIs []string `json:"redirectURIs"`
	Name         string   `json:"name,omitempty"`
}

// AllowsRedirectURI returns true if uri is one of the client's registered
// redirect URIs.
func (c *ClientRegistration) AllowsRedirectURI(uri string) bool {
	for _, r := range c.RedirectURIs {
		if r == uri {
			return true
		}
	}
	return false
}

// ClientSource can be queried to get information about an oauth2 client.
type ClientSource interface {
	// GetClient returns the registration for the given client ID. If the
	// client is not found but no other error occurred, an error implementing
	// ErrNoSuchClient should be returned.
	GetClient(ctx context.Context, id string) (*ClientRegistration, error)
}

// ErrNoSuchClient indicates that the requested client does not exist
type ErrNoSuchClient interface {
	NoSuchClient()
}

// IsNoSuchClientErr checks to see if the passed error is because the client was
// not found, as opposed to an actual error state.
func IsNoSuchClientErr(err error) bool {
	var nsc ErrNoSuchClient
	return errors.As(err, &nsc)
}

type noSuchClientError string

func (e noSuchClientError) Error() string {
	return string(e)
}

func (e noSuchClientError) NoSuchClient() {}

// StaticClientSource is a ClientSource backed by a static map of clients.
type StaticClientSource map[string]*ClientRegistration

// NewStaticClientSource creates a StaticClientSource from a list of clients.
func NewStaticClientSource(clients []*ClientRegistration) StaticClientSource {
	m := make(map[string]*ClientRegistration)
	for _, c := range clients {
		m[c.ID] = c
	}

	return StaticClientSource(m)
}

func (s StaticClientSource) GetClient(_ context.Context, id string) (*ClientRegistration, error) {
	client, ok := s[id]
	if !ok {
		return nil, noSuchClientError(fmt.Sprintf("client %q does not exist", id))
	}

	return client, nil
}

// ClientValidator authenticates the client making a token request.
type ClientValidator interface {
	// Validate returns an error matching ErrInvalidClient if the credentials
	// are not those of a registered client. The redirect URI is the one
	// presented with the request; checking it against the code is not the
	// validator's job.
	Validate(ctx context.Context, clientID, clientSecret, redirectURI string) error
}

// SourceClientValidator validates client credentials against a ClientSource.
type SourceClientValidator struct {
	clients ClientSource
}

var _ ClientValidator = (*SourceClientValidator)(nil)

// NewClientValidator returns a ClientValidator that looks clients up in the
// given source.
func NewClientValidator(clients ClientSource) *SourceClientValidator {
	return &SourceClientValidator{clients: clients}
}

func (v *SourceClientValidator) Validate(ctx context.Context, clientID, clientSecret, _ string) error {
	if clientID == "" {
		return &Error{Kind: ErrorKindInvalidClient, Reason: "no client_id presented"}
	}

	cl, err := v.clients.GetClient(ctx, clientID)
	if err != nil {
		if IsNoSuchClientErr(err) {
			return &Error{Kind: ErrorKindInvalidClient, Reason: "unknown client", Cause: err}
		}
		return fmt.Errorf("looking up client %q: %w", clientID, err)
	}

	if !SecretMatches(cl.Secret, clientSecret) {
		return &Error{Kind: ErrorKindInvalidClient, Reason: "client secret does not match"}
	}

	return nil
}

// SecretMatches compares a presented secret with a stored one, which may be a
// bcrypt hash. Plain secrets are compared in constant time.
func SecretMatches(stored, presented string) bool {
	if stored == "" {
		// public clients can't use this endpoint
		return false
	}
	if isBcryptHash(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(presented)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}

func isBcryptHash(s string) bool {
	if _, err := bcrypt.Cost([]byte(s)); err != nil {
		return false
	}
	return strings.HasPrefix(s, "$2")
}

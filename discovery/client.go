package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"gopkg.in/square/go-jose.v2"
)

// WellKnownPath is where the provider metadata is served, relative to the
// issuer.
const WellKnownPath = "/.well-known/openid-configuration"

// Client can be used to fetch the provider metadata for a given issuer, and can
// also return the signing keys on demand.
//
// It should be created via `NewClient` to ensure it is initialized correctly.
type Client struct {
	md *ProviderMetadata

	hc *http.Client

	jwks   jose.JSONWebKeySet
	jwksMu sync.Mutex
}

// ClientOpt is an option that can configure a client
type ClientOpt func(c *Client)

// WithHTTPClient will set a http.Client for the initial discovery, and key
// fetching. If not set, http.DefaultClient will be used.
func WithHTTPClient(hc *http.Client) func(c *Client) {
	return func(c *Client) {
		c.hc = hc
	}
}

// NewClient will initialize a Client, performing the initial discovery.
func NewClient(ctx context.Context, issuer string, opts ...ClientOpt) (*Client, error) {
	c := &Client{
		md: &ProviderMetadata{},
		hc: http.DefaultClient,
	}

	for _, o := range opts {
		o(c)
	}

	if err := c.getJSON(ctx, issuer+WellKnownPath, c.md); err != nil {
		return nil, fmt.Errorf("error fetching provider metadata: %w", err)
	}

	return c, nil
}

// Metadata returns the ProviderMetadata that was retrieved when the client was
// instantiated
func (c *Client) Metadata() *ProviderMetadata {
	return c.md
}

// GetPublicKeys will fetch and return the JWKS endpoint for this metadata. each
// request will perform a new HTTP request to the endpoint.
func (c *Client) GetPublicKeys(ctx context.Context) ([]jose.JSONWebKey, error) {
	if c.md.JWKSURI == "" {
		return nil, fmt.Errorf("metadata has no JWKS endpoint, cannot fetch keys")
	}

	ks := &jose.JSONWebKeySet{}
	if err := c.getJSON(ctx, c.md.JWKSURI, ks); err != nil {
		return nil, fmt.Errorf("failed to get keys: %w", err)
	}

	return ks.Keys, nil
}

// GetPublicKey will return the key for the given kid. If the key has already
// been fetched, no network request will be made - the cached version will be
// returned. Otherwise, a call to the keys endpoint will be made.
func (c *Client) GetPublicKey(ctx context.Context, kid string) (*jose.JSONWebKey, error) {
	c.jwksMu.Lock()
	defer c.jwksMu.Unlock()

	if k := c.jwks.Key(kid); len(k) > 0 {
		return &k[0], nil
	}

	keys, err := c.GetPublicKeys(ctx)
	if err != nil {
		return nil, err
	}

	c.jwks = jose.JSONWebKeySet{
		Keys: keys,
	}

	// try again, with the fresh set
	if k := c.jwks.Key(kid); len(k) > 0 {
		return &k[0], nil
	}

	return nil, fmt.Errorf("key %s not found", kid)
}

// VerifySignature checks the JWS was signed by one of the provider's keys, and
// returns its payload.
func (c *Client) VerifySignature(ctx context.Context, jwt string) ([]byte, error) {
	jws, err := jose.ParseSigned(jwt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWT: %w", err)
	}
	if len(jws.Signatures) != 1 {
		return nil, fmt.Errorf("want 1 signature, got %d", len(jws.Signatures))
	}

	key, err := c.GetPublicKey(ctx, jws.Signatures[0].Header.KeyID)
	if err != nil {
		return nil, err
	}

	return jws.Verify(key)
}

func (c *Client) getJSON(ctx context.Context, url string, into interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("error fetching %s: %w", url, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching %s returned status %d", url, res.StatusCode)
	}

	if err := json.NewDecoder(res.Body).Decode(into); err != nil {
		return fmt.Errorf("error decoding %s response: %w", url, err)
	}
	return nil
}

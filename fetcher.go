package authcode

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pardot/authcode/discovery"
	"golang.org/x/oauth2"
)

// AccessTokenContainer holds what the token endpoint returned for a code.
type AccessTokenContainer struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type,omitempty"`
	Expiry      time.Time `json:"expiry,omitempty"`
	// IDToken is only set if the code was issued for a request that asked
	// for one.
	IDToken string `json:"id_token,omitempty"`
}

// Type of the token, defaulting to Bearer.
func (a *AccessTokenContainer) Type() string {
	if a.TokenType == "" {
		return "Bearer"
	}
	return a.TokenType
}

// Fetcher redeems authorization codes at a token endpoint.
type Fetcher struct {
	o2cfg oauth2.Config
	hc    *http.Client
}

// FetcherOpt can be used to customize the Fetcher
// nolint:golint
type FetcherOpt func(*Fetcher)

// WithHTTPClient sets the client token requests are made with.
func WithHTTPClient(hc *http.Client) FetcherOpt {
	return func(f *Fetcher) {
		f.hc = hc
	}
}

// NewFetcher returns a Fetcher for the token endpoint at tokenURL. The client
// credentials are sent in the form body, alongside the redirect URL the codes
// were issued to.
func NewFetcher(tokenURL, clientID, clientSecret, redirectURL string, opts ...FetcherOpt) *Fetcher {
	f := &Fetcher{
		o2cfg: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			RedirectURL: redirectURL,
		},
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// DiscoverFetcher looks up the token endpoint from the issuer's provider
// metadata.
func DiscoverFetcher(ctx context.Context, issuer, clientID, clientSecret, redirectURL string, opts ...FetcherOpt) (*Fetcher, error) {
	f := NewFetcher("", clientID, clientSecret, redirectURL, opts...)

	var dopts []discovery.ClientOpt
	if f.hc != nil {
		dopts = append(dopts, discovery.WithHTTPClient(f.hc))
	}
	cl, err := discovery.NewClient(ctx, issuer, dopts...)
	if err != nil {
		return nil, fmt.Errorf("creating discovery client: %w", err)
	}
	f.o2cfg.Endpoint.TokenURL = cl.Metadata().TokenEndpoint

	return f, nil
}

// Fetch exchanges code for tokens. If the endpoint rejects the request with
// a well formed error, an *oauth2.TokenError from this module's oauth2
// package is returned. Other HTTP failures are returned as *HTTPError.
func (f *Fetcher) Fetch(ctx context.Context, code string) (*AccessTokenContainer, error) {
	if f.hc != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, f.hc)
	}

	t, err := f.o2cfg.Exchange(ctx, code)
	if err != nil {
		return nil, parseExchangeError(err)
	}

	atc := &AccessTokenContainer{
		AccessToken: t.AccessToken,
		TokenType:   t.TokenType,
		Expiry:      t.Expiry,
	}
	if raw, ok := t.Extra("id_token").(string); ok {
		atc.IDToken = raw
	}
	return atc, nil
}

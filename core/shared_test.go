package core

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"
)

// contains helpers used by multiple tests

type settableClock struct {
	mu  sync.Mutex
	now time.Time
}

func newSettableClock() *settableClock {
	return &settableClock{now: time.Unix(0, 0).UTC()}
}

func (c *settableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *settableClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// hardcodedClientValidator accepts exactly one client
type hardcodedClientValidator struct {
	clientID string
	secret   string
}

func (h *hardcodedClientValidator) Validate(_ context.Context, clientID, clientSecret, _ string) error {
	if clientID != h.clientID || clientSecret != h.secret {
		return &Error{Kind: ErrorKindInvalidClient, Reason: "hardcoded client mismatch"}
	}
	return nil
}

type dummyAccessTokens struct{}

func (dummyAccessTokens) Issue(context.Context, AuthRequest) (AccessToken, error) {
	return AccessToken{Value: "dummy-access-token"}, nil
}

type dummyIDTokens struct{}

func (dummyIDTokens) Issue(_ context.Context, _ AuthRequest, at AccessToken) (*IDToken, error) {
	return &IDToken{Value: "dummy-id-token-for-" + strings.TrimPrefix(at.Value, "dummy-")}, nil
}

type erroringAccessTokens struct {
	err error
}

func (e erroringAccessTokens) Issue(context.Context, AuthRequest) (AccessToken, error) {
	return AccessToken{}, e.err
}

func tokenReq(form map[string]string) *http.Request {
	f := url.Values{}
	for k, v := range form {
		f[k] = []string{v}
	}

	req := httptest.NewRequest("POST", "/token", strings.NewReader(f.Encode()))
	req.Header.Add("content-type", "application/x-www-form-urlencoded")
	return req
}

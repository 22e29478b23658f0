package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/pardot/authcode/oauth2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

type tokenRequest struct {
	GrantType    oauth2.GrantType
	Code         string
	RedirectURI  string
	ClientID     string
	ClientSecret string
	// BasicAuth is set when the credentials came in the Authorization header
	BasicAuth bool
}

// parseTokenRequest parses the information from a request for an access token.
// A body that can't be parsed is reported as an unsupported grant type, as
// the grant_type can't be read from it.
//
// https://tools.ietf.org/html/rfc6749#section-4.1.3
func parseTokenRequest(req *http.Request) (*tokenRequest, error) {
	if err := req.ParseForm(); err != nil {
		return nil, &Error{Kind: ErrorKindUnsupportedGrantType, Reason: "request body could not be parsed", Cause: err}
	}

	if gt := req.PostForm.Get("grant_type"); gt != string(oauth2.GrantTypeAuthorizationCode) {
		return nil, &Error{Kind: ErrorKindUnsupportedGrantType, Reason: fmt.Sprintf("grant_type %q is not supported", gt)}
	}

	tr := &tokenRequest{
		GrantType:   oauth2.GrantTypeAuthorizationCode,
		Code:        req.PostForm.Get("code"),
		RedirectURI: req.PostForm.Get("redirect_uri"),
	}

	// https://tools.ietf.org/html/rfc6749#section-2.3.1
	cid, cs, isBasic := req.BasicAuth()
	if isBasic {
		var err error
		tr.BasicAuth = true
		if tr.ClientID, err = url.QueryUnescape(cid); err != nil {
			return nil, &Error{Kind: ErrorKindInvalidClient, Reason: "client_id in basic auth is not form-encoded", Cause: err, WWWAuthenticate: "Basic"}
		}
		if tr.ClientSecret, err = url.QueryUnescape(cs); err != nil {
			return nil, &Error{Kind: ErrorKindInvalidClient, Reason: "client_secret in basic auth is not form-encoded", Cause: err, WWWAuthenticate: "Basic"}
		}
	} else {
		tr.ClientID = req.PostForm.Get("client_id")
		tr.ClientSecret = req.PostForm.Get("client_secret")
	}

	return tr, nil
}

// writeTokenResponse sends a response for the token endpoint.
//
// https://tools.ietf.org/html/rfc6749#section-5.1
func writeTokenResponse(w http.ResponseWriter, resp *oauth2.TokenResponse) error {
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		return fmt.Errorf("failed to write token response json body: %w", err)
	}

	return nil
}

// TokenEndpoint serves the token endpoint for the authorization code grant.
// It is safe for concurrent use, as long as its collaborators are.
type TokenEndpoint struct {
	clients      ClientValidator
	codes        AuthorizationCodes
	accessTokens AccessTokenIssuer
	idTokens     IDTokenIssuer
	errors       *ErrorRenderer

	logger   logrus.FieldLogger
	requests *prometheus.CounterVec
}

// TokenEndpointOpt can be used to customize the TokenEndpoint
// nolint:golint
type TokenEndpointOpt func(*TokenEndpoint)

// WithLogger sets the logger request outcomes are logged to.
func WithLogger(l logrus.FieldLogger) TokenEndpointOpt {
	return func(t *TokenEndpoint) {
		t.logger = l
	}
}

// WithRegisterer registers the endpoint's metrics with r.
func WithRegisterer(r prometheus.Registerer) TokenEndpointOpt {
	return func(t *TokenEndpoint) {
		if err := r.Register(t.requests); err != nil {
			are := prometheus.AlreadyRegisteredError{}
			if errors.As(err, &are) {
				t.requests = are.ExistingCollector.(*prometheus.CounterVec)
				return
			}
			t.logger.WithError(err).Warn("failed to register token endpoint metrics")
		}
	}
}

// NewTokenEndpoint returns a TokenEndpoint. idTokens may be nil, in which case
// no ID tokens are issued.
func NewTokenEndpoint(clients ClientValidator, codes AuthorizationCodes, accessTokens AccessTokenIssuer, idTokens IDTokenIssuer, renderer *ErrorRenderer, opts ...TokenEndpointOpt) *TokenEndpoint {
	if renderer == nil {
		renderer = NewErrorRenderer("")
	}
	discard := logrus.New()
	discard.Out = io.Discard

	t := &TokenEndpoint{
		clients:      clients,
		codes:        codes,
		accessTokens: accessTokens,
		idTokens:     idTokens,
		errors:       renderer,
		logger:       discard,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcode_token_requests_total",
			Help: "Count of token requests, by outcome.",
		}, []string{"result", "reason"}),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *TokenEndpoint) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	resp, err := t.exchange(req)
	if err != nil {
		t.logFailure(req, err)
		if rerr := t.errors.Render(w, err); rerr != nil {
			t.logger.WithError(rerr).Error("failed to write token error response")
		}
		return
	}

	t.requests.WithLabelValues("success", "").Inc()

	if err := writeTokenResponse(w, resp); err != nil {
		t.logger.WithError(err).Error("failed to write token response")
	}
}

// exchange runs a token request through to the tokens to return. The order of
// the checks matters: the client is authenticated before the code is touched,
// so unauthenticated callers can't burn codes. The code is consumed before its
// binding is checked, so a mismatched attempt still destroys it.
func (t *TokenEndpoint) exchange(req *http.Request) (*oauth2.TokenResponse, error) {
	ctx := req.Context()

	treq, err := parseTokenRequest(req)
	if err != nil {
		return nil, err
	}

	if err := t.clients.Validate(ctx, treq.ClientID, treq.ClientSecret, treq.RedirectURI); err != nil {
		var derr *Error
		if errors.As(err, &derr) && derr.Kind == ErrorKindInvalidClient && treq.BasicAuth && derr.WWWAuthenticate == "" {
			challenged := *derr
			challenged.WWWAuthenticate = "Basic"
			return nil, &challenged
		}
		return nil, err
	}

	code, err := t.codes.Consume(ctx, treq.Code)
	if err != nil {
		return nil, err
	}

	if code.Request.ClientID != treq.ClientID {
		return nil, &Error{Kind: ErrorKindClientMismatch, Reason: fmt.Sprintf("code was issued to client %q", code.Request.ClientID)}
	}
	if code.RedirectURI != treq.RedirectURI {
		return nil, &Error{Kind: ErrorKindRedirectURIMismatch, Reason: fmt.Sprintf("code was issued for redirect_uri %q, got %q", code.RedirectURI, treq.RedirectURI)}
	}

	return t.issue(ctx, code)
}

func (t *TokenEndpoint) issue(ctx context.Context, code AuthorizationCode) (*oauth2.TokenResponse, error) {
	at, err := t.accessTokens.Issue(ctx, code.Request)
	if err != nil {
		return nil, asGrantError(err, "issuing access token")
	}

	resp := &oauth2.TokenResponse{
		AccessToken: at.Value,
		TokenType:   at.TokenType,
		ExpiresIn:   int(at.ExpiresIn.Seconds()),
	}

	if code.Request.ResponseType.RequestsIDToken() && t.idTokens != nil {
		idt, err := t.idTokens.Issue(ctx, code.Request, at)
		if err != nil {
			return nil, asGrantError(err, "issuing id token")
		}
		if idt != nil {
			resp.IDToken = idt.Value
		}
	}

	return resp, nil
}

// asGrantError folds domain errors from token issuers into grant errors, as
// whatever they detected is a problem with the code being redeemed. Other
// errors are passed on, and end up as server errors.
func asGrantError(err error, during string) error {
	var derr *Error
	if !errors.As(err, &derr) {
		return fmt.Errorf("%s: %w", during, err)
	}
	if derr.Kind.IsGrantError() {
		return derr
	}
	return &Error{Kind: ErrorKindInvalidGrant, Reason: fmt.Sprintf("%s: %s", during, derr.Kind), Cause: derr}
}

func (t *TokenEndpoint) logFailure(req *http.Request, err error) {
	l := t.logger.WithField("remote_addr", req.RemoteAddr)

	var derr *Error
	if !errors.As(err, &derr) {
		t.requests.WithLabelValues("server_error", "").Inc()
		l.WithError(err).Error("token request failed")
		return
	}

	t.requests.WithLabelValues(string(derr.Kind.TokenErrorCode()), derr.Kind.String()).Inc()
	l.WithFields(logrus.Fields{
		"error":  derr.Kind.TokenErrorCode(),
		"reason": derr.Kind.String(),
	}).Info(derr.Error())
}

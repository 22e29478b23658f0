package server

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pardot/authcode/core"
	"github.com/pardot/authcode/idtoken"
	"github.com/pardot/authcode/signer"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/square/go-jose.v2"
)

const (
	testIssuer = "https://auth.example.com/oauth"
	testAPIKey = "frontend-key"
)

var testClient = &core.ClientRegistration{
	ID:           "app",
	Secret:       "app-secret",
	RedirectURIs: []string{"https://app.example.com/callback"},
}

type testServer struct {
	*Server
	signer signer.Signer
	codes  *core.MemoryAuthorizationCodes
}

func newTestServer(t *testing.T, modify func(c *Config)) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sig, err := signer.NewEphemeral(2048)
	if err != nil {
		t.Fatal(err)
	}
	codes := core.NewMemoryAuthorizationCodes(time.Minute, nil)

	c := Config{
		Issuer:             testIssuer,
		Codes:              codes,
		Clients:            core.NewStaticClientSource([]*core.ClientRegistration{testClient}),
		Signer:             sig,
		APIKeys:            []string{testAPIKey},
		PrometheusRegistry: prometheus.NewRegistry(),
	}
	if modify != nil {
		modify(&c)
	}

	s, err := NewServer(ctx, c)
	if err != nil {
		t.Fatal(err)
	}
	return &testServer{Server: s, signer: sig, codes: codes}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) createCode(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/oauth/codes", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(APIKeyHeader, testAPIKey)
	return s.do(req)
}

func TestNewServerRequiresDependencies(t *testing.T) {
	sig, err := signer.NewEphemeral(2048)
	if err != nil {
		t.Fatal(err)
	}
	codes := core.NewMemoryAuthorizationCodes(0, nil)
	clients := core.NewStaticClientSource(nil)

	for name, c := range map[string]Config{
		"no codes":   {Issuer: testIssuer, Clients: clients, Signer: sig},
		"no clients": {Issuer: testIssuer, Codes: codes, Signer: sig},
		"no signer":  {Issuer: testIssuer, Codes: codes, Clients: clients},
	} {
		if _, err := NewServer(context.Background(), c); err == nil {
			t.Errorf("%s: want error", name)
		}
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/oauth/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("want 200, got %d", rec.Code)
	}
}

func TestDiscovery(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/oauth/.well-known/openid-configuration", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}

	var md struct {
		Issuer        string   `json:"issuer"`
		TokenEndpoint string   `json:"token_endpoint"`
		JWKSURI       string   `json:"jwks_uri"`
		GrantTypes    []string `json:"grant_types_supported"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&md); err != nil {
		t.Fatal(err)
	}
	if md.Issuer != testIssuer {
		t.Errorf("want issuer %s, got %s", testIssuer, md.Issuer)
	}
	if md.TokenEndpoint != testIssuer+"/token" {
		t.Errorf("unexpected token endpoint %s", md.TokenEndpoint)
	}
	if md.JWKSURI != testIssuer+"/keys" {
		t.Errorf("unexpected jwks uri %s", md.JWKSURI)
	}
	if diff := cmp.Diff([]string{"authorization_code"}, md.GrantTypes); diff != "" {
		t.Error(diff)
	}
}

func TestDiscoveryMatchesSigner(t *testing.T) {
	ctx := context.Background()

	ecKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	ecSigner, err := signer.NewFromCrypto(ecKey, "")
	if err != nil {
		t.Fatal(err)
	}

	s := newTestServer(t, func(c *Config) {
		c.Signer = ecSigner
		c.DocumentationURI = "https://docs.example.com/errors"
	})

	rec := s.do(httptest.NewRequest(http.MethodGet, "/oauth/.well-known/openid-configuration", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	var md struct {
		Algs                 []string `json:"id_token_signing_alg_values_supported"`
		ServiceDocumentation string   `json:"service_documentation"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&md); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"ES384"}, md.Algs); diff != "" {
		t.Errorf("advertised algorithms differ from the signer's: %s", diff)
	}
	if md.ServiceDocumentation != "https://docs.example.com/errors" {
		t.Errorf("want service documentation, got %q", md.ServiceDocumentation)
	}

	rec = s.createCode(t, `{"request":{"client_id":"app","redirect_uri":"https://app.example.com/callback","response_type":"code id_token","subject":"user-1"}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("want 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created createCodeResponse
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {created.Code},
		"redirect_uri":  {"https://app.example.com/callback"},
		"client_id":     {"app"},
		"client_secret": {"app-secret"},
	}
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = s.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var tok struct {
		IDToken string `json:"id_token"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&tok); err != nil {
		t.Fatal(err)
	}

	jws, err := jose.ParseSigned(tok.IDToken)
	if err != nil {
		t.Fatal(err)
	}
	if got := jws.Signatures[0].Header.Algorithm; got != "ES384" {
		t.Errorf("want id token signed ES384, got %s", got)
	}
	if _, err := ecSigner.VerifySignature(ctx, tok.IDToken); err != nil {
		t.Errorf("id token does not verify: %v", err)
	}
}

func TestCreateCode(t *testing.T) {
	s := newTestServer(t, nil)

	for _, tc := range []struct {
		Name       string
		APIKey     string
		Body       string
		WantStatus int
	}{
		{
			Name:       "Valid request",
			APIKey:     testAPIKey,
			Body:       `{"request":{"client_id":"app","redirect_uri":"https://app.example.com/callback","response_type":"code"}}`,
			WantStatus: http.StatusCreated,
		},
		{
			Name:       "Response type defaults to code",
			APIKey:     testAPIKey,
			Body:       `{"request":{"client_id":"app","redirect_uri":"https://app.example.com/callback"}}`,
			WantStatus: http.StatusCreated,
		},
		{
			Name:       "Missing API key",
			Body:       `{"request":{"client_id":"app","redirect_uri":"https://app.example.com/callback"}}`,
			WantStatus: http.StatusUnauthorized,
		},
		{
			Name:       "Wrong API key",
			APIKey:     "other-key",
			Body:       `{"request":{"client_id":"app","redirect_uri":"https://app.example.com/callback"}}`,
			WantStatus: http.StatusUnauthorized,
		},
		{
			Name:       "Unknown client",
			APIKey:     testAPIKey,
			Body:       `{"request":{"client_id":"other","redirect_uri":"https://app.example.com/callback"}}`,
			WantStatus: http.StatusBadRequest,
		},
		{
			Name:       "Unregistered redirect URI",
			APIKey:     testAPIKey,
			Body:       `{"request":{"client_id":"app","redirect_uri":"https://evil.example.com/callback"}}`,
			WantStatus: http.StatusBadRequest,
		},
		{
			Name:       "ID token without subject",
			APIKey:     testAPIKey,
			Body:       `{"request":{"client_id":"app","redirect_uri":"https://app.example.com/callback","response_type":"code id_token"}}`,
			WantStatus: http.StatusBadRequest,
		},
		{
			Name:       "Unsupported response type",
			APIKey:     testAPIKey,
			Body:       `{"request":{"client_id":"app","redirect_uri":"https://app.example.com/callback","response_type":"token"}}`,
			WantStatus: http.StatusBadRequest,
		},
		{
			Name:       "Malformed body",
			APIKey:     testAPIKey,
			Body:       `{"request":`,
			WantStatus: http.StatusBadRequest,
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/oauth/codes", strings.NewReader(tc.Body))
			if tc.APIKey != "" {
				req.Header.Set(APIKeyHeader, tc.APIKey)
			}
			rec := s.do(req)
			if rec.Code != tc.WantStatus {
				t.Fatalf("want status %d, got %d: %s", tc.WantStatus, rec.Code, rec.Body.String())
			}
			if tc.WantStatus != http.StatusCreated {
				return
			}
			var resp createCodeResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if resp.Code == "" {
				t.Error("want a code in the response")
			}
		})
	}
}

func TestCodesNotServedWithoutAPIKeys(t *testing.T) {
	s := newTestServer(t, func(c *Config) { c.APIKeys = nil })

	rec := s.createCode(t, `{"request":{"client_id":"app","redirect_uri":"https://app.example.com/callback"}}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("want 404, got %d", rec.Code)
	}
}

func TestCodeRedemption(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.createCode(t, `{"request":{"client_id":"app","redirect_uri":"https://app.example.com/callback","response_type":"code id_token","subject":"user-1","nonce":"n-0S6"}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("want 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created createCodeResponse
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}

	redeem := func() *httptest.ResponseRecorder {
		form := url.Values{
			"grant_type":    {"authorization_code"},
			"code":          {created.Code},
			"redirect_uri":  {"https://app.example.com/callback"},
			"client_id":     {"app"},
			"client_secret": {"app-secret"},
		}
		req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return s.do(req)
	}

	rec = redeem()
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var tok struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
		IDToken     string `json:"id_token"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&tok); err != nil {
		t.Fatal(err)
	}
	if tok.AccessToken == "" || tok.TokenType != "Bearer" || tok.ExpiresIn != 3600 {
		t.Errorf("unexpected token response %#v", tok)
	}

	payload, err := s.signer.VerifySignature(context.Background(), tok.IDToken)
	if err != nil {
		t.Fatalf("id token does not verify: %v", err)
	}
	var claims idtoken.Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		t.Fatal(err)
	}
	if claims.Issuer != testIssuer || claims.Subject != "user-1" || claims.Nonce != "n-0S6" || !claims.Audience.Contains("app") {
		t.Errorf("unexpected claims %#v", claims)
	}
	wantHash, err := idtoken.AccessTokenHash("RS256", tok.AccessToken)
	if err != nil {
		t.Fatal(err)
	}
	if claims.AccessTokenHash != wantHash {
		t.Errorf("want at_hash %s, got %s", wantHash, claims.AccessTokenHash)
	}

	rec = redeem()
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), `"invalid_grant"`) {
		t.Errorf("want second redemption to be invalid_grant, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestTokenMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/oauth/token", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("want 405, got %d", rec.Code)
	}
}

func TestKeys(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/oauth/keys", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	var ks struct {
		Keys []map[string]interface{} `json:"keys"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&ks); err != nil {
		t.Fatal(err)
	}
	if len(ks.Keys) != 1 {
		t.Errorf("want 1 key, got %d", len(ks.Keys))
	}
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, func(c *Config) { c.AllowedOrigins = []string{"https://app.example.com"} })

	req := httptest.NewRequest(http.MethodGet, "/oauth/.well-known/openid-configuration", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := s.do(req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("want allowed origin header, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/oauth/.well-known/openid-configuration", nil)
	req.Header.Set("Origin", "https://other.example.com")
	rec = s.do(req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("want no allowed origin header, got %q", got)
	}
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t, func(c *Config) {
		c.MetricsUsername = "prom"
		c.MetricsPassword = "scrape"
	})

	// generate a token request outcome to report
	s.do(httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader("grant_type=password")))

	rec := s.do(httptest.NewRequest(http.MethodGet, "/oauth/metrics", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("want 401 without credentials, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/oauth/metrics", nil)
	req.SetBasicAuth("prom", "scrape")
	rec = s.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	for _, want := range []string{"authcode_token_requests_total", "http_requests_total"} {
		if !strings.Contains(rec.Body.String(), want) {
			t.Errorf("want metric %s to be exported", want)
		}
	}
}

type observedCodes struct {
	*core.MemoryAuthorizationCodes
	collected chan time.Time
}

func (o *observedCodes) GarbageCollect(ctx context.Context, now time.Time) (int, error) {
	n, err := o.MemoryAuthorizationCodes.GarbageCollect(ctx, now)
	select {
	case o.collected <- now:
	default:
	}
	return n, err
}

func TestGarbageCollection(t *testing.T) {
	later := time.Now().Add(time.Hour)
	codes := &observedCodes{
		MemoryAuthorizationCodes: core.NewMemoryAuthorizationCodes(time.Minute, nil),
		collected:                make(chan time.Time, 1),
	}
	newTestServer(t, func(c *Config) {
		c.Codes = codes
		c.GCFrequency = 10 * time.Millisecond
		c.Now = func() time.Time { return later }
	})

	code, err := codes.Create(context.Background(), core.AuthRequest{ClientID: "app"}, core.FrontChannelResponse{})
	if err != nil {
		t.Fatal(err)
	}

	// the first runs may have started before the code existed
	for i := 0; i < 3; i++ {
		select {
		case at := <-codes.collected:
			if !at.Equal(later) {
				t.Errorf("want collection at server time %s, got %s", later, at)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("garbage collection did not run")
		}
	}

	if _, err := codes.Consume(context.Background(), code.Value); !errors.Is(err, core.ErrCodeNotFound) {
		t.Errorf("want collected code to be gone, got %v", err)
	}
}

// Package server wires the token endpoint and its supporting endpoints into an
// http.Handler.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/pardot/authcode/core"
	"github.com/pardot/authcode/discovery"
	"github.com/pardot/authcode/issuer"
	"github.com/pardot/authcode/security"
	"github.com/pardot/authcode/signer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// APIKeyHeader carries the API key for the code registration endpoint.
const APIKeyHeader = "X-API-Key"

// Config holds the server's configuration options.
//
// Multiple servers using the same storage are expected to be configured identically.
type Config struct {
	Issuer string

	// The backing persistence layer.
	Codes   core.AuthorizationCodes
	Clients core.ClientSource

	// Signer signs ID tokens, and its public keys are served on /keys.
	Signer signer.Signer

	AccessTokenValidity time.Duration // Defaults to 1 hour
	IDTokenValidity     time.Duration // Defaults to 1 hour

	// DocumentationURI is returned as error_uri on token errors.
	DocumentationURI string

	// List of allowed origins for CORS requests on discovery, token and keys endpoint.
	// If none are indicated, CORS requests are disabled. Passing in "*" will allow any
	// domain.
	AllowedOrigins []string

	// APIKeys are accepted by the code registration endpoint. If none are
	// set, the endpoint is not served.
	APIKeys []string

	// MetricsUsername and MetricsPassword protect /metrics with basic auth
	// when set.
	MetricsUsername string
	MetricsPassword string

	GCFrequency time.Duration // Defaults to 5 minutes

	// If specified, the server will use this function for determining time.
	Now func() time.Time

	Logger logrus.FieldLogger

	PrometheusRegistry *prometheus.Registry
}

func value(val, defaultValue time.Duration) time.Duration {
	if val == 0 {
		return defaultValue
	}
	return val
}

// Server is the top level object.
type Server struct {
	issuerURL url.URL

	codes   core.AuthorizationCodes
	clients core.ClientSource

	mux *mux.Router

	now func() time.Time

	logger logrus.FieldLogger
}

// NewServer constructs a server from the provided config. Garbage collection
// of expired codes runs until ctx is cancelled.
func NewServer(ctx context.Context, c Config) (*Server, error) {
	issuerURL, err := url.Parse(c.Issuer)
	if err != nil {
		return nil, fmt.Errorf("server: can't parse issuer URL")
	}

	if c.Codes == nil {
		return nil, errors.New("server: codes storage cannot be nil")
	}
	if c.Clients == nil {
		return nil, errors.New("server: client source cannot be nil")
	}
	if c.Signer == nil {
		return nil, errors.New("server: signer cannot be nil")
	}

	now := c.Now
	if now == nil {
		now = time.Now
	}
	logger := c.Logger
	if logger == nil {
		l := logrus.New()
		l.Out = io.Discard
		logger = l
	}
	registry := c.PrometheusRegistry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	s := &Server{
		issuerURL: *issuerURL,
		codes:     c.Codes,
		clients:   c.Clients,
		now:       now,
		logger:    logger,
	}

	requestCounter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Count of all HTTP requests.",
	}, []string{"handler", "code", "method"})

	err = registry.Register(requestCounter)
	if err != nil {
		return nil, fmt.Errorf("server: Failed to register Prometheus HTTP metrics: %v", err)
	}

	instrumentHandlerCounter := func(handlerName string, handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, w, r)
			requestCounter.With(prometheus.Labels{"handler": handlerName, "code": strconv.Itoa(m.Code), "method": r.Method}).Inc()
		})
	}

	r := mux.NewRouter()
	handle := func(p string, h http.Handler, methods ...string) {
		r.Handle(path.Join(issuerURL.Path, p), instrumentHandlerCounter(p, h)).Methods(methods...)
	}
	handleWithCORS := func(p string, h http.Handler, methods ...string) {
		var handler = h
		if len(c.AllowedOrigins) > 0 {
			corsOption := handlers.AllowedOrigins(c.AllowedOrigins)
			handler = handlers.CORS(corsOption)(handler)
			methods = append(methods, http.MethodOptions)
		}
		handle(p, handler, methods...)
	}
	r.NotFoundHandler = http.HandlerFunc(http.NotFound)

	idTokens := &issuer.SignedIDTokens{
		Issuer:   issuerURL.String(),
		Signer:   c.Signer,
		Validity: value(c.IDTokenValidity, issuer.DefaultIDTokenValidity),
		Now:      now,
	}

	token := core.NewTokenEndpoint(
		core.NewClientValidator(c.Clients),
		c.Codes,
		&issuer.OpaqueAccessTokens{Validity: value(c.AccessTokenValidity, 1*time.Hour)},
		idTokens,
		core.NewErrorRenderer(c.DocumentationURI),
		core.WithLogger(logger.WithField("handler", "token")),
		core.WithRegisterer(registry),
	)

	discoveryHandler, err := s.discoveryHandler(ctx, c.Signer, c.DocumentationURI)
	if err != nil {
		return nil, err
	}
	handleWithCORS("/.well-known/openid-configuration", discoveryHandler, http.MethodGet)

	handleWithCORS("/token", token, http.MethodPost)
	handleWithCORS("/keys", discovery.NewKeysHandler(c.Signer, 5*time.Minute), http.MethodGet)

	if len(c.APIKeys) > 0 {
		sec := security.NewAPIKeySecurity(security.Header(APIKeyHeader), security.MatchesAny(c.APIKeys))
		handle("/codes", sec.Filter(http.HandlerFunc(s.handleCreateCode)), http.MethodPost)
	} else {
		logger.Info("no API keys configured, code registration endpoint disabled")
	}

	var metricsSec security.Security = security.NoSecurity{}
	if c.MetricsUsername != "" {
		metricsSec = &security.BasicAuthSecurity{Realm: "metrics", Username: c.MetricsUsername, Password: c.MetricsPassword}
	}
	handle("/metrics", metricsSec.Filter(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})), http.MethodGet)
	handle("/healthz", http.HandlerFunc(s.handleHealth), http.MethodGet)
	s.mux = r

	if gc, ok := c.Codes.(core.GarbageCollector); ok {
		s.startGarbageCollection(ctx, gc, value(c.GCFrequency, 5*time.Minute), now)
	}

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) absPath(pathItems ...string) string {
	paths := make([]string, len(pathItems)+1)
	paths[0] = s.issuerURL.Path
	copy(paths[1:], pathItems)
	return path.Join(paths...)
}

func (s *Server) absURL(pathItems ...string) string {
	u := s.issuerURL
	u.Path = s.absPath(pathItems...)
	return u.String()
}

func (s *Server) discoveryHandler(ctx context.Context, sig signer.Signer, documentationURI string) (http.Handler, error) {
	alg, err := sig.SignerAlg(ctx)
	if err != nil {
		return nil, fmt.Errorf("server: getting signing algorithm: %v", err)
	}
	md := &discovery.ProviderMetadata{
		Issuer:                           s.issuerURL.String(),
		TokenEndpoint:                    s.absURL("/token"),
		JWKSURI:                          s.absURL("/keys"),
		IDTokenSigningAlgValuesSupported: []string{string(alg)},
		ServiceDocumentation:             documentationURI,
	}
	return discovery.NewConfigurationHandler(md, discovery.WithCoreDefaults())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, "ok\n")
}

func (s *Server) startGarbageCollection(ctx context.Context, gc core.GarbageCollector, frequency time.Duration, now func() time.Time) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(frequency):
				if n, err := gc.GarbageCollect(ctx, now()); err != nil {
					s.logger.WithError(err).Error("garbage collection failed")
				} else if n > 0 {
					s.logger.WithField("codes", n).Info("garbage collection run")
				}
			}
		}
	}()
}

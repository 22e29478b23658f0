// Package config loads the YAML configuration of the authcoded server.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ghodss/yaml"
	"github.com/pardot/authcode/core"
)

// Storage types
const (
	StorageMemory   = "memory"
	StorageDisk     = "disk"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

// Config is the server configuration file.
type Config struct {
	// Issuer is the base URL of the server, and the iss of ID tokens. Routes
	// are served under its path.
	Issuer string `json:"issuer"`

	// CodeValidity is how long a code can be redeemed for after it was
	// created. Defaults to 60s.
	CodeValidity Duration `json:"codeValidity"`
	// AccessTokenValidity is reported to clients as expires_in. Defaults to
	// 1h.
	AccessTokenValidity Duration `json:"accessTokenValidity"`
	// IDTokenValidity defaults to 1h.
	IDTokenValidity Duration `json:"idTokenValidity"`

	// DocumentationURI is sent as error_uri with token errors.
	DocumentationURI string `json:"documentationURI"`

	// AllowedOrigins for CORS requests on the discovery, token and keys
	// endpoints. If none are set, CORS is disabled. "*" allows any origin.
	AllowedOrigins []string `json:"allowedOrigins"`

	Storage Storage `json:"storage"`

	// Clients are registered at startup. With postgres storage they are
	// written to the database, which may hold others.
	Clients []*core.ClientRegistration `json:"clients"`
	// ClientCacheTTL is how long clients read from the database are cached.
	// Defaults to 1m.
	ClientCacheTTL Duration `json:"clientCacheTTL"`

	// SigningKeyFile is a PEM encoded RSA or ECDSA private key for ID tokens.
	// If unset a key is generated at startup, and ID tokens can't be verified
	// across restarts.
	SigningKeyFile string `json:"signingKeyFile"`

	// APIKeys are accepted by the code registration endpoint, in the
	// X-API-Key header. Plain or bcrypt hashed. If none are set, the endpoint
	// is not served.
	APIKeys []string `json:"apiKeys"`

	// Metrics can be protected with basic auth.
	Metrics MetricsAuth `json:"metrics"`

	// GCFrequency is how often expired codes are purged. Defaults to 5m.
	GCFrequency Duration `json:"gcFrequency"`
}

type Storage struct {
	// Type is one of memory, disk, postgres or redis. Defaults to memory.
	Type     string          `json:"type"`
	Disk     DiskStorage     `json:"disk"`
	Postgres PostgresStorage `json:"postgres"`
	Redis    RedisStorage    `json:"redis"`
}

type DiskStorage struct {
	Path string `json:"path"`
}

type PostgresStorage struct {
	URL string `json:"url"`
}

type RedisStorage struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

type MetricsAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Duration is a time.Duration that is configured as a string, e.g. "90s".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"60s\": %w", err)
	}
	pd, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(pd)
	return nil
}

// Load reads the config file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(b)
}

// Parse reads a YAML config, applying defaults and validating it.
func Parse(b []byte) (*Config, error) {
	c := &Config{}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	c = c.withDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// withDefaults returns a copy of the Config, with the default values set if
// needed
func (c *Config) withDefaults() *Config {
	ret := *c

	if ret.CodeValidity == 0 {
		ret.CodeValidity = Duration(core.DefaultCodeValidity)
	}
	if ret.AccessTokenValidity == 0 {
		ret.AccessTokenValidity = Duration(1 * time.Hour)
	}
	if ret.IDTokenValidity == 0 {
		ret.IDTokenValidity = Duration(1 * time.Hour)
	}
	if ret.ClientCacheTTL == 0 {
		ret.ClientCacheTTL = Duration(1 * time.Minute)
	}
	if ret.GCFrequency == 0 {
		ret.GCFrequency = Duration(5 * time.Minute)
	}
	if ret.Storage.Type == "" {
		ret.Storage.Type = StorageMemory
	}
	ret.Issuer = strings.TrimSuffix(ret.Issuer, "/")

	return &ret
}

// Validate checks the config is complete and consistent.
func (c *Config) Validate() error {
	var errs []string

	if c.Issuer == "" {
		errs = append(errs, "issuer is required")
	} else if u, err := url.Parse(c.Issuer); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("issuer %q must be an absolute URL", c.Issuer))
	} else if u.RawQuery != "" || u.Fragment != "" {
		errs = append(errs, "issuer must not have a query or fragment")
	}

	if c.CodeValidity < 0 || c.AccessTokenValidity < 0 || c.IDTokenValidity < 0 {
		errs = append(errs, "validities must be positive")
	}

	switch c.Storage.Type {
	case StorageMemory:
	case StorageDisk:
		if c.Storage.Disk.Path == "" {
			errs = append(errs, "storage.disk.path is required for disk storage")
		}
	case StoragePostgres:
		if c.Storage.Postgres.URL == "" {
			errs = append(errs, "storage.postgres.url is required for postgres storage")
		}
	case StorageRedis:
		if c.Storage.Redis.Addr == "" {
			errs = append(errs, "storage.redis.addr is required for redis storage")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown storage type %q", c.Storage.Type))
	}

	seen := map[string]bool{}
	for i, cl := range c.Clients {
		if cl == nil || cl.ID == "" {
			errs = append(errs, fmt.Sprintf("clients[%d] has no id", i))
			continue
		}
		if seen[cl.ID] {
			errs = append(errs, fmt.Sprintf("client %q is registered twice", cl.ID))
		}
		seen[cl.ID] = true
		if cl.Secret == "" {
			errs = append(errs, fmt.Sprintf("client %q has no secret", cl.ID))
		}
		if len(cl.RedirectURIs) == 0 {
			errs = append(errs, fmt.Sprintf("client %q has no redirectURIs", cl.ID))
		}
	}

	if (c.Metrics.Username == "") != (c.Metrics.Password == "") {
		errs = append(errs, "metrics.username and metrics.password must be set together")
	}

	if len(errs) > 0 {
		return errors.New("invalid config: " + strings.Join(errs, ", "))
	}
	return nil
}

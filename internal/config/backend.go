package config

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	// postgres driver for storage/sql
	_ "github.com/lib/pq"
	"github.com/pardot/authcode/clients"
	"github.com/pardot/authcode/core"
	"github.com/pardot/authcode/signer"
	"github.com/pardot/authcode/storage/disk"
	sqlstorage "github.com/pardot/authcode/storage/sql"
	redisstorage "github.com/pardot/authcode/storage/redis"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Backend is the storage the server runs against.
type Backend struct {
	Codes   core.AuthorizationCodes
	Clients core.ClientSource
	// Close releases any connections or files. It is never nil.
	Close func() error
}

// OpenBackend connects to the configured storage. Configured clients are
// registered with it.
func (c *Config) OpenBackend(ctx context.Context, logger logrus.FieldLogger) (*Backend, error) {
	validity := time.Duration(c.CodeValidity)
	static := core.NewStaticClientSource(c.Clients)
	noop := func() error { return nil }

	l := logger.WithField("storage", c.Storage.Type)

	switch c.Storage.Type {
	case StorageMemory:
		l.Warn("codes are kept in memory, and will be lost on restart")
		return &Backend{
			Codes:   core.NewMemoryAuthorizationCodes(validity, nil),
			Clients: static,
			Close:   noop,
		}, nil

	case StorageDisk:
		s, err := disk.New(c.Storage.Disk.Path, 0600, validity)
		if err != nil {
			return nil, fmt.Errorf("opening disk storage: %w", err)
		}
		l.WithField("path", c.Storage.Disk.Path).Info("using disk storage")
		return &Backend{Codes: s, Clients: static, Close: s.Close}, nil

	case StoragePostgres:
		db, err := sql.Open("postgres", c.Storage.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		s, err := sqlstorage.New(ctx, db, validity)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		for _, cl := range c.Clients {
			if err := s.PutClient(ctx, cl); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		l.WithField("clients", len(c.Clients)).Info("using postgres storage")
		return &Backend{
			Codes:   s,
			Clients: clients.NewCached(s, time.Duration(c.ClientCacheTTL)),
			Close:   db.Close,
		}, nil

	case StorageRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     c.Storage.Redis.Addr,
			Password: c.Storage.Redis.Password,
			DB:       c.Storage.Redis.DB,
		})
		s := redisstorage.New(client, c.Storage.Redis.Prefix, validity)
		if err := s.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, err
		}
		l.WithField("addr", c.Storage.Redis.Addr).Info("using redis storage")
		return &Backend{Codes: s, Clients: static, Close: client.Close}, nil

	default:
		return nil, fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}
}

// Signer returns the signer for ID tokens.
func (c *Config) Signer(logger logrus.FieldLogger) (signer.Signer, error) {
	if c.SigningKeyFile == "" {
		logger.Warn("no signingKeyFile set, generating a signing key. ID tokens can't be verified after a restart")
		return signer.NewEphemeral(2048)
	}

	b, err := os.ReadFile(c.SigningKeyFile)
	if err != nil {
		return nil, fmt.Errorf("reading signing key: %w", err)
	}
	key, err := signer.ParsePrivateKeyPEM(b)
	if err != nil {
		return nil, fmt.Errorf("parsing signing key %s: %w", c.SigningKeyFile, err)
	}
	return signer.NewFromCrypto(key, "")
}

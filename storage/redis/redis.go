// Package redis stores authorization codes in Redis. Codes are written with a
// TTL of their validity, so Redis expires them without a collection loop.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pardot/authcode/core"
	"github.com/pardot/authcode/storage"
	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces keys when no prefix is configured.
const DefaultPrefix = "authcode"

type Storage struct {
	client   redis.UniversalClient
	prefix   string
	validity time.Duration

	Now      func() time.Time
	generate func() (string, error)
}

var _ core.AuthorizationCodes = (*Storage)(nil)

// New returns a Storage using client. Keys are created under prefix, and codes
// are valid for validity.
func New(client redis.UniversalClient, prefix string, validity time.Duration) *Storage {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if validity <= 0 {
		validity = core.DefaultCodeValidity
	}
	return &Storage{
		client:   client,
		prefix:   prefix,
		validity: validity,
		Now:      time.Now,
		generate: core.NewCodeValue,
	}
}

// Ping checks the server is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (s *Storage) key(value string) string {
	return s.prefix + ":code:" + value
}

func (s *Storage) Create(ctx context.Context, authReq core.AuthRequest, resp core.FrontChannelResponse) (core.AuthorizationCode, error) {
	value, err := s.generate()
	if err != nil {
		return core.AuthorizationCode{}, fmt.Errorf("generating code: %w", err)
	}

	code := core.NewAuthorizationCode(value, authReq, resp, s.Now())
	data, err := storage.MarshalCode(code)
	if err != nil {
		return core.AuthorizationCode{}, err
	}

	ok, err := s.client.SetNX(ctx, s.key(value), data, s.validity).Result()
	if err != nil {
		return core.AuthorizationCode{}, fmt.Errorf("storing code: %w", err)
	}
	if !ok {
		return core.AuthorizationCode{}, core.ErrCodeCollision
	}

	return code, nil
}

// Consume uses GETDEL, so only one caller gets the code. Redis may still hold
// a code our clock considers expired, so expiry is checked here too.
func (s *Storage) Consume(ctx context.Context, value string) (core.AuthorizationCode, error) {
	now := s.Now()

	data, err := s.client.GetDel(ctx, s.key(value)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return core.AuthorizationCode{}, storage.NotFoundErr()
		}
		return core.AuthorizationCode{}, fmt.Errorf("consuming code: %w", err)
	}

	code, err := storage.UnmarshalCode(data)
	if err != nil {
		return core.AuthorizationCode{}, err
	}
	if err := core.CheckExpiry(code, now, s.validity); err != nil {
		return core.AuthorizationCode{}, err
	}
	return code, nil
}

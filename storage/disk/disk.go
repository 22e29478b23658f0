// Package disk stores authorization codes in a local bbolt database. It suits
// single instance deployments that need codes to survive a restart.
package disk

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pardot/authcode/core"
	"github.com/pardot/authcode/storage"
	bolt "go.etcd.io/bbolt"
)

var (
	codesBucket = []byte("auth-codes")
	// usedBucket maps consumed code values to the time they were consumed
	usedBucket = []byte("used-codes")
)

type Storage struct {
	db       *bolt.DB
	validity time.Duration

	Now func() time.Time
	// generate is replaced in tests
	generate func() (string, error)
}

var _ core.AuthorizationCodes = (*Storage)(nil)
var _ core.GarbageCollector = (*Storage)(nil)

// New opens, or creates, the database at path. Codes are valid for validity.
func New(path string, mode os.FileMode, validity time.Duration) (*Storage, error) {
	if validity <= 0 {
		validity = core.DefaultCodeValidity
	}

	db, err := bolt.Open(path, mode, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{codesBucket, usedBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &Storage{
		db:       db,
		validity: validity,
		Now:      time.Now,
		generate: core.NewCodeValue,
	}, nil
}

// Close releases the database file.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) Create(_ context.Context, authReq core.AuthRequest, resp core.FrontChannelResponse) (core.AuthorizationCode, error) {
	value, err := s.generate()
	if err != nil {
		return core.AuthorizationCode{}, fmt.Errorf("generating code: %w", err)
	}

	code := core.NewAuthorizationCode(value, authReq, resp, s.Now())
	data, err := storage.MarshalCode(code)
	if err != nil {
		return core.AuthorizationCode{}, err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		codes := tx.Bucket(codesBucket)
		if codes.Get([]byte(value)) != nil || tx.Bucket(usedBucket).Get([]byte(value)) != nil {
			return core.ErrCodeCollision
		}
		return codes.Put([]byte(value), data)
	})
	if err != nil {
		return core.AuthorizationCode{}, err
	}

	return code, nil
}

func (s *Storage) Consume(_ context.Context, value string) (core.AuthorizationCode, error) {
	now := s.Now()

	var (
		data   []byte
		usedAt *time.Time
	)
	// Domain outcomes are returned from outside the transaction, so that the
	// removal of an expired code is still committed.
	err := s.db.Update(func(tx *bolt.Tx) error {
		codes, used := tx.Bucket(codesBucket), tx.Bucket(usedBucket)

		o := codes.Get([]byte(value))
		if o == nil {
			if u := used.Get([]byte(value)); u != nil {
				var at time.Time
				if err := at.UnmarshalText(u); err != nil {
					return fmt.Errorf("decoding consumed time: %w", err)
				}
				usedAt = &at
			}
			return nil
		}
		// bbolt values are only valid for the life of the transaction
		data = append([]byte(nil), o...)

		if err := codes.Delete([]byte(value)); err != nil {
			return err
		}
		at, err := now.MarshalText()
		if err != nil {
			return err
		}
		return used.Put([]byte(value), at)
	})
	if err != nil {
		return core.AuthorizationCode{}, fmt.Errorf("consuming code: %w", err)
	}

	if data == nil {
		if usedAt != nil {
			return core.AuthorizationCode{}, storage.AlreadyUsedErr(*usedAt)
		}
		return core.AuthorizationCode{}, storage.NotFoundErr()
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

// GarbageCollect removes expired codes, and the record of consumed codes once
// they are older than the validity.
func (s *Storage) GarbageCollect(_ context.Context, now time.Time) (int, error) {
	var removed int

	err := s.db.Update(func(tx *bolt.Tx) error {
		var expired, forgotten [][]byte

		if err := tx.Bucket(codesBucket).ForEach(func(k, v []byte) error {
			code, err := storage.UnmarshalCode(v)
			if err != nil {
				return err
			}
			if code.Expired(now, s.validity) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}

		if err := tx.Bucket(usedBucket).ForEach(func(k, v []byte) error {
			var at time.Time
			if err := at.UnmarshalText(v); err != nil {
				return err
			}
			if !now.Before(at.Add(s.validity)) {
				forgotten = append(forgotten, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}

		for _, k := range expired {
			if err := tx.Bucket(codesBucket).Delete(k); err != nil {
				return err
			}
		}
		for _, k := range forgotten {
			if err := tx.Bucket(usedBucket).Delete(k); err != nil {
				return err
			}
		}
		removed = len(expired)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("collecting codes: %w", err)
	}

	return removed, nil
}


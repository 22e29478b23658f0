// Package sql stores authorization codes and client registrations in
// PostgreSQL. Any number of instances can share one database.
package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pardot/authcode/core"
	"github.com/pardot/authcode/storage"
)

type Storage struct {
	db       *sql.DB
	validity time.Duration

	Now      func() time.Time
	generate func() (string, error)
}

var _ core.AuthorizationCodes = (*Storage)(nil)
var _ core.GarbageCollector = (*Storage)(nil)
var _ core.ClientSource = (*Storage)(nil)

// New returns a Storage using db, after bringing the schema up to date. Codes
// are valid for validity.
func New(ctx context.Context, db *sql.DB, validity time.Duration) (*Storage, error) {
	if validity <= 0 {
		validity = core.DefaultCodeValidity
	}
	s := &Storage{
		db:       db,
		validity: validity,
		Now:      time.Now,
		generate: core.NewCodeValue,
	}

	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	return s, nil
}

func (s *Storage) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(
		ctx,
		`create table if not exists migrations (
		idx int primary key not null,
		at timestamptz not null
		);`,
	); err != nil {
		return err
	}

	return s.execTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var maxIdx sql.NullInt64
		if err := tx.QueryRowContext(ctx, `select max(idx) from migrations;`).Scan(&maxIdx); err != nil {
			return err
		}

		i := 0
		if maxIdx.Valid {
			i = int(maxIdx.Int64) + 1
		}

		for ; i < len(migrations); i++ {
			if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
				return err
			}

			if _, err := tx.ExecContext(ctx, `insert into migrations (idx, at) values ($1, now());`, i); err != nil {
				return err
			}
		}

		return nil
	})
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

	res, err := s.db.ExecContext(
		ctx,
		`insert into auth_codes (value, data, created_at) values ($1, $2, $3)
		on conflict (value) do nothing`,
		value, data, code.CreatedAt,
	)
	if err != nil {
		return core.AuthorizationCode{}, fmt.Errorf("inserting code: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return core.AuthorizationCode{}, err
	} else if rowsAffected == 0 {
		return core.AuthorizationCode{}, core.ErrCodeCollision
	}

	return code, nil
}

// Consume deletes the row and returns it in one statement, so concurrent
// consumers can't both see it. Consumed codes are not remembered, so reuse
// reports the code as not found.
func (s *Storage) Consume(ctx context.Context, value string) (core.AuthorizationCode, error) {
	now := s.Now()

	var data []byte
	if err := s.db.QueryRowContext(
		ctx,
		`delete from auth_codes where value=$1 returning data`,
		value,
	).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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

func (s *Storage) GarbageCollect(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(
		ctx,
		`delete from auth_codes where created_at <= $1`,
		now.Add(-s.validity),
	)
	if err != nil {
		return 0, fmt.Errorf("collecting codes: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rowsAffected), nil
}

func (s *Storage) GetClient(ctx context.Context, id string) (*core.ClientRegistration, error) {
	c := &core.ClientRegistration{}
	if err := s.db.QueryRowContext(
		ctx,
		`select id, secret, redirect_uris, name from clients where id=$1`,
		id,
	).Scan(&c.ID, &c.Secret, pq.Array(&c.RedirectURIs), &c.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &errNoSuchClient{fmt.Errorf("client %q does not exist", id)}
		}
		return nil, fmt.Errorf("getting client %q: %w", id, err)
	}

	return c, nil
}

// PutClient creates or replaces a client registration.
func (s *Storage) PutClient(ctx context.Context, c *core.ClientRegistration) error {
	if _, err := s.db.ExecContext(
		ctx,
		`insert into clients (id, secret, redirect_uris, name) values ($1, $2, $3, $4)
		on conflict (id)
		do update set secret=excluded.secret, redirect_uris=excluded.redirect_uris, name=excluded.name`,
		c.ID, c.Secret, pq.Array(c.RedirectURIs), c.Name,
	); err != nil {
		return fmt.Errorf("putting client %q: %w", c.ID, err)
	}
	return nil
}

func (s *Storage) execTx(ctx context.Context, f func(ctx context.Context, tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := f(ctx, tx); err != nil {
		// Not much we can do about an error here, but at least the database will
		// eventually cancel it on its own if it fails
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

var migrations = []string{
	`create table auth_codes(
		value text primary key,
		data bytea not null,
		created_at timestamptz not null
	);

	create index auth_codes_created_at on auth_codes (created_at);
	`,
	`create table clients(
		id text primary key,
		secret text not null,
		redirect_uris text[] not null,
		name text not null default ''
	);
	`,
}

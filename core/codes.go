package core

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultCodeValidity is how long a code can be redeemed for if nothing else
// is configured.
//
// https://tools.ietf.org/html/rfc6749#section-4.1.2 recommends a maximum of
// 10 minutes.
const DefaultCodeValidity = 1 * time.Minute

const codeLen = 32

// ErrCodeCollision is returned from Create when a generated code value is
// already in use. This means the generator is broken, and is never a client
// error.
var ErrCodeCollision = errors.New("authorization code value collision")

// AuthorizationCodes stores issued codes until they are redeemed.
type AuthorizationCodes interface {
	// Create generates a new code bound to the request, and stores it stamped
	// with the current time.
	Create(ctx context.Context, authReq AuthRequest, resp FrontChannelResponse) (AuthorizationCode, error)
	// Consume atomically removes and returns the code. Of any number of
	// concurrent calls for the same value, at most one succeeds. Codes that do
	// not exist, were already consumed or have expired return an Error that
	// matches ErrInvalidGrant.
	Consume(ctx context.Context, value string) (AuthorizationCode, error)
}

// GarbageCollector is implemented by stores that need expired codes purged
// periodically.
type GarbageCollector interface {
	GarbageCollect(ctx context.Context, now time.Time) (removed int, err error)
}

// NewCodeValue returns a new unguessable code value.
func NewCodeValue() (string, error) {
	b := make([]byte, codeLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random data: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewAuthorizationCode builds the code for a request, without storing it.
func NewAuthorizationCode(value string, authReq AuthRequest, resp FrontChannelResponse, now time.Time) AuthorizationCode {
	return AuthorizationCode{
		Value:       value,
		Request:     authReq.clone(),
		Response:    resp,
		CreatedAt:   now,
		RedirectURI: authReq.RedirectURI,
	}
}

// MemoryAuthorizationCodes is an in-process AuthorizationCodes. Codes do not
// survive restarts, and are not shared between processes.
type MemoryAuthorizationCodes struct {
	mu    sync.Mutex
	codes map[string]AuthorizationCode
	// used tracks consumed values, so reuse can be told apart from unknown
	// codes in logs. Entries are purged by GarbageCollect.
	used map[string]time.Time

	validity time.Duration
	now      func() time.Time
	generate func() (string, error)
}

var _ AuthorizationCodes = (*MemoryAuthorizationCodes)(nil)
var _ GarbageCollector = (*MemoryAuthorizationCodes)(nil)

// NewMemoryAuthorizationCodes returns an empty store. Codes are valid for the
// given duration, measured with now. If now is nil, time.Now is used.
func NewMemoryAuthorizationCodes(validity time.Duration, now func() time.Time) *MemoryAuthorizationCodes {
	if validity <= 0 {
		validity = DefaultCodeValidity
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryAuthorizationCodes{
		codes:    make(map[string]AuthorizationCode),
		used:     make(map[string]time.Time),
		validity: validity,
		now:      now,
		generate: NewCodeValue,
	}
}

func (m *MemoryAuthorizationCodes) Create(_ context.Context, authReq AuthRequest, resp FrontChannelResponse) (AuthorizationCode, error) {
	value, err := m.generate()
	if err != nil {
		return AuthorizationCode{}, fmt.Errorf("generating code: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.codes[value]; ok {
		return AuthorizationCode{}, ErrCodeCollision
	}
	if _, ok := m.used[value]; ok {
		return AuthorizationCode{}, ErrCodeCollision
	}

	code := NewAuthorizationCode(value, authReq, resp, m.now())
	m.codes[value] = code

	return code.Clone(), nil
}

func (m *MemoryAuthorizationCodes) Consume(_ context.Context, value string) (AuthorizationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	code, ok := m.codes[value]
	if !ok {
		if at, used := m.used[value]; used {
			return AuthorizationCode{}, &Error{Kind: ErrorKindCodeAlreadyUsed, Reason: fmt.Sprintf("code was consumed at %s", at.UTC().Format(time.RFC3339))}
		}
		return AuthorizationCode{}, &Error{Kind: ErrorKindCodeNotFound, Reason: "no such code"}
	}

	delete(m.codes, value)
	m.used[value] = now

	if err := CheckExpiry(code, now, m.validity); err != nil {
		return AuthorizationCode{}, err
	}

	return code.Clone(), nil
}

// GarbageCollect removes expired codes, and forgets consumed codes once any
// code with that value would have expired anyway.
func (m *MemoryAuthorizationCodes) GarbageCollect(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int
	for v, c := range m.codes {
		if c.Expired(now, m.validity) {
			delete(m.codes, v)
			removed++
		}
	}
	for v, at := range m.used {
		if !now.Before(at.Add(m.validity)) {
			delete(m.used, v)
		}
	}
	return removed, nil
}

package storage

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pardot/authcode/core"
)

// Clock is a settable time source for stores under test.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock set to start, truncated to the microsecond so it
// survives databases that store times at that precision.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start.UTC().Truncate(time.Microsecond)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var testAuthReq = core.AuthRequest{
	ClientID:     "client",
	Scopes:       []string{"openid", "profile"},
	RedirectURI:  "https://client/callback",
	State:        "state",
	Nonce:        "nonce",
	ResponseType: core.ResponseTypeCodeIDToken,
	Subject:      "user",
}

// Test runs the behaviour every store must have against s. The store must be
// reading time from clock, and be configured with the given validity.
func Test(ctx context.Context, t *testing.T, s core.AuthorizationCodes, clock *Clock, validity time.Duration) {
	// Subtests must not depend on codes created by other subtests
	t.Run("testCreateConsume", func(t *testing.T) { testCreateConsume(ctx, t, s, clock) })
	t.Run("testUnknownCode", func(t *testing.T) { testUnknownCode(ctx, t, s) })
	t.Run("testSingleUse", func(t *testing.T) { testSingleUse(ctx, t, s) })
	t.Run("testExpiry", func(t *testing.T) { testExpiry(ctx, t, s, clock, validity) })
	t.Run("testConcurrentConsume", func(t *testing.T) { testConcurrentConsume(ctx, t, s) })
	if gc, ok := s.(core.GarbageCollector); ok {
		t.Run("testGarbageCollect", func(t *testing.T) { testGarbageCollect(ctx, t, s, gc, clock, validity) })
	}
}

func testCreateConsume(ctx context.Context, t *testing.T, s core.AuthorizationCodes, clock *Clock) {
	resp := core.FrontChannelResponse{Status: http.StatusFound, Location: "https://client/callback?code=x"}

	created, err := s.Create(ctx, testAuthReq, resp)
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
	if created.Value == "" {
		t.Fatal("Want: code value, got none")
	}
	if !created.CreatedAt.Equal(clock.Now()) {
		t.Errorf("Want: created at %s, got %s", clock.Now(), created.CreatedAt)
	}

	got, err := s.Consume(ctx, created.Value)
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
	if diff := cmp.Diff(created, got); diff != "" {
		t.Errorf("consumed code differs from created: %s", diff)
	}
	if diff := cmp.Diff(testAuthReq, got.Request); diff != "" {
		t.Errorf("request was not stored intact: %s", diff)
	}
}

func testUnknownCode(ctx context.Context, t *testing.T, s core.AuthorizationCodes) {
	_, err := s.Consume(ctx, "testUnknownCode")
	if !errors.Is(err, core.ErrCodeNotFound) {
		t.Errorf("Want: code not found error, got %v", err)
	}
}

func testSingleUse(ctx context.Context, t *testing.T, s core.AuthorizationCodes) {
	code, err := s.Create(ctx, testAuthReq, core.FrontChannelResponse{})
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
	if _, err := s.Consume(ctx, code.Value); err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
	if _, err := s.Consume(ctx, code.Value); !errors.Is(err, core.ErrInvalidGrant) {
		t.Errorf("Want: invalid grant on reuse, got %v", err)
	}
}

func testExpiry(ctx context.Context, t *testing.T, s core.AuthorizationCodes, clock *Clock, validity time.Duration) {
	code, err := s.Create(ctx, testAuthReq, core.FrontChannelResponse{})
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}

	clock.Advance(validity)

	if _, err := s.Consume(ctx, code.Value); !errors.Is(err, core.ErrCodeExpired) {
		t.Errorf("Want: code expired error, got %v", err)
	}
	if _, err := s.Consume(ctx, code.Value); !errors.Is(err, core.ErrInvalidGrant) {
		t.Errorf("Want: expired code to be destroyed, got %v", err)
	}
}

func testConcurrentConsume(ctx context.Context, t *testing.T, s core.AuthorizationCodes) {
	code, err := s.Create(ctx, testAuthReq, core.FrontChannelResponse{})
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}

	const attempts = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Consume(ctx, code.Value)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			failures = append(failures, err)
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("Want: exactly one successful consume, got %d", successes)
	}
	for _, err := range failures {
		if !errors.Is(err, core.ErrInvalidGrant) {
			t.Errorf("Want: invalid grant for losing consumes, got %v", err)
		}
	}
}

func testGarbageCollect(ctx context.Context, t *testing.T, s core.AuthorizationCodes, gc core.GarbageCollector, clock *Clock, validity time.Duration) {
	old, err := s.Create(ctx, testAuthReq, core.FrontChannelResponse{})
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
	clock.Advance(validity / 2)
	fresh, err := s.Create(ctx, testAuthReq, core.FrontChannelResponse{})
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
	clock.Advance(validity / 2)

	n, err := gc.GarbageCollect(ctx, clock.Now())
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
	if n < 1 {
		t.Errorf("Want: at least 1 code collected, got %d", n)
	}

	if _, err := s.Consume(ctx, old.Value); !errors.Is(err, core.ErrCodeNotFound) {
		t.Errorf("Want: collected code to be gone, got %v", err)
	}
	if _, err := s.Consume(ctx, fresh.Value); err != nil {
		t.Errorf("Want: fresh code to survive collection, got %v", err)
	}
}

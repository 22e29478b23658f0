package core

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestMemoryAuthorizationCodes(t *testing.T) {
	ctx := context.Background()

	t.Run("Round trip", func(t *testing.T) {
		clock := newSettableClock()
		m := NewMemoryAuthorizationCodes(time.Minute, clock.Now)

		ar := testAuthReq
		ar.Scopes = []string{"openid", "profile"}
		resp := FrontChannelResponse{Status: http.StatusFound, Location: "https://client/redirect?code=x"}

		created, err := m.Create(ctx, ar, resp)
		if err != nil {
			t.Fatal(err)
		}
		if created.Value == "" {
			t.Fatal("want a code value")
		}
		if !created.CreatedAt.Equal(clock.Now()) {
			t.Errorf("want created at %s, got %s", clock.Now(), created.CreatedAt)
		}

		got, err := m.Consume(ctx, created.Value)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(created, got); diff != "" {
			t.Error(diff)
		}
		if got.RedirectURI != ar.RedirectURI {
			t.Errorf("want redirect URI %s, got %s", ar.RedirectURI, got.RedirectURI)
		}
	})

	t.Run("Single use", func(t *testing.T) {
		m := NewMemoryAuthorizationCodes(time.Minute, nil)
		code, err := m.Create(ctx, testAuthReq, FrontChannelResponse{})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := m.Consume(ctx, code.Value); err != nil {
			t.Fatal(err)
		}
		_, err = m.Consume(ctx, code.Value)
		if !errors.Is(err, ErrCodeAlreadyUsed) {
			t.Errorf("want ErrCodeAlreadyUsed, got %v", err)
		}
		if !errors.Is(err, ErrInvalidGrant) {
			t.Errorf("want reuse to match ErrInvalidGrant, got %v", err)
		}
	})

	t.Run("Unknown code", func(t *testing.T) {
		m := NewMemoryAuthorizationCodes(time.Minute, nil)
		_, err := m.Consume(ctx, "nope")
		if !errors.Is(err, ErrCodeNotFound) {
			t.Errorf("want ErrCodeNotFound, got %v", err)
		}
	})

	t.Run("Expiry", func(t *testing.T) {
		for _, tc := range []struct {
			Name        string
			Age         time.Duration
			WantExpired bool
		}{
			{Name: "Fresh", Age: 0},
			{Name: "Just before validity", Age: time.Minute - time.Nanosecond},
			{Name: "At validity", Age: time.Minute, WantExpired: true},
			{Name: "After validity", Age: time.Hour, WantExpired: true},
		} {
			t.Run(tc.Name, func(t *testing.T) {
				clock := newSettableClock()
				m := NewMemoryAuthorizationCodes(time.Minute, clock.Now)
				code, err := m.Create(ctx, testAuthReq, FrontChannelResponse{})
				if err != nil {
					t.Fatal(err)
				}
				clock.Advance(tc.Age)

				_, err = m.Consume(ctx, code.Value)
				if tc.WantExpired {
					if !errors.Is(err, ErrCodeExpired) {
						t.Fatalf("want ErrCodeExpired, got %v", err)
					}
					// the expired code is gone too
					if _, err := m.Consume(ctx, code.Value); !errors.Is(err, ErrCodeAlreadyUsed) {
						t.Errorf("want expired code to be consumed, got %v", err)
					}
					return
				}
				if err != nil {
					t.Fatalf("want no error, got %v", err)
				}
			})
		}
	})

	t.Run("Collision", func(t *testing.T) {
		m := NewMemoryAuthorizationCodes(time.Minute, nil)
		m.generate = func() (string, error) { return "fixed", nil }

		if _, err := m.Create(ctx, testAuthReq, FrontChannelResponse{}); err != nil {
			t.Fatal(err)
		}
		if _, err := m.Create(ctx, testAuthReq, FrontChannelResponse{}); !errors.Is(err, ErrCodeCollision) {
			t.Errorf("want ErrCodeCollision, got %v", err)
		}

		// values of consumed codes aren't handed out again either
		if _, err := m.Consume(ctx, "fixed"); err != nil {
			t.Fatal(err)
		}
		if _, err := m.Create(ctx, testAuthReq, FrontChannelResponse{}); !errors.Is(err, ErrCodeCollision) {
			t.Errorf("want ErrCodeCollision for consumed value, got %v", err)
		}
	})

	t.Run("Returned codes are copies", func(t *testing.T) {
		m := NewMemoryAuthorizationCodes(time.Minute, nil)
		ar := testAuthReq
		ar.Scopes = []string{"openid"}
		code, err := m.Create(ctx, ar, FrontChannelResponse{})
		if err != nil {
			t.Fatal(err)
		}
		code.Request.Scopes[0] = "mutated"
		ar.Scopes[0] = "mutated"

		got, err := m.Consume(ctx, code.Value)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]string{"openid"}, got.Request.Scopes); diff != "" {
			t.Error(diff)
		}
	})

	t.Run("Concurrent consume", func(t *testing.T) {
		m := NewMemoryAuthorizationCodes(time.Minute, nil)
		code, err := m.Create(ctx, testAuthReq, FrontChannelResponse{})
		if err != nil {
			t.Fatal(err)
		}

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
		)
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := m.Consume(ctx, code.Value); err == nil {
					mu.Lock()
					successes++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if successes != 1 {
			t.Errorf("want exactly 1 successful consume, got %d", successes)
		}
	})

	t.Run("Garbage collection", func(t *testing.T) {
		clock := newSettableClock()
		m := NewMemoryAuthorizationCodes(time.Minute, clock.Now)

		old, err := m.Create(ctx, testAuthReq, FrontChannelResponse{})
		if err != nil {
			t.Fatal(err)
		}
		clock.Advance(30 * time.Second)
		fresh, err := m.Create(ctx, testAuthReq, FrontChannelResponse{})
		if err != nil {
			t.Fatal(err)
		}
		clock.Advance(30 * time.Second)

		n, err := m.GarbageCollect(ctx, clock.Now())
		if err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Errorf("want 1 code collected, got %d", n)
		}
		if _, err := m.Consume(ctx, old.Value); !errors.Is(err, ErrCodeNotFound) {
			t.Errorf("want collected code to be not found, got %v", err)
		}
		if _, err := m.Consume(ctx, fresh.Value); err != nil {
			t.Errorf("want fresh code to survive collection, got %v", err)
		}
	})
}

func TestNewCodeValue(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		v, err := NewCodeValue()
		if err != nil {
			t.Fatal(err)
		}
		if len(v) < 43 {
			t.Errorf("want at least 256 bits of code, got %q", v)
		}
		if seen[v] {
			t.Fatalf("duplicate code value %s", v)
		}
		seen[v] = true
	}
}

func TestParseResponseType(t *testing.T) {
	for _, tc := range []struct {
		In      string
		Want    ResponseType
		WantErr bool
	}{
		{In: "code", Want: ResponseTypeCode},
		{In: "code id_token", Want: ResponseTypeCodeIDToken},
		{In: "id_token code", Want: ResponseTypeCodeIDToken},
		{In: "token", WantErr: true},
		{In: "", WantErr: true},
	} {
		got, err := ParseResponseType(tc.In)
		if (err != nil) != tc.WantErr {
			t.Errorf("%q: want err %t, got %v", tc.In, tc.WantErr, err)
			continue
		}
		if got != tc.Want {
			t.Errorf("%q: want %q, got %q", tc.In, tc.Want, got)
		}
	}

	if ResponseTypeCode.RequestsIDToken() {
		t.Error("code should not request an id token")
	}
	if !ResponseTypeCodeIDToken.RequestsIDToken() {
		t.Error("code id_token should request an id token")
	}
}

package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"smsrelay/api/internal/filter"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(t *testing.T) (*Registry, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	return NewRegistry(Options{TTL: time.Hour, Now: clock.Now}), clock
}

func TestCreateAndResolve(t *testing.T) {
	reg, _ := newTestRegistry(t)

	created, err := reg.Create(Attributes{Filter: filter.ContentContains("OTP")})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.Token == "" {
		t.Fatal("expected token")
	}

	resolved, err := reg.Resolve(created.Token)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolved.Filter != filter.ContentContains("OTP") || resolved.IsAdmin {
		t.Fatalf("unexpected session: %+v", resolved)
	}
}

func TestResolveUnknownToken(t *testing.T) {
	reg, _ := newTestRegistry(t)
	for _, token := range []string{"", "nope"} {
		if _, err := reg.Resolve(token); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("Resolve(%q) error = %v, want ErrUnauthenticated", token, err)
		}
	}
}

func TestResolveRenewsExpiry(t *testing.T) {
	reg, clock := newTestRegistry(t)
	created, err := reg.Create(Attributes{})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	clock.Advance(50 * time.Minute)
	renewed, err := reg.Resolve(created.Token)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !renewed.ExpiresAt.After(created.ExpiresAt) {
		t.Fatalf("expected expiry to slide forward: %v -> %v", created.ExpiresAt, renewed.ExpiresAt)
	}

	clock.Advance(50 * time.Minute)
	if _, err := reg.Resolve(created.Token); err != nil {
		t.Fatalf("expected renewed session to remain valid, got %v", err)
	}
}

func TestResolveEvictsExpired(t *testing.T) {
	reg, clock := newTestRegistry(t)
	created, err := reg.Create(Attributes{})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	clock.Advance(time.Hour)
	if _, err := reg.Resolve(created.Token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for expired token, got %v", err)
	}
	if reg.Len() != 0 {
		t.Fatalf("expected expired entry evicted, have %d", reg.Len())
	}
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	reg, clock := newTestRegistry(t)
	old, _ := reg.Create(Attributes{})
	clock.Advance(30 * time.Minute)
	fresh, _ := reg.Create(Attributes{IsAdmin: true})
	clock.Advance(31 * time.Minute)

	if removed := reg.Sweep(); removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := reg.Resolve(old.Token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected old token gone, got %v", err)
	}
	got, err := reg.Resolve(fresh.Token)
	if err != nil {
		t.Fatalf("expected fresh token valid, got %v", err)
	}
	if !got.IsAdmin {
		t.Fatal("expected admin attribute preserved")
	}
}

func TestRevokeIsIdempotent(t *testing.T) {
	reg, _ := newTestRegistry(t)
	created, _ := reg.Create(Attributes{})

	reg.Revoke(created.Token)
	reg.Revoke(created.Token)
	reg.Revoke("")

	if _, err := reg.Resolve(created.Token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected revoked token rejected, got %v", err)
	}
}

func TestTokensForSameCredentialAreIndependent(t *testing.T) {
	reg, _ := newTestRegistry(t)
	first, _ := reg.Create(Attributes{})
	second, _ := reg.Create(Attributes{})
	if first.Token == second.Token {
		t.Fatal("expected distinct tokens")
	}
	reg.Revoke(first.Token)
	if _, err := reg.Resolve(second.Token); err != nil {
		t.Fatalf("expected second token unaffected, got %v", err)
	}
}

func TestRunSweepsAndClearsOnShutdown(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	reg := NewRegistry(Options{TTL: time.Minute, SweepInterval: 5 * time.Millisecond, Now: clock.Now})
	expired, _ := reg.Create(Attributes{})
	clock.Advance(2 * time.Minute)
	live, _ := reg.Create(Attributes{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reg.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for reg.Len() != 1 {
		select {
		case <-deadline:
			t.Fatalf("sweep did not run, %d sessions remain", reg.Len())
		case <-time.After(5 * time.Millisecond):
		}
	}
	if _, err := reg.Resolve(expired.Token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected expired token gone, got %v", err)
	}
	if _, err := reg.Resolve(live.Token); err != nil {
		t.Fatalf("expected live token valid, got %v", err)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if reg.Len() != 0 {
		t.Fatalf("expected registry cleared on shutdown, have %d", reg.Len())
	}
}

// Package session keeps the volatile login sessions of viewers and admins.
//
// Sessions live only in process memory and are lost on restart. Tokens are
// never stored as presented: entries are keyed by the SHA-256 of the token.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"smsrelay/api/internal/auth"
	"smsrelay/api/internal/filter"
)

const (
	DefaultTTL           = 24 * time.Hour
	DefaultSweepInterval = time.Minute
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Attributes are fixed at login and never change for the life of a session.
type Attributes struct {
	Filter  filter.Filter
	IsAdmin bool
}

type Session struct {
	Token     string
	Filter    filter.Filter
	IsAdmin   bool
	CreatedAt time.Time
	ExpiresAt time.Time
}

type entry struct {
	attrs     Attributes
	createdAt time.Time
	expiresAt time.Time
}

type Options struct {
	TTL           time.Duration
	SweepInterval time.Duration
	Logger        *slog.Logger
	// Now overrides the clock in tests.
	Now func() time.Time
}

type Registry struct {
	ttl           time.Duration
	sweepInterval time.Duration
	logger        *slog.Logger
	now           func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

func NewRegistry(opts Options) *Registry {
	r := &Registry{
		ttl:           opts.TTL,
		sweepInterval: opts.SweepInterval,
		logger:        opts.Logger,
		now:           opts.Now,
		entries:       make(map[string]*entry),
	}
	if r.ttl <= 0 {
		r.ttl = DefaultTTL
	}
	if r.sweepInterval <= 0 {
		r.sweepInterval = DefaultSweepInterval
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Create stores a new session and returns it with its token populated.
func (r *Registry) Create(attrs Attributes) (Session, error) {
	token, err := auth.NewToken()
	if err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	now := r.now()
	e := &entry{attrs: attrs, createdAt: now, expiresAt: now.Add(r.ttl)}

	r.mu.Lock()
	r.entries[auth.HashToken(token)] = e
	r.mu.Unlock()

	return e.session(token), nil
}

// Resolve looks a token up and slides its expiry forward. Expired entries
// are evicted on the spot.
func (r *Registry) Resolve(token string) (Session, error) {
	if token == "" {
		return Session{}, ErrUnauthenticated
	}
	key := auth.HashToken(token)
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return Session{}, ErrUnauthenticated
	}
	if !now.Before(e.expiresAt) {
		delete(r.entries, key)
		return Session{}, ErrUnauthenticated
	}
	e.expiresAt = now.Add(r.ttl)
	return e.session(token), nil
}

func (r *Registry) Revoke(token string) {
	if token == "" {
		return
	}
	r.mu.Lock()
	delete(r.entries, auth.HashToken(token))
	r.mu.Unlock()
}

// Sweep evicts every expired session and returns how many were removed.
func (r *Registry) Sweep() int {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for key, e := range r.entries {
		if !now.Before(e.expiresAt) {
			delete(r.entries, key)
			removed++
		}
	}
	return removed
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Run sweeps on a fixed interval until ctx is cancelled, then drops every
// session.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			r.entries = make(map[string]*entry)
			r.mu.Unlock()
			return nil
		case <-ticker.C:
			if removed := r.Sweep(); removed > 0 {
				r.logger.Debug("expired sessions evicted", "count", removed)
			}
		}
	}
}

func (e *entry) session(token string) Session {
	return Session{
		Token:     token,
		Filter:    e.attrs.Filter,
		IsAdmin:   e.attrs.IsAdmin,
		CreatedAt: e.createdAt,
		ExpiresAt: e.expiresAt,
	}
}

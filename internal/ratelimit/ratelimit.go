// Package ratelimit implements fixed-window, per-key call limits for the
// agent endpoints.
package ratelimit

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

const DefaultWindow = 60 * time.Second

// Store performs an atomic check-and-consume for one key. It returns true
// when the call is admitted. Implementations must make the read-compare-write
// atomic per key.
type Store interface {
	Consume(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (bool, error)
}

// Limiter admits at most limit calls per key in each window.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
	now    func() time.Time
}

type Option func(*Limiter)

func WithWindow(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.window = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

func New(store Store, limit int, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("ratelimit: store must not be nil")
	}
	if limit <= 0 {
		return nil, errors.New("ratelimit: limit must be positive")
	}
	l := &Limiter{
		store:  store,
		limit:  limit,
		window: DefaultWindow,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Allow consumes one call for key and reports whether it was admitted.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, errors.New("ratelimit: key must not be empty")
	}
	return l.store.Consume(ctx, key, l.limit, l.window, l.now())
}

func (l *Limiter) Limit() int { return l.limit }

func (l *Limiter) Window() time.Duration { return l.window }

// HashKey derives a stable storage key from a caller identity so that raw
// tokens are never written to a shared store.
func HashKey(identity string) string {
	sum := blake3.Sum256([]byte(identity))
	return hex.EncodeToString(sum[:])
}

// admit applies the window rules to a loaded entry. It returns the entry to
// store and whether the call is admitted. A rejected call leaves the entry
// unchanged.
func admit(e entry, found bool, limit int, window time.Duration, now time.Time) (entry, bool) {
	if !found || now.After(e.resetAt) {
		return entry{count: 1, resetAt: now.Add(window)}, true
	}
	if e.count >= limit {
		return e, false
	}
	e.count++
	return e, true
}

type entry struct {
	count   int
	resetAt time.Time
}

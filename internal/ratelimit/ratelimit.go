// Package ratelimit enforces per-client request quotas over fixed windows.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/bazaar/pkg/utils"
)

// Class is an endpoint class with its own quota.
type Class string

// Endpoint classes.
const (
	Root      Class = "root"
	Analyze   Class = "analyze"
	ModelInfo Class = "model_info"
	Admin     Class = "admin"
	Token     Class = "token"
)

// Error is returned when a client has used its quota for the current window.
type Error struct {
	Class      Class
	Limit      int
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d per window for %s", e.Limit, e.Class)
}

type key struct {
	client string
	class  Class
}

type window struct {
	start time.Time
	count int
}

// Limiter counts requests per (client, class) in fixed windows. The count stops
// at the quota, so rejected requests never extend a client's usage.
type Limiter struct {
	window time.Duration
	quotas map[Class]int
	now    func() time.Time
	logger *zap.Logger

	mu      sync.Mutex
	windows map[key]*window
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLogger sets the logger.
func WithLogger(lg *zap.Logger) Option {
	return func(l *Limiter) { l.logger = lg }
}

// New creates a Limiter. Classes missing from quotas are not limited.
func New(length time.Duration, quotas map[Class]int, opts ...Option) *Limiter {
	l := &Limiter{
		window:  length,
		quotas:  make(map[Class]int, len(quotas)),
		now:     time.Now,
		windows: make(map[key]*window),
	}
	for c, q := range quotas {
		l.quotas[c] = q
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = utils.OrNop(l.logger)
	return l
}

// Check admits one request from client in class or returns *Error.
func (l *Limiter) Check(client string, class Class) error {
	limit, ok := l.quotas[class]
	if !ok {
		return nil
	}
	now := l.now()
	k := key{client: client, class: class}

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.windows[k]
	if w == nil || !now.Before(w.start.Add(l.window)) {
		w = &window{start: now}
		l.windows[k] = w
	}
	if w.count >= limit {
		retry := w.start.Add(l.window).Sub(now)
		l.logger.Debug("rate limited",
			zap.String("client", client), zap.String("class", string(class)), zap.Duration("retry_after", retry))
		return &Error{Class: class, Limit: limit, RetryAfter: retry}
	}
	w.count++
	return nil
}

// Sweep drops expired windows and returns how many were removed.
func (l *Limiter) Sweep() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for k, w := range l.windows {
		if !now.Before(w.start.Add(l.window)) {
			delete(l.windows, k)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				l.logger.Debug("rate limit windows swept", zap.Int("removed", n))
			}
		}
	}
}

func (l *Limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

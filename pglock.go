package pglock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// DefaultTimeout is applied to acquisitions that do not override it.
	DefaultTimeout = 3 * time.Second

	// releaseTimeout bounds the unlock round trip when the caller's
	// context is already done.
	releaseTimeout = 5 * time.Second
)

// Locker hands out business-key advisory locks backed by a ConnProvider.
// Each acquisition pins one connection for the whole hold — session
// advisory locks can only be released on the connection that took them —
// and returns it once the lock is released.
type Locker struct {
	provider     ConnProvider
	timeout      time.Duration
	pollInterval time.Duration
}

func New(provider ConnProvider, opts ...Option) *Locker {
	l := &Locker{
		provider:     provider,
		timeout:      DefaultTimeout,
		pollInterval: DefaultPollInterval,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// NewFromPool is a convenience constructor over a pgx pool.
func NewFromPool(pool *pgxpool.Pool, opts ...Option) *Locker {
	return New(NewPoolProvider(pool), opts...)
}

// Guard is one held lock plus its pinned connection. Unlock must be called
// on every exit path; it runs exactly once.
//
// Each guard owns its own connection, so a nested Lock for the same key
// contends like any other caller and fails with ErrAcquireTimeout once the
// timeout elapses — it never deadlocks indefinitely. Reentrant nesting on
// a single connection is available through the Session API.
type Guard struct {
	key    string
	handle *Handle
	sess   *Session
	conn   Conn

	mu       sync.Mutex
	released bool
}

// Key returns the business key the guard was acquired for.
func (g *Guard) Key() string { return g.key }

// AcquiredAt returns when the lock was granted.
func (g *Guard) AcquiredAt() time.Time { return g.handle.AcquiredAt() }

// Lock acquires the advisory lock for key, checking out a dedicated
// connection for the hold. On conflict past the timeout it returns
// ErrAcquireTimeout and the connection goes straight back to the provider.
func (l *Locker) Lock(ctx context.Context, key string, opts ...LockOption) (*Guard, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrEmptyKey
	}
	o := newLockOptions(l.timeout, opts)

	conn, err := l.provider.Checkout(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking out connection: %w", err)
	}

	sess := NewSession(conn)
	sess.pollInterval = l.pollInterval

	handle, err := sess.Acquire(ctx, KeyID(key), o.timeout)
	if err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire %q: %w", key, err)
	}
	return &Guard{key: key, handle: handle, sess: sess, conn: conn}, nil
}

// Unlock releases the lock and returns the pinned connection. When ctx is
// already done it falls back to a short background context so the unlock
// still reaches the backend on the same connection. A failed unlock is not
// retried: if the connection broke, its closure already released the lock.
func (g *Guard) Unlock(ctx context.Context) error {
	g.mu.Lock()
	if g.released {
		g.mu.Unlock()
		return ErrReleased
	}
	g.released = true
	g.mu.Unlock()

	defer g.conn.Release()

	if ctx == nil || ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
	}
	if err := g.sess.Release(ctx, g.handle); err != nil {
		return fmt.Errorf("release %q: %w", g.key, err)
	}
	return nil
}

// WithLock runs fn while holding the advisory lock for key. The lock is
// released on every exit path — normal return, error, or panic. If the
// lock cannot be acquired in time, fn never runs and ErrAcquireTimeout is
// returned.
func (l *Locker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error, opts ...LockOption) error {
	guard, err := l.Lock(ctx, key, opts...)
	if err != nil {
		return err
	}
	// Unlock falls back to a background context if ctx died inside fn.
	defer guard.Unlock(ctx) //nolint:errcheck
	return fn(ctx)
}

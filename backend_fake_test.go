package pglock_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alanyang/pglock"
)

var errFakeConnDown = errors.New("fake conn: connection closed")

// fakeBackend models the Postgres advisory-lock manager in memory: locks
// are owned per connection with session-level reference counting, exactly
// like pg_advisory_lock. It lets the unit tests exercise real contention
// across "connections" without a database.
type fakeBackend struct {
	mu       sync.Mutex
	locks    map[int64]*fakeLockState
	attempts []int64 // every id a try/lock call was issued for
}

type fakeLockState struct {
	holder *fakeConn
	count  int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{locks: make(map[int64]*fakeLockState)}
}

func (b *fakeBackend) tryLock(c *fakeConn, id int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts = append(b.attempts, id)
	st, ok := b.locks[id]
	if !ok {
		b.locks[id] = &fakeLockState{holder: c, count: 1}
		return true
	}
	if st.holder == c {
		st.count++
		return true
	}
	return false
}

// unlock mirrors pg_advisory_unlock: false when this connection does not
// hold the lock.
func (b *fakeBackend) unlock(c *fakeConn, id int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.locks[id]
	if !ok || st.holder != c {
		return false
	}
	st.count--
	if st.count == 0 {
		delete(b.locks, id)
	}
	return true
}

func (b *fakeBackend) heldBy(id int64) *fakeConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.locks[id]; ok {
		return st.holder
	}
	return nil
}

func (b *fakeBackend) attemptedIDs() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int64(nil), b.attempts...)
}

func (b *fakeBackend) newConn() *fakeConn {
	return &fakeConn{backend: b}
}

// fakeRow carries the single boolean pg_try_advisory_lock and
// pg_advisory_unlock return.
type fakeRow struct {
	value bool
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*bool)) = r.value
	return nil
}

// fakeConn satisfies pglock.Conn against the in-memory backend.
type fakeConn struct {
	backend *fakeBackend

	mu             sync.Mutex
	failing        bool
	releasedToPool bool
}

func (c *fakeConn) fail() {
	c.mu.Lock()
	c.failing = true
	c.mu.Unlock()
}

func (c *fakeConn) down() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failing
}

func (c *fakeConn) returned() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.releasedToPool
}

func (c *fakeConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if c.down() {
		return pgconn.CommandTag{}, errFakeConnDown
	}
	if err := ctx.Err(); err != nil {
		return pgconn.CommandTag{}, err
	}
	if !strings.Contains(sql, "pg_advisory_lock") {
		return pgconn.CommandTag{}, fmt.Errorf("fake conn: unexpected exec %q", sql)
	}
	// Blocking variant: wait until the lock frees up or ctx ends.
	id := args[0].(int64)
	for {
		if c.backend.tryLock(c, id) {
			return pgconn.CommandTag{}, nil
		}
		select {
		case <-ctx.Done():
			return pgconn.CommandTag{}, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (c *fakeConn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if c.down() {
		return fakeRow{err: errFakeConnDown}
	}
	if err := ctx.Err(); err != nil {
		return fakeRow{err: err}
	}
	id := args[0].(int64)
	switch {
	case strings.Contains(sql, "pg_try_advisory_lock"):
		return fakeRow{value: c.backend.tryLock(c, id)}
	case strings.Contains(sql, "pg_advisory_unlock"):
		return fakeRow{value: c.backend.unlock(c, id)}
	default:
		return fakeRow{err: fmt.Errorf("fake conn: unexpected query %q", sql)}
	}
}

func (c *fakeConn) Ping(ctx context.Context) error {
	if c.down() {
		return errFakeConnDown
	}
	return ctx.Err()
}

func (c *fakeConn) Release() {
	c.mu.Lock()
	c.releasedToPool = true
	c.mu.Unlock()
}

// fakeProvider checks out a fresh fake connection per hold and records
// every connection it handed out.
type fakeProvider struct {
	backend *fakeBackend

	mu    sync.Mutex
	conns []*fakeConn
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{backend: newFakeBackend()}
}

func (p *fakeProvider) Checkout(_ context.Context) (pglock.Conn, error) {
	conn := p.backend.newConn()
	p.mu.Lock()
	p.conns = append(p.conns, conn)
	p.mu.Unlock()
	return conn, nil
}

func (p *fakeProvider) checkouts() []*fakeConn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*fakeConn(nil), p.conns...)
}

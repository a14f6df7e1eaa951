package pglock

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Conn is the minimal connection surface the lock core needs: two SQL calls
// and a liveness check, all bound to a single database session. A Conn must
// not be shared with another consumer while a lock acquired on it is held —
// advisory locks are session-scoped and releasing requires the exact same
// connection.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error

	// Release returns the connection to its owner (e.g. back to the pool).
	Release()
}

// ConnProvider supplies a checked-out connection for the duration of one
// lock hold. Implementations must hand out connections that stay pinned to
// the caller until Release.
type ConnProvider interface {
	Checkout(ctx context.Context) (Conn, error)
}

// PoolProvider adapts a pgxpool.Pool to the ConnProvider contract.
// *pgxpool.Conn already satisfies Conn.
type PoolProvider struct {
	pool *pgxpool.Pool
}

func NewPoolProvider(pool *pgxpool.Pool) *PoolProvider {
	return &PoolProvider{pool: pool}
}

func (p *PoolProvider) Checkout(ctx context.Context) (Conn, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring pooled connection: %w", err)
	}
	return conn, nil
}

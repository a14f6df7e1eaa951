// Package pglock serialises application-level critical sections across all
// processes sharing one Postgres database, using session advisory locks
// keyed by business identifiers instead of rows.
//
// A string key such as "withdraw:user:42" is hashed to the 64-bit
// identifier pg_advisory_lock expects (KeyID), acquired on a connection
// pinned for the whole hold, and released on every exit path:
//
//	locker := pglock.NewFromPool(pool)
//
//	err := locker.WithLock(ctx, "withdraw:user:42", func(ctx context.Context) error {
//	    return withdraw(ctx, userID, amount)
//	})
//
// Safe wraps a function declaratively, deriving the key per invocation from
// a template and handing conflicts to a policy instead of the caller:
//
//	buy := locker.Safe("stock:{sku}", buyFn,
//	    pglock.WithTimeout(2*time.Second),
//	    pglock.OnConflict(busyFn),
//	)
//
// Locks live only in the backend's session state: if the holding connection
// closes or the process crashes, Postgres releases the lock automatically.
// There is no fairness ordering among waiters beyond what Postgres provides.
package pglock

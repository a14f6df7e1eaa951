package pglock

import "errors"

// Sentinel errors returned by the locking API. Match with errors.Is:
//
//	if errors.Is(err, pglock.ErrAcquireTimeout) {
//	    // lock is busy
//	}
var (
	// ErrLockHeld is returned by Session.TryAcquire when the advisory lock
	// is currently held by another session. Acquire retries on this error
	// until its timeout elapses.
	ErrLockHeld = errors.New("pglock: lock held by another session")

	// ErrAcquireTimeout is returned when a lock could not be acquired
	// within the configured timeout. The guarded body is never entered.
	ErrAcquireTimeout = errors.New("pglock: lock acquire timed out")

	// ErrConnectionLost is returned when the underlying connection is no
	// longer usable. Lock status is unknown; callers must assume the lock
	// is not held and must not attempt a release — Postgres drops session
	// advisory locks automatically when the connection closes.
	ErrConnectionLost = errors.New("pglock: database connection lost")

	// ErrKeyRender is returned when a key template references a
	// placeholder that has no matching argument.
	ErrKeyRender = errors.New("pglock: key template render failed")

	// ErrNotOwner is returned when releasing a handle on a session other
	// than the one that acquired it, or when the backend reports the lock
	// is not held by this session.
	ErrNotOwner = errors.New("pglock: lock not held by this session")

	// ErrReleased is returned when a handle or guard is released more
	// than once.
	ErrReleased = errors.New("pglock: lock already released")

	// ErrEmptyKey is returned when the lock key is empty or whitespace.
	ErrEmptyKey = errors.New("pglock: key must not be empty")
)

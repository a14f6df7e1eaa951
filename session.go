package pglock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v5"
)

// DefaultPollInterval is the pause between pg_try_advisory_lock attempts
// while Acquire waits for a contended lock.
const DefaultPollInterval = 50 * time.Millisecond

// Session issues advisory-lock calls on one checked-out connection and
// tracks which identifiers that connection currently holds.
//
// Nested acquisition of the same identifier on the same Session is
// reentrant: the existing handle's depth is incremented and the physical
// pg_advisory_unlock happens only when the outermost Release brings the
// depth back to zero. This mirrors Postgres itself, which counts repeated
// session-level acquisitions on one connection.
//
// A Session has one logical owner at a time; the internal mutex only keeps
// the bookkeeping map coherent, it does not make concurrent acquisition on
// a single connection a supported pattern.
type Session struct {
	conn         Conn
	pollInterval time.Duration

	mu   sync.Mutex
	held map[int64]*Handle
}

func NewSession(conn Conn) *Session {
	return &Session{
		conn:         conn,
		pollInterval: DefaultPollInterval,
		held:         make(map[int64]*Handle),
	}
}

// Handle represents one held advisory lock. It is owned by the Session that
// created it and must be released through that same Session.
type Handle struct {
	id         int64
	sess       *Session
	acquiredAt time.Time
	depth      int
}

// ID returns the numeric advisory-lock identifier.
func (h *Handle) ID() int64 { return h.id }

// AcquiredAt returns when the outermost acquisition succeeded.
func (h *Handle) AcquiredAt() time.Time { return h.acquiredAt }

// TryAcquire issues a single non-blocking pg_try_advisory_lock call.
// Outcomes: (handle, nil) on success, ErrLockHeld when another session
// holds the lock, ErrConnectionLost when the connection is unusable.
func (s *Session) TryAcquire(ctx context.Context, id int64) (*Handle, error) {
	if h := s.reenter(id); h != nil {
		return h, nil
	}

	var acquired bool
	if err := s.conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", id).Scan(&acquired); err != nil {
		return nil, classify("pg_try_advisory_lock", err)
	}
	if !acquired {
		return nil, fmt.Errorf("%w: id %d", ErrLockHeld, id)
	}
	return s.adopt(id), nil
}

// Acquire obtains the lock within timeout. A timeout <= 0 blocks
// indefinitely using the backend's native pg_advisory_lock (cancellable via
// ctx). A positive timeout polls pg_try_advisory_lock at the session's poll
// interval and returns ErrAcquireTimeout once the deadline elapses without
// success — never a partially-acquired state.
func (s *Session) Acquire(ctx context.Context, id int64, timeout time.Duration) (*Handle, error) {
	if h := s.reenter(id); h != nil {
		return h, nil
	}

	if timeout <= 0 {
		if _, err := s.conn.Exec(ctx, "SELECT pg_advisory_lock($1)", id); err != nil {
			return nil, classify("pg_advisory_lock", err)
		}
		return s.adopt(id), nil
	}

	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var handle *Handle
	err := retry.New(
		retry.Context(deadline),
		retry.UntilSucceeded(),
		retry.RetryIf(func(err error) bool { return errors.Is(err, ErrLockHeld) }),
		retry.DelayType(func(_ uint, _ error, _ retry.DelayContext) time.Duration {
			return s.pollInterval
		}),
		retry.LastErrorOnly(true),
	).Do(func() error {
		h, err := s.TryAcquire(deadline, id)
		if err != nil {
			return err
		}
		handle = h
		return nil
	})

	switch {
	case err == nil:
		return handle, nil
	case errors.Is(err, ErrConnectionLost):
		return nil, err
	case ctx.Err() != nil:
		// The caller's context ended, not our acquisition deadline.
		return nil, ctx.Err()
	default:
		return nil, fmt.Errorf("%w: id %d not acquired within %s", ErrAcquireTimeout, id, timeout)
	}
}

// Release undoes one acquisition of the handle. The physical
// pg_advisory_unlock runs only when the reentrancy depth reaches zero, and
// must run on the connection that acquired the lock: a handle from another
// Session is rejected with ErrNotOwner, releasing twice returns
// ErrReleased. A release that fails with ErrConnectionLost is not retried —
// the connection's closure already released the lock server-side.
func (s *Session) Release(ctx context.Context, h *Handle) error {
	if h == nil {
		return ErrReleased
	}
	if h.sess != s {
		return fmt.Errorf("%w: handle was acquired on a different session", ErrNotOwner)
	}

	s.mu.Lock()
	if h.depth == 0 {
		s.mu.Unlock()
		return ErrReleased
	}
	h.depth--
	if h.depth > 0 {
		s.mu.Unlock()
		return nil
	}
	delete(s.held, h.id)
	s.mu.Unlock()

	var released bool
	if err := s.conn.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", h.id).Scan(&released); err != nil {
		return classify("pg_advisory_unlock", err)
	}
	if !released {
		// Postgres reports false when this session does not hold the lock.
		return fmt.Errorf("%w: backend reports advisory lock %d not held", ErrNotOwner, h.id)
	}
	return nil
}

// Alive reports whether the session's connection still answers a ping.
func (s *Session) Alive(ctx context.Context) bool {
	return s.conn.Ping(ctx) == nil
}

// reenter bumps the depth of an already-held handle, or returns nil when
// the id is not held on this session.
func (s *Session) reenter(id int64) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.held[id]; ok {
		h.depth++
		return h
	}
	return nil
}

func (s *Session) adopt(id int64) *Handle {
	h := &Handle{id: id, sess: s, acquiredAt: time.Now(), depth: 1}
	s.mu.Lock()
	s.held[id] = h
	s.mu.Unlock()
	return h
}

// classify maps a failed backend call to the error taxonomy: context
// cancellation passes through, anything else means the session's connection
// can no longer be trusted.
func classify(call string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", call, ErrConnectionLost, err)
}

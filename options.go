package pglock

import "time"

// Option configures a Locker.
type Option func(*Locker)

// WithDefaultTimeout sets the acquisition timeout used when a call site
// does not override it. Values <= 0 make acquisitions block indefinitely.
// Default: DefaultTimeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(l *Locker) {
		l.timeout = d
	}
}

// WithPollInterval sets the pause between try-acquire attempts while
// waiting for a contended lock. Default: DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(l *Locker) {
		if d > 0 {
			l.pollInterval = d
		}
	}
}

// LockOption configures a single acquisition. Options are shared between
// Lock/WithLock and Safe; OnConflict and WithKeyFunc only have an effect on
// Safe-wrapped functions.
type LockOption func(*lockOptions)

type lockOptions struct {
	timeout    time.Duration
	onConflict Func
	keyFunc    func(Args) string
}

func newLockOptions(defaultTimeout time.Duration, opts []LockOption) *lockOptions {
	o := &lockOptions{timeout: defaultTimeout}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithTimeout overrides the locker's default acquisition timeout for this
// call. A value <= 0 blocks indefinitely (cancellable via ctx).
func WithTimeout(d time.Duration) LockOption {
	return func(o *lockOptions) {
		o.timeout = d
	}
}

// OnConflict installs a handler invoked by a Safe-wrapped function when the
// lock cannot be acquired in time. The handler receives the original call's
// arguments and its result is returned in place of the wrapped function's —
// which is never executed under a conflict. Without a handler the conflict
// propagates as ErrAcquireTimeout.
func OnConflict(handler Func) LockOption {
	return func(o *lockOptions) {
		o.onConflict = handler
	}
}

// WithKeyFunc replaces template rendering in Safe with a caller-supplied
// key derivation over the invocation's arguments.
func WithKeyFunc(fn func(Args) string) LockOption {
	return func(o *lockOptions) {
		o.keyFunc = fn
	}
}

package pglock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Args carries a wrapped function's named arguments. Template placeholders
// are substituted from it by name.
type Args map[string]any

// Func is the call signature Safe wraps and conflict handlers implement.
type Func func(ctx context.Context, args Args) (any, error)

// Safe wraps fn so that each invocation runs under the advisory lock named
// by keyTemplate rendered against the invocation's arguments — e.g.
// "stock:{sku}" with Args{"sku": "ABC"} locks "stock:ABC". Invocations are
// independent; no state is kept between calls.
//
// On conflict past the timeout the wrapped function is not executed: the
// OnConflict handler's result is returned if one was configured, otherwise
// ErrAcquireTimeout propagates. A template placeholder with no matching
// argument fails the call with ErrKeyRender before any lock is taken.
func (l *Locker) Safe(keyTemplate string, fn Func, opts ...LockOption) Func {
	o := newLockOptions(l.timeout, opts)

	return func(ctx context.Context, args Args) (any, error) {
		key, err := resolveKey(keyTemplate, o.keyFunc, args)
		if err != nil {
			return nil, err
		}

		guard, err := l.Lock(ctx, key, WithTimeout(o.timeout))
		if err != nil {
			if errors.Is(err, ErrAcquireTimeout) && o.onConflict != nil {
				return o.onConflict(ctx, args)
			}
			return nil, err
		}
		defer guard.Unlock(ctx) //nolint:errcheck

		return fn(ctx, args)
	}
}

// resolveKey derives the lock key from either the caller-supplied key
// function or the template.
func resolveKey(template string, keyFunc func(Args) string, args Args) (string, error) {
	if keyFunc != nil {
		return keyFunc(args), nil
	}
	return renderKey(template, args)
}

// renderKey substitutes {name} placeholders with the matching Args values,
// formatted with %v. There is no escape syntax; lock-key templates have no
// business containing literal braces.
func renderKey(template string, args Args) (string, error) {
	var b strings.Builder
	for i := 0; i < len(template); {
		if template[i] != '{' {
			b.WriteByte(template[i])
			i++
			continue
		}
		end := strings.IndexByte(template[i:], '}')
		if end < 0 {
			return "", fmt.Errorf("%w: unterminated placeholder in %q", ErrKeyRender, template)
		}
		name := template[i+1 : i+end]
		if name == "" {
			return "", fmt.Errorf("%w: empty placeholder in %q", ErrKeyRender, template)
		}
		value, ok := args[name]
		if !ok {
			return "", fmt.Errorf("%w: template references %q, not present in arguments (available: %s)",
				ErrKeyRender, name, strings.Join(argNames(args), ", "))
		}
		fmt.Fprintf(&b, "%v", value)
		i += end + 1
	}
	return b.String(), nil
}

func argNames(args Args) []string {
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

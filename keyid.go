package pglock

import "github.com/cespare/xxhash/v2"

// KeyID maps an arbitrary business key to the signed 64-bit identifier
// Postgres advisory locks require. It is the XXH64 hash (seed 0) of the
// key's UTF-8 bytes reinterpreted as an int64, so the same key yields the
// same identifier in every process and on every platform — that is what
// makes the lock effective across independent workers sharing one database.
//
// KeyID is total: every string, including the empty string, maps to an
// identifier. Distinct keys collide with probability ~n²/2⁶⁵ for n keys in
// use; a collision silently merges two unrelated critical sections, so keep
// key cardinality far below 2³² (a billion keys ≈ 3% collision chance,
// a million ≈ 3e-8).
//
// Interop note: processes in other languages contending for the same locks
// must compute XXH64(key) with seed 0 and reinterpret the unsigned result
// as a two's-complement int64.
func KeyID(key string) int64 {
	return int64(xxhash.Sum64String(key))
}

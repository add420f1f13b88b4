// Package ring provides bounded-history helpers for slices that live inside
// persisted JSON documents. It is kept in internal because the eviction policy
// (oldest-first) is a storage detail, not public API.
package ring

// Append adds v to the end of s and evicts from the front so that the result
// never exceeds max entries. A max of zero or less means unbounded.
func Append[T any](s []T, v T, max int) []T {
	s = append(s, v)
	if max > 0 && len(s) > max {
		// Copy down instead of re-slicing so the backing array does not pin
		// evicted entries.
		n := len(s) - max
		out := make([]T, max)
		copy(out, s[n:])
		return out
	}
	return s
}

// Trim evicts from the front of s until it has at most max entries.
// A max of zero or less means unbounded and s is returned unchanged.
func Trim[T any](s []T, max int) []T {
	if max <= 0 || len(s) <= max {
		return s
	}
	out := make([]T, max)
	copy(out, s[len(s)-max:])
	return out
}

package utils

import "cmp"

// Clamp returns v limited to the range [lo, hi].
func Clamp[T cmp.Ordered](v, lo, hi T) T {
	return max(lo, min(v, hi))
}

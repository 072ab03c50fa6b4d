package gridsampler

import "golang.org/x/exp/constraints"

// RoundUpToMultiple returns v unchanged when it is already a multiple of
// m, otherwise the next multiple of m above v. The remainder is floored,
// so negative values still round upward on the lattice anchored at zero:
// RoundUpToMultiple(-30, 50) == 0, RoundUpToMultiple(-50, 50) == -50.
// m must be positive.
func RoundUpToMultiple[T constraints.Integer](v, m T) T {
	r := v % m
	if r == 0 {
		return v
	}
	if r < 0 {
		r += m
	}
	return v + m - r
}

package utils

import "gonum.org/v1/gonum/floats"

// NormalizeL2 normalizes the slice in place to unit L2 norm.
// If the norm is zero, the slice is unchanged.
func NormalizeL2(x []float64) {
	norm := floats.Norm(x, 2)
	if norm == 0 {
		return
	}
	floats.Scale(1/norm, x)
}

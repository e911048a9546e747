package classifier

// sparseVec holds the non-zero entries of a feature vector. TF-IDF vectors are
// mostly zeros, so training loops iterate these instead of the full dimension.
type sparseVec struct {
	idx []int
	val []float64
}

func toSparse(x []float64) sparseVec {
	var s sparseVec
	for j, v := range x {
		if v != 0 {
			s.idx = append(s.idx, j)
			s.val = append(s.val, v)
		}
	}
	return s
}

func toSparseAll(X [][]float64) []sparseVec {
	out := make([]sparseVec, len(X))
	for i, x := range X {
		out[i] = toSparse(x)
	}
	return out
}

func (s sparseVec) dot(w []float64) float64 {
	var sum float64
	for n, j := range s.idx {
		sum += w[j] * s.val[n]
	}
	return sum
}

func dim(X [][]float64) int {
	if len(X) == 0 {
		return 0
	}
	return len(X[0])
}

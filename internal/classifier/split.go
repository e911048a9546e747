package classifier

import (
	"math"
	"math/rand"
	"sort"
)

// byClass groups sample indices by class code, in index order.
func byClass(y []int) (map[int][]int, []int) {
	groups := map[int][]int{}
	for i, c := range y {
		groups[c] = append(groups[c], i)
	}
	codes := make([]int, 0, len(groups))
	for c := range groups {
		codes = append(codes, c)
	}
	sort.Ints(codes)
	return groups, codes
}

// stratifiedSplit partitions sample indices into train and test sets, keeping
// class proportions. Each class keeps at least one sample in train. The result
// depends only on y, testSize, and seed; both partitions are sorted.
func stratifiedSplit(y []int, testSize float64, seed int64) (train, test []int) {
	rng := rand.New(rand.NewSource(seed))
	groups, codes := byClass(y)
	for _, c := range codes {
		idx := append([]int(nil), groups[c]...)
		rng.Shuffle(len(idx), func(a, b int) { idx[a], idx[b] = idx[b], idx[a] })
		nTest := int(math.Round(float64(len(idx)) * testSize))
		if nTest > len(idx)-1 {
			nTest = len(idx) - 1
		}
		test = append(test, idx[:nTest]...)
		train = append(train, idx[nTest:]...)
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test
}

// stratifiedFolds deals each class's shuffled samples round-robin into k folds.
// Each returned fold lists its validation indices, sorted.
func stratifiedFolds(y []int, k int, seed int64) [][]int {
	rng := rand.New(rand.NewSource(seed))
	groups, codes := byClass(y)
	folds := make([][]int, k)
	for _, c := range codes {
		idx := append([]int(nil), groups[c]...)
		rng.Shuffle(len(idx), func(a, b int) { idx[a], idx[b] = idx[b], idx[a] })
		for n, i := range idx {
			folds[n%k] = append(folds[n%k], i)
		}
	}
	for _, f := range folds {
		sort.Ints(f)
	}
	return folds
}

// complement returns the indices in [0,n) not in sorted.
func complement(n int, sorted []int) []int {
	out := make([]int, 0, n-len(sorted))
	j := 0
	for i := 0; i < n; i++ {
		if j < len(sorted) && sorted[j] == i {
			j++
			continue
		}
		out = append(out, i)
	}
	return out
}

func subset(X [][]float64, y []int, idx []int) ([][]float64, []int) {
	xs := make([][]float64, len(idx))
	ys := make([]int, len(idx))
	for n, i := range idx {
		xs[n] = X[i]
		ys[n] = y[i]
	}
	return xs, ys
}

package classifier

import (
	"context"
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// svm is a one-vs-rest linear SVM trained with Pegasos-style stochastic
// sub-gradient descent on the hinge loss. The bias is a constant feature.
// Proba turns the per-class margins into a distribution with a softmax.
type svm struct {
	W [][]float64 `json:"weights"`

	classes int
	params  Params
}

func newSVM(classes int, p Params) *svm {
	return &svm{classes: classes, params: p}
}

func (m *svm) Algorithm() string { return LinearSVM }
func (m *svm) Params() Params    { return m.params.Clone() }

// pegasosOffset keeps the first step sizes finite and the weight scale positive.
const pegasosOffset = 2

func (m *svm) Fit(ctx context.Context, X [][]float64, y []int) error {
	if len(X) == 0 || len(X) != len(y) {
		return fmt.Errorf("linear svm: %d samples, %d labels", len(X), len(y))
	}
	d := dim(X)
	lambda := m.params["lambda"]
	epochs := int(m.params["epochs"])
	xs := toSparseAll(X)
	order := make([]int, len(xs))

	W := make([][]float64, m.classes)
	for k := range W {
		// v scaled by s is the weight vector; index d is the bias.
		v := make([]float64, d+1)
		s := 1.0
		t := 0
		for epoch := 0; epoch < epochs; epoch++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			for i := range order {
				order[i] = i
			}
			rng := rand.New(rand.NewSource(int64(epoch + 1)))
			rng.Shuffle(len(order), func(a, b int) { order[a], order[b] = order[b], order[a] })

			for _, i := range order {
				t++
				eta := 1 / (lambda * float64(t+pegasosOffset))
				target := -1.0
				if y[i] == k {
					target = 1
				}
				margin := s * (xs[i].dot(v) + v[d])
				s *= 1 - eta*lambda
				if target*margin < 1 {
					step := eta * target / s
					for nz, j := range xs[i].idx {
						v[j] += step * xs[i].val[nz]
					}
					v[d] += step
				}
				if s < 1e-9 {
					for j := range v {
						v[j] *= s
					}
					s = 1
				}
			}
		}
		for j := range v {
			v[j] *= s
		}
		W[k] = v
	}
	m.W = W
	return nil
}

func (m *svm) Proba(x []float64) []float64 {
	z := make([]float64, m.classes)
	for k, w := range m.W {
		d := len(w) - 1
		z[k] = floats.Dot(w[:d], x) + w[d]
	}
	return softmax(z)
}

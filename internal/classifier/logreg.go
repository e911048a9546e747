package classifier

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// logReg is multinomial logistic regression fitted by full-batch gradient
// descent with L2 regularization. Weights start at zero, so fitting is deterministic.
type logReg struct {
	W [][]float64 `json:"weights"`
	B []float64   `json:"bias"`

	classes int
	params  Params
}

func newLogReg(classes int, p Params) *logReg {
	return &logReg{classes: classes, params: p}
}

func (m *logReg) Algorithm() string { return LogisticRegression }
func (m *logReg) Params() Params    { return m.params.Clone() }

func (m *logReg) Fit(ctx context.Context, X [][]float64, y []int) error {
	if len(X) == 0 || len(X) != len(y) {
		return fmt.Errorf("logistic regression: %d samples, %d labels", len(X), len(y))
	}
	d := dim(X)
	lr := m.params["learning_rate"]
	l2 := m.params["l2"]
	epochs := int(m.params["epochs"])
	n := float64(len(X))

	W := make([][]float64, m.classes)
	gradW := make([][]float64, m.classes)
	for k := range W {
		W[k] = make([]float64, d)
		gradW[k] = make([]float64, d)
	}
	B := make([]float64, m.classes)
	gradB := make([]float64, m.classes)
	xs := toSparseAll(X)
	z := make([]float64, m.classes)

	for epoch := 0; epoch < epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for k := range gradW {
			for j := range gradW[k] {
				gradW[k][j] = 0
			}
			gradB[k] = 0
		}
		for i, x := range xs {
			for k := range z {
				z[k] = B[k] + x.dot(W[k])
			}
			softmax(z)
			for k, p := range z {
				g := p
				if y[i] == k {
					g -= 1
				}
				gradB[k] += g
				for nz, j := range x.idx {
					gradW[k][j] += g * x.val[nz]
				}
			}
		}
		for k := range W {
			// W -= lr * (grad/n + l2*W)
			floats.Scale(1-lr*l2, W[k])
			floats.AddScaled(W[k], -lr/n, gradW[k])
			B[k] -= lr * gradB[k] / n
		}
	}
	m.W, m.B = W, B
	return nil
}

func (m *logReg) Proba(x []float64) []float64 {
	z := make([]float64, m.classes)
	for k := range z {
		z[k] = m.B[k] + floats.Dot(m.W[k], x)
	}
	return softmax(z)
}

package classifier

import (
	"context"
	"fmt"
	"math"
)

// minAlpha keeps log probabilities finite when alpha is configured as zero.
const minAlpha = 1e-10

// bayes is multinomial naive Bayes over non-negative feature weights with
// additive (Laplace/Lidstone) smoothing.
type bayes struct {
	LogPrior []float64   `json:"log_prior"`
	LogProb  [][]float64 `json:"log_prob"`

	classes int
	params  Params
}

func newBayes(classes int, p Params) *bayes {
	return &bayes{classes: classes, params: p}
}

func (m *bayes) Algorithm() string { return NaiveBayes }
func (m *bayes) Params() Params    { return m.params.Clone() }

func (m *bayes) Fit(ctx context.Context, X [][]float64, y []int) error {
	if len(X) == 0 || len(X) != len(y) {
		return fmt.Errorf("naive bayes: %d samples, %d labels", len(X), len(y))
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	d := dim(X)
	alpha := m.params["alpha"]
	if alpha < minAlpha {
		alpha = minAlpha
	}

	counts := make([]float64, m.classes)
	featureSum := make([][]float64, m.classes)
	for k := range featureSum {
		featureSum[k] = make([]float64, d)
	}
	for i, x := range X {
		counts[y[i]]++
		for j, v := range x {
			if v > 0 {
				featureSum[y[i]][j] += v
			}
		}
	}

	n := float64(len(X))
	logPrior := make([]float64, m.classes)
	logProb := make([][]float64, m.classes)
	for k := range logProb {
		// Smoothing keeps unseen classes finite.
		logPrior[k] = math.Log((counts[k] + 1) / (n + float64(m.classes)))
		var total float64
		for _, v := range featureSum[k] {
			total += v
		}
		denom := total + alpha*float64(d)
		logProb[k] = make([]float64, d)
		for j, v := range featureSum[k] {
			if denom == 0 {
				logProb[k][j] = -math.Log(float64(d))
				continue
			}
			logProb[k][j] = math.Log((v + alpha) / denom)
		}
	}
	m.LogPrior, m.LogProb = logPrior, logProb
	return nil
}

func (m *bayes) Proba(x []float64) []float64 {
	z := make([]float64, m.classes)
	for k := range z {
		z[k] = m.LogPrior[k]
		for j, v := range x {
			if v > 0 {
				z[k] += v * m.LogProb[k][j]
			}
		}
	}
	return softmax(z)
}

package classifier

import (
	"context"
	"fmt"
	"sort"
)

// Grid maps hyperparameter names to candidate values.
type Grid map[string][]float64

// Candidates expands g into parameter sets. Names are taken in sorted order and
// the last name varies fastest, so the order is stable for a given grid. An
// empty grid yields a single empty candidate.
func (g Grid) Candidates() []Params {
	names := make([]string, 0, len(g))
	for name := range g {
		names = append(names, name)
	}
	sort.Strings(names)

	out := []Params{{}}
	for _, name := range names {
		next := make([]Params, 0, len(out)*len(g[name]))
		for _, base := range out {
			for _, v := range g[name] {
				p := base.Clone()
				p[name] = v
				next = append(next, p)
			}
		}
		out = next
	}
	return out
}

// TuneOptions control cross-validation.
type TuneOptions struct {
	Scheme              Scheme
	Seed                int64
	Folds               int
	MinExamplesPerClass int
}

// CandidateScore is the cross-validated score of one candidate.
type CandidateScore struct {
	Params  Params  `json:"params"`
	Metrics Metrics `json:"metrics"`
}

// TuneResult is the outcome of a grid search.
type TuneResult struct {
	Algorithm   string           `json:"algorithm"`
	BestParams  Params           `json:"best_params"`
	BestMetrics Metrics          `json:"best_metrics"`
	Candidates  []CandidateScore `json:"candidates"`
	Folds       int              `json:"folds"`
}

// Tune scores every grid candidate (merged over base) with stratified k-fold
// cross-validation and picks the highest mean F1. Ties keep the earlier
// candidate. The fold count is capped by the smallest class size.
func Tune(ctx context.Context, algorithm string, base Params, X [][]float64, y []int, grid Grid, opts TuneOptions) (*TuneResult, error) {
	if len(X) != len(y) {
		return nil, &TrainingError{Reason: fmt.Sprintf("%d texts but %d labels", len(X), len(y))}
	}
	if err := CheckLabels(opts.Scheme, y, opts.MinExamplesPerClass); err != nil {
		return nil, err
	}
	for name, values := range grid {
		if len(values) == 0 {
			return nil, fmt.Errorf("param_grid %q has no values", name)
		}
	}

	groups, _ := byClass(y)
	k := opts.Folds
	for _, idx := range groups {
		if len(idx) < k {
			k = len(idx)
		}
	}
	if k < 2 {
		return nil, &TrainingError{Reason: "cross-validation needs at least 2 examples per class"}
	}
	folds := stratifiedFolds(y, k, opts.Seed)

	candidates := grid.Candidates()
	resolved := make([]Params, len(candidates))
	for i, cand := range candidates {
		merged := base.Clone()
		for name, v := range cand {
			merged[name] = v
		}
		p, err := ResolveParams(algorithm, merged)
		if err != nil {
			return nil, err
		}
		resolved[i] = p
	}

	res := &TuneResult{Algorithm: algorithm, Folds: k}
	best := -1
	for _, p := range resolved {
		scores := make([]Metrics, 0, k)
		for _, val := range folds {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			c, err := New(algorithm, opts.Scheme.NumClasses(), p)
			if err != nil {
				return nil, err
			}
			Xtr, ytr := subset(X, y, complement(len(y), val))
			Xva, yva := subset(X, y, val)
			if err := c.Fit(ctx, Xtr, ytr); err != nil {
				return nil, err
			}
			if err := checkFinite(c, Xtr); err != nil {
				return nil, err
			}
			scores = append(scores, Evaluate(c, opts.Scheme, Xva, yva))
		}
		m := meanMetrics(scores)
		res.Candidates = append(res.Candidates, CandidateScore{Params: p, Metrics: m})
		if best < 0 || m.F1 > res.Candidates[best].Metrics.F1 {
			best = len(res.Candidates) - 1
		}
	}
	res.BestParams = res.Candidates[best].Params.Clone()
	res.BestMetrics = res.Candidates[best].Metrics
	return res, nil
}

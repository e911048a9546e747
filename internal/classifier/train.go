package classifier

import (
	"context"
	"fmt"
	"math"
)

// TrainingError reports insufficient or degenerate training data.
type TrainingError struct {
	Reason string
}

func (e *TrainingError) Error() string {
	return "training failed: " + e.Reason
}

// TrainOptions control the train/test split.
type TrainOptions struct {
	Scheme              Scheme
	Seed                int64
	TestSize            float64
	MinExamplesPerClass int
}

// Report holds metrics for both partitions of a training run.
type Report struct {
	Train Metrics `json:"train"`
	Test  Metrics `json:"test"`
}

// CheckLabels verifies that y uses only scheme class codes, covers at least two
// classes, and has at least minPerClass examples of every class present.
func CheckLabels(scheme Scheme, y []int, minPerClass int) error {
	if len(y) == 0 {
		return &TrainingError{Reason: "no training examples"}
	}
	counts := map[int]int{}
	for _, c := range y {
		if c < 0 || c >= scheme.NumClasses() {
			return &TrainingError{Reason: fmt.Sprintf("label %d is not a %s class", c, scheme.Name)}
		}
		counts[c]++
	}
	for _, c := range scheme.Priority {
		if n := counts[c]; n > 0 && n < minPerClass {
			return &TrainingError{Reason: fmt.Sprintf("class %s has %d examples, need at least %d",
				scheme.ClassName(c), n, minPerClass)}
		}
	}
	if len(counts) < 2 {
		return &TrainingError{Reason: fmt.Sprintf("need examples of at least 2 classes, got %d", len(counts))}
	}
	return nil
}

// Train splits X and y with a seeded stratified split, fits c on the train
// partition, and scores both partitions.
func Train(ctx context.Context, c Classifier, X [][]float64, y []int, opts TrainOptions) (Report, error) {
	if len(X) != len(y) {
		return Report{}, &TrainingError{Reason: fmt.Sprintf("%d texts but %d labels", len(X), len(y))}
	}
	if err := CheckLabels(opts.Scheme, y, opts.MinExamplesPerClass); err != nil {
		return Report{}, err
	}

	trainIdx, testIdx := stratifiedSplit(y, opts.TestSize, opts.Seed)
	Xtr, ytr := subset(X, y, trainIdx)
	Xte, yte := subset(X, y, testIdx)
	if err := c.Fit(ctx, Xtr, ytr); err != nil {
		return Report{}, err
	}
	if err := checkFinite(c, Xtr); err != nil {
		return Report{}, err
	}
	return Report{
		Train: Evaluate(c, opts.Scheme, Xtr, ytr),
		Test:  Evaluate(c, opts.Scheme, Xte, yte),
	}, nil
}

// checkFinite rejects a fit whose probabilities are not finite on its own
// training inputs; such a model must never be registered.
func checkFinite(c Classifier, X [][]float64) error {
	for _, x := range X {
		for _, p := range c.Proba(x) {
			if math.IsNaN(p) || math.IsInf(p, 0) {
				return &TrainingError{Reason: fmt.Sprintf("%s produced non-finite probabilities", c.Algorithm())}
			}
		}
	}
	return nil
}

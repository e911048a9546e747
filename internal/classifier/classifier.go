// Package classifier provides interchangeable sentiment classifiers over
// feature vectors, together with deterministic training, evaluation, and
// cross-validated hyperparameter tuning.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Algorithm names.
const (
	LogisticRegression = "logistic_regression"
	LinearSVM          = "linear_svm"
	NaiveBayes         = "naive_bayes"
)

// Params are named numeric hyperparameters.
type Params map[string]float64

// Clone returns a copy of p.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Classifier is a trainable model over fixed-length feature vectors.
// A fitted Classifier is read-only and safe for concurrent Proba calls.
type Classifier interface {
	Algorithm() string
	Params() Params
	// Fit learns from X and class codes y, returning ctx.Err() if cancelled.
	Fit(ctx context.Context, X [][]float64, y []int) error
	// Proba returns a probability distribution over class codes.
	Proba(x []float64) []float64
}

// bound is the smallest accepted value of a hyperparameter; open excludes min itself.
type bound struct {
	min  float64
	open bool
}

func (b bound) check(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("hyperparameter %q must be finite", name)
	}
	if b.open && v <= b.min {
		return fmt.Errorf("hyperparameter %q must be greater than %g, got %g", name, b.min, v)
	}
	if !b.open && v < b.min {
		return fmt.Errorf("hyperparameter %q must be at least %g, got %g", name, b.min, v)
	}
	return nil
}

var (
	positive    = bound{min: 0, open: true}
	nonNegative = bound{min: 0}
	atLeastOne  = bound{min: 1}
)

type factory struct {
	defaults Params
	bounds   map[string]bound
	build    func(classes int, p Params) Classifier
}

var algorithms = map[string]factory{
	LogisticRegression: {
		defaults: Params{"learning_rate": 0.5, "epochs": 300, "l2": 1e-4},
		bounds:   map[string]bound{"learning_rate": positive, "epochs": atLeastOne, "l2": nonNegative},
		build:    func(k int, p Params) Classifier { return newLogReg(k, p) },
	},
	LinearSVM: {
		defaults: Params{"lambda": 1e-4, "epochs": 20},
		bounds:   map[string]bound{"lambda": positive, "epochs": atLeastOne},
		build:    func(k int, p Params) Classifier { return newSVM(k, p) },
	},
	NaiveBayes: {
		defaults: Params{"alpha": 1.0},
		bounds:   map[string]bound{"alpha": nonNegative},
		build:    func(k int, p Params) Classifier { return newBayes(k, p) },
	},
}

// Algorithms lists the available algorithm names, sorted.
func Algorithms() []string {
	names := make([]string, 0, len(algorithms))
	for name := range algorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Defaults returns the default hyperparameters of algorithm.
func Defaults(algorithm string) (Params, error) {
	f, ok := algorithms[algorithm]
	if !ok {
		return nil, fmt.Errorf("unknown algorithm %q", algorithm)
	}
	return f.defaults.Clone(), nil
}

// ResolveParams merges overrides onto the algorithm defaults, rejecting unknown
// names and values outside each hyperparameter's range.
func ResolveParams(algorithm string, overrides Params) (Params, error) {
	p, err := Defaults(algorithm)
	if err != nil {
		return nil, err
	}
	bounds := algorithms[algorithm].bounds
	for k, v := range overrides {
		b, ok := bounds[k]
		if !ok {
			return nil, fmt.Errorf("%s has no hyperparameter %q", algorithm, k)
		}
		if err := b.check(k, v); err != nil {
			return nil, err
		}
		p[k] = v
	}
	return p, nil
}

// New returns an untrained classifier over classes class codes.
func New(algorithm string, classes int, overrides Params) (Classifier, error) {
	p, err := ResolveParams(algorithm, overrides)
	if err != nil {
		return nil, err
	}
	if classes < 2 {
		return nil, fmt.Errorf("need at least 2 classes, got %d", classes)
	}
	return algorithms[algorithm].build(classes, p), nil
}

// State is the serialized form of a fitted classifier.
type State struct {
	Algorithm string          `json:"algorithm"`
	Classes   int             `json:"classes"`
	Params    Params          `json:"params"`
	Model     json.RawMessage `json:"model"`
}

// Marshal serializes a fitted classifier.
func Marshal(c Classifier, classes int) (*State, error) {
	model, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", c.Algorithm(), err)
	}
	return &State{Algorithm: c.Algorithm(), Classes: classes, Params: c.Params(), Model: model}, nil
}

// Unmarshal restores a classifier from its State.
func Unmarshal(s *State) (Classifier, error) {
	c, err := New(s.Algorithm, s.Classes, s.Params)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(s.Model, c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", s.Algorithm, err)
	}
	return c, nil
}

// Predict returns the predicted class code and the full distribution.
func Predict(c Classifier, scheme Scheme, x []float64) (int, []float64) {
	dist := c.Proba(x)
	return scheme.Argmax(dist), dist
}

// softmax writes the softmax of z into z.
func softmax(z []float64) []float64 {
	maxZ := math.Inf(-1)
	for _, v := range z {
		if v > maxZ {
			maxZ = v
		}
	}
	var sum float64
	for i, v := range z {
		z[i] = math.Exp(v - maxZ)
		sum += z[i]
	}
	for i := range z {
		z[i] /= sum
	}
	return z
}

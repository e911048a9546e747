package classifier

import (
	"context"
	"errors"
	"math"
	"testing"
)

// separable returns n examples per class where class c lights up feature c.
func separable(classes, n int) ([][]float64, []int) {
	var X [][]float64
	var y []int
	for c := 0; c < classes; c++ {
		for i := 0; i < n; i++ {
			x := make([]float64, classes+1)
			x[c] = 1
			x[classes] = float64(i%3) * 0.1
			X = append(X, x)
			y = append(y, c)
		}
	}
	return X, y
}

func TestAlgorithms_fitSeparable(t *testing.T) {
	X, y := separable(3, 6)
	for _, algo := range Algorithms() {
		t.Run(algo, func(t *testing.T) {
			c, err := New(algo, 3, nil)
			if err != nil {
				t.Fatal(err)
			}
			if err := c.Fit(context.Background(), X, y); err != nil {
				t.Fatal(err)
			}
			m := Evaluate(c, Ternary, X, y)
			if m.Accuracy != 1 {
				t.Errorf("accuracy = %v, want 1", m.Accuracy)
			}
			for _, x := range X {
				sum := 0.0
				for _, p := range c.Proba(x) {
					if p < 0 || p > 1 {
						t.Fatalf("probability out of range: %v", p)
					}
					sum += p
				}
				if math.Abs(sum-1) > 1e-9 {
					t.Fatalf("distribution sums to %v", sum)
				}
			}
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	X, y := separable(2, 4)
	for _, algo := range Algorithms() {
		t.Run(algo, func(t *testing.T) {
			c, _ := New(algo, 2, nil)
			if err := c.Fit(context.Background(), X, y); err != nil {
				t.Fatal(err)
			}
			state, err := Marshal(c, 2)
			if err != nil {
				t.Fatal(err)
			}
			restored, err := Unmarshal(state)
			if err != nil {
				t.Fatal(err)
			}
			if restored.Algorithm() != algo {
				t.Errorf("algorithm = %s", restored.Algorithm())
			}
			for _, x := range X {
				a, b := c.Proba(x), restored.Proba(x)
				for k := range a {
					if math.Abs(a[k]-b[k]) > 1e-12 {
						t.Fatalf("proba differs after round trip: %v vs %v", a, b)
					}
				}
			}
		})
	}
}

func TestResolveParams(t *testing.T) {
	p, err := ResolveParams(LogisticRegression, Params{"epochs": 10})
	if err != nil {
		t.Fatal(err)
	}
	if p["epochs"] != 10 || p["learning_rate"] != 0.5 {
		t.Errorf("params = %v", p)
	}
	if _, err := ResolveParams(LogisticRegression, Params{"depth": 3}); err == nil {
		t.Error("expected error for unknown hyperparameter")
	}
	if _, err := ResolveParams(NaiveBayes, Params{"alpha": math.NaN()}); err == nil {
		t.Error("expected error for NaN")
	}
	if _, err := New("gradient_boosting", 2, nil); err == nil {
		t.Error("expected error for unknown algorithm")
	}
}

func TestResolveParams_bounds(t *testing.T) {
	tests := []struct {
		algorithm string
		params    Params
		ok        bool
	}{
		{LinearSVM, Params{"lambda": 0}, false},
		{LinearSVM, Params{"lambda": -1e-3}, false},
		{LinearSVM, Params{"lambda": 1e-6}, true},
		{LinearSVM, Params{"epochs": 0}, false},
		{LinearSVM, Params{"epochs": 1}, true},
		{LogisticRegression, Params{"learning_rate": 0}, false},
		{LogisticRegression, Params{"l2": 0}, true},
		{LogisticRegression, Params{"epochs": 0.5}, false},
		{NaiveBayes, Params{"alpha": 0}, true},
		{NaiveBayes, Params{"alpha": math.Inf(1)}, false},
	}
	for _, tt := range tests {
		_, err := ResolveParams(tt.algorithm, tt.params)
		if (err == nil) != tt.ok {
			t.Errorf("ResolveParams(%s, %v) err = %v, want ok=%v", tt.algorithm, tt.params, err, tt.ok)
		}
	}
}

func TestTune_rejectsDegenerateGrid(t *testing.T) {
	X, y := separable(2, 6)
	_, err := Tune(context.Background(), LinearSVM, nil, X, y, Grid{"lambda": {1e-3, 0}},
		TuneOptions{Scheme: Binary, Seed: 1, Folds: 2, MinExamplesPerClass: 2})
	if err == nil {
		t.Fatal("expected error for lambda=0 candidate")
	}
}

type nanClassifier struct{}

func (nanClassifier) Algorithm() string { return "nan" }
func (nanClassifier) Params() Params { return Params{} }
func (nanClassifier) Fit(context.Context, [][]float64, []int) error { return nil }
func (nanClassifier) Proba([]float64) []float64 { return []float64{math.NaN(), math.NaN()} }

func TestTrain_rejectsNonFiniteModel(t *testing.T) {
	X, y := separable(2, 6)
	_, err := Train(context.Background(), nanClassifier{}, X, y,
		TrainOptions{Scheme: Binary, Seed: 1, TestSize: 0.2, MinExamplesPerClass: 2})
	var te *TrainingError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TrainingError", err)
	}
}

func TestArgmax_tieBreak(t *testing.T) {
	tests := []struct {
		scheme Scheme
		dist   []float64
		want   int
	}{
		{Ternary, []float64{1.0 / 3, 1.0 / 3, 1.0 / 3}, Negative},
		{Ternary, []float64{0.2, 0.4, 0.4}, Neutral},
		{Ternary, []float64{0.4, 0.4, 0.2}, Negative},
		{Ternary, []float64{0.1, 0.6, 0.3}, Positive},
		{Binary, []float64{0.5, 0.5}, Negative},
		{Binary, []float64{0.3, 0.7}, Positive},
	}
	for _, tt := range tests {
		if got := tt.scheme.Argmax(tt.dist); got != tt.want {
			t.Errorf("%s Argmax(%v) = %d, want %d", tt.scheme.Name, tt.dist, got, tt.want)
		}
	}
}

func TestParseLabel(t *testing.T) {
	for in, want := range map[string]int{"0": 0, "1": 1, "2": 2, "Negative": 0, " positive ": 1, "neutral": 2} {
		got, err := Ternary.ParseLabel(in)
		if err != nil || got != want {
			t.Errorf("ParseLabel(%q) = %d, %v", in, got, err)
		}
	}
	if _, err := Binary.ParseLabel("2"); err == nil {
		t.Error("binary scheme should reject code 2")
	}
	if _, err := Binary.ParseLabel("neutral"); err == nil {
		t.Error("binary scheme should reject neutral")
	}
}

func TestScore(t *testing.T) {
	m := Score([]int{0, 0, 1, 1}, []int{0, 1, 1, 1})
	if m.Accuracy != 0.75 || m.Support != 4 {
		t.Errorf("metrics = %+v", m)
	}
	// class 0: p=1 r=0.5 f1=2/3; class 1: p=2/3 r=1 f1=0.8
	if math.Abs(m.Precision-(1+2.0/3)/2) > 1e-12 {
		t.Errorf("precision = %v", m.Precision)
	}
	if math.Abs(m.F1-(2.0/3+0.8)/2) > 1e-12 {
		t.Errorf("f1 = %v", m.F1)
	}
	if empty := Score(nil, nil); empty.Support != 0 || empty.F1 != 0 {
		t.Errorf("empty metrics = %+v", empty)
	}
}

func TestTrain_tooFewExamples(t *testing.T) {
	c, _ := New(LogisticRegression, 3, nil)
	X := [][]float64{{1, 0}}
	_, err := Train(context.Background(), c, X, []int{Positive}, TrainOptions{
		Scheme: Ternary, Seed: 42, TestSize: 0.2, MinExamplesPerClass: 2,
	})
	var te *TrainingError
	if !errors.As(err, &te) {
		t.Fatalf("expected TrainingError, got %v", err)
	}
}

func TestTrain_singleClass(t *testing.T) {
	c, _ := New(NaiveBayes, 2, nil)
	X := [][]float64{{1}, {1}, {1}}
	_, err := Train(context.Background(), c, X, []int{1, 1, 1}, TrainOptions{
		Scheme: Binary, Seed: 1, TestSize: 0.2, MinExamplesPerClass: 2,
	})
	var te *TrainingError
	if !errors.As(err, &te) {
		t.Fatalf("expected TrainingError, got %v", err)
	}
}

func TestTrain_deterministic(t *testing.T) {
	X, y := separable(3, 10)
	opts := TrainOptions{Scheme: Ternary, Seed: 42, TestSize: 0.2, MinExamplesPerClass: 2}
	var reports []Report
	for i := 0; i < 2; i++ {
		c, _ := New(LinearSVM, 3, nil)
		r, err := Train(context.Background(), c, X, y, opts)
		if err != nil {
			t.Fatal(err)
		}
		reports = append(reports, r)
	}
	if reports[0] != reports[1] {
		t.Errorf("reports differ: %+v vs %+v", reports[0], reports[1])
	}
	if reports[0].Test.Support != 6 || reports[0].Train.Support != 24 {
		t.Errorf("split sizes: train=%d test=%d", reports[0].Train.Support, reports[0].Test.Support)
	}
}

func TestTrain_cancelled(t *testing.T) {
	X, y := separable(2, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c, _ := New(LogisticRegression, 2, nil)
	_, err := Train(ctx, c, X, y, TrainOptions{Scheme: Binary, Seed: 1, TestSize: 0.2, MinExamplesPerClass: 2})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStratifiedSplit(t *testing.T) {
	y := []int{0, 0, 0, 0, 0, 1, 1, 1, 1, 1, 2}
	train, test := stratifiedSplit(y, 0.2, 7)
	if len(train)+len(test) != len(y) {
		t.Fatalf("lost samples: %v %v", train, test)
	}
	counts := map[int]int{}
	for _, i := range test {
		counts[y[i]]++
	}
	if counts[0] != 1 || counts[1] != 1 || counts[2] != 0 {
		t.Errorf("test class counts = %v", counts)
	}
	train2, test2 := stratifiedSplit(y, 0.2, 7)
	for i := range test {
		if test[i] != test2[i] {
			t.Fatal("split is not deterministic")
		}
	}
	_ = train2
}

func TestGridCandidates(t *testing.T) {
	g := Grid{"learning_rate": {0.1, 0.5}, "epochs": {100, 200}}
	got := g.Candidates()
	want := []Params{
		{"epochs": 100, "learning_rate": 0.1},
		{"epochs": 100, "learning_rate": 0.5},
		{"epochs": 200, "learning_rate": 0.1},
		{"epochs": 200, "learning_rate": 0.5},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d candidates", len(got))
	}
	for i := range want {
		for k, v := range want[i] {
			if got[i][k] != v {
				t.Errorf("candidate %d = %v, want %v", i, got[i], want[i])
			}
		}
	}
	if n := len(Grid{}.Candidates()); n != 1 {
		t.Errorf("empty grid: %d candidates", n)
	}
}

func TestTune_tieKeepsEarliest(t *testing.T) {
	X, y := separable(2, 6)
	// Every alpha separates the data perfectly, so all candidates tie.
	res, err := Tune(context.Background(), NaiveBayes, nil, X, y, Grid{"alpha": {0.5, 1, 2}},
		TuneOptions{Scheme: Binary, Seed: 42, Folds: 3, MinExamplesPerClass: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Candidates) != 3 || res.Folds != 3 {
		t.Fatalf("result = %+v", res)
	}
	if res.BestParams["alpha"] != 0.5 {
		t.Errorf("best alpha = %v, want 0.5", res.BestParams["alpha"])
	}
	if res.BestMetrics.F1 != 1 {
		t.Errorf("best f1 = %v", res.BestMetrics.F1)
	}
}

func TestTune_foldsCappedByClassSize(t *testing.T) {
	X, y := separable(2, 2)
	res, err := Tune(context.Background(), NaiveBayes, nil, X, y, nil,
		TuneOptions{Scheme: Binary, Seed: 1, Folds: 5, MinExamplesPerClass: 1})
	if err != nil {
		t.Fatal(err)
	}
	if res.Folds != 2 {
		t.Errorf("folds = %d, want 2", res.Folds)
	}

	X1, y1 := [][]float64{{1, 0}, {0, 1}, {0, 1}}, []int{0, 1, 1}
	_, err = Tune(context.Background(), NaiveBayes, nil, X1, y1, nil,
		TuneOptions{Scheme: Binary, Seed: 1, Folds: 3, MinExamplesPerClass: 1})
	var te *TrainingError
	if !errors.As(err, &te) {
		t.Fatalf("expected TrainingError, got %v", err)
	}
}

func TestTune_rejectsUnknownParam(t *testing.T) {
	X, y := separable(2, 4)
	_, err := Tune(context.Background(), LinearSVM, nil, X, y, Grid{"depth": {1}},
		TuneOptions{Scheme: Binary, Seed: 1, Folds: 2, MinExamplesPerClass: 2})
	if err == nil {
		t.Fatal("expected error for unknown hyperparameter")
	}
}

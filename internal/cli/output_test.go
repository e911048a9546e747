package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/bazaar/internal/classifier"
	"github.com/hyperjump/bazaar/internal/registry"
	"github.com/hyperjump/bazaar/internal/sentiment"
)

func sampleVersions(now time.Time) []registry.Metadata {
	return []registry.Metadata{
		{
			ID: "v1", Algorithm: "logistic_regression", Scheme: "ternary", Examples: 1200,
			CreatedAt: now.Add(-2 * time.Hour), SizeBytes: 48213,
			Metrics:   classifier.Report{Test: classifier.Metrics{Accuracy: 0.81, F1: 0.79}},
		},
		{
			ID: "v2", Algorithm: "naive_bayes", Scheme: "ternary", Examples: 1500,
			CreatedAt: now.Add(-3 * time.Minute),
			Metrics:   classifier.Report{Test: classifier.Metrics{Accuracy: 0.84, F1: 0.83}},
		},
	}
}

func TestWriteVersions_text(t *testing.T) {
	now := time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	if err := WriteVersions(&buf, sampleVersions(now), "v2", OutputText, now); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d:\n%s", len(lines), buf.String())
	}
	if strings.HasPrefix(strings.TrimSpace(lines[1]), "*") {
		t.Errorf("v1 should not be marked current: %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "*") || !strings.Contains(lines[2], "naive_bayes") {
		t.Errorf("v2 row = %q", lines[2])
	}
	if !strings.Contains(lines[0], "SIZE") || !strings.Contains(lines[1], "48 kB") {
		t.Errorf("size column missing: %q", lines[:2])
	}
	if !strings.Contains(lines[1], "2 hours ago") || !strings.Contains(lines[2], "0.830") {
		t.Errorf("rows = %q", lines[1:])
	}
}

func TestWriteVersions_jsonAndEmpty(t *testing.T) {
	now := time.Now()
	var buf bytes.Buffer
	if err := WriteVersions(&buf, sampleVersions(now), "v1", OutputJSON, now); err != nil {
		t.Fatal(err)
	}
	var decoded []struct {
		ID      string `json:"id"`
		Current bool   `json:"current"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if len(decoded) != 2 || !decoded[0].Current || decoded[1].Current {
		t.Errorf("decoded = %+v", decoded)
	}

	buf.Reset()
	if err := WriteVersions(&buf, nil, "", OutputText, now); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No model versions") {
		t.Errorf("got %q", buf.String())
	}
}

func TestWriteVersion_text(t *testing.T) {
	m := registry.Metadata{
		ID: "v3", Algorithm: "linear_svm", Scheme: "binary", Classes: []string{"negative", "positive"},
		Hyperparameters: classifier.Params{"lambda": 0.0001, "epochs": 20},
		Examples:        12000, Features: 5000,
		Metrics: classifier.Report{
			Train: classifier.Metrics{Accuracy: 0.95, F1: 0.94, Support: 9600},
			Test:  classifier.Metrics{Accuracy: 0.88, F1: 0.87, Support: 2400},
		},
	}
	var buf bytes.Buffer
	if err := WriteVersion(&buf, m, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"v3", "{epochs=20 lambda=0.0001}", "12,000", "negative, positive", "2400"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteTuneResult_rankedByF1(t *testing.T) {
	res := &classifier.TuneResult{
		Algorithm:   "naive_bayes",
		Folds:       3,
		BestParams:  classifier.Params{"alpha": 0.5},
		BestMetrics: classifier.Metrics{F1: 0.9},
		Candidates: []classifier.CandidateScore{
			{Params: classifier.Params{"alpha": 1}, Metrics: classifier.Metrics{F1: 0.7}},
			{Params: classifier.Params{"alpha": 0.5}, Metrics: classifier.Metrics{F1: 0.9}},
		},
	}
	var buf bytes.Buffer
	if err := WriteTuneResult(&buf, res, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	first := strings.Index(out, "{alpha=0.5}  0.900")
	second := strings.Index(out, "{alpha=1}")
	if first < 0 || second < 0 || first > second {
		t.Errorf("candidates not ranked best first:\n%s", out)
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("json"); err != nil || f != OutputJSON {
		t.Errorf("json: %v %v", f, err)
	}
	if _, err := ParseFormat("yaml"); err == nil {
		t.Error("expected error for yaml")
	}
}

func TestWritePredictions_text(t *testing.T) {
	res := &sentiment.BatchResult{
		ModelVersion: "v9",
		Total:        1500 * time.Microsecond,
		Results: []sentiment.Prediction{{
			Label:          "positive",
			Confidence:     0.72,
			Distribution:   map[string]float64{"positive": 0.72, "negative": 0.08, "neutral": 0.2},
			FinancialTerms: map[string]int{"stock": 1, "price": 2},
		}},
	}
	var buf bytes.Buffer
	if err := WritePredictions(&buf, []string{"قیمت سهام بالا رفت"}, res, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"model v9", "positive 0.720", "negative=0.080 neutral=0.200 positive=0.720", "terms: price=2 stock=1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	// MaxTextLength is the largest accepted text, in characters.
	MaxTextLength = 1000
	// MaxBatchSize is the largest accepted number of texts per batch.
	MaxBatchSize = 100
	// MaxTrainingExamples bounds training and tuning payloads sent over HTTP.
	MaxTrainingExamples = 50000
)

// ValidateText checks one raw text: non-empty after trimming and at most MaxTextLength characters.
func ValidateText(field, text string) error {
	if strings.TrimSpace(text) == "" {
		return Invalid(field, "text must not be empty")
	}
	if n := utf8.RuneCountInString(text); n > MaxTextLength {
		return Invalid(field, "text must be at most %d characters, got %d", MaxTextLength, n)
	}
	return nil
}

// AnalyzeRequest is the body of POST /analyze.
type AnalyzeRequest struct {
	Text         string `json:"text"`
	ModelVersion string `json:"model_version,omitempty"`
}

// Validate checks the text bounds.
func (r *AnalyzeRequest) Validate() error {
	return ValidateText("text", r.Text)
}

// BatchAnalyzeRequest is the body of POST /analyze/batch.
type BatchAnalyzeRequest struct {
	Texts        []string `json:"texts"`
	ModelVersion string   `json:"model_version,omitempty"`
}

// Validate checks the batch size and every text.
func (r *BatchAnalyzeRequest) Validate() error {
	if len(r.Texts) == 0 {
		return Invalid("texts", "batch must contain at least 1 text")
	}
	if len(r.Texts) > MaxBatchSize {
		return Invalid("texts", "batch must contain at most %d texts, got %d", MaxBatchSize, len(r.Texts))
	}
	for i, text := range r.Texts {
		if err := ValidateText(fmt.Sprintf("texts[%d]", i), text); err != nil {
			return err
		}
	}
	return nil
}

// Label is a training label given either as a dataset code (0, 1, 2) or a class name.
type Label string

// UnmarshalJSON accepts JSON numbers and strings.
func (l *Label) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*l = Label(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("label must be a number or string")
	}
	if _, err := strconv.Atoi(n.String()); err != nil {
		return fmt.Errorf("label must be an integer code, got %s", n)
	}
	*l = Label(n.String())
	return nil
}

// TrainRequest is the body of POST /model/train.
type TrainRequest struct {
	Texts           []string           `json:"texts"`
	Labels          []Label            `json:"labels"`
	Algorithm       string             `json:"algorithm,omitempty"`
	Hyperparameters map[string]float64 `json:"hyperparameters,omitempty"`
}

// Validate checks that texts and labels pair up and every text is in bounds.
func (r *TrainRequest) Validate() error {
	return validateExamples(r.Texts, r.Labels)
}

// TuneRequest is the body of POST /model/tune.
type TuneRequest struct {
	Texts     []string             `json:"texts"`
	Labels    []Label              `json:"labels"`
	Algorithm string               `json:"algorithm,omitempty"`
	ParamGrid map[string][]float64 `json:"param_grid"`
}

// Validate checks the examples and that no grid axis is empty.
func (r *TuneRequest) Validate() error {
	if err := validateExamples(r.Texts, r.Labels); err != nil {
		return err
	}
	for name, values := range r.ParamGrid {
		if len(values) == 0 {
			return Invalid("param_grid", "parameter %q has no candidate values", name)
		}
	}
	return nil
}

func validateExamples(texts []string, labels []Label) error {
	if len(texts) == 0 {
		return Invalid("texts", "at least 1 text is required")
	}
	if len(texts) > MaxTrainingExamples {
		return Invalid("texts", "at most %d examples are accepted, got %d", MaxTrainingExamples, len(texts))
	}
	if len(texts) != len(labels) {
		return Invalid("labels", "got %d labels for %d texts", len(labels), len(texts))
	}
	for i, text := range texts {
		if err := ValidateText(fmt.Sprintf("texts[%d]", i), text); err != nil {
			return err
		}
	}
	return nil
}

// PromoteRequest is the body of POST /model/promote.
type PromoteRequest struct {
	Version string `json:"version"`
}

// Validate checks that a version id was given.
func (r *PromoteRequest) Validate() error {
	if strings.TrimSpace(r.Version) == "" {
		return Invalid("version", "version is required")
	}
	return nil
}

package registry

import (
	"time"

	"github.com/hyperjump/bazaar/internal/classifier"
	"github.com/hyperjump/bazaar/internal/features"
	"github.com/hyperjump/bazaar/internal/normalize"
)

// Metadata describes a persisted model version. It is written once and never changed.
type Metadata struct {
	ID              string            `json:"id"`
	CreatedAt       time.Time         `json:"created_at"`
	Algorithm       string            `json:"algorithm"`
	Scheme          string            `json:"scheme"`
	Classes         []string          `json:"classes"`
	Hyperparameters classifier.Params `json:"hyperparameters"`
	Metrics         classifier.Report `json:"metrics"`
	Examples        int               `json:"examples"`
	Features        int               `json:"features"`
	Source          string            `json:"source,omitempty"`
	// SizeBytes is measured by List; it is not part of the stored record.
	SizeBytes       int64             `json:"size_bytes,omitempty"`
}

// Model is a loaded, ready-to-serve version. It is read-only and shared by
// concurrent predictions.
type Model struct {
	Meta       Metadata
	Scheme     classifier.Scheme
	Normalizer *normalize.Normalizer
	Extractor  *features.Extractor
	Classifier classifier.Classifier
}

// Artifact is what Save persists for a new version.
type Artifact struct {
	Scheme classifier.Scheme
	// Normalizer is the text normalization the extractor was fit on.
	Normalizer normalize.Options
	Extractor  *features.Extractor
	Classifier classifier.Classifier
	Metrics    classifier.Report
	Examples   int
	Source     string
}

// state is the on-disk form of model.json.
type state struct {
	Normalizer *normalize.Options  `json:"normalizer"`
	Extractor  *features.Extractor `json:"extractor"`
	Classifier *classifier.State   `json:"classifier"`
}

// Pointer is the current-version record.
type Pointer struct {
	Version    string    `json:"version"`
	PromotedAt time.Time `json:"promoted_at"`
}

// Package sentiment orchestrates normalization, feature extraction, and
// classification against resolved model versions.
//
// Every prediction batch resolves its model version once, at the start, and
// uses that immutable snapshot for all of its texts. Training builds a new
// version from scratch and registers it without promoting it.
package sentiment

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/bazaar/internal/cache"
	"github.com/hyperjump/bazaar/internal/classifier"
	"github.com/hyperjump/bazaar/internal/features"
	"github.com/hyperjump/bazaar/internal/models"
	"github.com/hyperjump/bazaar/internal/normalize"
	"github.com/hyperjump/bazaar/internal/registry"
	"github.com/hyperjump/bazaar/pkg/utils"
)

// Registry is the part of the model registry the service needs.
type Registry interface {
	Resolve(ctx context.Context, version string) (string, error)
	Load(ctx context.Context, id string) (*registry.Model, error)
	Save(ctx context.Context, a registry.Artifact) (registry.Metadata, error)
}

// Options configure training defaults and serving.
type Options struct {
	Scheme              classifier.Scheme
	Algorithm           string
	Hyperparameters     classifier.Params
	Features            features.Options
	Seed                int64
	TestSize            float64
	MinExamplesPerClass int
	CVFolds             int
	BatchWorkers        int
	ModelCacheSize      int
}

// Prediction is the result for one text.
type Prediction struct {
	Label          string
	Code           int
	Confidence     float64
	Distribution   map[string]float64
	ModelVersion   string
	ProcessingTime time.Duration
	ProcessedText  string
	FinancialTerms map[string]int
}

// BatchResult holds predictions in input order.
type BatchResult struct {
	Results      []Prediction
	ModelVersion string
	Total        time.Duration
}

// Service serves predictions and runs training and tuning.
type Service struct {
	normalizer *normalize.Normalizer
	registry   Registry
	opts       Options
	models     *cache.LRU[string, *registry.Model]
	logger     *zap.Logger

	// itemHook runs before each text is predicted.
	itemHook func(i int)
}

// NewService creates a Service.
func NewService(n *normalize.Normalizer, reg Registry, opts Options, logger *zap.Logger) *Service {
	if opts.BatchWorkers < 1 {
		opts.BatchWorkers = 1
	}
	if opts.Scheme.NumClasses() == 0 {
		opts.Scheme = classifier.Ternary
	}
	return &Service{
		normalizer: n,
		registry:   reg,
		opts:       opts,
		models:     cache.NewLRU[string, *registry.Model](opts.ModelCacheSize),
		logger:     utils.OrNop(logger),
	}
}

// Normalizer returns the normalizer used for training. Predictions use the
// normalizer saved with their model version.
func (s *Service) Normalizer() *normalize.Normalizer { return s.normalizer }

// Model returns the loaded version id, using the cache.
func (s *Service) Model(ctx context.Context, id string) (*registry.Model, error) {
	if m, ok := s.models.Get(id); ok {
		return m, nil
	}
	m, err := s.registry.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	s.models.Add(id, m)
	return m, nil
}

// Predict classifies a single text.
func (s *Service) Predict(ctx context.Context, text, version string) (Prediction, error) {
	res, err := s.PredictBatch(ctx, []string{text}, version)
	if err != nil {
		return Prediction{}, err
	}
	return res.Results[0], nil
}

// PredictBatch classifies texts with one model version: version when given,
// otherwise the current version at call start. All texts are validated before
// any is processed. An empty batch returns no results and zero total time.
func (s *Service) PredictBatch(ctx context.Context, texts []string, version string) (*BatchResult, error) {
	if len(texts) == 0 {
		return &BatchResult{Results: []Prediction{}}, nil
	}
	for i, text := range texts {
		if err := models.ValidateText(fmt.Sprintf("texts[%d]", i), text); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	id, err := s.registry.Resolve(ctx, version)
	if err != nil {
		return nil, err
	}
	m, err := s.Model(ctx, id)
	if err != nil {
		return nil, err
	}

	results := make([]Prediction, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.BatchWorkers)
	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if s.itemHook != nil {
				s.itemHook(i)
			}
			results[i] = s.predictOne(m, text)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := time.Since(start)
	s.logger.Debug("batch predicted",
		zap.String("version", id), zap.Int("texts", len(texts)), zap.Duration("duration", total))
	return &BatchResult{Results: results, ModelVersion: id, Total: total}, nil
}

func (s *Service) predictOne(m *registry.Model, text string) Prediction {
	start := time.Now()
	norm := m.Normalizer.Canonicalize(text)
	x := m.Extractor.Transform(norm)
	code, dist := classifier.Predict(m.Classifier, m.Scheme, x)
	return Prediction{
		Label:          m.Scheme.ClassName(code),
		Code:           code,
		Confidence:     dist[code],
		Distribution:   m.Scheme.Distribution(dist),
		ModelVersion:   m.Meta.ID,
		ProcessedText:  norm.Text,
		FinancialTerms: norm.Terms,
		ProcessingTime: time.Since(start),
	}
}

// TrainParams select the algorithm for one training run. Zero values use the
// configured defaults.
type TrainParams struct {
	Algorithm       string
	Hyperparameters classifier.Params
	Source          string
}

// TrainAndRegister fits a new extractor and classifier on texts and labels and
// saves them as a new version. The version is not promoted. A cancelled ctx
// stops the work before anything is saved.
func (s *Service) TrainAndRegister(ctx context.Context, texts, labels []string, p TrainParams) (registry.Metadata, error) {
	corpus, y, err := s.prepare(texts, labels)
	if err != nil {
		return registry.Metadata{}, err
	}
	algorithm, params := s.resolveAlgorithm(p.Algorithm, p.Hyperparameters)

	start := time.Now()
	ext, err := features.Fit(corpus, s.opts.Features)
	if err != nil {
		return registry.Metadata{}, &classifier.TrainingError{Reason: err.Error()}
	}
	c, err := classifier.New(algorithm, s.opts.Scheme.NumClasses(), params)
	if err != nil {
		return registry.Metadata{}, models.Invalid("", "%s", err.Error())
	}
	report, err := classifier.Train(ctx, c, ext.TransformAll(corpus), y, classifier.TrainOptions{
		Scheme:              s.opts.Scheme,
		Seed:                s.opts.Seed,
		TestSize:            s.opts.TestSize,
		MinExamplesPerClass: s.opts.MinExamplesPerClass,
	})
	if err != nil {
		return registry.Metadata{}, err
	}
	if err := ctx.Err(); err != nil {
		return registry.Metadata{}, err
	}
	s.logger.Info("model trained",
		zap.String("algorithm", algorithm),
		zap.Int("examples", len(texts)),
		zap.Int("features", ext.Dim()),
		zap.Float64("test_f1", report.Test.F1),
		zap.Duration("duration", time.Since(start)))

	return s.registry.Save(ctx, registry.Artifact{
		Scheme:     s.opts.Scheme,
		Normalizer: s.normalizer.Options(),
		Extractor:  ext,
		Classifier: c,
		Metrics:    report,
		Examples:   len(texts),
		Source:     p.Source,
	})
}

// Tune cross-validates every grid candidate and returns the best one. Nothing is persisted.
func (s *Service) Tune(ctx context.Context, texts, labels []string, algorithm string, grid classifier.Grid) (*classifier.TuneResult, error) {
	corpus, y, err := s.prepare(texts, labels)
	if err != nil {
		return nil, err
	}
	algorithm, base := s.resolveAlgorithm(algorithm, nil)
	for _, cand := range grid.Candidates() {
		merged := base.Clone()
		for k, v := range cand {
			merged[k] = v
		}
		if _, err := classifier.ResolveParams(algorithm, merged); err != nil {
			return nil, models.Invalid("param_grid", "%s", err.Error())
		}
	}
	ext, err := features.Fit(corpus, s.opts.Features)
	if err != nil {
		return nil, &classifier.TrainingError{Reason: err.Error()}
	}
	res, err := classifier.Tune(ctx, algorithm, base, ext.TransformAll(corpus), y, grid, classifier.TuneOptions{
		Scheme:              s.opts.Scheme,
		Seed:                s.opts.Seed,
		Folds:               s.opts.CVFolds,
		MinExamplesPerClass: s.opts.MinExamplesPerClass,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("tuning finished",
		zap.String("algorithm", algorithm),
		zap.Int("candidates", len(res.Candidates)),
		zap.Float64("best_f1", res.BestMetrics.F1))
	return res, nil
}

// resolveAlgorithm fills in the configured algorithm; configured
// hyperparameters apply only when the algorithm is the configured one.
func (s *Service) resolveAlgorithm(algorithm string, overrides classifier.Params) (string, classifier.Params) {
	params := classifier.Params{}
	if algorithm == "" || algorithm == s.opts.Algorithm {
		algorithm = s.opts.Algorithm
		for k, v := range s.opts.Hyperparameters {
			params[k] = v
		}
	}
	for k, v := range overrides {
		params[k] = v
	}
	return algorithm, params
}

// prepare validates and normalizes the examples and parses their labels.
func (s *Service) prepare(texts, labels []string) ([]normalize.Text, []int, error) {
	if len(texts) != len(labels) {
		return nil, nil, models.Invalid("labels", "got %d labels for %d texts", len(labels), len(texts))
	}
	for i, text := range texts {
		if err := models.ValidateText(fmt.Sprintf("texts[%d]", i), text); err != nil {
			return nil, nil, err
		}
	}
	y := make([]int, len(labels))
	for i, l := range labels {
		code, err := s.opts.Scheme.ParseLabel(l)
		if err != nil {
			return nil, nil, models.Invalid(fmt.Sprintf("labels[%d]", i), "%s", err.Error())
		}
		y[i] = code
	}
	if err := classifier.CheckLabels(s.opts.Scheme, y, s.opts.MinExamplesPerClass); err != nil {
		return nil, nil, err
	}
	corpus := make([]normalize.Text, len(texts))
	for i, text := range texts {
		corpus[i] = s.normalizer.Canonicalize(text)
	}
	return corpus, y, nil
}
